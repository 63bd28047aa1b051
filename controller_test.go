package main

import (
	"strings"
	"sync"
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/led_controller/state"
	. "github.com/elijahnyp/led_controller/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type publishCall struct {
	Topic   string
	Payload interface{}
}

type mockPublisher struct {
	mu    sync.Mutex
	calls []publishCall
}

func (m *mockPublisher) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, publishCall{Topic: topic, Payload: payload})
	return &mockToken{}
}

func (m *mockPublisher) payloads() []interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interface{}
	for _, c := range m.calls {
		out = append(out, c.Payload)
	}
	return out
}

type mockToken struct {
	err error
}

func (m *mockToken) Wait() bool                     { return true }
func (m *mockToken) WaitTimeout(time.Duration) bool { return true }
func (m *mockToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (m *mockToken) Error() error { return m.err }

type mockMessage struct {
	topic   string
	payload []byte
}

func (m *mockMessage) Duplicate() bool   { return false }
func (m *mockMessage) Qos() byte         { return 0 }
func (m *mockMessage) Retained() bool    { return false }
func (m *mockMessage) Topic() string     { return m.topic }
func (m *mockMessage) MessageID() uint16 { return 0 }
func (m *mockMessage) Payload() []byte   { return m.payload }
func (m *mockMessage) Ack()              {}

func testSettings() LEDSettings {
	return LEDSettings{Name: "desk", Command_topic: "hab/desk/set", State_topic: "hab/desk/state"}
}

func TestNewLEDController_InitialState(t *testing.T) {
	tests := []struct {
		name     string
		initial  string
		expected string
	}{
		{"Default", "", "OFF"},
		{"Explicit off", "OFF", "OFF"},
		{"Start on", "on", "ON"},
		{"Unparseable", "dim", "OFF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.Initial = tt.initial
			c := NewLEDController(settings, nil, nil, nil)

			status := c.Status()
			assert.Equal(t, tt.expected, status.State)
			assert.True(t, status.Valid)
			assert.Equal(t, "desk", status.Name)
		})
	}
}

func TestLEDController_TransitionSequence(t *testing.T) {
	pub := &mockPublisher{}
	c := NewLEDController(testSettings(), pub, nil, nil)

	steps := []struct {
		op       func() bool
		expected bool
		state    string
	}{
		{c.TurnOn, true, "ON"},
		{c.TurnOn, false, "ON"},
		{c.TurnOff, true, "OFF"},
		{c.TurnOff, false, "OFF"},
	}
	for i, step := range steps {
		assert.Equal(t, step.expected, step.op(), "step %d", i)
		assert.Equal(t, step.state, c.Status().State, "step %d", i)
	}

	assert.Equal(t, []interface{}{"ON", "OFF"}, pub.payloads(), "only applied transitions are published")
	for _, call := range pub.calls {
		assert.Equal(t, "hab/desk/state", call.Topic)
	}
}

func TestLEDController_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewLEDController(testSettings(), nil, NewMetrics(reg), nil)

	c.TurnOn()
	c.TurnOn()
	c.TurnOff()

	expected := `
# HELP led_state Current LED state, 0 off and 1 on.
# TYPE led_state gauge
led_state{led="desk"} 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "led_state"))

	expected = `
# HELP led_transitions_total Transition attempts by transition and result (applied or rejected).
# TYPE led_transitions_total counter
led_transitions_total{led="desk",result="applied",transition="off"} 1
led_transitions_total{led="desk",result="applied",transition="on"} 1
led_transitions_total{led="desk",result="rejected",transition="on"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "led_transitions_total"))
}

func TestLEDController_Apply(t *testing.T) {
	c := NewLEDController(testSettings(), nil, nil, nil)

	applied, err := c.Apply("ON")
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = c.Apply("1")
	require.NoError(t, err)
	assert.False(t, applied, "turning on an LED that is on is rejected")

	applied, err = c.Apply("toggle")
	assert.ErrorIs(t, err, state.ErrUnknownState)
	assert.False(t, applied)
	assert.Equal(t, "ON", c.Status().State)
}

func TestLEDController_Restore(t *testing.T) {
	pub := &mockPublisher{}
	c := NewLEDController(testSettings(), pub, nil, nil)

	led, err := c.Restore([]byte("state: 1"))
	require.NoError(t, err)
	assert.Equal(t, state.LEDOn, led.State)
	assert.Equal(t, "ON", c.Status().State)
	assert.Equal(t, []interface{}{"ON"}, pub.payloads())

	led, err = c.Restore([]byte("state: 9"))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
	assert.False(t, led.IsValid())
	assert.Equal(t, "ON", c.Status().State, "invalid snapshot must not change the LED")

	_, err = c.Restore([]byte("state: ["))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSnapshot)
	assert.Len(t, pub.calls, 1)
}

func TestLEDController_HandleMessage(t *testing.T) {
	pub := &mockPublisher{}
	c := NewLEDController(testSettings(), pub, nil, nil)

	c.HandleMessage(nil, &mockMessage{topic: "hab/desk/set", payload: []byte("ON")})
	assert.Equal(t, "ON", c.Status().State)

	// repeated command is rejected but the state is echoed back
	c.HandleMessage(nil, &mockMessage{topic: "hab/desk/set", payload: []byte("ON")})
	assert.Equal(t, "ON", c.Status().State)

	c.HandleMessage(nil, &mockMessage{topic: "hab/desk/set", payload: []byte("blink")})
	assert.Equal(t, "ON", c.Status().State)

	assert.Equal(t, []interface{}{"ON", "ON"}, pub.payloads())
}

func TestLEDController_ConcurrentTurnOn(t *testing.T) {
	c := NewLEDController(testSettings(), nil, nil, nil)

	var wg sync.WaitGroup
	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.TurnOn()
		}()
	}
	wg.Wait()
	close(results)

	successes := 0
	for ok := range results {
		if ok {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent TurnOn may win")
	assert.Equal(t, "ON", c.Status().State)
}

func TestLEDController_BroadcastsToHub(t *testing.T) {
	hub := NewHub()
	c := NewLEDController(testSettings(), nil, nil, hub)

	require.True(t, c.TurnOn())

	select {
	case msg := <-hub.broadcast:
		assert.Equal(t, "led_state", msg.Type)
		status, ok := msg.Data.(LEDStatus)
		require.True(t, ok)
		assert.Equal(t, "ON", status.State)
	default:
		t.Fatal("expected a broadcast after a successful transition")
	}

	c.TurnOn()
	select {
	case msg := <-hub.broadcast:
		t.Errorf("rejected transition broadcast %v", msg)
	default:
	}
}

func TestLEDController_UpdateSettings(t *testing.T) {
	pub := &mockPublisher{}
	c := NewLEDController(testSettings(), pub, nil, nil)

	next := testSettings()
	next.State_topic = "hab/desk2/state"
	old := c.UpdateSettings(next)
	assert.Equal(t, "hab/desk/state", old.State_topic)

	c.PublishState()
	require.Len(t, pub.calls, 1)
	assert.Equal(t, "hab/desk2/state", pub.calls[0].Topic)
	assert.Equal(t, "OFF", pub.calls[0].Payload)
}

func TestClientPublisherWithoutClient(t *testing.T) {
	Client = nil
	assert.Nil(t, clientPublisher{}.Publish("x", 0, false, "ON"))

	c := NewLEDController(testSettings(), clientPublisher{}, nil, nil)
	assert.True(t, c.TurnOn(), "transitions work without a broker")
}

// gatedPublisher holds the first Publish until gate is closed and records
// payloads in the order publishes complete.
type gatedPublisher struct {
	mockPublisher
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedPublisher) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.gate
	}
	return g.mockPublisher.Publish(topic, qos, retained, payload)
}

func TestLEDController_LastPublishMatchesState(t *testing.T) {
	pub := &gatedPublisher{entered: make(chan struct{}), gate: make(chan struct{})}
	c := NewLEDController(testSettings(), pub, nil, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.True(t, c.TurnOn())
	}()
	<-pub.entered

	go func() {
		defer wg.Done()
		assert.True(t, c.TurnOff())
	}()
	time.Sleep(20 * time.Millisecond)
	close(pub.gate)
	wg.Wait()

	payloads := pub.payloads()
	require.Len(t, payloads, 2)
	assert.Equal(t, []interface{}{"ON", "OFF"}, payloads)
	assert.Equal(t, c.Status().State, payloads[len(payloads)-1], "retained state must match the LED")
}

func TestLEDController_WithStatusHoldsTransitions(t *testing.T) {
	c := NewLEDController(testSettings(), &mockPublisher{}, nil, nil)

	done := make(chan bool)
	c.WithStatus(func(status LEDStatus) {
		assert.Equal(t, "OFF", status.State)
		go func() { done <- c.TurnOn() }()
		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, "OFF", c.Status().State, "transition ran inside WithStatus")
	})

	assert.True(t, <-done)
	assert.Equal(t, "ON", c.Status().State)
}

func TestReloadLEDSettingsMovesCommandTopic(t *testing.T) {
	Config.Set("led", map[string]interface{}{"name": "desk", "command_topic": "hab/desk/set"})
	defer Config.Set("led", map[string]interface{}{})

	c := NewLEDController(testSettings(), &mockPublisher{}, nil, nil)
	reloadLEDSettings(c)
	assert.Contains(t, SubscribedTopics(), "hab/desk/set")

	Config.Set("led", map[string]interface{}{"name": "desk", "command_topic": "hab/desk/cmd"})
	reloadLEDSettings(c)

	topics := SubscribedTopics()
	assert.NotContains(t, topics, "hab/desk/set")
	assert.Contains(t, topics, "hab/desk/cmd")
	assert.Equal(t, "hab/desk/cmd", c.Settings().Command_topic)
	assert.Equal(t, "hab/desk/state", c.Settings().State_topic)

	RegisterMQTTSubscription("hab/desk/cmd", nil)
}
