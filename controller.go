package main

import (
	"errors"
	"fmt"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/elijahnyp/led_controller/state"
	. "github.com/elijahnyp/led_controller/util"
)

var ErrInvalidSnapshot = errors.New("snapshot holds an invalid led state")

const publishTimeout = 5 * time.Second

// Publisher is the part of MQTT.Client the controller needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
}

// clientPublisher publishes through whatever util.Client currently is, since
// MqttInit replaces the client on every config change.
type clientPublisher struct{}

func (clientPublisher) Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token {
	if Client == nil {
		return nil
	}
	return Client.Publish(topic, qos, retained, payload)
}

type LEDStatus struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Valid bool   `json:"valid"`
}

// LEDController drives one LED from MQTT and HTTP commands. state.LED does no
// locking, so every access goes through mu. announceMu is taken before mu and
// held until the change is published, so announcements go out in the order the
// LED changed.
type LEDController struct {
	announceMu sync.Mutex
	mu         sync.Mutex
	led        state.LED
	settings   LEDSettings
	publisher  Publisher
	metrics    *Metrics
	hub        *WSHub
}

// NewLEDController returns a controller for an initialized LED. publisher,
// metrics and hub are optional.
func NewLEDController(settings LEDSettings, publisher Publisher, metrics *Metrics, hub *WSHub) *LEDController {
	c := &LEDController{
		settings:  settings,
		publisher: publisher,
		metrics:   metrics,
		hub:       hub,
	}
	c.led.Init()
	if settings.Initial != "" {
		initial, err := state.ParseLEDState(settings.Initial)
		if err != nil {
			Logger.Warn().Msgf("ignoring initial state for %s: %v", settings.Name, err)
		} else if initial == state.LEDOn {
			c.led.TurnOn()
		}
	}
	c.observe()
	return c
}

func (c *LEDController) TurnOn() bool {
	return c.transition("on", state.Device.TurnOn)
}

func (c *LEDController) TurnOff() bool {
	return c.transition("off", state.Device.TurnOff)
}

func (c *LEDController) transition(name string, op func(state.Device) bool) bool {
	c.announceMu.Lock()
	defer c.announceMu.Unlock()

	c.mu.Lock()
	applied := op(&c.led)
	current := c.led.State
	settings := c.settings
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.ObserveTransition(settings.Name, name, applied)
	}
	if !applied {
		Logger.Debug().Msgf("%s: illegal transition %s while %v", settings.Name, name, current)
		return false
	}
	Logger.Info().Msgf("%s: turned %s", settings.Name, name)
	c.observe()
	c.announce(settings, current)
	return true
}

// Apply runs the transition named by command (ON/OFF and the usual aliases).
// A rejected transition is (false, nil); only unparseable commands error.
func (c *LEDController) Apply(command string) (bool, error) {
	target, err := state.ParseLEDState(command)
	if err != nil {
		return false, err
	}
	if target == state.LEDOn {
		return c.TurnOn(), nil
	}
	return c.TurnOff(), nil
}

// Restore replaces the LED with one decoded from an externally supplied
// snapshot. Snapshots that fail IsValid are refused and nothing changes.
func (c *LEDController) Restore(data []byte) (state.LED, error) {
	led, err := state.DecodeSnapshot(data)
	if err != nil {
		return led, err
	}
	if !led.IsValid() {
		return led, fmt.Errorf("%w: %v", ErrInvalidSnapshot, led.State)
	}

	c.announceMu.Lock()
	defer c.announceMu.Unlock()

	c.mu.Lock()
	c.led = led
	settings := c.settings
	c.mu.Unlock()

	Logger.Info().Msgf("%s: restored to %v", settings.Name, led.State)
	c.observe()
	c.announce(settings, led.State)
	return led, nil
}

func (c *LEDController) Status() LEDStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return LEDStatus{
		Name:  c.settings.Name,
		State: c.led.State.String(),
		Valid: c.led.IsValid(),
	}
}

// WithStatus calls fn with the current status while holding off announcements,
// so anything fn registers sees every change after that status.
func (c *LEDController) WithStatus(fn func(LEDStatus)) {
	c.announceMu.Lock()
	defer c.announceMu.Unlock()
	fn(c.Status())
}

func (c *LEDController) Settings() LEDSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// UpdateSettings swaps in new settings and returns the previous ones.
func (c *LEDController) UpdateSettings(settings LEDSettings) LEDSettings {
	c.mu.Lock()
	old := c.settings
	c.settings = settings
	c.mu.Unlock()
	return old
}

// PublishState re-sends the current state, e.g. after an MQTT reconnect.
func (c *LEDController) PublishState() {
	c.announceMu.Lock()
	defer c.announceMu.Unlock()

	c.mu.Lock()
	settings, current := c.settings, c.led.State
	c.mu.Unlock()
	c.publish(settings, current)
}

// HandleMessage is the MQTT handler for the command topic.
func (c *LEDController) HandleMessage(client MQTT.Client, message MQTT.Message) {
	applied, err := c.Apply(string(message.Payload()))
	if err != nil {
		Logger.Warn().Msgf("bad command on %s: %v", message.Topic(), err)
		return
	}
	if !applied {
		// rejected as a no-op; echo the unchanged state back to the sender
		c.PublishState()
	}
}

func (c *LEDController) observe() {
	if c.metrics == nil {
		return
	}
	c.mu.Lock()
	name, current, valid := c.settings.Name, c.led.State, c.led.IsValid()
	c.mu.Unlock()
	c.metrics.ObserveState(name, current, valid)
}

func (c *LEDController) announce(settings LEDSettings, current state.LEDState) {
	c.publish(settings, current)
	if c.hub != nil {
		c.hub.BroadcastUpdate("led_state", LEDStatus{Name: settings.Name, State: current.String(), Valid: true})
	}
}

func (c *LEDController) publish(settings LEDSettings, current state.LEDState) {
	if c.publisher == nil {
		return
	}
	token := c.publisher.Publish(settings.State_topic, 0, false, current.String())
	if token == nil {
		return
	}
	if !token.WaitTimeout(publishTimeout) {
		Logger.Warn().Msgf("timed out publishing %s state", settings.Name)
	} else if token.Error() != nil {
		Logger.Error().Msgf("Error publishing %s state: %v", settings.Name, token.Error())
	}
}
