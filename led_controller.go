package main

import (
	"os"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	. "github.com/elijahnyp/led_controller/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	controller *LEDController
	wsHub      *WSHub
	registry   = prometheus.NewRegistry()
)

func main() {
	LogInit("trace")
	if err := BindFlags(os.Args[1:]); err != nil {
		Logger.Fatal().Msgf("%v", err)
	}
	SetupConfig()
	RegisterNewConfigListener(func() { LogInit(Config.GetString("log_level")) })

	settings, err := LoadLEDSettings()
	if err != nil {
		Logger.Fatal().Msgf("%v", err)
	}
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	wsHub = NewHub()
	go wsHub.Run()
	controller = NewLEDController(settings, clientPublisher{}, NewMetrics(registry), wsHub)

	RegisterNewConfigListener(func() { reloadLEDSettings(controller) })
	RegisterMQTTConnectHook("haadvertise", func(client MQTT.Client) {
		AdvertiseHA(controller.Settings(), client)
	})
	RegisterMQTTConnectHook("state", func(client MQTT.Client) {
		controller.PublishState()
	})
	RegisterNewConfigListener(MqttInit)
	OnNewConfig()

	monitor := NewMonitorServer()
	monitor.AddHandler("/api/led", APILED)
	monitor.AddHandler("/api/led/snapshot", APISnapshot)
	monitor.AddHandler("/ws", ServeWebSocket)
	monitor.AddRawHandler("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	if err := monitor.Start(); err != nil {
		Logger.Error().Msgf("Error starting monitor server: %v", err)
	}
	RegisterNewConfigListener(func() { monitor.Restart() })
	Logger.Info().Msgf("%s ready", settings.Name)
	go OnlinePinger()
	go HAAdvertiser()
	select {}
}

// reloadLEDSettings moves the command subscription when the topic changes;
// MqttInit runs after it and resubscribes everything on connect.
func reloadLEDSettings(c *LEDController) {
	settings, err := LoadLEDSettings()
	if err != nil {
		Logger.Error().Msgf("Error loading led settings: %v", err)
		return
	}
	old := c.UpdateSettings(settings)
	if old.Command_topic != settings.Command_topic {
		RegisterMQTTSubscription(old.Command_topic, nil)
	}
	RegisterMQTTSubscription(settings.Command_topic, c.HandleMessage)
}

func OnlinePinger() {
	for {
		if Client != nil && Client.IsConnected() {
			if token := Client.Publish(AvailabilityTopic(), 0, false, "online"); token.Wait() && token.Error() != nil {
				Logger.Error().Msgf("Error publishing online message: %v", token.Error())
			}
		}
		time.Sleep(10 * time.Second)
	}
}

// HAAdvertiser - advertises Home Assistant discovery messages every 5 minutes
func HAAdvertiser() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		if Client != nil && Client.IsConnected() {
			Logger.Debug().Msg("Advertising Home Assistant discovery messages")
			AdvertiseHA(controller.Settings(), Client)
		}
	}
}
