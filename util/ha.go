package util

import (
	"encoding/json"
	"fmt"

	MQTT "github.com/eclipse/paho.mqtt.golang"
)

type HAAvdvertisementAvailability struct {
	Topic               string `json:"topic"`
	PayloadAvailable    string `json:"payload_available"`
	PayloadNotAvailable string `json:"payload_not_available"`
}

type HADeviceSpec struct {
	Name        string   `json:"name"`
	Identifiers []string `json:"ids"`
}

// HAAdvertisement is a Home Assistant MQTT discovery payload for a light.
type HAAdvertisement struct { //nolint:govet // struct layout optimized for JSON field order
	HAAvdvertisementAvailability []HAAvdvertisementAvailability `json:"availability"`
	Device                       HADeviceSpec                   `json:"device"`
	UniqueID                     string                         `json:"uniq_id"`
	Name                         string                         `json:"name"`
	CommandTopic                 string                         `json:"command_topic"`
	StateTopic                   string                         `json:"state_topic"`
	PayloadOn                    string                         `json:"payload_on"`
	PayloadOff                   string                         `json:"payload_off"`
	Platform                     string                         `json:"platform"`
	Optimistic                   bool                           `json:"optimistic"`
	Qos                          int                            `json:"qos"`
}

func (ha HAAdvertisement) ToJson() string {
	data, err := json.Marshal(ha)
	if err != nil {
		Logger.Error().Msgf("Error marshalling HAAdvertisement: %v", err)
		return ""
	}
	return string(data)
}

func ConstructHAAdvertisement(led LEDSettings) HAAdvertisement {
	return HAAdvertisement{
		Name:         led.Name,
		CommandTopic: led.Command_topic,
		StateTopic:   led.State_topic,
		PayloadOn:    "ON",
		PayloadOff:   "OFF",
		HAAvdvertisementAvailability: []HAAvdvertisementAvailability{
			{
				Topic:               AvailabilityTopic(),
				PayloadAvailable:    "online",
				PayloadNotAvailable: "offline",
			},
		},
		Qos:      0,
		UniqueID: "led-" + led.Name,
		Platform: "light",
		Device: HADeviceSpec{
			Name:        "led_controller",
			Identifiers: []string{"led_controller"},
		},
	}
}

func DiscoveryTopic(led LEDSettings) string {
	return Config.GetString("ha.prefix") + "/light/" + led.Name + "/config"
}

func AdvertiseHA(led LEDSettings, client MQTT.Client) {
	if !Config.GetBool("ha.enabled") {
		return
	}
	ha := ConstructHAAdvertisement(led)
	if token := client.Publish(DiscoveryTopic(led), 0, false, ha.ToJson()); token.Wait() && token.Error() != nil {
		Logger.Error().Msgf("Error Publishing: %v", fmt.Errorf("%v", token.Error()))
	}
}
