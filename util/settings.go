package util

import (
	"crypto/rand"
	"fmt"
	"reflect"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ENV_PREFIX = ""

var Config = viper.New()

var config_listeners []func()

// LEDSettings is the "led" section of the config file.
type LEDSettings struct {
	Name          string `mapstructure:"name"`
	Command_topic string `mapstructure:"command_topic"`
	State_topic   string `mapstructure:"state_topic"`
	Initial       string `mapstructure:"initial"`
}

func RegisterNewConfigListener(new_listener func()) {
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	for _, listener := range config_listeners {
		listener()
	}
}

func GetRandString(n int) string {
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		randBytes := make([]byte, 1)
		if _, err := rand.Read(randBytes); err != nil {
			b[i] = letterBytes[i%len(letterBytes)]
		} else {
			b[i] = letterBytes[int(randBytes[0])%len(letterBytes)]
		}
	}
	return string(b)
}

// LoadLEDSettings reads the led section, filling topics from the name when unset.
func LoadLEDSettings() (LEDSettings, error) {
	var s LEDSettings
	if err := Config.UnmarshalKey("led", &s); err != nil {
		return s, fmt.Errorf("error unmarshaling led settings: %w", err)
	}
	if s.Name == "" {
		s.Name = "led"
	}
	if s.Command_topic == "" {
		s.Command_topic = "hab/" + s.Name + "/set"
	}
	if s.State_topic == "" {
		s.State_topic = "hab/" + s.Name + "/state"
	}
	return s, nil
}

func newFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("led_controller", pflag.ContinueOnError)
	flags.String("config", "", "path to config file")
	flags.String("log_level", "info", "trace, debug, info, warn or error")
	flags.String("broker_uri", "tcp://mqtt", "mqtt broker uri")
	flags.Int("details_port", 8080, "port for the status/metrics http server")
	return flags
}

// BindFlags parses args and binds the resulting flags into Config.
func BindFlags(args []string) error {
	flags := newFlagSet()
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}
	for _, name := range []string{"log_level", "broker_uri", "details_port"} {
		if f := flags.Lookup(name); f != nil && f.Changed {
			if err := Config.BindPFlag(name, f); err != nil {
				return fmt.Errorf("binding flag %s: %w", name, err)
			}
		}
	}
	if path, _ := flags.GetString("config"); path != "" {
		Config.SetConfigFile(path)
	}
	return nil
}

func SetupConfig() {
	Config.SetEnvPrefix(ENV_PREFIX)
	// set defaults
	Config.SetDefault("Broker_URI", "tcp://mqtt")
	Config.SetDefault("Cleansess", false)
	Config.SetDefault("Id_base", "led_controller")
	Config.SetDefault("Username", "")
	Config.SetDefault("Password", "")
	Config.SetDefault("Log_level", "info")
	Config.SetDefault("Details_port", 8080)
	Config.SetDefault("Mqtt.enabled", true)
	Config.SetDefault("Ha.enabled", true)
	Config.SetDefault("Ha.prefix", "homeassistant")
	Config.SetDefault("Led.name", "led")
	Config.SetDefault("Led.initial", "OFF")

	// config file
	Config.SetConfigName("led_controller")
	Config.AddConfigPath("/")
	Config.AddConfigPath("./")
	Config.AddConfigPath("./config")
	Config.AddConfigPath("/etc")
	Config.AddConfigPath("/led_controller")
	Config.AddConfigPath("/led_controller/config")

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Error().Msgf("unable to read config file: %v", err)
	}

	// environment variables
	Config.AutomaticEnv()

	// watch for changes
	Config.WatchConfig()
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Info().Msgf("Config file changed: %v", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
		OnNewConfig()
	})

}
