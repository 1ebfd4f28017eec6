// Package config holds the single immutable configuration value shared by
// every gate component. Defaults reproduce the values the controller has
// always shipped with; a YAML file, flags and environment variables can
// override them.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	RestartExit   = "exit"
	RestartExec   = "exec"
	RestartReboot = "reboot"
)

type Config struct {
	WiFi     WiFiConfig    `yaml:"wifi"`
	NTP      NTPConfig     `yaml:"ntp"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	API      APIConfig     `yaml:"api"`
	GPIO     GPIOConfig    `yaml:"gpio"`
	Agent    AgentConfig   `yaml:"agent"`
	Backend  BackendConfig `yaml:"backend"`
	LogLevel string        `yaml:"log_level"`
	// text or json
	LogFormat string `yaml:"log_format"`
}

type WiFiConfig struct {
	// Interface to wait on. Empty means any non-loopback interface.
	Interface string `yaml:"interface"`
	// SSID to associate with through NetworkManager. Empty skips association
	// and only waits for the link.
	SSID         string        `yaml:"ssid"`
	Password     string        `yaml:"password"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type NTPConfig struct {
	Host    string        `yaml:"host"`
	Timeout time.Duration `yaml:"timeout"`
	// SetClock writes the synchronized time to the system clock (needs
	// CAP_SYS_TIME). Otherwise only the agent's clock is corrected.
	SetClock bool `yaml:"set_clock"`
}

type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	Topic          string `yaml:"topic"`
	ClientIDPrefix string `yaml:"client_id_prefix"`
	QoS            byte   `yaml:"qos"`
	KeepAlive      uint16 `yaml:"keep_alive"`
	// Inbound messages held between polls.
	BufferSize int `yaml:"buffer_size"`
}

type APIConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

type GPIOConfig struct {
	// Empty chip simulates the outputs in the log.
	Chip           string        `yaml:"chip"`
	LEDPin         int           `yaml:"led_pin"`
	LockPin        int           `yaml:"lock_pin"`
	UnlockDuration time.Duration `yaml:"unlock_duration"`
}

type AgentConfig struct {
	StartDelay   time.Duration `yaml:"start_delay"`
	PollInterval time.Duration `yaml:"poll_interval"`
	RestartMode  string        `yaml:"restart_mode"`
	ExitCode     int           `yaml:"exit_code"`
}

type BackendConfig struct {
	Listen      string `yaml:"listen"`
	DatabaseURI string `yaml:"database_uri"`
}

func Default() *Config {
	return &Config{
		WiFi: WiFiConfig{
			SSID:         "Wokwi-GUEST",
			PollInterval: 100 * time.Millisecond,
		},
		NTP: NTPConfig{
			Host:    "asia.pool.ntp.org",
			Timeout: 5 * time.Second,
		},
		MQTT: MQTTConfig{
			Broker:         "mqtt://broker.hivemq.com:1883",
			Topic:          "siyangz/home/gate",
			ClientIDPrefix: "gate-agent-",
			KeepAlive:      60,
			BufferSize:     16,
		},
		API: APIConfig{
			URL:     "https://backend-ri6qxvjyda-uw.a.run.app/api/log",
			Timeout: 30 * time.Second,
		},
		GPIO: GPIOConfig{
			Chip:           "gpiochip0",
			LEDPin:         17,
			LockPin:        2,
			UnlockDuration: time.Second,
		},
		Agent: AgentConfig{
			StartDelay:   time.Second,
			PollInterval: 100 * time.Millisecond,
			RestartMode:  RestartExit,
			ExitCode:     4,
		},
		Backend: BackendConfig{
			Listen: ":8080",
		},
		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Load reads a YAML file on top of the defaults. Keys absent from the file
// keep their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides values from the environment, the same variables the
// door controller tooling has always honoured.
func (cfg *Config) ApplyEnv() {
	if result, found := os.LookupEnv("MQTT_URI"); found {
		cfg.MQTT.Broker = result
	}

	if result, found := os.LookupEnv("MQTT_USER"); found {
		cfg.MQTT.Username = result
	}

	if result, found := os.LookupEnv("MQTT_PASSWORD"); found {
		cfg.MQTT.Password = result
	}

	if result, found := os.LookupEnv("API_URL"); found {
		cfg.API.URL = result
	}

	if result, found := os.LookupEnv("WIFI_PASSWORD"); found {
		cfg.WiFi.Password = result
	}

	if result, found := os.LookupEnv("DB_CONNECTION_URI"); found {
		cfg.Backend.DatabaseURI = result
	}
}

func (cfg *Config) Validate() error {
	var errs []error

	if cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	} else if _, err := url.Parse(cfg.MQTT.Broker); err != nil {
		errs = append(errs, fmt.Errorf("mqtt.broker: %w", err))
	}
	if cfg.MQTT.Topic == "" {
		errs = append(errs, errors.New("mqtt.topic is required"))
	}
	if cfg.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", cfg.MQTT.QoS))
	}
	if cfg.MQTT.BufferSize < 1 {
		errs = append(errs, errors.New("mqtt.buffer_size must be positive"))
	}
	if cfg.API.URL == "" {
		errs = append(errs, errors.New("api.url is required"))
	} else if _, err := url.ParseRequestURI(cfg.API.URL); err != nil {
		errs = append(errs, fmt.Errorf("api.url: %w", err))
	}
	if cfg.NTP.Host == "" {
		errs = append(errs, errors.New("ntp.host is required"))
	}

	durations := map[string]time.Duration{
		"wifi.poll_interval":   cfg.WiFi.PollInterval,
		"ntp.timeout":          cfg.NTP.Timeout,
		"api.timeout":          cfg.API.Timeout,
		"gpio.unlock_duration": cfg.GPIO.UnlockDuration,
		"agent.poll_interval":  cfg.Agent.PollInterval,
	}
	for _, name := range []string{"wifi.poll_interval", "ntp.timeout", "api.timeout", "gpio.unlock_duration", "agent.poll_interval"} {
		if durations[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if cfg.Agent.StartDelay < 0 {
		errs = append(errs, errors.New("agent.start_delay must not be negative"))
	}

	switch cfg.Agent.RestartMode {
	case RestartExit, RestartExec, RestartReboot:
	default:
		errs = append(errs, fmt.Errorf("agent.restart_mode %q is not one of exit, exec, reboot", cfg.Agent.RestartMode))
	}

	return errors.Join(errs...)
}
