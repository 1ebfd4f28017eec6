package cli_commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"metamakers.org/gate-agent/clock"
	"metamakers.org/gate-agent/config"
	"metamakers.org/gate-agent/logger"
)

var rootCmd = &cobra.Command{
	Use:   "gate",
	Short: "Gate controller agent and tooling",
	Long:  "Drives the gate lock from MQTT commands and serves the gate backend API",
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var configPath string
var username string
var password string
var mqttUri string
var logLevel string
var logFormat string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVarP(&username, "username", "u", "", "Username used to authenticate with the MQTT Broker")
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Password used to authenticate with the MQTT Broker")
	rootCmd.PersistentFlags().StringVarP(&mqttUri, "mqtt_uri", "m", "", "Uri used to connect to the mqtt broker")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log_level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log_format", "", "Log output format (text or json)")
}

// loadConfig layers the configuration: defaults, the YAML file, flags the
// user set explicitly, then the environment. It also installs the global
// logger, which renders timestamps from the returned clock.
func loadConfig(cmd *cobra.Command) (*config.Config, *clock.Clock, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("mqtt_uri") {
		cfg.MQTT.Broker = mqttUri
	}
	if flags.Changed("username") {
		cfg.MQTT.Username = username
	}
	if flags.Changed("password") {
		cfg.MQTT.Password = password
	}
	if flags.Changed("log_level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("log_format") {
		cfg.LogFormat = logFormat
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	clk := clock.New()
	log.Logger = logger.New(os.Stdout, clk, cfg.LogFormat, level)

	return cfg, clk, nil
}
