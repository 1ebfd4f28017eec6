package cli_commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"metamakers.org/gate-agent/agent"
	"metamakers.org/gate-agent/dispatch"
	"metamakers.org/gate-agent/hardware"
	"metamakers.org/gate-agent/logger"
	"metamakers.org/gate-agent/mqtt"
	"metamakers.org/gate-agent/network"
	"metamakers.org/gate-agent/notify"
	"metamakers.org/gate-agent/sdnotify"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Runs the gate controller",
	Long:  "Connects to WiFi, synchronizes time, subscribes to the gate topic and unlocks the gate on open commands",
	Run:   runAgentCmd,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

func runAgentCmd(cmd *cobra.Command, _ []string) {
	// Runs until a fatal error resets it or it is cancelled (e.g. ctrl-c)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, clk, err := loadConfig(cmd)
	if err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "Config").
			Msg(fmt.Sprintf("Config Error: %v", err))
		syscall.Exit(2)
		return
	}

	base := log.Logger
	gpioLog := logger.Module(base, "gpio")

	led, err := hardware.OpenOutput(cfg.GPIO.Chip, cfg.GPIO.LEDPin, "led", gpioLog)
	if err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "GPIO").
			Msg(fmt.Sprintf("GPIO Error: %v", err))
		syscall.Exit(cfg.Agent.ExitCode)
		return
	}
	defer led.Close()

	lock, err := hardware.OpenOutput(cfg.GPIO.Chip, cfg.GPIO.LockPin, "lock", gpioLog)
	if err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "GPIO").
			Msg(fmt.Sprintf("GPIO Error: %v", err))
		syscall.Exit(cfg.Agent.ExitCode)
		return
	}
	defer lock.Close()

	link := network.NewLink(cfg.WiFi.Interface, cfg.WiFi.SSID, cfg.WiFi.Password, cfg.WiFi.PollInterval, logger.Module(base, "wifi"))
	timeSync := network.NewTimeSync(cfg.NTP.Host, cfg.NTP.Timeout, cfg.NTP.SetClock, clk, logger.Module(base, "ntp"))

	mqttLog := logger.Module(base, "mqtt")
	dial := func(ctx context.Context, clientID string) (agent.Session, error) {
		subscriber := mqtt.NewSubscriber(mqtt.SubscriberConfig{
			Broker:     cfg.MQTT.Broker,
			Username:   cfg.MQTT.Username,
			Password:   cfg.MQTT.Password,
			ClientID:   clientID,
			Topic:      cfg.MQTT.Topic,
			QoS:        cfg.MQTT.QoS,
			KeepAlive:  cfg.MQTT.KeepAlive,
			BufferSize: cfg.MQTT.BufferSize,
		}, mqttLog)
		if err := subscriber.Connect(ctx); err != nil {
			return nil, err
		}
		return subscriber, nil
	}

	notifier := notify.New(cfg.API.URL, cfg.API.Timeout, base)
	dispatcher := dispatch.New(cfg.MQTT.Topic, hardware.NewActuator(lock, cfg.GPIO.UnlockDuration), notifier, base)
	systemd := sdnotify.New(logger.Module(base, "systemd"))

	supervisor := agent.NewSupervisor(
		agent.NewBootstrapper(link, timeSync, dial, clk, cfg.MQTT.ClientIDPrefix, base),
		agent.NewLoop(dispatcher, led, cfg.Agent.PollInterval, systemd, systemd.Watchdog(), base),
		systemd,
		cfg.Agent.StartDelay,
		agent.NewResetter(cfg.Agent.RestartMode, cfg.Agent.ExitCode, base),
		base,
	)

	if err := supervisor.Run(ctx); err != nil {
		syscall.Exit(cfg.Agent.ExitCode)
	}
}
