package cli_commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"metamakers.org/gate-agent/logger"
	"metamakers.org/gate-agent/mqtt"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Publishes an open command to the gate",
	Long:  "Publishes a single open command on the gate topic and exits",
	Run:   runOpenCmd,
}

var passthrough string

func init() {
	openCmd.Flags().StringVar(&passthrough, "passthrough", `{"who":"cli"}`, "JSON value carried with the command")
	rootCmd.AddCommand(openCmd)
}

func runOpenCmd(cmd *cobra.Command, _ []string) {
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

	if !json.Valid([]byte(passthrough)) {
		log.Error().
			Str("event", "Passthrough").
			Str("passthrough", passthrough).
			Msg("Passthrough is not valid JSON")
		syscall.Exit(2)
		return
	}

	publisher := mqtt.NewPublisher(mqtt.PublisherConfig{
		Broker:    cfg.MQTT.Broker,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  "gate-open-" + strconv.FormatInt(clk.Millis(), 10),
		QoS:       1,
		KeepAlive: cfg.MQTT.KeepAlive,
	}, logger.Module(log.Logger, "mqtt"))

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := publisher.Connect(connectCtx); err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "MQTTConnect").
			Msg(fmt.Sprintf("Connect Error: %v", err))
		syscall.Exit(1)
		return
	}
	defer publisher.Disconnect(context.Background())

	command := mqtt.Command{Command: mqtt.OpenCommand, Passthrough: json.RawMessage(passthrough)}
	if err := publisher.PublishCommand(connectCtx, cfg.MQTT.Topic, command); err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "Publish").
			Msg(fmt.Sprintf("Publish Error: %v", err))
		syscall.Exit(1)
		return
	}

	log.Info().
		Str("event", "Publish").
		Str("topic", cfg.MQTT.Topic).
		Msg("Open command sent")
}
