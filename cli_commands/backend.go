package cli_commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"metamakers.org/gate-agent/backend"
	"metamakers.org/gate-agent/events"
	"metamakers.org/gate-agent/logger"
	"metamakers.org/gate-agent/mqtt"
)

var backendCmd = &cobra.Command{
	Use:   "backend",
	Short: "Serves the gate HTTP API",
	Long:  "Accepts open requests over HTTP, forwards them to the gate over MQTT and records gate events",
	Run:   runBackendCmd,
}

var listenAddr string

func init() {
	backendCmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "Address the HTTP API listens on")
	rootCmd.AddCommand(backendCmd)
}

func runBackendCmd(cmd *cobra.Command, _ []string) {
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
	if cmd.Flags().Changed("listen") {
		cfg.Backend.Listen = listenAddr
	}
	if port, found := os.LookupEnv("PORT"); found {
		cfg.Backend.Listen = ":" + port
	}

	var store backend.EventStore
	if cfg.Backend.DatabaseURI != "" {
		eventStore, err := events.Open(cfg.Backend.DatabaseURI)
		if err != nil {
			log.Error().
				Str("error", err.Error()).
				Str("event", "Database").
				Msg(fmt.Sprintf("Database Error: %v", err))
			syscall.Exit(2)
			return
		}
		defer eventStore.Close()

		schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = eventStore.EnsureSchema(schemaCtx)
		cancel()
		if err != nil {
			log.Error().
				Str("error", err.Error()).
				Str("event", "Database").
				Msg(fmt.Sprintf("Database Error: %v", err))
			syscall.Exit(1)
			return
		}
		store = eventStore
	} else {
		log.Warn().
			Str("event", "Database").
			Msg("No database configured, events will only be logged")
	}

	publisher := mqtt.NewPublisher(mqtt.PublisherConfig{
		Broker:    cfg.MQTT.Broker,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		ClientID:  "gate-backend-" + strconv.FormatInt(clk.Millis(), 10),
		QoS:       1,
		KeepAlive: cfg.MQTT.KeepAlive,
	}, logger.Module(log.Logger, "mqtt"))

	if err := publisher.Connect(ctx); err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "MQTTConnect").
			Msg("Failed to connect to MQTT broker")
		syscall.Exit(1)
		return
	}
	defer publisher.Disconnect(context.Background())

	server := backend.New(publisher, store, cfg.MQTT.Topic, logger.Module(log.Logger, "http"))
	if err := server.ListenAndServe(ctx, cfg.Backend.Listen); err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "Listen").
			Msg(fmt.Sprintf("Failed to start server: %v", err))
		syscall.Exit(1)
	}
}
