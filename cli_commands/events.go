package cli_commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"metamakers.org/gate-agent/clock"
	"metamakers.org/gate-agent/events"
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Prints recent gate events",
	Long:  "Prints the most recent gate events recorded by the backend, newest first",
	Run:   runEventsCmd,
}

var eventsLimit int

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", events.DefaultLimit, "Number of events to print")
	rootCmd.AddCommand(eventsCmd)
}

func runEventsCmd(cmd *cobra.Command, _ []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "Config").
			Msg(fmt.Sprintf("Config Error: %v", err))
		syscall.Exit(2)
		return
	}
	if cfg.Backend.DatabaseURI == "" {
		log.Error().
			Str("event", "Database").
			Msg("DB_CONNECTION_URI or backend.database_uri is required")
		syscall.Exit(2)
		return
	}

	store, err := events.Open(cfg.Backend.DatabaseURI)
	if err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "Database").
			Msg(fmt.Sprintf("Database Error: %v", err))
		syscall.Exit(2)
		return
	}
	defer store.Close()

	recent, err := store.Recent(ctx, eventsLimit)
	if err != nil {
		log.Error().
			Str("error", err.Error()).
			Str("event", "Query").
			Msg(fmt.Sprintf("Query Error: %v", err))
		syscall.Exit(1)
		return
	}

	out := cmd.OutOrStdout()
	for _, event := range recent {
		fmt.Fprintf(out, "%d\t%s\t%s\n", event.ID, clock.Format(event.ReceivedAt), event.Event)
	}
}
