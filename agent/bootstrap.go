// Package agent runs the gate controller: a one-time bootstrap of network,
// time and MQTT session, a polling loop that feeds the dispatcher, and a
// supervisor that turns any failure into a full restart.
package agent

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/clock"
	"metamakers.org/gate-agent/mqtt"
)

// Session is a subscribed MQTT session.
type Session interface {
	Poll() (mqtt.Message, bool, error)
	Disconnect(ctx context.Context) error
}

// Dialer opens a session under the given client id.
type Dialer func(ctx context.Context, clientID string) (Session, error)

type Linker interface {
	Connect(ctx context.Context) error
}

type TimeSyncer interface {
	Sync(ctx context.Context) error
}

type Bootstrapper struct {
	link           Linker
	timeSync       TimeSyncer
	dial           Dialer
	clock          *clock.Clock
	clientIDPrefix string
	log            zerolog.Logger
}

func NewBootstrapper(link Linker, timeSync TimeSyncer, dial Dialer, clk *clock.Clock, clientIDPrefix string, log zerolog.Logger) *Bootstrapper {
	return &Bootstrapper{
		link:           link,
		timeSync:       timeSync,
		dial:           dial,
		clock:          clk,
		clientIDPrefix: clientIDPrefix,
		log:            log,
	}
}

// ClientID derives the MQTT client id from the current time so that every
// restart presents a fresh id.
func ClientID(prefix string, millis int64) string {
	return prefix + strconv.FormatInt(millis, 10)
}

// Bootstrap brings up WiFi, then time, then the MQTT session, strictly in
// that order. The first failing step ends the bootstrap.
func (bootstrapper *Bootstrapper) Bootstrap(ctx context.Context) (Session, error) {
	bootstrapper.log.Info().Str("event", "WiFi").Msg("Connecting to WiFi...")
	if err := bootstrapper.link.Connect(ctx); err != nil {
		return nil, fmt.Errorf("wifi: %w", err)
	}
	bootstrapper.log.Info().Str("event", "WiFi").Msg("WiFi connected")

	bootstrapper.log.Info().Str("event", "TimeSync").Msg("Synchronizing time...")
	if err := bootstrapper.timeSync.Sync(ctx); err != nil {
		return nil, fmt.Errorf("time sync: %w", err)
	}
	bootstrapper.log.Info().Str("event", "TimeSync").Msg("Time synchronized")

	bootstrapper.log.Info().Str("event", "MQTTConnect").Msg("Connecting to MQTT broker...")
	clientID := ClientID(bootstrapper.clientIDPrefix, bootstrapper.clock.Millis())
	bootstrapper.log.Info().
		Str("event", "MQTTConnect").
		Msg(fmt.Sprintf("MQTT client ID: %s", clientID))
	session, err := bootstrapper.dial(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	bootstrapper.log.Info().Str("event", "MQTTConnect").Msg("Connected to MQTT broker")

	return session, nil
}
