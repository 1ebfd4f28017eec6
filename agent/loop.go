package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/hardware"
	"metamakers.org/gate-agent/sdnotify"
)

type Dispatcher interface {
	Dispatch(ctx context.Context, topic string, payload []byte) error
}

// Lifecycle reports service state to the supervisor of the process.
type Lifecycle interface {
	Ready() error
	Stopping() error
}

type Watchdog interface {
	Pet() error
}

type Loop struct {
	dispatcher Dispatcher
	led        hardware.Output
	interval   time.Duration
	lifecycle  Lifecycle
	watchdog   Watchdog
	sleep      hardware.Sleeper
	log        zerolog.Logger
}

func NewLoop(dispatcher Dispatcher, led hardware.Output, interval time.Duration, lifecycle Lifecycle, watchdog Watchdog, log zerolog.Logger) *Loop {
	return &Loop{
		dispatcher: dispatcher,
		led:        led,
		interval:   interval,
		lifecycle:  lifecycle,
		watchdog:   watchdog,
		sleep:      time.Sleep,
		log:        log,
	}
}

// Run blinks the status LED and then polls forever: take at most one
// message, dispatch it, sleep the poll interval. It returns only with an
// error, or with ctx's error once ctx is done.
func (loop *Loop) Run(ctx context.Context, session Session) error {
	if err := hardware.BlinkStatus(loop.led, loop.sleep); err != nil {
		return err
	}

	if err := loop.lifecycle.Ready(); err != nil && !errors.Is(err, sdnotify.ErrNotifySocketNotFound) {
		loop.log.Warn().
			Str("error", err.Error()).
			Str("event", "SystemdNotify").
			Msg("Could not report readiness")
	}

	loop.log.Info().Str("event", "Polling").Msg("Awaiting message...")
	for {
		message, ok, err := session.Poll()
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if ok {
			if err := loop.dispatcher.Dispatch(ctx, message.Topic, message.Payload); err != nil {
				return err
			}
		}

		if err := loop.watchdog.Pet(); err != nil {
			loop.log.Warn().
				Str("error", err.Error()).
				Str("event", "SystemdWatchdog").
				Msg("Watchdog keep-alive failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(loop.interval):
		}
	}
}
