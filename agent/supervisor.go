package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

type Bootstrap interface {
	Bootstrap(ctx context.Context) (Session, error)
}

type Runner interface {
	Run(ctx context.Context, session Session) error
}

// Supervisor is the only place errors stop propagating. Whatever fails
// during bootstrap or polling is logged and handed to the Resetter; there
// is no partial recovery.
type Supervisor struct {
	bootstrap  Bootstrap
	loop       Runner
	lifecycle  Lifecycle
	startDelay time.Duration
	resetter   Resetter
	log        zerolog.Logger
}

func NewSupervisor(bootstrap Bootstrap, loop Runner, lifecycle Lifecycle, startDelay time.Duration, resetter Resetter, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		bootstrap:  bootstrap,
		loop:       loop,
		lifecycle:  lifecycle,
		startDelay: startDelay,
		resetter:   resetter,
		log:        log,
	}
}

// Run waits out the start delay, then bootstraps and polls until something
// fails. Cancelling ctx is a clean stop and returns nil; any other failure
// ends in Reset, whose error is returned if the reset itself fails.
func (supervisor *Supervisor) Run(ctx context.Context) error {
	supervisor.log.Info().
		Str("event", "StartDelay").
		Msg(fmt.Sprintf("Sleeping for %s...", humanDuration(supervisor.startDelay)))
	select {
	case <-ctx.Done():
		supervisor.log.Info().Str("event", "stopping").Msg("Termination signal received")
		return nil
	case <-time.After(supervisor.startDelay):
	}

	err := supervisor.runOnce(ctx)
	if ctx.Err() != nil && (err == nil || errors.Is(err, ctx.Err())) {
		supervisor.log.Info().Str("event", "stopping").Msg("Termination signal received")
		_ = supervisor.lifecycle.Stopping()
		return nil
	}
	if err == nil {
		err = errors.New("polling loop ended without an error")
	}

	supervisor.log.Error().
		Str("error", err.Error()).
		Str("event", "FatalError").
		Msg(fmt.Sprintf("Error occurred: %v", err))

	if resetErr := supervisor.resetter.Reset(err); resetErr != nil {
		return fmt.Errorf("reset after %v: %w", err, resetErr)
	}
	return err
}

func (supervisor *Supervisor) runOnce(ctx context.Context) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()

	supervisor.log.Info().Str("event", "Start").Msg("Program started")

	session, err := supervisor.bootstrap.Bootstrap(ctx)
	if err != nil {
		return err
	}
	defer func() {
		disconnectCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = session.Disconnect(disconnectCtx)
	}()

	return supervisor.loop.Run(ctx, session)
}

func humanDuration(d time.Duration) string {
	if d == time.Second {
		return "1 second"
	}
	return d.String()
}
