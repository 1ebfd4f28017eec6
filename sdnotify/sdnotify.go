// Package sdnotify reports the agent's state to systemd: ready once the
// bootstrap has finished, watchdog keep-alives from the polling loop, and
// stopping on a clean shutdown.
package sdnotify

import (
	"errors"
	"fmt"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
)

var (
	ErrNotifySocketNotFound = errors.New("Notify socket was not found!")
)

type Notifier struct {
	log    zerolog.Logger
	notify func(unsetEnvironment bool, state string) (bool, error)
}

func New(log zerolog.Logger) *Notifier {
	return &Notifier{log: log, notify: daemon.SdNotify}
}

func (notifier *Notifier) handleNotifyError(state bool, err error, notification string) error {
	if !state && err != nil {
		notifier.log.Error().
			Str("error", err.Error()).
			Str("event", "SystemdNotify").
			Str("notification", notification).
			Msg(fmt.Sprintf("Systemd notify supported but failed: %v", err))
		return err
	}
	if !state && err == nil {
		notifier.log.Debug().
			Str("event", "SystemdNotify").
			Str("notification", notification).
			Msg("Systemd notify not supported")
		return ErrNotifySocketNotFound
	}
	notifier.log.Debug().
		Str("event", "SystemdNotify").
		Str("notification", notification).
		Msg("Systemd notification sent")
	return err
}

func (notifier *Notifier) Ready() error {
	state, err := notifier.notify(false, daemon.SdNotifyReady)
	return notifier.handleNotifyError(state, err, "ready")
}

func (notifier *Notifier) Stopping() error {
	state, err := notifier.notify(false, daemon.SdNotifyStopping)
	return notifier.handleNotifyError(state, err, "stopping")
}

// Watchdog sends keep-alives at half the interval systemd asked for. With
// no watchdog configured Pet does nothing.
type Watchdog struct {
	notifier *Notifier
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

func (notifier *Notifier) Watchdog() *Watchdog {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		notifier.log.Warn().
			Str("error", err.Error()).
			Str("event", "SystemdWatchdog").
			Msg("Ignoring invalid watchdog settings")
		interval = 0
	}
	return newWatchdog(notifier, interval, time.Now)
}

func newWatchdog(notifier *Notifier, interval time.Duration, now func() time.Time) *Watchdog {
	return &Watchdog{notifier: notifier, interval: interval, now: now}
}

func (watchdog *Watchdog) Enabled() bool {
	return watchdog.interval > 0
}

func (watchdog *Watchdog) Pet() error {
	if !watchdog.Enabled() {
		return nil
	}
	now := watchdog.now()
	if !watchdog.last.IsZero() && now.Sub(watchdog.last) < watchdog.interval/2 {
		return nil
	}
	watchdog.last = now

	state, err := watchdog.notifier.notify(false, daemon.SdNotifyWatchdog)
	if !state && err != nil {
		return fmt.Errorf("watchdog keep-alive: %w", err)
	}
	return nil
}
