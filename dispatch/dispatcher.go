// Package dispatch reacts to messages taken off the control topic.
package dispatch

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/logger"
	"metamakers.org/gate-agent/mqtt"
)

type Unlocker interface {
	Unlock() error
}

type Notifier interface {
	NotifyGateOpen(ctx context.Context) (bool, error)
}

type Dispatcher struct {
	topic       string
	lock        Unlocker
	notifier    Notifier
	callbackLog zerolog.Logger
	lockerLog   zerolog.Logger
}

func New(topic string, lock Unlocker, notifier Notifier, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		topic:       topic,
		lock:        lock,
		notifier:    notifier,
		callbackLog: logger.Module(log, "callback"),
		lockerLog:   logger.Module(log, "locker"),
	}
}

// Dispatch handles one message. Messages for other topics are ignored
// without being parsed. A payload that cannot be parsed is returned as an
// error and nothing is actuated. For an open command the lock is pulsed
// before the backend is notified.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, topic string, payload []byte) error {
	dispatcher.callbackLog.Info().
		Str("event", "MessageReceived").
		Msg(fmt.Sprintf("topic: %s, message: %s", topic, payload))

	if topic != dispatcher.topic {
		return nil
	}

	command, err := mqtt.ParseCommand(payload)
	if err != nil {
		return fmt.Errorf("parse message on %s: %w", topic, err)
	}

	dispatcher.callbackLog.Info().
		Str("event", "Passthrough").
		Msg(fmt.Sprintf("passthrough: %s", command.Passthrough))

	if !command.IsOpen() {
		return nil
	}

	dispatcher.lockerLog.Info().Str("event", "Unlock").Msg("opened")
	if err := dispatcher.lock.Unlock(); err != nil {
		return fmt.Errorf("unlock: %w", err)
	}
	dispatcher.lockerLog.Info().Str("event", "Lock").Msg("lock closed")

	dispatcher.lockerLog.Info().Str("event", "Notify").Msg("notify API...")
	if _, err := dispatcher.notifier.NotifyGateOpen(ctx); err != nil {
		return fmt.Errorf("notify gate open: %w", err)
	}
	dispatcher.lockerLog.Info().Str("event", "Notify").Msg("notify API done")

	return nil
}
