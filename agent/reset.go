package agent

import (
	"fmt"
	"syscall"

	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/config"
)

// Resetter restarts the controller from scratch. A successful Reset does
// not return.
type Resetter interface {
	Reset(cause error) error
}

// ExitResetter ends the process with a non-zero code and relies on the
// service manager to start it again.
type ExitResetter struct {
	Code int
	exit func(code int)
}

func NewExitResetter(code int) *ExitResetter {
	return &ExitResetter{Code: code, exit: syscall.Exit}
}

func (resetter *ExitResetter) Reset(error) error {
	resetter.exit(resetter.Code)
	return nil
}

// ExecResetter replaces the running process with a fresh copy of itself.
type ExecResetter struct {
	exec func() error
}

func (resetter *ExecResetter) Reset(error) error {
	return resetter.exec()
}

// RebootResetter reboots the whole board.
type RebootResetter struct {
	reboot func() error
}

func (resetter *RebootResetter) Reset(error) error {
	return resetter.reboot()
}

// fallbackResetter exits when the primary strategy could not take over.
type fallbackResetter struct {
	primary  Resetter
	fallback Resetter
	log      zerolog.Logger
}

func (resetter *fallbackResetter) Reset(cause error) error {
	err := resetter.primary.Reset(cause)
	if err == nil {
		return nil
	}
	resetter.log.Error().
		Str("error", err.Error()).
		Str("event", "ResetFallback").
		Msg(fmt.Sprintf("Reset failed, exiting instead: %v", err))
	return resetter.fallback.Reset(cause)
}

func NewResetter(mode string, exitCode int, log zerolog.Logger) Resetter {
	exit := NewExitResetter(exitCode)
	switch mode {
	case config.RestartExec:
		return &fallbackResetter{primary: &ExecResetter{exec: execSelf}, fallback: exit, log: log}
	case config.RestartReboot:
		return &fallbackResetter{primary: &RebootResetter{reboot: rebootBoard}, fallback: exit, log: log}
	default:
		return exit
	}
}
