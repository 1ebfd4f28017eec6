package logger

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/clock"
)

// ModuleField tags a log event with the component that produced it. It is
// rendered between brackets ahead of the message.
const ModuleField = "module"

const (
	FormatText = "text"
	FormatJSON = "json"
)

// NewConsoleWriter renders every event as
//
//	<timestamp> [<module>] <message> key=value ...
//
// The timestamp comes from clk so that it follows the NTP corrected time
// rather than whatever the event recorded. Levels only show up from warn
// upwards.
func NewConsoleWriter(out io.Writer, clk *clock.Clock) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:     out,
		NoColor: true,
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			ModuleField,
			zerolog.MessageFieldName,
			zerolog.LevelFieldName,
		},
		FieldsExclude: []string{ModuleField},
		FormatPrepare: func(evt map[string]interface{}) error {
			if module, ok := evt[ModuleField].(string); ok && module != "" {
				evt[ModuleField] = "[" + module + "]"
			} else {
				evt[ModuleField] = ""
			}
			return nil
		},
		FormatTimestamp: func(interface{}) string {
			return clock.Format(clk.Now())
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
		FormatLevel: func(i interface{}) string {
			switch i {
			case zerolog.LevelWarnValue, zerolog.LevelErrorValue, zerolog.LevelFatalValue, zerolog.LevelPanicValue:
				return zerolog.LevelFieldName + "=" + i.(string)
			}
			return ""
		},
	}
}

// clockHook stamps json events with the agent clock.
type clockHook struct {
	clock *clock.Clock
}

func (hook clockHook) Run(e *zerolog.Event, _ zerolog.Level, _ string) {
	e.Time(zerolog.TimestampFieldName, hook.clock.Now())
}

// New builds the process logger. The text format renders tagged lines; the
// json format keeps zerolog's native output with clock-corrected timestamps.
func New(out io.Writer, clk *clock.Clock, format string, level zerolog.Level) zerolog.Logger {
	if format == FormatJSON {
		return zerolog.New(out).Level(level).Hook(clockHook{clock: clk})
	}
	return zerolog.New(NewConsoleWriter(out, clk)).Level(level)
}

// Module returns a child logger whose lines carry the given module tag.
func Module(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str(ModuleField, name).Logger()
}

// ParseLevel accepts the usual level names, case-insensitively. An empty
// string means info.
func ParseLevel(s string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}
