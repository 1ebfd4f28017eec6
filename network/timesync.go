package network

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
	"github.com/rs/zerolog"

	"metamakers.org/gate-agent/clock"
)

type TimeSync struct {
	Host     string
	Timeout  time.Duration
	SetClock bool

	clock          *clock.Clock
	query          func(host string, opts ntp.QueryOptions) (*ntp.Response, error)
	setSystemClock func(time.Time) error
	log            zerolog.Logger
}

func NewTimeSync(host string, timeout time.Duration, setClock bool, clk *clock.Clock, log zerolog.Logger) *TimeSync {
	return &TimeSync{
		Host:           host,
		Timeout:        timeout,
		SetClock:       setClock,
		clock:          clk,
		query:          ntp.QueryWithOptions,
		setSystemClock: setSystemClock,
		log:            log,
	}
}

// Sync performs a single NTP exchange. A failed or invalid response is an
// error; there is no retry.
func (sync *TimeSync) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	response, err := sync.query(sync.Host, ntp.QueryOptions{Timeout: sync.Timeout})
	if err != nil {
		return fmt.Errorf("query ntp host %s: %w", sync.Host, err)
	}
	if err := response.Validate(); err != nil {
		return fmt.Errorf("invalid ntp response from %s: %w", sync.Host, err)
	}

	if sync.SetClock {
		if err := sync.setSystemClock(time.Now().Add(response.ClockOffset)); err != nil {
			return fmt.Errorf("set system clock: %w", err)
		}
		sync.clock.SetOffset(0)
	} else {
		sync.clock.SetOffset(response.ClockOffset)
	}

	sync.log.Debug().
		Str("event", "TimeSync").
		Str("host", sync.Host).
		Dur("offset", response.ClockOffset).
		Uint8("stratum", response.Stratum).
		Bool("system_clock", sync.SetClock).
		Msg("NTP response accepted")
	return nil
}
