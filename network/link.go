// Package network brings the board onto the network before anything else
// runs: WiFi association, then time synchronization.
package network

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// reassociateEvery is how many link polls pass between association
// attempts while the link stays down.
const reassociateEvery = 100

// Runner executes an external command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Link associates the station interface and waits for it to come up.
type Link struct {
	Interface    string
	SSID         string
	Password     string
	PollInterval time.Duration

	run    Runner
	linkUp func(name string) (bool, error)
	log    zerolog.Logger
}

func NewLink(iface string, ssid string, password string, pollInterval time.Duration, log zerolog.Logger) *Link {
	return &Link{
		Interface:    iface,
		SSID:         ssid,
		Password:     password,
		PollInterval: pollInterval,
		run:          execRunner,
		linkUp:       interfaceUp,
		log:          log,
	}
}

// Connect asks NetworkManager to join the configured SSID, then polls the
// interface until it is up with a routable address. A failed association
// is logged and retried every reassociateEvery polls; it is not an error.
// There is no timeout: an unreachable network keeps the caller waiting
// until ctx ends.
func (link *Link) Connect(ctx context.Context) error {
	for polls := 0; ; polls++ {
		if link.SSID != "" && polls%reassociateEvery == 0 {
			link.associate(ctx)
		}

		up, err := link.linkUp(link.Interface)
		if err != nil {
			return fmt.Errorf("read interface state: %w", err)
		}
		if up {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(link.PollInterval):
		}
	}
}

func (link *Link) associate(ctx context.Context) {
	args := []string{"device", "wifi", "connect", link.SSID}
	if link.Password != "" {
		args = append(args, "password", link.Password)
	}
	if link.Interface != "" {
		args = append(args, "ifname", link.Interface)
	}

	output, err := link.run(ctx, "nmcli", args...)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		link.log.Warn().
			Str("error", err.Error()).
			Str("event", "WiFiAssociate").
			Str("ssid", link.SSID).
			Str("output", strings.TrimSpace(string(output))).
			Msg(fmt.Sprintf("Association with %q failed, still waiting", link.SSID))
		return
	}
	link.log.Debug().
		Str("event", "WiFiAssociate").
		Str("ssid", link.SSID).
		Str("output", strings.TrimSpace(string(output))).
		Msg("Association requested")
}

// interfaceUp reports whether the named interface, or any non-loopback
// interface when name is empty, is running with a non link-local address.
func interfaceUp(name string) (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if name != "" && iface.Name != name {
			continue
		}
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagRunning == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			if ipNet.IP.IsLoopback() || ipNet.IP.IsLinkLocalUnicast() {
				continue
			}
			return true, nil
		}
	}
	return false, nil
}
