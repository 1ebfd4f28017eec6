package mqtt

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"
)

func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := listener.Addr().String()
	require.NoError(t, listener.Close())
	return address
}

// startBroker runs an in-process broker and returns its mqtt:// url and a
// stop function that is safe to call more than once.
func startBroker(t *testing.T) (string, *mochi.Server, func()) {
	t.Helper()

	address := freeAddress(t)
	server := mochi.New(&mochi.Options{InlineClient: true})
	server.Log = slog.New(slog.NewTextHandler(io.Discard, nil))

	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{
		ID:      "test",
		Address: address,
	})))
	require.NoError(t, server.Serve())

	var once sync.Once
	stop := func() {
		once.Do(func() { server.Close() })
	}
	t.Cleanup(stop)
	return "mqtt://" + address, server, stop
}
