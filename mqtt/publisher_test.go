package mqtt

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherPublishesCommand(t *testing.T) {
	broker, server, _ := startBroker(t)

	received := make(chan []byte, 1)
	require.NoError(t, server.Subscribe(DefaultGateTopic, 1, func(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
		received <- pk.Payload
	}))

	publisher := NewPublisher(PublisherConfig{
		Broker:    broker,
		ClientID:  "gate-backend-test",
		KeepAlive: 30,
	}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, publisher.Connect(ctx))
	defer publisher.Disconnect(context.Background())

	require.NoError(t, publisher.PublishCommand(ctx, DefaultGateTopic, Command{
		Command:     OpenCommand,
		Passthrough: json.RawMessage(`{"who":"phone"}`),
	}))

	select {
	case payload := <-received:
		assert.JSONEq(t, `{"command":"open","passthrough":{"who":"phone"}}`, string(payload))
	case <-time.After(5 * time.Second):
		t.Fatal("command never reached the broker")
	}
}

func TestPublisherNotConnected(t *testing.T) {
	publisher := NewPublisher(PublisherConfig{Broker: "mqtt://127.0.0.1:1"}, zerolog.Nop())
	err := publisher.PublishCommand(context.Background(), DefaultGateTopic, Command{Command: OpenCommand})
	assert.Error(t, err)
	assert.NoError(t, publisher.Disconnect(context.Background()))
}
