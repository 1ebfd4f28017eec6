package mqtt

import (
	"context"
	"testing"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSubscriber(broker string, bufferSize int) *Subscriber {
	return NewSubscriber(SubscriberConfig{
		Broker:     broker,
		ClientID:   "gate-agent-test",
		Topic:      DefaultGateTopic,
		KeepAlive:  30,
		BufferSize: bufferSize,
	}, zerolog.Nop())
}

func TestSubscriberPollEmpty(t *testing.T) {
	broker, _, _ := startBroker(t)
	subscriber := newTestSubscriber(broker, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, subscriber.Connect(ctx))
	defer subscriber.Disconnect(context.Background())

	_, ok, err := subscriber.Poll()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriberDeliversSubscribedTopic(t *testing.T) {
	broker, server, _ := startBroker(t)
	subscriber := newTestSubscriber(broker, 4)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, subscriber.Connect(ctx))
	defer subscriber.Disconnect(context.Background())

	require.NoError(t, server.Publish("some/other/topic", []byte("ignored"), false, 0))
	require.NoError(t, server.Publish(DefaultGateTopic, []byte(`{"command":"open","passthrough":"abc"}`), false, 0))

	var received Message
	require.Eventually(t, func() bool {
		message, ok, err := subscriber.Poll()
		if err != nil {
			return false
		}
		if ok {
			received = message
		}
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, DefaultGateTopic, received.Topic)
	assert.Equal(t, `{"command":"open","passthrough":"abc"}`, string(received.Payload))

	// the other topic was never subscribed, so nothing else is queued
	time.Sleep(100 * time.Millisecond)
	_, ok, err := subscriber.Poll()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSubscriberPollsInArrivalOrder(t *testing.T) {
	broker, server, _ := startBroker(t)
	subscriber := newTestSubscriber(broker, 8)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, subscriber.Connect(ctx))
	defer subscriber.Disconnect(context.Background())

	for _, payload := range []string{"1", "2", "3"} {
		require.NoError(t, server.Publish(DefaultGateTopic, []byte(payload), false, 0))
	}

	var got []string
	require.Eventually(t, func() bool {
		message, ok, err := subscriber.Poll()
		if err != nil {
			return false
		}
		if ok {
			got = append(got, string(message.Payload))
		}
		return len(got) == 3
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"1", "2", "3"}, got)
}

func TestSubscriberConnectRefused(t *testing.T) {
	subscriber := newTestSubscriber("mqtt://"+freeAddress(t), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := subscriber.Connect(ctx)
	require.Error(t, err)
	assert.NoError(t, ctx.Err(), "connect error should surface before the deadline")
}

func TestSubscriberBadBrokerURL(t *testing.T) {
	subscriber := newTestSubscriber("://nope", 1)
	assert.Error(t, subscriber.Connect(context.Background()))
}

func TestSubscriberReportsLostConnection(t *testing.T) {
	broker, _, stop := startBroker(t)
	subscriber := newTestSubscriber(broker, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, subscriber.Connect(ctx))
	defer subscriber.Disconnect(context.Background())

	stop()

	var pollErr error
	require.Eventually(t, func() bool {
		_, _, pollErr = subscriber.Poll()
		return pollErr != nil
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, pollErr, ErrConnectionLost)

	// the loss is sticky
	_, _, err := subscriber.Poll()
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestSubscriberDropsWhenBufferFull(t *testing.T) {
	subscriber := newTestSubscriber("mqtt://127.0.0.1:1", 1)

	deliver := func(payload string) {
		handled, err := subscriber.onPublishReceived(paho.PublishReceived{
			Packet: &paho.Publish{Topic: DefaultGateTopic, Payload: []byte(payload)},
		})
		require.NoError(t, err)
		assert.True(t, handled)
	}
	deliver("first")
	deliver("second")

	message, ok, err := subscriber.Poll()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "first", string(message.Payload))

	_, ok, err = subscriber.Poll()
	require.NoError(t, err)
	assert.False(t, ok, "second message should have been dropped")
}
