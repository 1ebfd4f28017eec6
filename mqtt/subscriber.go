package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"
)

// ErrConnectionLost is returned by Poll once the broker connection has
// failed. It stays set; a Subscriber is not reused after losing its session.
var ErrConnectionLost = errors.New("mqtt connection lost")

type Message struct {
	Topic   string
	Payload []byte
}

type SubscriberConfig struct {
	Broker     string
	Username   string
	Password   string
	ClientID   string
	Topic      string
	QoS        byte
	KeepAlive  uint16
	BufferSize int
}

// Subscriber holds one session subscribed to a single topic. Deliveries are
// buffered and handed out by Poll, so the caller decides when a message is
// handled instead of the client calling back into it.
type Subscriber struct {
	cfg      SubscriberConfig
	log      zerolog.Logger
	messages chan Message
	fatalErr chan error

	mu      sync.Mutex
	lost    error
	cancel  context.CancelFunc
	manager *autopaho.ConnectionManager
}

func NewSubscriber(cfg SubscriberConfig, log zerolog.Logger) *Subscriber {
	size := cfg.BufferSize
	if size < 1 {
		size = 1
	}
	return &Subscriber{
		cfg:      cfg,
		log:      log,
		messages: make(chan Message, size),
		fatalErr: make(chan error, 1),
	}
}

func (subscriber *Subscriber) fail(err error) {
	select {
	case subscriber.fatalErr <- err:
	default:
	}
}

func (subscriber *Subscriber) onPublishReceived(received paho.PublishReceived) (bool, error) {
	message := Message{
		Topic:   received.Packet.Topic,
		Payload: received.Packet.Payload,
	}
	select {
	case subscriber.messages <- message:
	default:
		subscriber.log.Warn().
			Str("event", "MessageDropped").
			Str("topic", message.Topic).
			Int("buffer_size", cap(subscriber.messages)).
			Msg("Inbound buffer full, message dropped")
	}
	return true, nil
}

// Connect opens the session and subscribes. The first connection error is
// returned rather than retried in the background.
func (subscriber *Subscriber) Connect(ctx context.Context) error {
	serverUrl, err := url.Parse(subscriber.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse broker url %q: %w", subscriber.cfg.Broker, err)
	}

	clientConfig := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverUrl},
		ConnectUsername:               subscriber.cfg.Username,
		KeepAlive:                     subscriber.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         0,
		OnConnectionUp: func(connectionManager *autopaho.ConnectionManager, connectionAck *paho.Connack) {
			subscriber.log.Debug().
				Str("event", "OnConnectionUp").
				Msg("Connected to MQTT broker")
		},
		OnConnectError: func(err error) {
			subscriber.log.Error().
				Str("error", err.Error()).
				Str("event", "OnConnectError").
				Msg(fmt.Sprintf("MQTT Connection error: %v", err))
			subscriber.fail(err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: subscriber.cfg.ClientID,
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				subscriber.onPublishReceived,
			},
			OnClientError: func(err error) {
				subscriber.log.Error().
					Str("error", err.Error()).
					Str("event", "OnClientError").
					Msg(fmt.Sprintf("MQTT Client error: %v", err))
				subscriber.fail(err)
			},
			OnServerDisconnect: func(disconnect *paho.Disconnect) {
				err := fmt.Errorf("disconnected by broker, reason code %d", disconnect.ReasonCode)
				event := subscriber.log.Warn().
					Str("error", err.Error()).
					Str("event", "OnServerDisconnect")
				if disconnect.Properties != nil {
					event = event.Str("reason", disconnect.Properties.ReasonString)
				}
				event.Msg(fmt.Sprintf("MQTT client disconnect: %v", err))
				subscriber.fail(err)
			},
		},
	}
	if subscriber.cfg.Password != "" {
		clientConfig.ConnectPassword = []byte(subscriber.cfg.Password)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	manager, err := autopaho.NewConnection(sessionCtx, clientConfig)
	if err != nil {
		cancel()
		return fmt.Errorf("start mqtt connection: %w", err)
	}

	awaitCtx, stopAwait := context.WithCancel(ctx)
	defer stopAwait()
	connected := make(chan error, 1)
	go func() {
		connected <- manager.AwaitConnection(awaitCtx)
	}()

	select {
	case err := <-subscriber.fatalErr:
		cancel()
		return fmt.Errorf("connect to %s: %w", subscriber.cfg.Broker, err)
	case err := <-connected:
		if err != nil {
			cancel()
			return fmt.Errorf("connect to %s: %w", subscriber.cfg.Broker, err)
		}
	}

	subscriber.mu.Lock()
	subscriber.manager = manager
	subscriber.cancel = cancel
	subscriber.mu.Unlock()

	suback, err := manager.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: subscriber.cfg.Topic, QoS: subscriber.cfg.QoS},
		},
	})
	if err != nil {
		subscriber.Disconnect(context.Background())
		return fmt.Errorf("subscribe to %s: %w", subscriber.cfg.Topic, err)
	}
	for _, reason := range suback.Reasons {
		if reason >= 0x80 {
			subscriber.Disconnect(context.Background())
			return fmt.Errorf("subscribe to %s refused, reason code %d", subscriber.cfg.Topic, reason)
		}
	}

	return nil
}

// Poll returns the next buffered message if there is one. It never blocks.
func (subscriber *Subscriber) Poll() (Message, bool, error) {
	subscriber.mu.Lock()
	defer subscriber.mu.Unlock()

	if subscriber.lost != nil {
		return Message{}, false, subscriber.lost
	}
	select {
	case err := <-subscriber.fatalErr:
		subscriber.lost = fmt.Errorf("%w: %v", ErrConnectionLost, err)
		return Message{}, false, subscriber.lost
	default:
	}

	select {
	case message := <-subscriber.messages:
		return message, true, nil
	default:
		return Message{}, false, nil
	}
}

func (subscriber *Subscriber) Disconnect(ctx context.Context) error {
	subscriber.mu.Lock()
	manager, cancel := subscriber.manager, subscriber.cancel
	subscriber.manager, subscriber.cancel = nil, nil
	subscriber.mu.Unlock()

	if manager == nil {
		return nil
	}
	defer cancel()
	return manager.Disconnect(ctx)
}
