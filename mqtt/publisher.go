package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/rs/zerolog"
)

type PublisherConfig struct {
	Broker    string
	Username  string
	Password  string
	ClientID  string
	QoS       byte
	KeepAlive uint16
}

// Publisher sends gate commands. Unlike Subscriber it lets autopaho
// reconnect in the background, since it backs long-running tooling.
type Publisher struct {
	cfg     PublisherConfig
	log     zerolog.Logger
	cancel  context.CancelFunc
	manager *autopaho.ConnectionManager
}

func NewPublisher(cfg PublisherConfig, log zerolog.Logger) *Publisher {
	return &Publisher{cfg: cfg, log: log}
}

// Connect starts the connection manager and waits until the first
// connection is up or ctx ends.
func (publisher *Publisher) Connect(ctx context.Context) error {
	serverUrl, err := url.Parse(publisher.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse broker url %q: %w", publisher.cfg.Broker, err)
	}

	clientConfig := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{serverUrl},
		ConnectUsername:               publisher.cfg.Username,
		KeepAlive:                     publisher.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		SessionExpiryInterval:         60,
		ConnectRetryDelay:             time.Second * 5,
		OnConnectionUp: func(connectionManager *autopaho.ConnectionManager, connectionAck *paho.Connack) {
			publisher.log.Info().
				Str("event", "OnConnectionUp").
				Msg("Connected to MQTT broker")
		},
		OnConnectError: func(err error) {
			publisher.log.Error().
				Str("error", err.Error()).
				Str("event", "OnConnectError").
				Msg(fmt.Sprintf("MQTT Connection error: %v", err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: publisher.cfg.ClientID,
			OnClientError: func(err error) {
				publisher.log.Error().
					Str("error", err.Error()).
					Str("event", "OnClientError").
					Msg(fmt.Sprintf("MQTT Client error: %v", err))
			},
			OnServerDisconnect: func(disconnect *paho.Disconnect) {
				event := publisher.log.Warn().
					Str("event", "OnServerDisconnect").
					Uint8("reason_code", disconnect.ReasonCode)
				if disconnect.Properties != nil {
					event = event.Str("reason", disconnect.Properties.ReasonString)
				}
				event.Msg("MQTT client disconnect")
			},
		},
	}
	if publisher.cfg.Password != "" {
		clientConfig.ConnectPassword = []byte(publisher.cfg.Password)
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	manager, err := autopaho.NewConnection(sessionCtx, clientConfig)
	if err != nil {
		cancel()
		return fmt.Errorf("start mqtt connection: %w", err)
	}
	if err := manager.AwaitConnection(ctx); err != nil {
		cancel()
		return fmt.Errorf("connect to %s: %w", publisher.cfg.Broker, err)
	}

	publisher.manager = manager
	publisher.cancel = cancel
	return nil
}

func (publisher *Publisher) PublishCommand(ctx context.Context, topic string, command Command) error {
	if publisher.manager == nil {
		return fmt.Errorf("publisher is not connected, cannot publish to %s", topic)
	}

	payload, err := EncodeCommand(command)
	if err != nil {
		return err
	}

	if _, err := publisher.manager.Publish(ctx, &paho.Publish{
		QoS:     publisher.cfg.QoS,
		Topic:   topic,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}

	publisher.log.Info().
		Str("event", "CommandPublished").
		Str("topic", topic).
		Str("payload", string(payload)).
		Msg("Published gate command")
	return nil
}

func (publisher *Publisher) Disconnect(ctx context.Context) error {
	if publisher.manager == nil {
		return nil
	}
	defer publisher.cancel()
	err := publisher.manager.Disconnect(ctx)
	publisher.manager = nil
	return err
}
