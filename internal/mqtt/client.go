// Package mqtt publishes confirmed scrobbles to an MQTT broker for home
// automation integrations. Publishing is optional and best effort: a broker
// outage never blocks or fails the pipeline.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/tphakala/vinyl-go/internal/conf"
	"github.com/tphakala/vinyl-go/internal/datastore"
	"github.com/tphakala/vinyl-go/internal/errors"
	"github.com/tphakala/vinyl-go/internal/logging"
)

const (
	connectTimeout = 30 * time.Second
	publishTimeout = 10 * time.Second
)

// Client publishes messages to the configured broker.
type Client interface {
	Connect(ctx context.Context) error
	PublishScrobble(ctx context.Context, record datastore.ScrobbleRecord) error
	Connected() bool
	Disconnect()
}

type client struct {
	broker   string
	clientID string
	topic    string
	username string
	password string

	mu       sync.Mutex
	internal pahomqtt.Client
	log      *slog.Logger
}

// NewClient creates an MQTT client from settings.
func NewClient(settings *conf.Settings) (Client, error) {
	if _, err := url.Parse(settings.Realtime.MQTT.Broker); err != nil {
		return nil, errors.Newf("invalid broker URL: %w", err).
			Component("mqtt").Category(errors.CategoryConfiguration).Build()
	}

	logger := logging.ForService("mqtt")
	if logger == nil {
		logger = logging.Discard()
	}

	return &client{
		broker:   settings.Realtime.MQTT.Broker,
		clientID: settings.Main.Name,
		topic:    settings.Realtime.MQTT.Topic,
		username: settings.Realtime.MQTT.Username,
		password: settings.Realtime.MQTT.Password,
		log:      logger,
	}, nil
}

// Connect establishes the broker connection with automatic reconnect.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(c.broker)
	opts.SetClientID(c.clientID)
	opts.SetUsername(c.username)
	opts.SetPassword(c.password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		c.log.Info("connected to MQTT broker", "broker", c.broker)
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.log.Warn("MQTT connection lost, reconnecting", "error", err)
	})

	c.internal = pahomqtt.NewClient(opts)

	token := c.internal.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Newf("MQTT connection timeout to %s", c.broker).
			Component("mqtt").Category(errors.CategoryNetwork).Timing("connect", connectTimeout).Build()
	}
	if err := token.Error(); err != nil {
		return errors.Newf("MQTT connection failed: %w", err).
			Component("mqtt").Category(errors.CategoryNetwork).Build()
	}
	return nil
}

// scrobbleMessage is the published payload for one confirmed scrobble.
type scrobbleMessage struct {
	Artist      string    `json:"artist"`
	Title       string    `json:"title"`
	Album       string    `json:"album,omitempty"`
	Provider    string    `json:"provider,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	PlayedAt    time.Time `json:"played_at"`
	ScrobbledAt time.Time `json:"scrobbled_at"`
}

// PublishScrobble sends one confirmed scrobble to the configured topic.
func (c *client) PublishScrobble(ctx context.Context, record datastore.ScrobbleRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.internal == nil || !c.internal.IsConnected() {
		return errors.Newf("not connected to MQTT broker").
			Component("mqtt").Category(errors.CategoryMQTTPublish).Build()
	}

	payload, err := json.Marshal(scrobbleMessage{
		Artist:      record.Artist,
		Title:       record.Title,
		Album:       record.Album,
		Provider:    record.Provider,
		Confidence:  record.Confidence,
		PlayedAt:    record.PlayedAt,
		ScrobbledAt: record.ScrobbledAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal scrobble message: %w", err)
	}

	token := c.internal.Publish(c.topic, 0, false, payload)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return errors.Newf("MQTT publish timeout").
			Component("mqtt").Category(errors.CategoryMQTTPublish).Timing("publish", publishTimeout).Build()
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.Newf("MQTT publish failed: %w", err).
				Component("mqtt").Category(errors.CategoryMQTTPublish).Build()
		}
	}

	c.log.Debug("scrobble published", "topic", c.topic, "artist", record.Artist, "title", record.Title)
	return nil
}

// Connected reports the broker connection state.
func (c *client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.internal != nil && c.internal.IsConnected()
}

// Disconnect closes the broker connection.
func (c *client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.internal != nil {
		c.internal.Disconnect(250)
	}
}
