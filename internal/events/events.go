// Package events publishes account lifecycle events (a user registered, a
// social identity was created or linked) to a message broker.
//
// Publishing is best effort: the auth flows call Publish after their
// transaction commits and only log a failure. A broker outage must never
// block a login.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Event types.
const (
	UserRegistered    = "user.registered"
	UserSocialCreated = "user.social_created"
	UserSocialLinked  = "user.social_linked"
)

// Backend names accepted by New.
const (
	BackendNone     = "none"
	BackendRabbitMQ = "rabbitmq"
	BackendPubSub   = "pubsub"
)

// Event is the JSON payload sent to the broker.
type Event struct {
	Type       string    `json:"type"`
	UserID     string    `json:"userId"`
	Email      string    `json:"email"`
	Provider   string    `json:"provider"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher sends account events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Backend is the broker-specific half of a Publisher: it moves opaque bytes
// to a named queue or topic and returns the broker's message id.
type Backend interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Backend               string
	Channel               string
	RabbitMQURL           string
	PubSubProjectID       string
	PubSubCredentialsFile string
}

// New builds the Publisher named by cfg.Backend. An empty backend means none.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (Publisher, error) {
	var (
		backend Backend
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", BackendNone:
		return Noop{}, nil
	case BackendRabbitMQ:
		backend, err = NewRabbitMQBackend(cfg.RabbitMQURL)
	case BackendPubSub:
		backend, err = NewPubSubBackend(ctx, cfg.PubSubProjectID, cfg.PubSubCredentialsFile)
	default:
		return nil, fmt.Errorf("events: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("events: connecting %s: %w", cfg.Backend, err)
	}
	return NewBrokerPublisher(backend, cfg.Channel, logger), nil
}

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

// BrokerPublisher encodes events as JSON and hands them to a Backend.
type BrokerPublisher struct {
	backend Backend
	channel string
	logger  *slog.Logger
}

// NewBrokerPublisher wraps backend. Every event goes to the same channel;
// consumers filter on the "type" attribute.
func NewBrokerPublisher(backend Backend, channel string, logger *slog.Logger) *BrokerPublisher {
	return &BrokerPublisher{backend: backend, channel: channel, logger: logger}
}

// Publish sends e and logs the broker's message id.
func (p *BrokerPublisher) Publish(ctx context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("events: encoding %s: %w", e.Type, err)
	}

	id, err := p.backend.Publish(ctx, p.channel, data, map[string]string{
		"type":     e.Type,
		"provider": e.Provider,
	})
	if err != nil {
		return fmt.Errorf("events: publishing %s to %s: %w", e.Type, p.channel, err)
	}

	p.logger.Debug("account event published",
		slog.String("type", e.Type),
		slog.String("userID", e.UserID),
		slog.String("messageID", id),
	)
	return nil
}

// Close closes the backend connection.
func (p *BrokerPublisher) Close() error {
	return p.backend.Close()
}
