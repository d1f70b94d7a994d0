package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	connectRetryWait = 1 * time.Second
	maxReconnects    = 5

	// workerQueue fans subscription deliveries out across maintenance
	// worker replicas so each event is handled once.
	workerQueue = "pricetag-maintenance"
)

// NATSPublisher publishes observation events to a NATS server.
type NATSPublisher struct {
	conn   *nats.Conn
	logger *zap.Logger
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher connects to NATS. The connection retries in the
// background, so a temporarily unreachable server does not block startup.
func NewNATSPublisher(url string, logger *zap.Logger) (*NATSPublisher, error) {
	if url == "" {
		return nil, errors.New("nats url cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(connectRetryWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return &NATSPublisher{conn: conn, logger: logger}, nil
}

// PublishObservation marshals and sends the event on its derived subject.
func (p *NATSPublisher) PublishObservation(_ context.Context, event ObservationEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling observation event: %w", err)
	}
	if err := p.conn.Publish(event.Subject(), payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", event.Subject(), err)
	}
	return nil
}

// Close drains pending publishes before disconnecting.
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

// Subscriber delivers observation events to a handler. Used by the
// maintenance worker for targeted snapshot recomputation.
type Subscriber struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	logger *zap.Logger
}

// NewSubscriber connects a subscriber to NATS.
func NewSubscriber(url string, logger *zap.Logger) (*Subscriber, error) {
	if url == "" {
		return nil, errors.New("nats url cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(connectRetryWait),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}

	return &Subscriber{conn: conn, logger: logger}, nil
}

// Subscribe registers the handler for all observation events, joined to the
// maintenance queue group so replicas share the stream. Malformed payloads
// are logged and dropped.
func (s *Subscriber) Subscribe(handler func(ObservationEvent)) error {
	if handler == nil {
		return errors.New("handler cannot be nil")
	}
	sub, err := s.conn.QueueSubscribe(subjectRoot+".>", workerQueue, func(msg *nats.Msg) {
		var event ObservationEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			s.logger.Warn("dropping malformed observation event",
				zap.String("subject", msg.Subject),
				zap.Error(err))
			return
		}
		handler(event)
	})
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", subjectRoot+".>", err)
	}
	s.sub = sub
	return nil
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			s.logger.Warn("unsubscribe failed", zap.Error(err))
		}
	}
	if s.conn == nil || s.conn.IsClosed() {
		return nil
	}
	return s.conn.Drain()
}
