// Package events publishes spot lifecycle events to NATS JetStream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/logging"
)

const (
	SubjectSpotCreated       = "spots.created"
	SubjectSpotRatingUpdated = "spots.rating.updated"
	streamName               = "SPOTS"
)

// Event is the payload published to NATS.
type Event struct {
	EventID    string          `json:"event_id"`
	EventType  string          `json:"event_type"`
	SpotID     string          `json:"spot_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

// NewEvent builds an event for subject with data marshalled as JSON.
func NewEvent(subject, spotID string, data interface{}) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:    uuid.NewString(),
		EventType:  subject,
		SpotID:     spotID,
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}, nil
}

// Publisher is what handlers depend on.
type Publisher interface {
	Publish(ctx context.Context, subject string, evt Event) error
}

// jetStream is the subset of nats.JetStreamContext used here.
type jetStream interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// NATSPublisher publishes spot events to JetStream.
type NATSPublisher struct {
	nc  *nats.Conn
	js  jetStream
	log *zap.Logger
}

// New connects to NATS and ensures the SPOTS stream exists.
// If natsURL is empty, returns a no-op publisher (stub).
func New(natsURL string, log *zap.Logger) (*NATSPublisher, error) {
	log = logging.OrNop(log)
	if natsURL == "" {
		log.Warn("NATS_URL not set, spot events will not be published (stub mode)")
		return &NATSPublisher{log: log}, nil
	}

	nc, err := nats.Connect(natsURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if err := ensureStream(js); err != nil {
		log.Warn("failed to create NATS stream", zap.Error(err))
	}

	log.Info("NATS publisher initialised", zap.String("stream", streamName))
	return &NATSPublisher{nc: nc, js: js, log: log}, nil
}

func ensureStream(js nats.JetStreamContext) error {
	_, err := js.StreamInfo(streamName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: []string{"spots.>"},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}

// Publish sends an event to the given subject.
// If JetStream is not configured (stub), it logs and returns nil.
func (p *NATSPublisher) Publish(_ context.Context, subject string, evt Event) error {
	if p.js == nil {
		p.log.Debug("NATS stub: skipping publish", zap.String("subject", subject), zap.String("event_id", evt.EventID))
		return nil
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	ack, err := p.js.Publish(subject, data, nats.MsgId(evt.EventID))
	if err != nil {
		return err
	}

	p.log.Debug("NATS event published",
		zap.String("subject", subject),
		zap.String("event_id", evt.EventID),
		zap.Uint64("seq", ack.Sequence),
	)
	return nil
}

// Close drains the underlying connection, if any.
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
