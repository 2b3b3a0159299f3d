package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/memos-platform/memos/internal/metrics"
)

// Publisher announces memo mutations on JetStream.
type Publisher struct {
	js     jetstream.JetStream
	origin string
}

// NewPublisher creates a Publisher that stamps events with origin, the id of
// the publishing replica.
func NewPublisher(js jetstream.JetStream, origin string) *Publisher {
	return &Publisher{js: js, origin: origin}
}

// PublishMemoChanged publishes a MemoChanged event for the given action.
func (p *Publisher) PublishMemoChanged(ctx context.Context, action, ownerID string, memoID int64) error {
	evt := MemoChanged{
		Action:    action,
		OwnerID:   ownerID,
		MemoID:    memoID,
		Origin:    p.origin,
		Timestamp: time.Now().UTC(),
	}
	if err := p.publish(ctx, Subject(action), evt); err != nil {
		return err
	}
	metrics.EventsPublishedTotal.WithLabelValues(action).Inc()
	return nil
}

func (p *Publisher) publish(ctx context.Context, subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling event for %s: %w", subject, err)
	}
	_, err = p.js.Publish(ctx, subject, payload)
	if err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}
