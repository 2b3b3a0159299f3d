package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/memos-platform/memos/internal/metrics"
)

// Invalidator drops cached search results for an owner.
type Invalidator interface {
	InvalidateOwner(ownerID string) int
}

// InvalidationConsumer applies memo events published by other replicas to
// the local search cache. Each replica reads every event through its own
// ordered consumer, starting from the first event published after it started.
type InvalidationConsumer struct {
	js          jetstream.JetStream
	stream      string
	origin      string
	invalidator Invalidator
}

// NewInvalidationConsumer creates a consumer that ignores events stamped with origin.
func NewInvalidationConsumer(js jetstream.JetStream, stream, origin string, invalidator Invalidator) *InvalidationConsumer {
	return &InvalidationConsumer{js: js, stream: stream, origin: origin, invalidator: invalidator}
}

// Run consumes events until ctx is cancelled.
func (c *InvalidationConsumer) Run(ctx context.Context) error {
	consumer, err := c.js.OrderedConsumer(ctx, c.stream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("creating invalidation consumer on %s: %w", c.stream, err)
	}

	slog.Info("cache invalidation consumer started", "stream", c.stream, "origin", c.origin)

	for {
		msgs, err := consumer.Fetch(50, jetstream.FetchMaxWait(FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("fetching memo events", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(FetchTimeout):
			}
			continue
		}

		for msg := range msgs.Messages() {
			c.handle(msg.Data())
		}
		if err := msgs.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			slog.Debug("memo event batch ended early", "error", err)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *InvalidationConsumer) handle(data []byte) {
	var evt MemoChanged
	if err := json.Unmarshal(data, &evt); err != nil {
		slog.Warn("discarding malformed memo event", "error", err)
		return
	}
	if evt.OwnerID == "" || evt.Origin == c.origin {
		return
	}

	n := c.invalidator.InvalidateOwner(evt.OwnerID)
	metrics.EventsConsumedTotal.WithLabelValues(evt.Action).Inc()
	slog.Debug("invalidated search cache from event",
		"owner_id", evt.OwnerID, "action", evt.Action, "memo_id", evt.MemoID, "entries", n)
}
