// Package events publishes task lifecycle events to a Redis stream so
// downstream consumers can react to finished runs without polling the API.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Event types written to the stream.
const (
	TaskStarted   = "TASK_STARTED"
	TaskCompleted = "TASK_COMPLETED"
	TaskFailed    = "TASK_FAILED"
	DatasetsBuilt = "DATASETS_BUILT"
)

// TaskEvent is the payload published for each lifecycle transition.
type TaskEvent struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	TaskID       string    `json:"task_id"`
	Status       string    `json:"status"`
	ItemsScraped int       `json:"items_scraped"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher writes task events to a Redis stream. A nil Publisher or one
// constructed without a client drops events silently, so event publishing
// stays optional.
type Publisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, stream string, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		stream: stream,
		logger: logger.With("component", "events"),
	}
}

// Publish appends the event to the stream via XADD.
func (p *Publisher) Publish(ctx context.Context, event TaskEvent) error {
	if p == nil || p.client == nil {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_id":   event.EventID,
			"event_type": event.EventType,
			"task_id":    event.TaskID,
			"payload":    string(payload),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}

	p.logger.Debug("event published", "stream", p.stream, "event_type", event.EventType, "task_id", event.TaskID)
	return nil
}
