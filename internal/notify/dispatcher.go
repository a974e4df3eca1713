// Package notify delivers best-effort notifications when an indexing
// task the coordinator manages reaches a terminal state. Delivery is
// queued through asynq/redis so an HTTP hiccup never blocks or corrupts
// indexing itself; a document's index_status always reflects reality
// independent of whether the notification lands.
package notify

import (
	"encoding/json"
	"log/slog"

	"github.com/alexmaze/aimemos/internal/config"
	"github.com/alexmaze/aimemos/internal/queue"
	"github.com/google/uuid"
)

// Event is the payload delivered to the configured webhook URL.
type Event struct {
	Event      string    `json:"event"` // index.completed, index.failed, index.timeout
	UserID     uuid.UUID `json:"user_id"`
	DocID      uuid.UUID `json:"doc_id"`
	TaskUUID   uuid.UUID `json:"task_uuid"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ChunkCount int       `json:"chunk_count,omitempty"`
}

// Dispatcher is the enqueue-side handle used by the indexing coordinator.
// It is a no-op when no webhook URL is configured.
type Dispatcher struct {
	queue   *queue.Client
	cfg     config.WebhookConfig
	enabled bool
}

func NewDispatcher(q *queue.Client, cfg config.WebhookConfig) *Dispatcher {
	return &Dispatcher{queue: q, cfg: cfg, enabled: cfg.URL != ""}
}

// Notify enqueues delivery of ev. Enqueue failure is logged, never
// returned: a dropped notification must not affect the caller's own
// success path.
func (d *Dispatcher) Notify(ev Event) {
	if !d.enabled {
		return
	}

	body, err := json.Marshal(ev)
	if err != nil {
		slog.Error("marshal notify event", "error", err, "event", ev.Event)
		return
	}

	err = d.queue.EnqueueWebhookDeliver(queue.WebhookDeliverPayload{
		UserID:  ev.UserID.String(),
		DocID:   ev.DocID.String(),
		Event:   ev.Event,
		Payload: string(body),
	})
	if err != nil {
		slog.Error("enqueue webhook delivery", "error", err, "event", ev.Event)
	}
}
