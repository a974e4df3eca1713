package queue

const TypeWebhookDeliver = "webhook:deliver"

// WebhookDeliverPayload is queued by the indexing coordinator whenever a
// document's index task reaches a terminal state (completed/failed/
// timeout) and a webhook URL is configured. Delivery here is best-effort
// notification, never a correctness dependency for indexing itself.
type WebhookDeliverPayload struct {
	UserID    string `json:"user_id"`
	DocID     string `json:"doc_id"`
	Event     string `json:"event"`
	Payload   string `json:"payload"` // JSON string
}
