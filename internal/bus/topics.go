package bus

// Record lifecycle topics, published by the record index.
const (
	TopicRecordCreated = "record.created"
	TopicRecordUpdated = "record.updated"
	TopicRecordDeleted = "record.deleted"
)

// Webhook topics, published once per routed inbound update.
const (
	TopicWebhookHandled = "webhook.handled"
	TopicWebhookFailed  = "webhook.failed"
)

// RecordEvent carries the record a lifecycle event is about.
type RecordEvent struct {
	Key     int    // synthetic key inside the index
	Chat    string // Telegram chat id
	Task    string // ClickUp task id
	Account string // Telegram username, may be empty
}

// WebhookEvent describes one routed inbound update.
type WebhookEvent struct {
	Source  string // "telegram" or "clickup"
	Type    string // classified update type or ClickUp event name
	TraceID string
	Err     error // nil for TopicWebhookHandled
}
