package domain

import "time"

type WebhookStatus string

const (
	WebhookStatusReceived  WebhookStatus = "RECEIVED"
	WebhookStatusProcessed WebhookStatus = "PROCESSED"
	WebhookStatusFailed    WebhookStatus = "FAILED"
)

// MaxWebhookRetries bounds re-processing of a received webhook. After the
// budget is spent the event is marked FAILED and needs manual intervention.
const MaxWebhookRetries = 5

// WebhookEvent records every inbound provider notification. The
// (Provider, ProviderEventID) pair is unique; re-deliveries are acknowledged
// to the provider without re-applying business logic. Rows outlive the
// aggregates they reference for audit purposes.
type WebhookEvent struct {
	ID              string
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
	Signature       string
	Status          WebhookStatus
	ProcessingError string
	RetryCount      int
	ReceivedAt      time.Time
	ProcessedAt     *time.Time
}
