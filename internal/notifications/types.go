// Package notifications posts cache lifecycle events to webhook
// subscribers so operators hear about failed refreshes and syncs.
package notifications

import "time"

// Severity indicates the importance of a notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Notification is the JSON payload posted to subscribers.
type Notification struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Severity   Severity  `json:"severity"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Generation string    `json:"generation"`
	Paths      []string  `json:"paths,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Subscriber is a webhook endpoint with the lowest severity it receives.
type Subscriber struct {
	URL            string
	SeverityFilter Severity
}
