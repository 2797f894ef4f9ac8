// Package queue defines message payloads exchanged over the message broker.
package queue

// Queue names used on the broker.
const (
	AuditQueueName    = "participation.audit"
	WaitlistQueueName = "waitlist.notify"
)

// AuditEvent is the structured record emitted for every state transition
// and every capacity mutation.  Audit publishing is fire-and-forget: a
// failure to deliver an event never fails the operation that produced it.
type AuditEvent struct {
	Actor     uint64         `json:"actor"`
	Action    string         `json:"action"`
	Entity    string         `json:"entity"`
	EntityID  uint64         `json:"entity_id"`
	FromState string         `json:"from_state,omitempty"`
	ToState   string         `json:"to_state,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	At        string         `json:"at"`
}

// WaitlistEvent is published when the expiry sweep frees capacity on an
// option, so the waitlist subsystem can notify the next eligible
// candidate.
type WaitlistEvent struct {
	OptionID  uint64 `json:"option_id"`
	ReleaseID uint64 `json:"release_id"`
	Freed     int    `json:"freed"`
	FreedAt   string `json:"freed_at"`
}
