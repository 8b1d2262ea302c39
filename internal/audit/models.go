package audit

import "time"

// Action identifies a cluster mutation worth an audit record.
type Action string

const (
	ActionPrimaryCreated   Action = "primary_created"
	ActionSecondaryCreated Action = "secondary_created"
	ActionClusterMerged    Action = "cluster_merged"
)

// Event is emitted from the resolver to capture cluster mutations. Keep it
// transport-agnostic so sinks can fan out.
type Event struct {
	Timestamp   time.Time `json:"timestamp"`
	Action      Action    `json:"action"`
	ContactID   int64     `json:"contactId"`
	CanonicalID int64     `json:"canonicalId"`
	RequestID   string    `json:"requestId,omitempty"`
}
