package event

import "time"

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Agent lifecycle
	AgentConnected  EventType = "agent.connected"
	AgentKeyIssued  EventType = "agent.key.issued"
	AgentKeyRotated EventType = "agent.key.rotated"

	// Memory lifecycle
	MemoryStored   EventType = "memory.stored"
	MemorySearched EventType = "memory.searched"
	MemoryDeleted  EventType = "memory.deleted"
	MemorySwept    EventType = "memory.swept"

	// Quota / plan
	QuotaExceeded EventType = "quota.exceeded"
	PlanChanged   EventType = "plan.changed"

	// Sweeper lifecycle
	SweepStarted   EventType = "sweep.started"
	SweepCompleted EventType = "sweep.completed"
)

// Event carries data about a lifecycle occurrence.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event with the current timestamp.
func NewEvent(t EventType, data map[string]interface{}) Event {
	return Event{
		Type:      t,
		Timestamp: time.Now(),
		Data:      data,
	}
}
