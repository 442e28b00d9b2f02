package api

import "time"

// Event types carried on the stream. Clients may subscribe to a subset
// via the "types" query parameter on /ws/events.
const (
	EventSignalReceived     = "signal_received"
	EventExecutionCompleted = "execution_completed"
	EventExecutionFailed    = "execution_failed"
	EventEmergencyStop      = "emergency_stop"
)

// ExecutionEvent is the wrapper for all events sent to stream clients.
type ExecutionEvent struct {
	Type      string    `json:"type"` // one of the Event* constants
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"` // event-specific payload
}

// NewExecutionEvent stamps an event with the current time.
func NewExecutionEvent(eventType string, data any) ExecutionEvent {
	return ExecutionEvent{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}
