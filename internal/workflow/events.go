package workflow

import "time"

// EventType classifies progress events emitted during a run.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventTransition   EventType = "transition"
	EventOperation    EventType = "operation"
	EventDecision     EventType = "decision"
	EventRunFinished  EventType = "run_finished"
	EventRunFailed    EventType = "run_failed"
	EventBatchStarted EventType = "batch_started"
)

// Event is one progress notification. Consumers (the CLI progress view,
// the watcher) receive these on a best-effort channel.
type Event struct {
	Type      EventType `json:"type"`
	RequestID string    `json:"request_id"`
	State     State     `json:"state,omitempty"`
	Message   string    `json:"message,omitempty"`
	Time      time.Time `json:"time"`
}

// emit delivers the event without blocking: a slow or absent consumer
// drops events rather than stalling the state machine.
func (o *Orchestrator) emit(evType EventType, requestID string, state State, message string) {
	if o.events == nil {
		return
	}
	ev := Event{
		Type:      evType,
		RequestID: requestID,
		State:     state,
		Message:   message,
		Time:      time.Now(),
	}
	select {
	case o.events <- ev:
	default:
	}
}

// Events returns the progress channel. The channel is buffered and
// never closed by the orchestrator; events are dropped when full.
func (o *Orchestrator) Events() <-chan Event {
	return o.events
}
