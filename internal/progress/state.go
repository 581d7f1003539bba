// Package progress follows analysis streams from the client side and reports
// per-item and per-batch progress.
package progress

import "github.com/kiranshivaraju/platewise/pkg/models"

// TotalSteps is the step count shown for a finished analysis.
const TotalSteps = 4

const (
	msgPending   = "Waiting for analysis..."
	msgCompleted = "Analysis complete!"
	msgFailed    = "Analysis failed"
	msgConnError = "Connection error"
)

// Status is the client-side lifecycle of one item.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// State is what a client shows for one item.
type State struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
	Status  Status `json:"status"`
}

// Pending is the state before any event has arrived.
func Pending() State {
	return State{Message: msgPending, Status: StatusPending}
}

// Apply returns the state after ev. Terminal states absorb every event and
// unknown statuses leave the state unchanged, so a state never returns to
// pending.
func (s State) Apply(ev models.AnalysisEvent) State {
	if s.Status.Terminal() {
		return s
	}
	switch ev.Status {
	case models.EventStatusInProgress:
		return State{Step: ev.Step, Message: ev.Message, Status: StatusInProgress}
	case models.EventStatusCompleted:
		return State{Step: TotalSteps, Message: msgCompleted, Status: StatusCompleted}
	case models.EventStatusError:
		return State{Message: msgFailed, Status: StatusError}
	}
	return s
}

// Fail returns the state after a transport failure or a stream that ended
// without a terminal event.
func (s State) Fail() State {
	if s.Status.Terminal() {
		return s
	}
	return State{Message: msgConnError, Status: StatusError}
}
