package session

// Phase is the lifecycle position of a task.
type Phase string

const (
	PhasePlanning         Phase = "planning"
	PhaseAwaitingApproval Phase = "awaiting_approval"
	PhaseExecuting        Phase = "executing"
	PhaseCompleted        Phase = "completed"
	PhaseFailed           Phase = "failed"
	PhaseStopped          Phase = "stopped"
	PhaseRejected         Phase = "rejected"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhasePlanning,
	PhaseAwaitingApproval,
	PhaseExecuting,
	PhaseCompleted,
	PhaseFailed,
	PhaseStopped,
	PhaseRejected,
}

var transitions = map[Phase][]Phase{
	PhasePlanning:         {PhaseAwaitingApproval, PhaseFailed},
	PhaseAwaitingApproval: {PhaseExecuting, PhaseRejected, PhasePlanning},
	PhaseExecuting:        {PhaseCompleted, PhaseFailed, PhaseStopped},
	PhaseCompleted:        {PhasePlanning, PhaseExecuting},
	PhaseFailed:           {PhasePlanning, PhaseExecuting},
	PhaseStopped:          {PhasePlanning, PhaseExecuting},
	PhaseRejected:         {PhasePlanning, PhaseExecuting},
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := transitions[p]
	return ok
}

// Settled reports whether no run is in flight for a task in this phase.
// Every settled phase can be resumed by a new run.
func (p Phase) Settled() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseStopped, PhaseRejected:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from one phase to another.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
