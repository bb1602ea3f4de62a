package domain

import (
	"fmt"
	"strings"
)

type JobState string

const (
	Pending         JobState = "Pending"
	Submitted       JobState = "Submitted"
	Running         JobState = "Running"
	Completed       JobState = "Completed"
	Failed          JobState = "Failed"
	Cancelled       JobState = "Cancelled"
	SubmissionError JobState = "SubmissionError"
)

// AllStates lists every state in lifecycle order.
var AllStates = []JobState{
	Pending,
	Submitted,
	Running,
	Completed,
	Failed,
	Cancelled,
	SubmissionError,
}

// LiveStates are the states whose nodes count against the cluster budget.
var LiveStates = []JobState{Submitted, Running}

// States where the scheduler has finished with the job.
var SchedulerTerminalStates = []JobState{Completed, Failed, Cancelled}

func ParseJobState(s string) (JobState, error) {
	for _, state := range AllStates {
		if strings.EqualFold(string(state), s) {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}

// IsTerminal is true for states from which no further transition occurs.
func (s JobState) IsTerminal() bool {
	switch s {
	case Completed, Failed, Cancelled, SubmissionError:
		return true
	}
	return false
}

// IsLive is true while the job holds nodes on the cluster.
func (s JobState) IsLive() bool {
	return s == Submitted || s == Running
}

// IsSchedulerTerminal is true for terminal states reported by the scheduler, which excludes SubmissionError.
func (s JobState) IsSchedulerTerminal() bool {
	return s.IsTerminal() && s != SubmissionError
}

func (s JobState) rank() int {
	switch s {
	case Pending:
		return 0
	case Submitted:
		return 1
	case Running:
		return 2
	case Completed, Failed, Cancelled, SubmissionError:
		return 3
	}
	return -1
}

// CanTransition reports whether a record may move from one state to another.
// Transitions only move forward along Pending -> Submitted -> Running -> terminal, and terminal states are final.
// SubmissionError can only be reached from Pending, and the scheduler can never move a job back to Pending.
func CanTransition(from, to JobState) bool {
	if from.IsTerminal() || to.rank() < 0 || from.rank() < 0 {
		return false
	}
	if to == SubmissionError {
		return from == Pending
	}
	if from == Pending {
		return to == Submitted
	}
	return to.rank() > from.rank()
}
