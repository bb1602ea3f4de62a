package domain

import "time"

// Observation is the state of one job as reported by the scheduler in a single query.
type Observation struct {
	State     JobState
	StartTime *time.Time
	EndTime   *time.Time
	// Error is a scheduler-side error signal such as a failure reason or an exit code.
	Error string
}

// Transition describes the effect of applying an Observation to a JobRecord.
type Transition struct {
	From JobState
	To   JobState
	// Changed is true when any field of the record was updated, including the error signal.
	Changed bool
}

func (t Transition) StateChanged() bool {
	return t.From != t.To
}

func (t Transition) BecameTerminal() bool {
	return t.StateChanged() && t.To.IsTerminal()
}

// Apply moves the record forward to the observed state if that is a legal transition.
// Start and end times come from the observation when reported and otherwise from now.
// Stale or repeated observations leave the state untouched, so applying the same observation twice
// changes nothing the second time.
func (r *JobRecord) Apply(obs Observation, now time.Time) Transition {
	t := Transition{From: r.State, To: r.State}
	if r.MissedPolls != 0 {
		r.MissedPolls = 0
		t.Changed = true
	}
	if obs.Error != "" && obs.Error != r.Error && !r.State.IsTerminal() {
		r.Error = obs.Error
		t.Changed = true
	}
	if obs.State == Pending || obs.State == SubmissionError || !CanTransition(r.State, obs.State) {
		return t
	}

	switch {
	case obs.State == Running:
		r.StartTime = firstTime(obs.StartTime, now)
	case obs.State.IsTerminal():
		if r.StartTime == nil && obs.StartTime != nil {
			r.StartTime = copyTime(obs.StartTime)
		}
		r.EndTime = firstTime(obs.EndTime, now)
		if r.StartTime != nil && r.EndTime.Before(*r.StartTime) {
			r.EndTime = copyTime(r.StartTime)
		}
	}
	r.State = obs.State
	t.To = obs.State
	t.Changed = true
	return t
}

// Vanish classifies a live record that the scheduler no longer reports.
func (r *JobRecord) Vanish(state JobState, now time.Time) Transition {
	t := Transition{From: r.State, To: r.State}
	if !r.State.IsLive() || !state.IsSchedulerTerminal() {
		return t
	}
	r.EndTime = TimePtr(now)
	r.State = state
	r.MissedPolls = 0
	t.To = state
	t.Changed = true
	return t
}

func firstTime(reported *time.Time, now time.Time) *time.Time {
	if reported != nil {
		return copyTime(reported)
	}
	return TimePtr(now)
}
