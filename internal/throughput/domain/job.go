package domain

import (
	"time"
)

// JobSpec is one planned job. Seq is its position in the submission plan.
type JobSpec struct {
	Seq             int
	ClassId         string
	Nodes           int
	DurationMinutes int
}

func (s JobSpec) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// NodeMinutes is the planned node usage of the job.
func (s JobSpec) NodeMinutes() int {
	return s.Nodes * s.DurationMinutes
}

// JobRecord is the runtime state of an attempted JobSpec, keyed by (RunId, Seq).
// JobId is empty when the submission was rejected.
type JobRecord struct {
	RunId           string
	Seq             int
	ClassId         string
	JobId           string
	Nodes           int
	DurationMinutes int
	SubmitTime      time.Time
	StartTime       *time.Time
	EndTime         *time.Time
	State           JobState
	ScriptRef       string
	// Error holds the submission failure reason or the last error signal seen from the scheduler.
	Error string
	// MissedPolls counts consecutive polls in which the scheduler did not report the job.
	MissedPolls int
}

func NewJobRecord(runId string, spec JobSpec, submitTime time.Time) *JobRecord {
	return &JobRecord{
		RunId:           runId,
		Seq:             spec.Seq,
		ClassId:         spec.ClassId,
		Nodes:           spec.Nodes,
		DurationMinutes: spec.DurationMinutes,
		SubmitTime:      submitTime,
		State:           Pending,
	}
}

func (r *JobRecord) Spec() JobSpec {
	return JobSpec{Seq: r.Seq, ClassId: r.ClassId, Nodes: r.Nodes, DurationMinutes: r.DurationMinutes}
}

// Copy returns a deep copy, so that a record can be handed to persistence outside the job table lock.
func (r *JobRecord) Copy() *JobRecord {
	c := *r
	c.StartTime = copyTime(r.StartTime)
	c.EndTime = copyTime(r.EndTime)
	return &c
}

func (r *JobRecord) PlannedDuration() time.Duration {
	return time.Duration(r.DurationMinutes) * time.Minute
}

// RunTime returns end - start when both are known.
func (r *JobRecord) RunTime() (time.Duration, bool) {
	if r.StartTime == nil || r.EndTime == nil {
		return 0, false
	}
	d := r.EndTime.Sub(*r.StartTime)
	if d < 0 {
		d = 0
	}
	return d, true
}

// QueueWait returns start - submit when the job was seen starting.
func (r *JobRecord) QueueWait() (time.Duration, bool) {
	if r.StartTime == nil || r.SubmitTime.IsZero() {
		return 0, false
	}
	d := r.StartTime.Sub(r.SubmitTime)
	if d < 0 {
		d = 0
	}
	return d, true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
