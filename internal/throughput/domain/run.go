package domain

import (
	"sync"
	"time"
)

// TestWindow is the interval during which new submissions are permitted.
type TestWindow struct {
	Start       time.Time
	MaxDuration time.Duration
}

func NewTestWindow(start time.Time, totalTestHours float64) TestWindow {
	return TestWindow{
		Start:       start,
		MaxDuration: time.Duration(totalTestHours * float64(time.Hour)),
	}
}

func (w TestWindow) End() time.Time {
	return w.Start.Add(w.MaxDuration)
}

func (w TestWindow) Expired(now time.Time) bool {
	return !now.Before(w.End())
}

type RunPhase string

const (
	Active        RunPhase = "Active"
	WindowExpired RunPhase = "WindowExpired"
	Drained       RunPhase = "Drained"
	Aborted       RunPhase = "Aborted"
)

func (p RunPhase) IsFinal() bool {
	return p == Drained || p == Aborted
}

// RunState is the lifecycle of one benchmark run: Active -> WindowExpired -> Drained or Aborted.
// It is shared by the submission and polling loops and is safe for concurrent use.
type RunState struct {
	RunId      string
	Window     TestWindow
	TotalNodes int
	Queue      string

	mu          sync.Mutex
	phase       RunPhase
	abortReason string
	done        chan struct{}
}

func NewRunState(runId string, window TestWindow, totalNodes int, queue string) *RunState {
	return &RunState{
		RunId:      runId,
		Window:     window,
		TotalNodes: totalNodes,
		Queue:      queue,
		phase:      Active,
		done:       make(chan struct{}),
	}
}

func (s *RunState) Phase() RunPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *RunState) AbortReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.abortReason
}

// AcceptingSubmissions reports whether a new job may be submitted at now.
// The run moves to WindowExpired the first time this is asked after the window has closed.
func (s *RunState) AcceptingSubmissions(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Active {
		return false
	}
	if s.Window.Expired(now) {
		s.phase = WindowExpired
		return false
	}
	return true
}

// ExpireWindow closes the submission window early. It returns false if the run was no longer Active.
func (s *RunState) ExpireWindow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != Active {
		return false
	}
	s.phase = WindowExpired
	return true
}

// MarkDrained records that every submitted job reached a terminal state.
func (s *RunState) MarkDrained() bool {
	return s.finish(Drained, "")
}

// Abort stops the run. Jobs already on the cluster are not cancelled.
func (s *RunState) Abort(reason string) bool {
	return s.finish(Aborted, reason)
}

// Done is closed once the run is Drained or Aborted.
func (s *RunState) Done() <-chan struct{} {
	return s.done
}

func (s *RunState) finish(phase RunPhase, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase.IsFinal() {
		return false
	}
	s.phase = phase
	s.abortReason = reason
	close(s.done)
	return true
}
