package domain

import (
	"fmt"
	"strings"
)

var statesToIncludeInSummary = []JobState{
	Submitted,
	Running,
	Completed,
	Failed,
	Cancelled,
	SubmissionError,
}

// StateCounts is the number of records in each state.
type StateCounts map[JobState]int

func CountStates(records []*JobRecord) StateCounts {
	counts := make(StateCounts, len(AllStates))
	for _, r := range records {
		counts[r.State]++
	}
	return counts
}

func (c StateCounts) InStates(states ...JobState) int {
	n := 0
	for _, s := range states {
		n += c[s]
	}
	return n
}

func (c StateCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

func (c StateCounts) String() string {
	var summary strings.Builder
	for i, state := range statesToIncludeInSummary {
		if i > 0 {
			summary.WriteString(", ")
		}
		summary.WriteString(fmt.Sprintf("%s: %3d", state, c[state]))
	}
	return summary.String()
}
