package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

func TestInstruments(t *testing.T) {
	m := NewInstruments()

	m.ReportSubmission(record(0, "small", 1, 10, domain.Submitted))
	m.ReportSubmission(record(1, "small", 1, 10, domain.SubmissionError))
	m.ReportSubmission(record(2, "small", 1, 10, domain.Submitted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.submissions.WithLabelValues("small", outcomeSubmitted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.submissions.WithLabelValues("small", outcomeRejected)))

	finished := ran(record(3, "small", 1, 10, domain.Completed), 0, 10*time.Minute)
	m.ReportTransition(finished, domain.Transition{From: domain.Running, To: domain.Completed, Changed: true}, true)
	m.ReportTransition(finished, domain.Transition{From: domain.Completed, To: domain.Completed, Changed: true}, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues(string(domain.Completed))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.vanishedJobs.WithLabelValues(string(domain.Completed))))

	m.ReportPoll(0.5, nil)
	m.ReportPoll(0, assert.AnError)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollFailures))
	assert.Equal(t, 7, testutil.CollectAndCount(m))
}

type staticTable struct {
	counts domain.StateCounts
}

func (s staticTable) Counts() domain.StateCounts { return s.counts }
func (s staticTable) CommittedNodes() int        { return 12 }
func (s staticTable) TotalNodes() int            { return 64 }

func TestJobTableCollector(t *testing.T) {
	collector := NewJobTableCollector("q", staticTable{counts: domain.StateCounts{domain.Running: 3, domain.Completed: 5}})

	expected := `
# HELP jobthroughput_committed_nodes Nodes held by submitted or running jobs
# TYPE jobthroughput_committed_nodes gauge
jobthroughput_committed_nodes{queue="q"} 12
# HELP jobthroughput_total_nodes Node budget of the run
# TYPE jobthroughput_total_nodes gauge
jobthroughput_total_nodes{queue="q"} 64
`
	require.NoError(t, testutil.CollectAndCompare(collector, strings.NewReader(expected),
		"jobthroughput_committed_nodes", "jobthroughput_total_nodes"))
	assert.Equal(t, len(domain.AllStates)+2, testutil.CollectAndCount(collector))
}
