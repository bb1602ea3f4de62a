package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

const (
	prefix = "jobthroughput_"

	classLabel   = "class"
	outcomeLabel = "outcome"
	stateLabel   = "state"
	queueLabel   = "queue"

	outcomeSubmitted = "submitted"
	outcomeRejected  = "rejected"
)

// Instruments are the counters and histograms updated by the submission and polling loops.
type Instruments struct {
	submissions      *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	pollLatency      prometheus.Histogram
	pollFailures     prometheus.Counter
	vanishedJobs     *prometheus.CounterVec
	completedRunTime *prometheus.HistogramVec
	allMetrics       []prometheus.Collector
}

func NewInstruments() *Instruments {
	submissions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "submissions_total",
			Help: "Submission attempts by job class and outcome",
		},
		[]string{classLabel, outcomeLabel},
	)
	transitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "job_transitions_total",
			Help: "Job state transitions observed by the tracker",
		},
		[]string{stateLabel},
	)
	pollLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    prefix + "poll_latency_seconds",
			Help:    "Time taken to query the scheduler for live job states",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		},
	)
	pollFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: prefix + "poll_failures_total",
			Help: "Polls skipped because the scheduler could not be queried",
		},
	)
	vanishedJobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: prefix + "vanished_jobs_total",
			Help: "Jobs classified after disappearing from scheduler queries",
		},
		[]string{stateLabel},
	)
	completedRunTime := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    prefix + "job_run_seconds",
			Help:    "Run time of jobs that reached a terminal state",
			Buckets: prometheus.ExponentialBuckets(30, 2, 12),
		},
		[]string{classLabel, stateLabel},
	)
	return &Instruments{
		submissions:      submissions,
		transitions:      transitions,
		pollLatency:      pollLatency,
		pollFailures:     pollFailures,
		vanishedJobs:     vanishedJobs,
		completedRunTime: completedRunTime,
		allMetrics: []prometheus.Collector{
			submissions,
			transitions,
			pollLatency,
			pollFailures,
			vanishedJobs,
			completedRunTime,
		},
	}
}

func (m *Instruments) Describe(ch chan<- *prometheus.Desc) {
	for _, metric := range m.allMetrics {
		metric.Describe(ch)
	}
}

func (m *Instruments) Collect(ch chan<- prometheus.Metric) {
	for _, metric := range m.allMetrics {
		metric.Collect(ch)
	}
}

// ReportSubmission records the outcome of one submission attempt.
func (m *Instruments) ReportSubmission(record *domain.JobRecord) {
	outcome := outcomeSubmitted
	if record.State == domain.SubmissionError {
		outcome = outcomeRejected
	}
	m.submissions.WithLabelValues(record.ClassId, outcome).Inc()
}

func (m *Instruments) ReportTransition(record *domain.JobRecord, transition domain.Transition, vanished bool) {
	if !transition.StateChanged() {
		return
	}
	m.transitions.WithLabelValues(string(transition.To)).Inc()
	if vanished {
		m.vanishedJobs.WithLabelValues(string(transition.To)).Inc()
	}
	if runTime, ok := record.RunTime(); ok && transition.BecameTerminal() {
		m.completedRunTime.WithLabelValues(record.ClassId, string(transition.To)).Observe(runTime.Seconds())
	}
}

func (m *Instruments) ReportPoll(seconds float64, err error) {
	if err != nil {
		m.pollFailures.Inc()
		return
	}
	m.pollLatency.Observe(seconds)
}

var (
	jobsByStateDesc = prometheus.NewDesc(
		prefix+"jobs",
		"Number of job records in each state",
		[]string{queueLabel, stateLabel}, nil,
	)
	committedNodesDesc = prometheus.NewDesc(
		prefix+"committed_nodes",
		"Nodes held by submitted or running jobs",
		[]string{queueLabel}, nil,
	)
	totalNodesDesc = prometheus.NewDesc(
		prefix+"total_nodes",
		"Node budget of the run",
		[]string{queueLabel}, nil,
	)
)

// JobTable is the view of the live job table the collector reads on each scrape.
type JobTable interface {
	Counts() domain.StateCounts
	CommittedNodes() int
	TotalNodes() int
}

// JobTableCollector exposes the job table as gauges at scrape time.
type JobTableCollector struct {
	queue string
	table JobTable
}

func NewJobTableCollector(queue string, table JobTable) *JobTableCollector {
	return &JobTableCollector{queue: queue, table: table}
}

func (c *JobTableCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- jobsByStateDesc
	ch <- committedNodesDesc
	ch <- totalNodesDesc
}

func (c *JobTableCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.table.Counts()
	for _, state := range domain.AllStates {
		ch <- prometheus.MustNewConstMetric(jobsByStateDesc, prometheus.GaugeValue, float64(counts[state]), c.queue, string(state))
	}
	ch <- prometheus.MustNewConstMetric(committedNodesDesc, prometheus.GaugeValue, float64(c.table.CommittedNodes()), c.queue)
	ch <- prometheus.MustNewConstMetric(totalNodesDesc, prometheus.GaugeValue, float64(c.table.TotalNodes()), c.queue)
}
