// Package metrics derives throughput and utilization figures from a run's job records and exposes
// the live run to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
	"github.com/armadaproject/jobthroughput/internal/throughput/repository"
)

// Report is the outcome of a run.
type Report struct {
	RunId        string          `json:"runId" yaml:"runId"`
	Queue        string          `json:"queue" yaml:"queue"`
	Phase        domain.RunPhase `json:"phase" yaml:"phase"`
	AbortReason  string          `json:"abortReason,omitempty" yaml:"abortReason,omitempty"`
	TotalNodes   int             `json:"totalNodes" yaml:"totalNodes"`
	WindowStart  time.Time       `json:"windowStart" yaml:"windowStart"`
	ReportTime   time.Time       `json:"reportTime" yaml:"reportTime"`
	ElapsedHours float64         `json:"elapsedHours" yaml:"elapsedHours"`

	// MeasuredHours is the period the rates are taken over: the test window, or the elapsed time if the run outlasted it.
	MeasuredHours float64 `json:"measuredHours" yaml:"measuredHours"`

	// Completed jobs per measured hour.
	JobThroughput        float64 `json:"jobThroughput" yaml:"jobThroughput"`
	// Planned node-minutes of completed jobs over available node-minutes.
	SystemThroughputRate float64 `json:"systemThroughputRate" yaml:"systemThroughputRate"`
	// Node-minutes actually used over available node-minutes.
	ResourceUtilization  float64 `json:"resourceUtilization" yaml:"resourceUtilization"`
	// Jobs whose run time was taken from the plan because no start or end was observed.
	EstimatedJobs        int     `json:"estimatedJobs" yaml:"estimatedJobs"`

	States    map[domain.JobState]int `json:"states" yaml:"states"`
	Classes   []ClassSummary          `json:"classes" yaml:"classes"`
	QueueWait *Statistics             `json:"queueWaitSeconds,omitempty" yaml:"queueWaitSeconds,omitempty"`
	RunTime   *Statistics             `json:"runTimeSeconds,omitempty" yaml:"runTimeSeconds,omitempty"`
	Anomalies []string                `json:"anomalies,omitempty" yaml:"anomalies,omitempty"`
}

func (r *Report) UtilizationEstimated() bool {
	return r.EstimatedJobs > 0
}

type ClassSummary struct {
	ClassId     string `json:"classId" yaml:"classId"`
	Attempted   int    `json:"attempted" yaml:"attempted"`
	Completed   int    `json:"completed" yaml:"completed"`
	Failed      int    `json:"failed" yaml:"failed"`
	Cancelled   int    `json:"cancelled" yaml:"cancelled"`
	Rejected    int    `json:"rejected" yaml:"rejected"`
	NodeMinutes int    `json:"completedNodeMinutes" yaml:"completedNodeMinutes"`
}

// Aggregate computes the report of a run from its records as of reportTime.
// It returns ErrInsufficientData if no time has elapsed or no job reached a scheduler-side terminal state.
func Aggregate(run *repository.RunInfo, records []*domain.JobRecord, reportTime time.Time) (*Report, error) {
	elapsed := reportTime.Sub(run.StartTime)
	if elapsed <= 0 {
		return nil, &benchmarkerrors.ErrInsufficientData{Message: "no time has elapsed since the run started"}
	}
	measured := elapsed
	if window := run.Window().MaxDuration; window > measured {
		measured = window
	}
	if run.TotalNodes <= 0 {
		return nil, &benchmarkerrors.ErrInvalidArgument{Name: "total_nodes", Value: run.TotalNodes, Message: "must be greater than zero"}
	}
	counts := domain.CountStates(records)
	if counts.InStates(domain.SchedulerTerminalStates...) == 0 {
		return nil, &benchmarkerrors.ErrInsufficientData{
			Message: fmt.Sprintf("none of the %d recorded jobs reached a terminal state", len(records)),
		}
	}

	report := &Report{
		RunId:        run.RunId,
		Queue:        run.Queue,
		Phase:        run.Phase,
		AbortReason:  run.AbortReason,
		TotalNodes:   run.TotalNodes,
		WindowStart:  run.StartTime,
		ReportTime:   reportTime,
		ElapsedHours:  elapsed.Hours(),
		MeasuredHours: measured.Hours(),
		States:        counts,
	}

	availableNodeMinutes := float64(run.TotalNodes) * measured.Minutes()
	var completedNodeMinutes, usedNodeMinutes float64
	var queueWaits, runTimes []time.Duration
	classes := map[string]*ClassSummary{}
	var classOrder []string
	for _, r := range records {
		class := classes[r.ClassId]
		if class == nil {
			class = &ClassSummary{ClassId: r.ClassId}
			classes[r.ClassId] = class
			classOrder = append(classOrder, r.ClassId)
		}
		class.Attempted++
		switch r.State {
		case domain.Completed:
			class.Completed++
			class.NodeMinutes += r.Spec().NodeMinutes()
			completedNodeMinutes += float64(r.Spec().NodeMinutes())
		case domain.Failed:
			class.Failed++
		case domain.Cancelled:
			class.Cancelled++
		case domain.SubmissionError:
			class.Rejected++
		}

		if wait, ok := r.QueueWait(); ok {
			queueWaits = append(queueWaits, wait)
		}
		if runTime, ok := r.RunTime(); ok {
			usedNodeMinutes += float64(r.Nodes) * runTime.Minutes()
			if r.State.IsSchedulerTerminal() {
				runTimes = append(runTimes, runTime)
			}
		} else if r.State == domain.Running || r.State == domain.Completed {
			usedNodeMinutes += float64(r.Nodes) * r.PlannedDuration().Minutes()
			report.EstimatedJobs++
		}
	}

	for _, classId := range classOrder {
		report.Classes = append(report.Classes, *classes[classId])
	}

	report.JobThroughput = float64(counts[domain.Completed]) / measured.Hours()
	report.SystemThroughputRate = completedNodeMinutes / availableNodeMinutes
	report.ResourceUtilization = usedNodeMinutes / availableNodeMinutes
	report.QueueWait = statistics(queueWaits)
	report.RunTime = statistics(runTimes)

	if report.ResourceUtilization > 1 {
		report.Anomalies = append(report.Anomalies,
			fmt.Sprintf("resource utilization %.4f exceeds 1.0; more node-minutes were used than the cluster offered", report.ResourceUtilization))
	}
	if report.SystemThroughputRate > 1 {
		report.Anomalies = append(report.Anomalies,
			fmt.Sprintf("system throughput rate %.4f exceeds 1.0", report.SystemThroughputRate))
	}
	if live := counts.InStates(domain.LiveStates...); live > 0 {
		report.Anomalies = append(report.Anomalies, fmt.Sprintf("%d jobs were still live when the report was made", live))
	}
	if run.Phase == domain.Aborted {
		report.Anomalies = append(report.Anomalies, fmt.Sprintf("run was aborted: %s", run.AbortReason))
	}
	return report, nil
}
