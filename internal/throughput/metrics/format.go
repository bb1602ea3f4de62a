package metrics

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/armadaproject/jobthroughput/internal/common/util"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

type Formatter func(report *Report) ([]byte, error)

func FormatterFor(format configuration.ReportFormat) Formatter {
	switch format {
	case configuration.YamlReport:
		return YamlFormatter
	case configuration.JsonReport:
		return JsonFormatter
	default:
		return TextFormatter
	}
}

func YamlFormatter(report *Report) ([]byte, error) {
	out, err := yaml.Marshal(report)
	return out, errors.WithStack(err)
}

func JsonFormatter(report *Report) ([]byte, error) {
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return append(out, '\n'), nil
}

func TextFormatter(report *Report) ([]byte, error) {
	return []byte(report.String()), nil
}

func (r *Report) String() string {
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("Run:\t%s\n", r.RunId)
	w.Writef("Queue:\t%s\n", r.Queue)
	w.Writef("Phase:\t%s\n", r.Phase)
	w.Writef("Window start:\t%s\n", r.WindowStart.Format("2006-01-02 15:04:05"))
	w.Writef("Elapsed:\t%.2f hours\n", r.ElapsedHours)
	w.Writef("Measured over:\t%.2f hours\n", r.MeasuredHours)
	w.Writef("Total nodes:\t%d\n", r.TotalNodes)
	w.Writef("Job throughput:\t%.2f jobs/hour\n", r.JobThroughput)
	w.Writef("System throughput rate:\t%.4f\n", r.SystemThroughputRate)
	if r.UtilizationEstimated() {
		w.Writef("Resource utilization:\t%.4f (estimated for %d jobs)\n", r.ResourceUtilization, r.EstimatedJobs)
	} else {
		w.Writef("Resource utilization:\t%.4f\n", r.ResourceUtilization)
	}
	w.Writef("Jobs:\t%s\n", domain.StateCounts(r.States))
	header := w.String()

	classes := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	classes.Row("Class", "Attempted", "Completed", "Failed", "Cancelled", "Rejected", "Node-minutes")
	for _, c := range r.Classes {
		classes.Row(c.ClassId, c.Attempted, c.Completed, c.Failed, c.Cancelled, c.Rejected, c.NodeMinutes)
	}

	var out strings.Builder
	out.WriteString(header)
	out.WriteString("\n")
	out.WriteString(classes.String())
	writeStatistics(&out, "Queue wait", r.QueueWait)
	writeStatistics(&out, "Run time", r.RunTime)
	if len(r.Anomalies) > 0 {
		out.WriteString("\nAnomalies:\n")
		for _, a := range r.Anomalies {
			fmt.Fprintf(&out, "  - %s\n", a)
		}
	}
	return out.String()
}

func writeStatistics(out *strings.Builder, name string, stats *Statistics) {
	if stats == nil {
		return
	}
	fmt.Fprintf(out, "\n%s (seconds, %d jobs):\n", name, stats.Count)
	fmt.Fprintf(out, "  - min: %.1f\n", stats.Min)
	fmt.Fprintf(out, "  - max: %.1f\n", stats.Max)
	fmt.Fprintf(out, "  - avg: %.1f\n", stats.Average)
	fmt.Fprintf(out, "  - variance: %.1f\n", stats.Variance)
	fmt.Fprintf(out, "  - standard deviation: %.1f\n", stats.StandardDeviation)
}
