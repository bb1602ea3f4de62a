package planner

import (
	"fmt"
	"math/rand"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/common/util"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

// Plan is the ordered list of jobs to submit. Position in Specs is submission priority.
type Plan struct {
	Queue          string
	TotalNodes     int
	TotalTestHours float64
	Specs          []domain.JobSpec
	Classes        []ClassPlan
}

type ClassPlan struct {
	ClassId string
	Nodes   int
	Count   int
	Buckets []BucketPlan
}

type BucketPlan struct {
	Minutes int
	Ratio   float64
	Count   int
}

// NewPlan validates the mix and expands it into job specs. No spec is produced unless the whole mix is valid.
func NewPlan(mix *configuration.MixConfig) (*Plan, error) {
	if !(mix.TotalTestHours > 0) {
		return nil, &benchmarkerrors.ErrInvalidArgument{
			Name:    "total_test_hours",
			Value:   mix.TotalTestHours,
			Message: "must be greater than zero",
		}
	}
	if mix.TotalNodes <= 0 {
		return nil, &benchmarkerrors.ErrInvalidArgument{
			Name:    "total_nodes",
			Value:   mix.TotalNodes,
			Message: "must be greater than zero",
		}
	}
	for i, class := range mix.Jobs {
		if class.Nodes <= 0 {
			return nil, &benchmarkerrors.ErrInvalidArgument{
				Name:    fmt.Sprintf("jobs[%d].nodes", i),
				Value:   class.Nodes,
				Message: "must be greater than zero",
			}
		}
		if class.Nodes > mix.TotalNodes {
			return nil, &benchmarkerrors.ErrCapacityExceeded{
				ClassId:    class.Id(i),
				Nodes:      class.Nodes,
				TotalNodes: mix.TotalNodes,
			}
		}
	}

	plan := &Plan{
		Queue:          mix.QueueName,
		TotalNodes:     mix.TotalNodes,
		TotalTestHours: mix.TotalTestHours,
		Classes:        make([]ClassPlan, 0, len(mix.Jobs)),
	}
	for i, class := range mix.Jobs {
		classId := class.Id(i)
		counts, err := BucketCounts(classId, class.Count, class.Durations)
		if err != nil {
			return nil, err
		}
		classPlan := ClassPlan{ClassId: classId, Nodes: class.Nodes, Count: class.Count}
		for b, n := range counts {
			classPlan.Buckets = append(classPlan.Buckets, BucketPlan{
				Minutes: class.Durations[b].Minutes,
				Ratio:   class.Durations[b].Ratio,
				Count:   n,
			})
			for j := 0; j < n; j++ {
				plan.Specs = append(plan.Specs, domain.JobSpec{
					ClassId:         classId,
					Nodes:           class.Nodes,
					DurationMinutes: class.Durations[b].Minutes,
				})
			}
		}
		plan.Classes = append(plan.Classes, classPlan)
	}

	if mix.Order == configuration.ShuffledOrder {
		r := rand.New(rand.NewSource(mix.ShuffleSeed))
		r.Shuffle(len(plan.Specs), func(i, j int) {
			plan.Specs[i], plan.Specs[j] = plan.Specs[j], plan.Specs[i]
		})
	}
	for i := range plan.Specs {
		plan.Specs[i].Seq = i
	}
	return plan, nil
}

// NodeMinutes is the total planned node usage.
func (p *Plan) NodeMinutes() int {
	total := 0
	for _, s := range p.Specs {
		total += s.NodeMinutes()
	}
	return total
}

// String renders a per class summary for operators.
func (p *Plan) String() string {
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("Queue: %s, nodes: %d, window: %.2fh, jobs: %d, node-minutes: %d\n",
		p.Queue, p.TotalNodes, p.TotalTestHours, len(p.Specs), p.NodeMinutes())
	w.Row("Class", "Nodes", "Minutes", "Ratio", "Jobs")
	for _, c := range p.Classes {
		for _, b := range c.Buckets {
			w.Row(c.ClassId, c.Nodes, b.Minutes, fmt.Sprintf("%.2f", b.Ratio), b.Count)
		}
	}
	return w.String()
}
