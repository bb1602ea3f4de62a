package configuration

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/yaml"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
)

const (
	DefaultTotalTestHours = 4.5
	DefaultTotalNodes     = 64
)

type PlanOrder string

const (
	// DeclaredOrder submits classes in the order they are listed, which makes earlier classes higher priority.
	DeclaredOrder PlanOrder = "declared"
	// ShuffledOrder submits jobs in a seeded random order.
	ShuffledOrder PlanOrder = "shuffled"
)

// DurationBucket is one entry of a class's duration distribution.
type DurationBucket struct {
	Minutes int     `json:"minutes"`
	Ratio   float64 `json:"ratio"`
}

// JobClass is a group of jobs sharing node count and duration distribution.
type JobClass struct {
	Name      string           `json:"name,omitempty"`
	Nodes     int              `json:"nodes"`
	Count     int              `json:"count"`
	Durations []DurationBucket `json:"durations"`
}

// Id identifies the class in plans, records and reports.
func (c JobClass) Id(index int) string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("jobs[%d]", index)
}

// MixConfig is the operator's description of the workload to submit.
type MixConfig struct {
	TotalTestHours float64    `json:"total_test_hours"`
	TotalNodes     int        `json:"total_nodes"`
	QueueName      string     `json:"queue_name"`
	Jobs           []JobClass `json:"jobs"`
	Order          PlanOrder  `json:"order,omitempty"`
	ShuffleSeed    int64      `json:"shuffle_seed,omitempty"`
}

func DefaultMixConfig() MixConfig {
	return MixConfig{
		TotalTestHours: DefaultTotalTestHours,
		TotalNodes:     DefaultTotalNodes,
		Order:          DeclaredOrder,
	}
}

// LoadMixConfig reads a JSON or YAML mix file. Keys missing from the file keep their defaults.
func LoadMixConfig(path string) (*MixConfig, error) {
	reader, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed opening mix file %s", path)
	}
	defer reader.Close()
	mix, err := DecodeMixConfig(reader)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to parse mix file %s", path)
	}
	return mix, nil
}

func DecodeMixConfig(r io.Reader) (*MixConfig, error) {
	mix := DefaultMixConfig()
	if err := yaml.NewYAMLOrJSONDecoder(r, 128).Decode(&mix); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := mix.Validate(); err != nil {
		return nil, err
	}
	return &mix, nil
}

// Validate checks the fields that are not checked by the planner. Problems are reported together.
func (m *MixConfig) Validate() error {
	var result *multierror.Error
	if strings.TrimSpace(m.QueueName) == "" {
		result = multierror.Append(result, &benchmarkerrors.ErrInvalidArgument{
			Name:    "queue_name",
			Value:   m.QueueName,
			Message: "a queue name is required",
		})
	}
	if len(m.Jobs) == 0 {
		result = multierror.Append(result, &benchmarkerrors.ErrInvalidArgument{
			Name:    "jobs",
			Value:   len(m.Jobs),
			Message: "at least one job class is required",
		})
	}
	if m.Order != DeclaredOrder && m.Order != ShuffledOrder {
		result = multierror.Append(result, &benchmarkerrors.ErrInvalidArgument{
			Name:    "order",
			Value:   m.Order,
			Message: fmt.Sprintf("must be %s or %s", DeclaredOrder, ShuffledOrder),
		})
	}
	seen := make(map[string]bool, len(m.Jobs))
	for i, class := range m.Jobs {
		id := class.Id(i)
		if seen[id] {
			result = multierror.Append(result, &benchmarkerrors.ErrInvalidArgument{
				Name:    fmt.Sprintf("jobs[%d].name", i),
				Value:   id,
				Message: "job class names must be unique",
			})
		}
		seen[id] = true
	}
	return result.ErrorOrNil()
}
