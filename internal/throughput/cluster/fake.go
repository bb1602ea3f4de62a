package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

type jobShape struct {
	nodes           int
	durationMinutes int
	queue           string
}

type fakeJob struct {
	id        string
	shape     jobShape
	state     domain.JobState
	startTime *time.Time
	endTime   *time.Time
	runFor    time.Duration
	fail      bool
}

// FakeCluster is an in-process scheduler that runs jobs against a fixed pool of nodes.
// Jobs start in submission order as soon as enough nodes are free and finish after their scaled duration.
// Time only moves when the cluster is called, so tests drive it with a fake clock.
type FakeCluster struct {
	clock      clock.PassiveClock
	totalNodes int
	config     configuration.FakeClusterConfig

	mu              sync.Mutex
	scripts         map[string]jobShape
	jobs            map[string]*fakeJob
	queued          []*fakeJob
	running         []*fakeJob
	usedNodes       int
	nextJobId       int
	submissions     int
	started         int
	cursor          time.Time
	transportErrors int
}

func NewFakeCluster(config configuration.FakeClusterConfig, totalNodes int, clk clock.PassiveClock) *FakeCluster {
	if config.TimeScale <= 0 {
		config.TimeScale = 1
	}
	return &FakeCluster{
		clock:      clk,
		totalNodes: totalNodes,
		config:     config,
		scripts:    map[string]jobShape{},
		jobs:       map[string]*fakeJob{},
		nextJobId:  1000,
		cursor:     clk.Now(),
	}
}

func (c *FakeCluster) Generate(nodes int, durationMinutes int, queue string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ref := "fake:" + scriptName(nodes, durationMinutes, queue)
	c.scripts[ref] = jobShape{nodes: nodes, durationMinutes: durationMinutes, queue: queue}
	return ref, nil
}

// InjectTransportErrors makes the next n calls fail with ErrTransport.
func (c *FakeCluster) InjectTransportErrors(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transportErrors = n
}

func (c *FakeCluster) Submit(_ context.Context, scriptRef string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeTransportError("submit"); err != nil {
		return "", err
	}
	shape, ok := c.scripts[scriptRef]
	if !ok {
		return "", &benchmarkerrors.ErrSubmission{Reason: fmt.Sprintf("unknown script %s", scriptRef)}
	}
	c.submissions++
	if c.config.RejectEvery > 0 && c.submissions%c.config.RejectEvery == 0 {
		return "", &benchmarkerrors.ErrSubmission{Reason: "submission rejected by fake cluster"}
	}
	if shape.nodes > c.totalNodes {
		return "", &benchmarkerrors.ErrSubmission{
			Reason: fmt.Sprintf("job needs %d nodes but the cluster has %d", shape.nodes, c.totalNodes),
		}
	}

	now := c.clock.Now()
	c.advance(now)
	c.nextJobId++
	job := &fakeJob{
		id:     strconv.Itoa(c.nextJobId),
		shape:  shape,
		state:  domain.Submitted,
		runFor: time.Duration(float64(time.Duration(shape.durationMinutes)*time.Minute) * c.config.TimeScale),
	}
	c.jobs[job.id] = job
	c.queued = append(c.queued, job)
	c.startQueued(c.cursor)
	return job.id, nil
}

func (c *FakeCluster) QueryStates(_ context.Context, jobIds []string) (map[string]domain.Observation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.takeTransportError("query"); err != nil {
		return nil, err
	}
	c.advance(c.clock.Now())
	result := make(map[string]domain.Observation, len(jobIds))
	for _, id := range jobIds {
		job, ok := c.jobs[id]
		if !ok || (c.config.PurgeTerminal && job.state.IsTerminal()) {
			continue
		}
		obs := domain.Observation{
			State:     job.state,
			StartTime: copyTimePtr(job.startTime),
			EndTime:   copyTimePtr(job.endTime),
		}
		if job.state == domain.Failed {
			obs.Error = "exit code 1"
		}
		result[id] = obs
	}
	return result, nil
}

// UsedNodes is the number of nodes held by running jobs.
func (c *FakeCluster) UsedNodes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advance(c.clock.Now())
	return c.usedNodes
}

// advance replays every start and finish that happened up to now in time order.
func (c *FakeCluster) advance(now time.Time) {
	for {
		c.startQueued(c.cursor)
		if len(c.running) == 0 {
			break
		}
		next := c.running[0]
		end := next.startTime.Add(next.runFor)
		if end.After(now) {
			break
		}
		c.running = c.running[1:]
		c.cursor = end
		next.endTime = &end
		next.state = domain.Completed
		if next.fail {
			next.state = domain.Failed
		}
		c.usedNodes -= next.shape.nodes
	}
	if now.After(c.cursor) {
		c.cursor = now
	}
}

func (c *FakeCluster) startQueued(at time.Time) {
	remaining := c.queued[:0]
	for _, job := range c.queued {
		if c.usedNodes+job.shape.nodes > c.totalNodes {
			remaining = append(remaining, job)
			continue
		}
		start := at
		job.startTime = &start
		job.state = domain.Running
		c.started++
		job.fail = c.config.FailEvery > 0 && c.started%c.config.FailEvery == 0
		c.usedNodes += job.shape.nodes
		c.running = append(c.running, job)
	}
	c.queued = remaining
	sort.SliceStable(c.running, func(i, j int) bool {
		return c.running[i].startTime.Add(c.running[i].runFor).Before(c.running[j].startTime.Add(c.running[j].runFor))
	})
}

func (c *FakeCluster) takeTransportError(operation string) error {
	if c.transportErrors <= 0 {
		return nil
	}
	c.transportErrors--
	return &benchmarkerrors.ErrTransport{Operation: operation, Err: errors.New("fake cluster unavailable")}
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
