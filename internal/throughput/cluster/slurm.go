package cluster

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/configuration"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

// Slurm prints local times without a zone offset.
const slurmTimeLayout = "2006-01-02T15:04:05"

var sacctFields = []string{"JobID", "State", "Start", "End", "ExitCode"}

// stderr fragments that mean the controller could not be reached rather than that the request was refused
var transientMarkers = []string{
	"Socket timed out",
	"Unable to contact slurm controller",
	"Connection refused",
	"temporarily unavailable",
	"Slurm backup controller in standby mode",
	"Zero Bytes were transmitted or received",
}

// CommandRunner runs an external command and returns its output.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// SlurmClient submits with sbatch and reads job states from sacct.
type SlurmClient struct {
	sbatch    string
	sacct     string
	extraArgs []string
	runner    CommandRunner
	location  *time.Location
}

func NewSlurmClient(config configuration.SlurmConfig, runner CommandRunner) *SlurmClient {
	return &SlurmClient{
		sbatch:    config.Sbatch,
		sacct:     config.Sacct,
		extraArgs: config.ExtraSbatchArgs,
		runner:    runner,
		location:  time.Local,
	}
}

func (c *SlurmClient) Submit(ctx context.Context, scriptRef string) (string, error) {
	args := append(append([]string{}, c.extraArgs...), "--parsable", scriptRef)
	stdout, stderr, err := c.runner.Run(ctx, c.sbatch, args...)
	if err != nil {
		return "", classify(ctx, "sbatch", stderr, err)
	}
	// --parsable prints "jobid" or "jobid;cluster"
	line := strings.TrimSpace(firstLine(stdout))
	jobId := strings.TrimSpace(strings.SplitN(line, ";", 2)[0])
	if jobId == "" {
		return "", &benchmarkerrors.ErrSubmission{Reason: "sbatch printed no job id"}
	}
	return jobId, nil
}

func (c *SlurmClient) QueryStates(ctx context.Context, jobIds []string) (map[string]domain.Observation, error) {
	result := make(map[string]domain.Observation, len(jobIds))
	if len(jobIds) == 0 {
		return result, nil
	}
	stdout, stderr, err := c.runner.Run(ctx, c.sacct,
		"--noheader",
		"--parsable2",
		"--allocations",
		"--jobs", strings.Join(jobIds, ","),
		"--format", strings.Join(sacctFields, ","),
	)
	if err != nil {
		// A failed status query is never a business outcome, so it is always worth retrying.
		return nil, &benchmarkerrors.ErrTransport{Operation: "sacct", Err: commandError(stderr, err)}
	}
	wanted := make(map[string]bool, len(jobIds))
	for _, id := range jobIds {
		wanted[id] = true
	}
	return result, parseSacct(stdout, c.location, wanted, result)
}

func parseSacct(output []byte, location *time.Location, wanted map[string]bool, result map[string]domain.Observation) error {
	scan := bufio.NewScanner(bytes.NewReader(output))
	for scan.Scan() {
		line := strings.TrimSpace(scan.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < len(sacctFields) {
			continue
		}
		jobId := fields[0]
		// Steps such as 1234.batch describe parts of a job, not the allocation
		if strings.Contains(jobId, ".") || !wanted[jobId] {
			continue
		}
		state, signal := MapSlurmState(fields[1])
		obs := domain.Observation{
			State:     state,
			StartTime: parseSlurmTime(fields[2], location),
			EndTime:   parseSlurmTime(fields[3], location),
			Error:     signal,
		}
		if exit := fields[4]; obs.Error == "" && exit != "" && exit != "0:0" && state.IsTerminal() {
			obs.Error = "exit code " + exit
		}
		result[jobId] = obs
	}
	return errors.WithStack(scan.Err())
}

// MapSlurmState converts a Slurm job state to a JobState plus an error signal for states that
// indicate trouble without being terminal.
func MapSlurmState(slurmState string) (domain.JobState, string) {
	// e.g. "CANCELLED by 1000"
	base := strings.Fields(slurmState)
	if len(base) == 0 {
		return domain.Submitted, ""
	}
	switch strings.TrimSuffix(base[0], "+") {
	case "PENDING", "REQUEUED", "REQUEUE_FED", "REQUEUE_HOLD", "RESIZING":
		return domain.Submitted, ""
	case "RUNNING", "COMPLETING", "CONFIGURING", "SIGNALING", "STAGE_OUT":
		return domain.Running, ""
	case "SUSPENDED", "STOPPED":
		return domain.Running, strings.ToLower(base[0])
	case "COMPLETED":
		return domain.Completed, ""
	case "CANCELLED":
		return domain.Cancelled, ""
	case "FAILED", "TIMEOUT", "NODE_FAIL", "OUT_OF_MEMORY", "BOOT_FAIL", "DEADLINE", "PREEMPTED", "REVOKED":
		return domain.Failed, base[0]
	}
	// An unrecognised state still proves the job exists. Submitted never moves a record backwards.
	return domain.Submitted, ""
}

func parseSlurmTime(value string, location *time.Location) *time.Time {
	switch value {
	case "", "Unknown", "None":
		return nil
	}
	t, err := time.ParseInLocation(slurmTimeLayout, value, location)
	if err != nil {
		return nil
	}
	return &t
}

// classify tells a scheduler rejection from a failure to reach the scheduler. A command killed because ctx
// ended reports "signal: killed" rather than a context error, and it may have queued the job before it died,
// so it is never treated as a rejection.
func classify(ctx context.Context, command string, stderr []byte, err error) error {
	cause := commandError(stderr, err)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &benchmarkerrors.ErrTransport{
			Operation: command,
			Err:       errors.Wrapf(ctxErr, "%s was interrupted and may have queued the job (%s)", command, cause),
		}
	}
	if isTransient(string(stderr)) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &benchmarkerrors.ErrTransport{Operation: command, Err: cause}
	}
	return &benchmarkerrors.ErrSubmission{Reason: command + " failed", Err: cause}
}

func commandError(stderr []byte, err error) error {
	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		return errors.WithStack(err)
	}
	return errors.Wrap(err, msg)
}

func isTransient(stderr string) bool {
	for _, marker := range transientMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}

func firstLine(b []byte) string {
	s := string(b)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func (c *SlurmClient) String() string {
	return fmt.Sprintf("slurm(%s, %s)", c.sbatch, c.sacct)
}
