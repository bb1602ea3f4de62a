// Package jobdb holds the in-memory view of a run's job records together with the node ledger that
// keeps submissions within the cluster budget.
package jobdb

import (
	"sort"
	"strconv"
	"sync"

	"github.com/pkg/errors"

	"github.com/armadaproject/jobthroughput/internal/common/benchmarkerrors"
	"github.com/armadaproject/jobthroughput/internal/throughput/domain"
)

// JobDb is safe for concurrent use by the submitter and the tracker.
// Nodes are either reserved (a submission is in flight) or committed (held by a live job).
// reserved + committed never exceeds totalNodes.
type JobDb struct {
	mu         sync.Mutex
	totalNodes int
	reserved   int
	committed  int
	bySeq      map[int]*domain.JobRecord
	byJobId    map[string]*domain.JobRecord
	released   chan struct{}
}

func NewJobDb(totalNodes int) *JobDb {
	return &JobDb{
		totalNodes: totalNodes,
		bySeq:      map[int]*domain.JobRecord{},
		byJobId:    map[string]*domain.JobRecord{},
		released:   make(chan struct{}, 1),
	}
}

// Reserve sets aside nodes for a submission. It returns false if they are not free.
func (db *JobDb) Reserve(nodes int) bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	if nodes <= 0 || db.reserved+db.committed+nodes > db.totalNodes {
		return false
	}
	db.reserved += nodes
	return true
}

// ReleaseReservation returns nodes reserved for a submission that did not produce a live job.
func (db *JobDb) ReleaseReservation(nodes int) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.reserved -= nodes
	if db.reserved < 0 {
		db.reserved = 0
	}
	db.signalRelease()
}

// Insert adds a record created from a reservation. A live record turns the reservation into committed nodes,
// anything else releases it.
func (db *JobDb) Insert(record *domain.JobRecord) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.bySeq[record.Seq]; ok {
		return errors.WithStack(&benchmarkerrors.ErrAlreadyExists{Type: "job record", Value: strconv.Itoa(record.Seq)})
	}
	stored := record.Copy()
	db.bySeq[stored.Seq] = stored
	if stored.JobId != "" {
		db.byJobId[stored.JobId] = stored
	}
	db.reserved -= stored.Nodes
	if db.reserved < 0 {
		db.reserved = 0
	}
	if stored.State.IsLive() {
		db.committed += stored.Nodes
	} else {
		db.signalRelease()
	}
	return nil
}

// Update applies fn to the live record with the given job id and returns a copy of the result.
// Nodes are released when fn moves the record to a terminal state.
func (db *JobDb) Update(jobId string, fn func(*domain.JobRecord) domain.Transition) (*domain.JobRecord, domain.Transition, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	record, ok := db.byJobId[jobId]
	if !ok {
		return nil, domain.Transition{}, errors.WithStack(&benchmarkerrors.ErrNotFound{Type: "job", Value: jobId})
	}
	wasLive := record.State.IsLive()
	transition := fn(record)
	if wasLive && !record.State.IsLive() {
		db.committed -= record.Nodes
		db.signalRelease()
	}
	return record.Copy(), transition, nil
}

// CapacityReleased receives a value after nodes have been freed. Signals coalesce.
func (db *JobDb) CapacityReleased() <-chan struct{} {
	return db.released
}

func (db *JobDb) signalRelease() {
	select {
	case db.released <- struct{}{}:
	default:
	}
}

// LiveJobIds returns the scheduler ids of records in Submitted or Running, ordered by seq.
func (db *JobDb) LiveJobIds() []string {
	db.mu.Lock()
	defer db.mu.Unlock()
	live := make([]*domain.JobRecord, 0)
	for _, record := range db.byJobId {
		if record.State.IsLive() {
			live = append(live, record)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Seq < live[j].Seq })
	ids := make([]string, len(live))
	for i, record := range live {
		ids[i] = record.JobId
	}
	return ids
}

// Snapshot returns copies of every record ordered by seq.
func (db *JobDb) Snapshot() []*domain.JobRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	records := make([]*domain.JobRecord, 0, len(db.bySeq))
	for _, record := range db.bySeq {
		records = append(records, record.Copy())
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })
	return records
}

func (db *JobDb) Counts() domain.StateCounts {
	return domain.CountStates(db.Snapshot())
}

func (db *JobDb) HasLiveJobs() bool {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.committed > 0 || db.reserved > 0
}

func (db *JobDb) FreeNodes() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.totalNodes - db.reserved - db.committed
}

func (db *JobDb) CommittedNodes() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.committed
}

func (db *JobDb) TotalNodes() int {
	return db.totalNodes
}
