package agent

import (
	"context"
	"sync"
	"time"
)

type ThreadStatus string

const (
	// StatusIdle means no turn is in flight; the record holds the full
	// message history.
	StatusIdle ThreadStatus = "idle"
	// StatusSuspended means a turn is paused at the approval gate; the
	// record additionally holds the pending batch.
	StatusSuspended ThreadStatus = "suspended"
)

type ThreadRecord struct {
	ThreadID  string
	Status    ThreadStatus
	State     []byte // versioned snapshot, see runstate.go
	UpdatedAt time.Time
}

// ThreadStore persists thread state across turns and, critically, across the
// approval-gate suspension: the process must be able to resume later given
// only (thread id, decision).
type ThreadStore interface {
	Load(ctx context.Context, threadID string) (ThreadRecord, bool, error)
	Save(ctx context.Context, rec ThreadRecord) error
	// ClaimSuspended atomically consumes a suspension: it returns the
	// suspended record and flips the status to idle, but only if the thread
	// is currently suspended. Exactly one concurrent claimer wins; the rest
	// get ok=false. Resolving a batch must go through this so the same
	// pending calls can never execute twice, even from separate processes.
	ClaimSuspended(ctx context.Context, threadID string) (ThreadRecord, bool, error)
	ListSuspended(ctx context.Context) ([]ThreadRecord, error)
}

// MemoryThreadStore is the in-process store used by tests and the single-shot
// demo.
type MemoryThreadStore struct {
	mu      sync.RWMutex
	records map[string]ThreadRecord
}

func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{records: make(map[string]ThreadRecord)}
}

func (s *MemoryThreadStore) Load(_ context.Context, threadID string) (ThreadRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[threadID]
	return rec, ok, nil
}

func (s *MemoryThreadStore) Save(_ context.Context, rec ThreadRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = time.Now().UTC()
	s.records[rec.ThreadID] = rec
	return nil
}

func (s *MemoryThreadStore) ClaimSuspended(_ context.Context, threadID string) (ThreadRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[threadID]
	if !ok || rec.Status != StatusSuspended {
		return ThreadRecord{}, false, nil
	}
	claimed := rec
	rec.Status = StatusIdle
	rec.UpdatedAt = time.Now().UTC()
	s.records[threadID] = rec
	return claimed, true, nil
}

func (s *MemoryThreadStore) ListSuspended(_ context.Context) ([]ThreadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ThreadRecord
	for _, rec := range s.records {
		if rec.Status == StatusSuspended {
			out = append(out, rec)
		}
	}
	return out, nil
}
