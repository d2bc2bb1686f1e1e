package uploader

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrBatchNotFound is returned when polling an unknown or expired batch.
var ErrBatchNotFound = errors.New("batch not found")

const finishedRetention = 30 * time.Minute

type storeEntry struct {
	batch      *Batch
	cancel     func()
	finishedAt time.Time
}

// BatchStore keeps running and recently finished batches so clients can
// poll progress and request cancellation. Finished batches are retained
// for a grace period, then swept.
type BatchStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*storeEntry
	done    chan struct{}
}

// NewBatchStore creates a store and starts its sweep goroutine.
func NewBatchStore() *BatchStore {
	s := &BatchStore{
		entries: make(map[uuid.UUID]*storeEntry),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Add registers a batch and its cancel function.
func (s *BatchStore) Add(b *Batch, cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[b.ID] = &storeEntry{batch: b, cancel: cancel}
}

// MarkFinished stamps a batch for eventual sweeping. The batch stays
// pollable until the retention window passes.
func (s *BatchStore) MarkFinished(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		entry.finishedAt = time.Now()
	}
}

// Get returns the batch for polling.
func (s *BatchStore) Get(id uuid.UUID) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[id]
	if !ok {
		return nil, ErrBatchNotFound
	}
	return entry.batch, nil
}

// Cancel requests cooperative cancellation of a running batch. The batch
// stops issuing new uploads at the next file boundary.
func (s *BatchStore) Cancel(id uuid.UUID) error {
	s.mu.RLock()
	entry, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return ErrBatchNotFound
	}
	entry.cancel()
	return nil
}

func (s *BatchStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-finishedRetention)
			s.mu.Lock()
			for id, entry := range s.entries {
				if !entry.finishedAt.IsZero() && entry.finishedAt.Before(cutoff) {
					delete(s.entries, id)
				}
			}
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

// Close stops the sweep goroutine.
func (s *BatchStore) Close() error {
	close(s.done)
	return nil
}
