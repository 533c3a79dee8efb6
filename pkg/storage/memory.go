package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore implements an in-memory store for session snapshots.
// It is safe for concurrent use by multiple goroutines.
//
// MemoryStore keeps the latest snapshot per intersection in a map. If TTL
// is configured, a background goroutine removes snapshots that have not
// been refreshed within the TTL, so a crashed or stalled session does not
// keep serving stale state forever. For multi-instance deployments use
// RedisStore instead.
type MemoryStore struct {
	mu            sync.RWMutex
	snapshots     map[string]SessionSnapshot
	ttl           time.Duration
	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	cleanupDone   chan struct{}
	stopped       bool
	stopMu        sync.Mutex
}

// NewMemoryStore creates a new in-memory snapshot store with no TTL.
// Snapshots are kept until overwritten or deleted.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]SessionSnapshot),
	}
}

// NewMemoryStoreWithTTL creates an in-memory snapshot store with automatic
// TTL-based cleanup. A background goroutine removes snapshots whose
// GeneratedAt is older than ttl.
//
// Stop must be called when the store is no longer needed to prevent a
// goroutine leak.
//
// cleanupInterval determines how often the cleanup runs (typically 1 minute).
func NewMemoryStoreWithTTL(ttl, cleanupInterval time.Duration) *MemoryStore {
	if ttl <= 0 {
		panic("TTL must be positive")
	}
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	store := &MemoryStore{
		snapshots:     make(map[string]SessionSnapshot),
		ttl:           ttl,
		cleanupTicker: time.NewTicker(cleanupInterval),
		stopCleanup:   make(chan struct{}),
		cleanupDone:   make(chan struct{}),
	}

	go store.runCleanup()

	return store
}

// Stop gracefully shuts down the background cleanup goroutine. It blocks
// until cleanup is complete.
//
// Calling Stop multiple times or on a store without TTL is safe and does nothing.
func (s *MemoryStore) Stop() {
	if s.cleanupTicker == nil {
		return // No cleanup goroutine running
	}

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	if s.stopped {
		return // Already stopped
	}

	close(s.stopCleanup)
	<-s.cleanupDone
	s.cleanupTicker.Stop()
	s.stopped = true
}

// runCleanup is the background goroutine that periodically removes stale snapshots.
func (s *MemoryStore) runCleanup() {
	defer close(s.cleanupDone)

	for {
		select {
		case <-s.cleanupTicker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup removes snapshots older than the TTL.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ttl == 0 {
		return // No TTL configured
	}

	now := time.Now()
	for intersection, snapshot := range s.snapshots {
		if now.Sub(snapshot.GeneratedAt) > s.ttl {
			delete(s.snapshots, intersection)
		}
	}
}

// Put stores a snapshot for an intersection, replacing any existing snapshot.
//
// Returns an error if the snapshot's Intersection field is empty or if
// context is canceled. This operation is safe for concurrent use.
func (s *MemoryStore) Put(ctx context.Context, snapshot SessionSnapshot) error {
	if snapshot.Intersection == "" {
		return fmt.Errorf("snapshot intersection cannot be empty")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[snapshot.Intersection] = snapshot
	return nil
}

// GetLatest retrieves the most recent snapshot for an intersection.
//
// Returns:
//   - snapshot: The stored snapshot (zero value if not found)
//   - found: true if a snapshot exists for this intersection
//   - error: Context error if context is canceled, nil otherwise
//
// This operation is safe for concurrent use.
func (s *MemoryStore) GetLatest(ctx context.Context, intersection string) (SessionSnapshot, bool, error) {
	select {
	case <-ctx.Done():
		return SessionSnapshot{}, false, ctx.Err()
	default:
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, found := s.snapshots[intersection]
	return snapshot, found, nil
}

// Len returns the number of snapshots currently stored.
// This method is primarily useful for testing and metrics.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshots)
}

// Delete removes a snapshot for an intersection.
// Returns true if a snapshot was deleted, false if none existed.
func (s *MemoryStore) Delete(intersection string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, existed := s.snapshots[intersection]
	delete(s.snapshots, intersection)
	return existed
}
