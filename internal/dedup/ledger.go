// Package dedup provides the fingerprint ledger that guards against
// reprocessing blobs the worker has already handled.
package dedup

import (
	"context"
	"sync"
)

// Ledger is the set of content fingerprints already processed.
type Ledger interface {
	Add(ctx context.Context, fingerprint string) error
	Contains(ctx context.Context, fingerprint string) (bool, error)
	// Snapshot returns the current fingerprint set for a discovery pass.
	Snapshot(ctx context.Context) (map[string]struct{}, error)
	Close() error
}

// MemoryLedger implements Ledger in process memory. Dedup state is lost on
// restart and rebuilt from persisted document fingerprints at startup.
type MemoryLedger struct {
	mu           sync.RWMutex
	fingerprints map[string]struct{}
}

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{fingerprints: make(map[string]struct{})}
}

// Add records a fingerprint as processed.
func (l *MemoryLedger) Add(ctx context.Context, fingerprint string) error {
	if fingerprint == "" {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fingerprints[fingerprint] = struct{}{}
	return nil
}

// Contains reports whether a fingerprint was already processed.
func (l *MemoryLedger) Contains(ctx context.Context, fingerprint string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.fingerprints[fingerprint]
	return ok, nil
}

// Snapshot copies the fingerprint set.
func (l *MemoryLedger) Snapshot(ctx context.Context) (map[string]struct{}, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	snapshot := make(map[string]struct{}, len(l.fingerprints))
	for fp := range l.fingerprints {
		snapshot[fp] = struct{}{}
	}
	return snapshot, nil
}

// Close is a no-op for the memory ledger.
func (l *MemoryLedger) Close() error {
	return nil
}
