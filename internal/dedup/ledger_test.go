package dedup

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLedger_AddAndContains(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	ok, err := ledger.Contains(ctx, "fp-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, ledger.Add(ctx, "fp-1"))

	ok, err = ledger.Contains(ctx, "fp-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLedger_EmptyFingerprintIgnored(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()

	require.NoError(t, ledger.Add(ctx, ""))

	snapshot, err := ledger.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestMemoryLedger_SnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	require.NoError(t, ledger.Add(ctx, "fp-1"))

	snapshot, err := ledger.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot, 1)

	// Mutating the snapshot must not affect the ledger.
	snapshot["fp-2"] = struct{}{}
	ok, err := ledger.Contains(ctx, "fp-2")
	require.NoError(t, err)
	assert.False(t, ok)
}
