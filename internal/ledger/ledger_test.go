// ABOUTME: Tests for the SQLite event ledger
// ABOUTME: Covers persistence, recent-events ordering, and schema setup

package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:", testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndReadBack(t *testing.T) {
	store := testStore(t)

	entry := &Entry{
		ID:        uuid.New().String(),
		Type:      "document_changed",
		Data:      map[string]any{"doc": "scene.blend"},
		EmittedAt: time.Now(),
	}
	require.NoError(t, store.SaveEvent(context.Background(), entry))

	entries, err := store.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	assert.Equal(t, entry.ID, entries[0].ID)
	assert.Equal(t, "document_changed", entries[0].Type)
	assert.Equal(t, "scene.blend", entries[0].Data["doc"])
	assert.WithinDuration(t, entry.EmittedAt, entries[0].EmittedAt, time.Second)
}

func TestSaveEventWithoutData(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.SaveEvent(context.Background(), &Entry{
		ID:        uuid.New().String(),
		Type:      "ping",
		EmittedAt: time.Now(),
	}))

	entries, err := store.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Data)
}

func TestRecentEventsNewestFirst(t *testing.T) {
	store := testStore(t)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.SaveEvent(context.Background(), &Entry{
			ID:        uuid.New().String(),
			Type:      fmt.Sprintf("step_%d", i),
			EmittedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	entries, err := store.RecentEvents(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "step_4", entries[0].Type)
	assert.Equal(t, "step_3", entries[1].Type)
	assert.Equal(t, "step_2", entries[2].Type)
}

func TestRecentEventsEmptyLedger(t *testing.T) {
	store := testStore(t)

	entries, err := store.RecentEvents(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestNewCreatesParentDirectories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "ledger.db")

	store, err := New(path, testLogger())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.SaveEvent(context.Background(), &Entry{
		ID:        uuid.New().String(),
		Type:      "boot",
		EmittedAt: time.Now(),
	}))
}
