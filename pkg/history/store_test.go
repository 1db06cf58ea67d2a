package history

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notifyhub/notifyhub/pkg/notify"
)

func openTestStore(t *testing.T, limit int) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), limit)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Logf("Failed to close store: %v", err)
		}
	})
	return store
}

func record(id string, createdAt time.Time) notify.NotificationRecord {
	return notify.NotificationRecord{
		ID:        id,
		Title:     "title " + id,
		Body:      "body " + id,
		CreatedAt: createdAt,
	}
}

func TestInsertAndList(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	snap, err := store.Insert(ctx, record("n1", time.Now()))
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "n1", snap.Records[0].ID)
	assert.Equal(t, 1, snap.Unread)

	assert.Equal(t, 1, store.UnreadCount(ctx))
}

func TestInsertIsIdempotentByID(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	first := record("n1", time.Now())
	_, err := store.Insert(ctx, first)
	require.NoError(t, err)

	// Re-delivery with the same id but different content must not overwrite.
	dup := first
	dup.Title = "changed"
	snap, err := store.Insert(ctx, dup)
	require.NoError(t, err)

	require.Len(t, snap.Records, 1)
	assert.Equal(t, "title n1", snap.Records[0].Title)
	assert.Equal(t, 1, snap.Unread)
}

func TestListOrderIsMostRecentFirst(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		_, err := store.Insert(ctx, record(fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	snap := store.List(ctx)
	require.Len(t, snap.Records, 5)
	for i := 0; i < 5; i++ {
		assert.Equal(t, fmt.Sprintf("n%d", 4-i), snap.Records[i].ID)
	}
}

func TestRetentionEvictsOldest(t *testing.T) {
	store := openTestStore(t, 50)
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 50; i++ {
		_, err := store.Insert(ctx, record(fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	// The 51st insert evicts exactly one record, the oldest by createdAt.
	snap, err := store.Insert(ctx, record("n50", base.Add(50*time.Minute)))
	require.NoError(t, err)
	require.Len(t, snap.Records, 50)
	for _, rec := range snap.Records {
		assert.NotEqual(t, "n0", rec.ID)
	}
}

func TestRetentionScenarioFiftyTwoInserts(t *testing.T) {
	store := openTestStore(t, 50)
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 52; i++ {
		_, err := store.Insert(ctx, record(fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	snap := store.List(ctx)
	require.Len(t, snap.Records, 50)

	ids := make(map[string]bool)
	for _, rec := range snap.Records {
		ids[rec.ID] = true
	}
	assert.False(t, ids["n0"])
	assert.False(t, ids["n1"])
	assert.True(t, ids["n2"])
	assert.True(t, ids["n51"])
}

func TestMarkReadUpdatesUnreadCount(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	_, err := store.Insert(ctx, record("n1", time.Now()))
	require.NoError(t, err)

	snap := store.List(ctx)
	require.Len(t, snap.Records, 1)
	require.Equal(t, 1, snap.Unread)

	snap, err = store.MarkRead(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Unread)
	assert.True(t, snap.Records[0].Read)
	assert.Equal(t, 1, snap.Records[0].ReadRank)
	assert.Equal(t, 0, store.UnreadCount(ctx))
}

func TestMarkAllRead(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, record(fmt.Sprintf("n%d", i), time.Now()))
		require.NoError(t, err)
	}

	snap, err := store.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Unread)
	for _, rec := range snap.Records {
		assert.True(t, rec.Read)
	}
}

func TestDeleteAndClear(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Insert(ctx, record(fmt.Sprintf("n%d", i), time.Now()))
		require.NoError(t, err)
	}

	snap, err := store.Delete(ctx, "n1")
	require.NoError(t, err)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, 2, snap.Unread)

	snap, err = store.Clear(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)
	assert.Equal(t, 0, snap.Unread)
}

// Unread accounting must hold after every operation in a mixed sequence.
func TestUnreadAccountingInvariant(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	check := func(snap Snapshot) {
		t.Helper()
		unread := 0
		for _, rec := range snap.Records {
			if !rec.Read {
				unread++
			}
		}
		assert.Equal(t, unread, snap.Unread)
		assert.Equal(t, unread, store.UnreadCount(ctx))
	}

	snap, err := store.Insert(ctx, record("a", time.Now()))
	require.NoError(t, err)
	check(snap)

	snap, err = store.Insert(ctx, record("b", time.Now()))
	require.NoError(t, err)
	check(snap)

	snap, err = store.MarkRead(ctx, "a")
	require.NoError(t, err)
	check(snap)

	snap, err = store.Insert(ctx, record("c", time.Now()))
	require.NoError(t, err)
	check(snap)

	snap, err = store.Delete(ctx, "b")
	require.NoError(t, err)
	check(snap)

	snap, err = store.MarkAllRead(ctx)
	require.NoError(t, err)
	check(snap)
}

func TestPayloadRoundTrip(t *testing.T) {
	store := openTestStore(t, 0)
	ctx := context.Background()

	rec := record("n1", time.Now())
	rec.Payload = map[string]interface{}{"url": "/inbox", "type": "test"}

	snap, err := store.Insert(ctx, rec)
	require.NoError(t, err)
	require.Len(t, snap.Records, 1)
	assert.Equal(t, "/inbox", snap.Records[0].Payload["url"])
}

// When the database is unavailable, reads degrade to an empty result instead
// of failing the caller.
func TestReadsDegradeWhenDatabaseUnavailable(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), 0)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = store.Insert(ctx, record("n1", time.Now()))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	snap := store.List(ctx)
	assert.Empty(t, snap.Records)
	assert.Equal(t, 0, snap.Unread)
	assert.Equal(t, 0, store.UnreadCount(ctx))
}

// Two contexts writing to the same database file must not lose updates.
func TestConcurrentWritersAcrossConnections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	first, err := Open(path, 0)
	require.NoError(t, err)
	defer func() { _ = first.Close() }()

	second, err := Open(path, 0)
	require.NoError(t, err)
	defer func() { _ = second.Close() }()

	_, err = first.Insert(ctx, record("n1", time.Now()))
	require.NoError(t, err)
	_, err = second.Insert(ctx, record("n2", time.Now()))
	require.NoError(t, err)

	_, err = second.MarkRead(ctx, "n1")
	require.NoError(t, err)

	snap := first.List(ctx)
	require.Len(t, snap.Records, 2)
	assert.Equal(t, 1, snap.Unread)
}
