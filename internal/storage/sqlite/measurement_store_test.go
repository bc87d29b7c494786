package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/guregu/null/v5"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pageweight/internal/tracker"
)

func openTestStore(t *testing.T) *MeasurementStore {
	t.Helper()
	store, err := Open(context.Background(), Config{DSN: ":memory:", AutoMigrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, tracker.Measurement{
		ID: "a", Timestamp: base, SiteURL: "http://dev", PageBytes: 50, TotalBytes: 350,
		CSSBytes: null.IntFrom(200), JSBytes: null.IntFrom(100), CommitID: null.StringFrom("abc"),
	}))
	require.NoError(t, store.Append(ctx, tracker.Measurement{
		ID: "b", Timestamp: base.Add(time.Hour), SiteURL: "http://dev", PageBytes: 60, TotalBytes: 60,
	}))
	require.NoError(t, store.Append(ctx, tracker.Measurement{
		ID: "c", Timestamp: base.Add(2 * time.Hour), SiteURL: "http://prod", PageBytes: 1, TotalBytes: 1,
	}))

	rows, err := store.Recent(ctx, "http://dev", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "b", rows[0].ID)
	require.False(t, rows[0].CSSBytes.Valid)
	require.False(t, rows[0].CommitID.Valid)

	require.Equal(t, "a", rows[1].ID)
	require.True(t, rows[1].Timestamp.Equal(base))
	require.Equal(t, int64(350), rows[1].TotalBytes)
	require.Equal(t, null.IntFrom(200), rows[1].CSSBytes)
	require.Equal(t, null.IntFrom(100), rows[1].JSBytes)
	require.Equal(t, null.StringFrom("abc"), rows[1].CommitID)

	limited, err := store.Recent(ctx, "http://dev", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "b", limited[0].ID)
}

func TestAppendRejectsDuplicateIDs(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	m := tracker.Measurement{ID: "dup", Timestamp: time.Now(), SiteURL: "http://dev", PageBytes: 1, TotalBytes: 1}
	require.NoError(t, store.Append(ctx, m))
	require.Error(t, store.Append(ctx, m))
}

func TestAppendEnforcesTotalCoversPage(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	err := store.Append(context.Background(), tracker.Measurement{
		ID: "bad", Timestamp: time.Now(), SiteURL: "http://dev", PageBytes: 10, TotalBytes: 5,
	})
	require.Error(t, err)
}

func TestOpenRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), Config{})
	require.Error(t, err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	require.NoError(t, openTestStore(t).Ping(context.Background()))
}
