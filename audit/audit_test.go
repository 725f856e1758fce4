package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryLogNewestFirst(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.Record(ctx, NewEntry("cii-1", "first.png", "Duplicate", "a@example.com")))
	require.NoError(t, log.Record(ctx, NewEntry("cii-2", "second.png", "Outdated", "a@example.com")))
	require.NoError(t, log.Record(ctx, NewEntry("cii-3", "third.png", "Other", "a@example.com")))

	all, err := log.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	require.Equal(t, "cii-3", all[0].ImageID)

	limited, err := log.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	require.Equal(t, "cii-2", limited[1].ImageID)
}

func TestNewEntry(t *testing.T) {
	e := NewEntry("cii-1", "first.png", "Duplicate", "a@example.com")
	require.NotEmpty(t, e.ID)
	require.False(t, e.DeletedAt.IsZero())
	require.Equal(t, "Duplicate", e.Reason)
}

func TestNewPostgresLogRejectsBadDSN(t *testing.T) {
	_, err := NewPostgresLog(context.Background(), "not a dsn ::")
	require.Error(t, err)
}
