package logstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_GetOrCreateAndMutate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.ndjson")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	entry := s.GetOrCreate("backup-1", "job-1")
	assert.Equal(t, "job-1", entry.JobID)

	s.AddWarning("backup-1", "job-1", "low disk space")
	s.AddError("backup-1", "job-1", "permission denied on /etc/shadow")
	s.AddProgressEntry("backup-1", "job-1", ProgressLogEntry{PercentDone: 42})

	got, ok := s.Get("backup-1")
	require.True(t, ok)
	assert.Equal(t, []string{"low disk space"}, got.Warnings)
	assert.Equal(t, []string{"permission denied on /etc/shadow"}, got.Errors)
	require.Len(t, got.Progress, 1)
	assert.Equal(t, 42.0, got.Progress[0].PercentDone)
}

func TestStore_PersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.ndjson")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	s.GetOrCreate("backup-2", "job-2")
	s.AddWarning("backup-2", "job-2", "retrying mount")
	require.NoError(t, s.Persist("backup-2"))

	reloaded, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	got, ok := reloaded.Get("backup-2")
	require.True(t, ok)
	assert.Equal(t, "job-2", got.JobID)
	assert.Equal(t, []string{"retrying mount"}, got.Warnings)
}

func TestStore_PersistAppendsRatherThanOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.ndjson")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	s.GetOrCreate("backup-a", "job-a")
	require.NoError(t, s.Persist("backup-a"))

	s.GetOrCreate("backup-b", "job-b")
	require.NoError(t, s.Persist("backup-b"))

	reloaded, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	_, ok := reloaded.Get("backup-a")
	assert.True(t, ok)
	_, ok = reloaded.Get("backup-b")
	assert.True(t, ok)
}

func TestStore_Rekey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.ndjson")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	s.GetOrCreate("job-9", "job-9")
	s.AddProgressEntry("job-9", "job-9", ProgressLogEntry{PercentDone: 50})

	s.Rekey("job-9", "snap-9")

	_, ok := s.Get("job-9")
	assert.False(t, ok)

	got, ok := s.Get("snap-9")
	require.True(t, ok)
	assert.Equal(t, "snap-9", got.Key)
	assert.Equal(t, "job-9", got.JobID)
	require.Len(t, got.Progress, 1)
}

func TestStore_Clear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs.ndjson")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)

	s.GetOrCreate("backup-1", "job-1")
	s.Clear()
	_, ok := s.Get("backup-1")
	assert.False(t, ok)
}
