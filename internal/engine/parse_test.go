package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackupJSON_ToBackup(t *testing.T) {
	raw := backupJSON{
		ID:       "abc123",
		Hostname: "nas1",
		Time:     "2026-01-02T15:04:05Z",
		Paths:    []string{"/volume1/backup"},
	}
	b := raw.toBackup()
	assert.Equal(t, "abc123", b.ID)
	assert.Equal(t, "nas1", b.DeviceName)
	assert.Equal(t, BackupSuccess, b.Status)
	assert.Contains(t, b.Paths, "/volume1/backup")
}

func TestParseSummary(t *testing.T) {
	raw := map[string]interface{}{
		"snapshot_id":      "def456",
		"files_new":        float64(10),
		"files_changed":    float64(2),
		"files_unmodified": float64(100),
		"data_added":       float64(2048),
		"total_duration":   float64(5.5),
	}
	b := parseSummary(raw)
	assert.Equal(t, "def456", b.ID)
	assert.Equal(t, BackupSuccess, b.Status)
	assert.EqualValues(t, 10, b.NewFiles)
	assert.EqualValues(t, 2048, b.BytesAdded)
}

func TestParseSummary_Partial(t *testing.T) {
	raw := map[string]interface{}{
		"snapshot_id": "ghi789",
	}
	b := parseSummary(raw)
	assert.Equal(t, BackupPartial, b.Status)
}

func TestLsEntryJSON_ToFileEntry(t *testing.T) {
	raw := lsEntryJSON{
		StructType: "node",
		Path:       "/volume1/backup/file.txt",
		Type:       "file",
		Size:       1024,
		MtimeStr:   "2026-01-02T15:04:05Z",
	}
	entry := raw.toFileEntry()
	assert.Equal(t, "file", entry.Type)
	assert.EqualValues(t, 1024, entry.Size)
}
