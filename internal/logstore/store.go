package logstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Store is the Log Store (§4.7). The zero value is not usable — create
// instances with Open, which loads every previously persisted record.
type Store struct {
	mu      sync.Mutex
	path    string
	entries map[string]*BackupExecutionLog
	logger  *zap.Logger
}

// Open loads path (a newline-delimited JSON file; a missing file yields an
// empty Store, and the file is first written by Persist) and
// returns a ready Store. Each line is one persisted BackupExecutionLog,
// loaded in full on startup per §4.7.
func Open(path string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		path:    path,
		entries: make(map[string]*BackupExecutionLog),
		logger:  logger.Named("logstore"),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("logstore: failed to create directory for %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("logstore: failed to open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry BackupExecutionLog
		if err := json.Unmarshal(line, &entry); err != nil {
			s.logger.Warn("skipping corrupted log record", zap.Error(err))
			continue
		}
		cp := entry
		s.entries[entry.Key] = &cp
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("logstore: failed to read %s: %w", path, err)
	}

	return s, nil
}

// GetOrCreate returns the in-memory entry for key (a backup id, or a job id
// when no snapshot was produced), creating it with jobID recorded if absent.
func (s *Store) GetOrCreate(key, jobID string) *BackupExecutionLog {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		return entry
	}
	now := time.Now().UTC()
	entry := &BackupExecutionLog{Key: key, JobID: jobID, CreatedAt: now, UpdatedAt: now}
	s.entries[key] = entry
	return entry
}

// Get returns the entry for key, if any.
func (s *Store) Get(key string) (BackupExecutionLog, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[key]
	if !ok {
		return BackupExecutionLog{}, false
	}
	return *entry, true
}

// AddWarning appends a warning line to key's entry, creating it if absent.
func (s *Store) AddWarning(key, jobID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.getOrCreateLocked(key, jobID)
	entry.Warnings = append(entry.Warnings, message)
	entry.UpdatedAt = time.Now().UTC()
}

// AddError appends an error line to key's entry, creating it if absent.
func (s *Store) AddError(key, jobID, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.getOrCreateLocked(key, jobID)
	entry.Errors = append(entry.Errors, message)
	entry.UpdatedAt = time.Now().UTC()
}

// AddProgressEntry appends a ProgressLogEntry to key's entry, creating it if
// absent.
func (s *Store) AddProgressEntry(key, jobID string, entry ProgressLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.getOrCreateLocked(key, jobID)
	log.Progress = append(log.Progress, entry)
	log.UpdatedAt = time.Now().UTC()
}

func (s *Store) getOrCreateLocked(key, jobID string) *BackupExecutionLog {
	if entry, ok := s.entries[key]; ok {
		return entry
	}
	now := time.Now().UTC()
	entry := &BackupExecutionLog{Key: key, JobID: jobID, CreatedAt: now, UpdatedAt: now}
	s.entries[key] = entry
	return entry
}

// Rekey moves the in-memory entry at oldKey to newKey, used when a backup's
// snapshot id only becomes known after progress was already recorded under
// the job id (§4.1 step 10: the log is persisted under snapshot_id on
// success, but nothing knows the snapshot id until the engine stream ends).
// A no-op if oldKey has no entry or the keys are equal.
func (s *Store) Rekey(oldKey, newKey string) {
	if oldKey == newKey {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[oldKey]
	if !ok {
		return
	}
	entry.Key = newKey
	s.entries[newKey] = entry
	delete(s.entries, oldKey)
}

// Persist appends key's current entry to durable storage as a single JSON
// line (§4.7). Called once on job finalization. The append itself is made
// durable via the same temp-file-then-rename pattern as configstore.commit,
// rewritten here to splice one new line onto the existing file rather than
// replace it wholesale.
func (s *Store) Persist(key string) error {
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("logstore: no entry for key %s", key)
	}
	cp := *entry
	s.mu.Unlock()

	line, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("logstore: failed to marshal entry %s: %w", key, err)
	}
	line = append(line, '\n')

	return s.appendAtomic(line)
}

// appendAtomic rewrites the log file with the existing contents plus one new
// line, committed via temp-file-then-rename so a crash mid-write never
// corrupts the existing history.
func (s *Store) appendAtomic(line []byte) error {
	dir := filepath.Dir(s.path)

	existing, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("logstore: failed to read %s: %w", s.path, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("logstore: failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	ok := false
	defer func() {
		if !ok {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(existing); err != nil {
		tmp.Close()
		return fmt.Errorf("logstore: failed to write existing contents: %w", err)
	}
	if _, err := tmp.Write(line); err != nil {
		tmp.Close()
		return fmt.Errorf("logstore: failed to write new entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("logstore: failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("logstore: failed to commit %s: %w", s.path, err)
	}
	ok = true
	return nil
}

// Clear removes every in-memory entry without touching durable storage.
// Test-only, per §4.7.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*BackupExecutionLog)
}
