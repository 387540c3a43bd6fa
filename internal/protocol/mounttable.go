package protocol

import (
	"fmt"
	"sync"
)

// mountTable is the per-driver, process-wide record of live mounts, keyed by
// (host, remote share path). It implements the reference-counting contract
// of §4.5: concurrent Mount calls for the same (host, share) de-duplicate
// onto one kernel mount, and Unmount only tears down the mount when the last
// caller releases it. §9 calls this out explicitly as the re-expression of
// the teacher's static per-driver mount tables: one process-wide object,
// constructed at driver creation and guarded by a single mutex.
//
// Concurrent first-time Mount calls for the same key must not race to run
// the OS mount command twice: the first caller becomes the key's owner and
// runs the mount while every other caller blocks on acquireOrWait until the
// owner reports success or failure, instead of observing an empty table and
// mounting independently.
type mountTable struct {
	mu      sync.Mutex
	entries map[string]*mountEntry
}

type mountEntry struct {
	localPath string
	refCount  int
	// pending is non-nil while the owner's mountFn is still running, and is
	// closed exactly once when the owner finishes (success or failure).
	// Entries that are ready for use always have pending == nil.
	pending chan struct{}
}

func newMountTable() *mountTable {
	return &mountTable{entries: make(map[string]*mountEntry)}
}

// acquireOrWait returns the local mount path for key, running mountFn to
// create it if this is the first caller to see the key. Only the owner (the
// caller for whom owner is reported true) ever invokes mountFn; every other
// concurrent or subsequent caller either blocks until the owner's mount
// completes (if one is in flight) or, once an entry exists and is ready,
// returns its path immediately — both paths increment the entry's refcount
// exactly once per successful call, matching the one release() each caller
// is expected to perform later.
func (t *mountTable) acquireOrWait(key string, mountFn func() (string, error)) (path string, owner bool, err error) {
	t.mu.Lock()
	if e, ok := t.entries[key]; ok {
		e.refCount++
		pending := e.pending
		localPath := e.localPath
		t.mu.Unlock()

		if pending == nil {
			return localPath, false, nil
		}

		<-pending

		t.mu.Lock()
		e2, stillThere := t.entries[key]
		t.mu.Unlock()
		if !stillThere {
			return "", false, fmt.Errorf("protocol: mount of %s failed", key)
		}
		return e2.localPath, false, nil
	}

	entry := &mountEntry{refCount: 1, pending: make(chan struct{})}
	t.entries[key] = entry
	t.mu.Unlock()

	localPath, mountErr := mountFn()

	t.mu.Lock()
	ch := entry.pending
	entry.pending = nil
	if mountErr != nil {
		delete(t.entries, key)
	} else {
		entry.localPath = localPath
	}
	t.mu.Unlock()
	close(ch)

	if mountErr != nil {
		return "", true, mountErr
	}
	return localPath, true, nil
}

// release decrements key's refcount and reports whether it reached zero —
// the caller must actually unmount the filesystem only when this returns
// true, preserving the "N mounts / N unmounts ⇒ kernel mount exists iff
// 0 < calls_net" invariant (§8).
func (t *mountTable) release(key string) (shouldUnmount bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return false
	}
	e.refCount--
	if e.refCount <= 0 {
		delete(t.entries, key)
		return true
	}
	return false
}

// releaseByPath is the Unmount-time lookup: the driver only has the local
// mount path (what it returned from Mount), so this finds the matching key.
func (t *mountTable) releaseByPath(localPath string) (shouldUnmount bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, e := range t.entries {
		if e.localPath != localPath {
			continue
		}
		e.refCount--
		if e.refCount <= 0 {
			delete(t.entries, key)
			return true, nil
		}
		return false, nil
	}
	return false, fmt.Errorf("protocol: %s is not a tracked mount", localPath)
}

// teardownAll force-releases every tracked mount and returns their local
// paths; the drivers' teardown methods call it, and nothing on the service's
// stop path calls those.
func (t *mountTable) teardownAll() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		paths = append(paths, e.localPath)
	}
	t.entries = make(map[string]*mountEntry)
	return paths
}

func mountKey(host, remotePath string) string {
	return host + "|" + remotePath
}
