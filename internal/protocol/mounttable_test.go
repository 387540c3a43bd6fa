package protocol

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMountTable_RefCounting(t *testing.T) {
	table := newMountTable()
	key := mountKey("nas1.local", "/volume1/backup")

	path, owner, err := table.acquireOrWait(key, func() (string, error) {
		return "/mnt/smb/nas1/backup", nil
	})
	assert.NoError(t, err)
	assert.True(t, owner)
	assert.Equal(t, "/mnt/smb/nas1/backup", path)

	path, owner, err = table.acquireOrWait(key, func() (string, error) {
		t.Fatal("mountFn must not run for an already-mounted key")
		return "", nil
	})
	assert.NoError(t, err)
	assert.False(t, owner)
	assert.Equal(t, "/mnt/smb/nas1/backup", path)

	// Two holders now (the owning call + the second acquire); releasing
	// twice must not trigger unmount yet.
	shouldUnmount := table.release(key)
	assert.False(t, shouldUnmount)
	shouldUnmount = table.release(key)
	assert.True(t, shouldUnmount)
}

func TestMountTable_ConcurrentFirstMountRunsOnce(t *testing.T) {
	table := newMountTable()
	key := mountKey("nas1.local", "/volume1/backup")

	var mountCalls int32
	mountFn := func() (string, error) {
		atomic.AddInt32(&mountCalls, 1)
		return "/mnt/smb/nas1/backup", nil
	}

	const callers = 8
	var wg sync.WaitGroup
	paths := make([]string, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			path, _, err := table.acquireOrWait(key, mountFn)
			assert.NoError(t, err)
			paths[i] = path
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 1, mountCalls, "concurrent first-time Mount calls for the same key must only mount once")
	for _, p := range paths {
		assert.Equal(t, "/mnt/smb/nas1/backup", p)
	}
}

func TestMountTable_ConcurrentFirstMountPropagatesFailure(t *testing.T) {
	table := newMountTable()
	key := mountKey("nas1.local", "/volume1/backup")

	mountErr := assert.AnError
	mountFn := func() (string, error) {
		return "", mountErr
	}

	const callers = 4
	var wg sync.WaitGroup
	errs := make([]error, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			_, _, err := table.acquireOrWait(key, mountFn)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.Error(t, err)
	}
	assert.Empty(t, table.entries, "a failed owning mount must not leave a stale entry behind")
}

func TestMountTable_ReleaseByPath(t *testing.T) {
	table := newMountTable()
	key := mountKey("nas1.local", "/volume1/backup")
	_, _, err := table.acquireOrWait(key, func() (string, error) {
		return "/mnt/smb/nas1/backup", nil
	})
	assert.NoError(t, err)
	_, _, err = table.acquireOrWait(key, func() (string, error) {
		t.Fatal("mountFn must not run for an already-mounted key")
		return "", nil
	})
	assert.NoError(t, err)

	shouldUnmount, err := table.releaseByPath("/mnt/smb/nas1/backup")
	assert.NoError(t, err)
	assert.False(t, shouldUnmount)

	shouldUnmount, err = table.releaseByPath("/mnt/smb/nas1/backup")
	assert.NoError(t, err)
	assert.True(t, shouldUnmount)
}

func TestMountTable_ReleaseByPath_Untracked(t *testing.T) {
	table := newMountTable()
	_, err := table.releaseByPath("/mnt/nowhere")
	assert.Error(t, err)
}

func TestMountTable_TeardownAll(t *testing.T) {
	table := newMountTable()
	_, _, err := table.acquireOrWait(mountKey("a", "/x"), func() (string, error) { return "/mnt/a", nil })
	assert.NoError(t, err)
	_, _, err = table.acquireOrWait(mountKey("b", "/y"), func() (string, error) { return "/mnt/b", nil })
	assert.NoError(t, err)

	paths := table.teardownAll()
	assert.ElementsMatch(t, []string{"/mnt/a", "/mnt/b"}, paths)
	assert.Empty(t, table.entries)
}
