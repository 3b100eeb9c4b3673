package bufferpool

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmnhat/ponddb/internal/storage"
)

// newTestPool builds a pool over a recording in-memory disk.
func newTestPool(t *testing.T, poolSize, k int) (*Manager, *storage.MemDiskManager) {
	t.Helper()

	disk := storage.NewMemDiskManager()
	return NewManager(disk, poolSize, k), disk
}

// requirePartition asserts |free_list| + |page_table| == pool_size.
func requirePartition(t *testing.T, m *Manager) {
	t.Helper()
	require.Equal(t, len(m.pages), len(m.freeList)+len(m.pageTable))
}

func TestManager_NewPagePinsAndMaps(t *testing.T) {
	pool, _ := newTestPool(t, 3, 2)

	page, err := pool.NewPage()
	require.NoError(t, err)
	require.Equal(t, storage.PageID(0), page.PageID())
	require.Equal(t, int32(1), page.PinCount())
	require.False(t, page.IsDirty())
	requirePartition(t, pool)

	fid, ok := pool.pageTable[0]
	require.True(t, ok)
	require.Same(t, page, pool.pages[fid])
}

func TestManager_BasicAllocateRead(t *testing.T) {
	pool, disk := newTestPool(t, 3, 2)

	p0, err := pool.NewPage()
	require.NoError(t, err)
	p0.Data()[0] = 0xAA

	require.True(t, pool.UnpinPage(p0.PageID(), true))

	ok, err := pool.FlushPage(p0.PageID())
	require.NoError(t, err)
	require.True(t, ok)

	require.Equal(t, 1, disk.WriteCount(p0.PageID()))
	require.Equal(t, byte(0xAA), disk.PageImage(p0.PageID())[0])

	fetched, err := pool.FetchPage(p0.PageID())
	require.NoError(t, err)
	require.Equal(t, byte(0xAA), fetched.Data()[0])
	requirePartition(t, pool)
}

func TestManager_WarmFetchIncrementsPin(t *testing.T) {
	pool, disk := newTestPool(t, 3, 2)

	p0, err := pool.NewPage()
	require.NoError(t, err)

	again, err := pool.FetchPage(p0.PageID())
	require.NoError(t, err)
	require.Same(t, p0, again)
	require.Equal(t, int32(2), p0.PinCount())

	// Resident fetch does no disk I/O and never evicts.
	require.Equal(t, 0, disk.ReadCount(p0.PageID()))
}

func TestManager_EvictionOrderAndCleanVictim(t *testing.T) {
	pool, disk := newTestPool(t, 3, 2)

	var pids []storage.PageID
	for i := 0; i < 3; i++ {
		p, err := pool.NewPage()
		require.NoError(t, err)
		pids = append(pids, p.PageID())
	}
	for _, pid := range pids {
		require.True(t, pool.UnpinPage(pid, false))
	}

	// Fourth page: p0 is the earliest fifo-class frame, so it goes.
	p3, err := pool.NewPage()
	require.NoError(t, err)
	require.Equal(t, storage.PageID(3), p3.PageID())
	requirePartition(t, pool)

	_, resident := pool.pageTable[pids[0]]
	require.False(t, resident)

	// Clean victim: no write-back happened.
	require.Equal(t, 0, disk.WriteCount(pids[0]))

	// Refetching p0 reads it from disk.
	_, err = pool.FetchPage(pids[0])
	require.NoError(t, err)
	require.Equal(t, 1, disk.ReadCount(pids[0]))
}

func TestManager_DirtyVictimFlushedExactlyOnce(t *testing.T) {
	pool, disk := newTestPool(t, 1, 2)

	p0, err := pool.NewPage()
	require.NoError(t, err)
	p0.Data()[0] = 42
	pid0 := p0.PageID()
	require.True(t, pool.UnpinPage(pid0, true))

	_, err = pool.NewPage()
	require.NoError(t, err)

	require.Equal(t, 1, disk.WriteCount(pid0))
	require.Equal(t, byte(42), disk.PageImage(pid0)[0])
}

func TestManager_PinProtectsFromEviction(t *testing.T) {
	pool, _ := newTestPool(t, 3, 2)

	var pages []*storage.Page
	for i := 0; i < 3; i++ {
		p, err := pool.NewPage()
		require.NoError(t, err)
		pages = append(pages, p)
	}
	// Capture the ids now: an evicted frame is reused for the new page.
	pid1, pid2 := pages[1].PageID(), pages[2].PageID()

	// Keep p0 pinned, release p1 and p2.
	require.True(t, pool.UnpinPage(pid1, false))
	require.True(t, pool.UnpinPage(pid2, false))

	p3, err := pool.NewPage()
	require.NoError(t, err)
	_, resident := pool.pageTable[pid1]
	require.False(t, resident, "p1 should have been evicted")

	p4, err := pool.NewPage()
	require.NoError(t, err)
	_, resident = pool.pageTable[pid2]
	require.False(t, resident, "p2 should have been evicted")

	// p0, p3, p4 are all pinned: capacity exhausted.
	_, err = pool.NewPage()
	require.ErrorIs(t, err, ErrNoFreeFrame)
	requirePartition(t, pool)

	_ = p3
	_ = p4
}

func TestManager_NewPageFailureHasNoSideEffects(t *testing.T) {
	pool, disk := newTestPool(t, 2, 2)

	for i := 0; i < 2; i++ {
		_, err := pool.NewPage()
		require.NoError(t, err)
	}

	before := len(pool.pageTable)
	_, err := pool.NewPage()
	require.ErrorIs(t, err, ErrNoFreeFrame)
	require.Equal(t, before, len(pool.pageTable))
	require.Empty(t, disk.Deallocated())
	requirePartition(t, pool)
}

func TestManager_UnpinSemantics(t *testing.T) {
	pool, _ := newTestPool(t, 3, 2)

	// Unknown page.
	require.False(t, pool.UnpinPage(99, false))

	p0, err := pool.NewPage()
	require.NoError(t, err)
	pid := p0.PageID()

	require.True(t, pool.UnpinPage(pid, false))
	// Pin count already zero.
	require.False(t, pool.UnpinPage(pid, false))

	// Dirty flag is OR-ed, not overwritten.
	_, err = pool.FetchPage(pid)
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(pid, true))
	_, err = pool.FetchPage(pid)
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(pid, false))
	require.True(t, p0.IsDirty())
}

func TestManager_FlushSemantics(t *testing.T) {
	pool, disk := newTestPool(t, 3, 2)

	// Non-resident page: not flushed, not an error.
	ok, err := pool.FlushPage(7)
	require.NoError(t, err)
	require.False(t, ok)

	p0, err := pool.NewPage()
	require.NoError(t, err)
	p0.Data()[0] = 1
	require.True(t, pool.UnpinPage(p0.PageID(), true))

	// Residency decides the return value, dirtiness does not.
	ok, err = pool.FlushPage(p0.PageID())
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, p0.IsDirty())

	ok, err = pool.FlushPage(p0.PageID())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, disk.WriteCount(p0.PageID()))
}

func TestManager_FlushAllPages(t *testing.T) {
	pool, disk := newTestPool(t, 3, 2)

	var pids []storage.PageID
	for i := 0; i < 3; i++ {
		p, err := pool.NewPage()
		require.NoError(t, err)
		p.Data()[0] = byte(i + 1)
		pids = append(pids, p.PageID())
		require.True(t, pool.UnpinPage(p.PageID(), true))
	}

	require.NoError(t, pool.FlushAllPages())
	for i, pid := range pids {
		require.Equal(t, 1, disk.WriteCount(pid))
		require.Equal(t, byte(i+1), disk.PageImage(pid)[0])
	}
}

func TestManager_DeleteSemantics(t *testing.T) {
	pool, disk := newTestPool(t, 3, 2)

	p0, err := pool.NewPage()
	require.NoError(t, err)
	pid := p0.PageID()

	// Pinned: refused.
	require.False(t, pool.DeletePage(pid))

	require.True(t, pool.UnpinPage(pid, false))
	require.True(t, pool.DeletePage(pid))

	// Frame is free again, mapping gone, id deallocated on disk.
	_, resident := pool.pageTable[pid]
	require.False(t, resident)
	requirePartition(t, pool)
	require.Equal(t, []storage.PageID{pid}, disk.Deallocated())

	// Deleting a non-resident page succeeds trivially.
	require.True(t, pool.DeletePage(pid))
	require.Equal(t, []storage.PageID{pid}, disk.Deallocated())
}

func TestManager_FlushHookRunsBeforeWrite(t *testing.T) {
	pool, disk := newTestPool(t, 1, 2)

	var hooked []storage.PageID
	pool.SetFlushHook(func(pid storage.PageID, data []byte) error {
		// The write must not have happened yet.
		require.Equal(t, 0, disk.WriteCount(pid))
		hooked = append(hooked, pid)
		return nil
	})

	p0, err := pool.NewPage()
	require.NoError(t, err)
	require.True(t, pool.UnpinPage(p0.PageID(), true))

	// Eviction flushes the dirty victim through the hook.
	_, err = pool.NewPage()
	require.NoError(t, err)
	require.Equal(t, []storage.PageID{0}, hooked)
	require.Equal(t, 1, disk.WriteCount(0))
}

func TestManager_FlushHookErrorAbortsEviction(t *testing.T) {
	pool, disk := newTestPool(t, 1, 2)

	hookErr := errors.New("log force failed")
	pool.SetFlushHook(func(storage.PageID, []byte) error { return hookErr })

	p0, err := pool.NewPage()
	require.NoError(t, err)
	pid0 := p0.PageID()
	require.True(t, pool.UnpinPage(pid0, true))

	_, err = pool.NewPage()
	require.ErrorIs(t, err, hookErr)

	// The victim stayed resident and was not written.
	_, resident := pool.pageTable[pid0]
	require.True(t, resident)
	require.Equal(t, 0, disk.WriteCount(pid0))
	requirePartition(t, pool)
}

func TestManager_PinnedNeverEvictable(t *testing.T) {
	pool, _ := newTestPool(t, 4, 2)

	for i := 0; i < 4; i++ {
		p, err := pool.NewPage()
		require.NoError(t, err)
		if i%2 == 0 {
			require.True(t, pool.UnpinPage(p.PageID(), false))
		}
	}

	// Only the two unpinned frames may be evicted.
	require.Equal(t, 2, pool.replacer.Size())
	for _, p := range pool.pages {
		if p.PinCount() > 0 {
			fid := pool.pageTable[p.PageID()]
			pool.replacer.SetEvictable(fid, false) // no-op if already false
		}
	}
	require.Equal(t, 2, pool.replacer.Size())
}
