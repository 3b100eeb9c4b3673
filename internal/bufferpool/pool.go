package bufferpool

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/tmnhat/ponddb/internal/storage"
)

var (
	DefaultPoolSize  = 128
	DefaultReplacerK = 2

	ErrNoFreeFrame = errors.New("bufferpool: no free frame available (all pinned)")
)

// FlushHook runs just before a page image is written back to disk, by
// an explicit flush or by eviction of a dirty victim. It is the seam
// where a log manager would force its records.
type FlushHook func(pageID storage.PageID, data []byte) error

// Manager maps page ids to frames and orchestrates fetch, pin, flush,
// eviction and deletion. A single mutex guards all manager state,
// including calls into the replacer; disk I/O happens under it as well,
// which keeps the invariants easy to reason about at this scale.
// Per-frame latches are independent and are only ever taken after the
// manager mutex is released.
type Manager struct {
	mu        sync.Mutex
	pages     []*storage.Page
	pageTable map[storage.PageID]FrameID
	freeList  []FrameID
	replacer  Replacer
	disk      storage.DiskManager

	flushHook FlushHook
	log       logrus.FieldLogger
}

func NewManager(disk storage.DiskManager, poolSize, k int) *Manager {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if k <= 0 {
		k = DefaultReplacerK
	}

	pages := make([]*storage.Page, poolSize)
	freeList := make([]FrameID, 0, poolSize)
	for i := range pages {
		pages[i] = storage.NewPage()
		freeList = append(freeList, FrameID(i))
	}

	return &Manager{
		pages:     pages,
		pageTable: make(map[storage.PageID]FrameID),
		freeList:  freeList,
		replacer:  NewLRUKReplacer(poolSize, k),
		disk:      disk,
		log:       logrus.StandardLogger(),
	}
}

// SetLogger replaces the manager's logger. Not safe to call while the
// pool is in use.
func (m *Manager) SetLogger(log logrus.FieldLogger) {
	if log != nil {
		m.log = log
	}
}

// SetFlushHook installs a hook invoked before every write-back.
// Not safe to call while the pool is in use.
func (m *Manager) SetFlushHook(h FlushHook) { m.flushHook = h }

// PoolSize returns the number of frames.
func (m *Manager) PoolSize() int { return len(m.pages) }

// NewPage allocates a fresh page id on disk, installs it in a clean
// frame and returns the frame pinned once. Returns ErrNoFreeFrame when
// every frame is pinned.
func (m *Manager) NewPage() (*storage.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	pid := m.disk.AllocatePage()
	page := m.pages[fid]
	page.ResetData()
	page.SetPageID(pid)
	page.SetDirty(false)
	page.SetPinCount(1)
	m.pageTable[pid] = fid

	m.replacer.RecordAccess(fid, AccessUnknown)
	m.replacer.SetEvictable(fid, false)

	return page, nil
}

// FetchPage returns the frame holding pageID, reading it from disk if
// it is not resident. The pin count is incremented on both warm and
// cold fetches and the frame is marked non-evictable.
func (m *Manager) FetchPage(pageID storage.PageID) (*storage.Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if fid, ok := m.pageTable[pageID]; ok {
		page := m.pages[fid]
		page.IncPin()
		m.replacer.RecordAccess(fid, AccessUnknown)
		m.replacer.SetEvictable(fid, false)
		return page, nil
	}

	fid, err := m.acquireFrameLocked()
	if err != nil {
		return nil, err
	}

	page := m.pages[fid]
	if err := m.disk.ReadPage(pageID, page.Data()); err != nil {
		// The frame was already unmapped; hand it back untouched.
		m.freeList = append(m.freeList, fid)
		return nil, err
	}

	page.SetPageID(pageID)
	page.SetDirty(false)
	page.SetPinCount(1)
	m.pageTable[pageID] = fid

	m.replacer.RecordAccess(fid, AccessUnknown)
	m.replacer.SetEvictable(fid, false)

	return page, nil
}

// UnpinPage drops one pin from pageID. It returns false if the page is
// not resident or its pin count is already zero. The dirty flag is
// OR-ed with isDirty; when the count reaches zero the frame becomes
// evictable.
func (m *Manager) UnpinPage(pageID storage.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[pageID]
	if !ok {
		return false
	}

	page := m.pages[fid]
	if page.PinCount() <= 0 {
		return false
	}
	if page.DecPin() == 0 {
		m.replacer.SetEvictable(fid, true)
	}
	if isDirty {
		page.SetDirty(true)
	}
	return true
}

// FlushPage writes pageID's frame to disk and clears its dirty flag.
// The bool reports residency; a non-resident page is not an error.
// Flushing is not an access: replacer state is untouched.
func (m *Manager) FlushPage(pageID storage.PageID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[pageID]
	if !ok {
		return false, nil
	}
	if err := m.flushFrameLocked(fid); err != nil {
		return true, err
	}
	return true, nil
}

// FlushAllPages flushes every resident page.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, fid := range m.pageTable {
		if err := m.flushFrameLocked(fid); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage evicts pageID from the pool and deallocates it on disk.
// A non-resident page returns true; a pinned page returns false.
func (m *Manager) DeletePage(pageID storage.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	fid, ok := m.pageTable[pageID]
	if !ok {
		return true
	}

	page := m.pages[fid]
	if page.PinCount() > 0 {
		return false
	}

	delete(m.pageTable, pageID)
	m.replacer.Remove(fid)
	m.freeList = append(m.freeList, fid)

	page.SetPageID(storage.InvalidPageID)
	page.SetDirty(false)

	m.disk.DeallocatePage(pageID)
	m.log.WithField("page_id", pageID).Debug("page deleted from pool")
	return true
}

// acquireFrameLocked hands out a clean frame: first from the free list,
// otherwise by evicting a victim (flushing it first if dirty, then
// removing its page-table entry). The returned frame is unmapped and
// carries stale metadata the caller must overwrite.
func (m *Manager) acquireFrameLocked() (FrameID, error) {
	if len(m.freeList) > 0 {
		fid := m.freeList[0]
		m.freeList = m.freeList[1:]
		return fid, nil
	}

	fid, ok := m.replacer.Evict()
	if !ok {
		return 0, ErrNoFreeFrame
	}

	page := m.pages[fid]
	if page.IsDirty() {
		if err := m.flushFrameLocked(fid); err != nil {
			// Re-admit the victim so the pool stays consistent.
			m.replacer.RecordAccess(fid, AccessUnknown)
			m.replacer.SetEvictable(fid, true)
			return 0, err
		}
	}

	m.log.WithFields(logrus.Fields{
		"frame_id": fid,
		"page_id":  page.PageID(),
	}).Debug("frame evicted")

	delete(m.pageTable, page.PageID())
	return fid, nil
}

func (m *Manager) flushFrameLocked(fid FrameID) error {
	page := m.pages[fid]
	if m.flushHook != nil {
		if err := m.flushHook(page.PageID(), page.Data()); err != nil {
			return err
		}
	}
	if err := m.disk.WritePage(page.PageID(), page.Data()); err != nil {
		return err
	}
	page.SetDirty(false)
	return nil
}
