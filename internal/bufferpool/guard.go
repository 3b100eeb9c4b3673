package bufferpool

import (
	"sync"

	"github.com/tmnhat/ponddb/internal/storage"
)

// PageGuard ties one logical pin to a scope. Go has no destructors, so
// the caller defers Drop; Drop is idempotent and a moved-from guard
// drops as a no-op, which makes release safe along every exit path.
//
// Guards are handles, not values: copy the pointer, never the struct.
type PageGuard struct {
	mgr   *Manager
	page  *storage.Page
	dirty bool
}

// PageID returns the guarded page's id, or InvalidPageID after Drop.
func (g *PageGuard) PageID() storage.PageID {
	if g.page == nil {
		return storage.InvalidPageID
	}
	return g.page.PageID()
}

// Data returns the page bytes for reading.
func (g *PageGuard) Data() []byte { return g.page.Data() }

// DataMut returns the page bytes for writing and marks the pin dirty,
// so the unpin at Drop records the modification.
func (g *PageGuard) DataMut() []byte {
	g.dirty = true
	return g.page.Data()
}

// Drop releases the pin. Calling it again, or on a moved-from guard,
// does nothing.
func (g *PageGuard) Drop() {
	if g.page != nil {
		g.mgr.UnpinPage(g.page.PageID(), g.dirty)
	}
	g.page = nil
	g.mgr = nil
	g.dirty = false
}

// MoveFrom drops g's current contents, then takes ownership from src,
// leaving src empty. It mirrors move-assignment: after the call src's
// Drop is a no-op and g owns the single pin.
func (g *PageGuard) MoveFrom(src *PageGuard) {
	if g == src {
		return
	}
	g.Drop()
	g.mgr, g.page, g.dirty = src.mgr, src.page, src.dirty
	src.mgr, src.page, src.dirty = nil, nil, false
}

// ReadGuard is a PageGuard that also holds the frame's read latch.
type ReadGuard struct {
	guard PageGuard
}

func (g *ReadGuard) PageID() storage.PageID { return g.guard.PageID() }

// Data returns the page bytes. The read latch is held until Drop, so
// the bytes are stable for the guard's lifetime.
func (g *ReadGuard) Data() []byte { return g.guard.Data() }

// Drop releases the read latch, then the pin. Idempotent.
func (g *ReadGuard) Drop() {
	if g.guard.page != nil {
		g.guard.page.RUnlatch()
	}
	g.guard.Drop()
}

// MoveFrom transfers latch and pin ownership from src, dropping g's
// current contents first.
func (g *ReadGuard) MoveFrom(src *ReadGuard) {
	if g == src {
		return
	}
	g.Drop()
	g.guard.MoveFrom(&src.guard)
}

// WriteGuard is a PageGuard that also holds the frame's write latch.
// Drop and MoveFrom serialise through an internal mutex so a transfer
// racing a drop cannot release the latch twice.
type WriteGuard struct {
	mu    sync.Mutex
	guard PageGuard
}

func (g *WriteGuard) PageID() storage.PageID { return g.guard.PageID() }

func (g *WriteGuard) Data() []byte { return g.guard.Data() }

// DataMut returns the page bytes for writing and marks the pin dirty.
func (g *WriteGuard) DataMut() []byte { return g.guard.DataMut() }

// Drop releases the write latch, then the pin. Idempotent.
func (g *WriteGuard) Drop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropLocked()
}

func (g *WriteGuard) dropLocked() {
	if g.guard.page != nil {
		g.guard.page.WUnlatch()
	}
	g.guard.Drop()
}

// MoveFrom transfers latch and pin ownership from src, dropping g's
// current contents first.
func (g *WriteGuard) MoveFrom(src *WriteGuard) {
	if g == src {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	src.mu.Lock()
	defer src.mu.Unlock()

	g.dropLocked()
	g.guard.MoveFrom(&src.guard)
}

// FetchPageBasic fetches pageID and wraps the pin in a PageGuard.
func (m *Manager) FetchPageBasic(pageID storage.PageID) (*PageGuard, error) {
	page, err := m.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	return &PageGuard{mgr: m, page: page}, nil
}

// FetchPageRead fetches pageID and acquires its read latch. The latch
// is taken after the manager mutex is released, so a blocked latch
// never holds up the pool.
func (m *Manager) FetchPageRead(pageID storage.PageID) (*ReadGuard, error) {
	page, err := m.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	page.RLatch()
	return &ReadGuard{guard: PageGuard{mgr: m, page: page}}, nil
}

// FetchPageWrite fetches pageID and acquires its write latch.
func (m *Manager) FetchPageWrite(pageID storage.PageID) (*WriteGuard, error) {
	page, err := m.FetchPage(pageID)
	if err != nil {
		return nil, err
	}
	page.WLatch()
	return &WriteGuard{guard: PageGuard{mgr: m, page: page}}, nil
}

// NewPageGuarded allocates a new page and wraps the pin in a PageGuard.
func (m *Manager) NewPageGuarded() (*PageGuard, error) {
	page, err := m.NewPage()
	if err != nil {
		return nil, err
	}
	return &PageGuard{mgr: m, page: page}, nil
}
