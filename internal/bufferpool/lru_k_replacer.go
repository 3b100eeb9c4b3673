package bufferpool

import (
	"container/list"
	"fmt"
	"sync"
)

// FrameID names a slot in the pool's frame array, in [0, poolSize).
type FrameID int

// AccessType classifies a page access. The LRU-K policy currently does
// not distinguish them, but the hook is part of the replacer contract.
type AccessType int

const (
	AccessUnknown AccessType = iota
	AccessLookup
	AccessScan
	AccessIndex
)

// Replacer picks eviction victims among the pool's frames. Only frames
// explicitly marked evictable may be returned from Evict.
type Replacer interface {
	RecordAccess(frameID FrameID, accessType AccessType)
	SetEvictable(frameID FrameID, evictable bool)
	Evict() (FrameID, bool)
	Remove(frameID FrameID)
	Size() int
}

type lruKNode struct {
	history   []uint64 // most-recent K access timestamps, oldest first
	evictable bool
	inLRU     bool // false: fewer than K accesses, still in the fifo class
}

var _ Replacer = (*LRUKReplacer)(nil)

// LRUKReplacer evicts the frame whose k-th most recent access is
// furthest in the past. Frames with fewer than K accesses have infinite
// backward k-distance and are preferred, tie-broken by insertion order.
//
// Two ordered lists realize that rule without timestamp comparisons at
// eviction time:
//
//   - fifo: frames with < K accesses, in insertion order;
//   - lru:  frames with >= K accesses, least-recently accessed first.
//
// Evict scans fifo, then lru, for the first evictable frame.
type LRUKReplacer struct {
	mu sync.Mutex

	nodes    map[FrameID]*lruKNode
	fifo     *list.List // of FrameID
	lru      *list.List // of FrameID
	fifoElem map[FrameID]*list.Element
	lruElem  map[FrameID]*list.Element

	k        int
	capacity int
	curSize  int // frames currently evictable
	now      uint64
}

func NewLRUKReplacer(capacity, k int) *LRUKReplacer {
	if k < 1 {
		k = 1
	}
	return &LRUKReplacer{
		nodes:    make(map[FrameID]*lruKNode),
		fifo:     list.New(),
		lru:      list.New(),
		fifoElem: make(map[FrameID]*list.Element),
		lruElem:  make(map[FrameID]*list.Element),
		k:        k,
		capacity: capacity,
	}
}

// RecordAccess notes an access to frameID at the current logical time.
// Unknown frames are inserted into the fifo class; a frame reaching K
// accesses is promoted into the lru class.
func (r *LRUKReplacer) RecordAccess(frameID FrameID, _ AccessType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		node = &lruKNode{history: make([]uint64, 0, r.k)}
		r.nodes[frameID] = node
		r.fifoElem[frameID] = r.fifo.PushBack(frameID)
	}

	node.history = append(node.history, r.now)
	r.now++
	if len(node.history) > r.k {
		node.history = node.history[1:]
	}

	switch {
	case node.inLRU:
		// Refresh recency: move to the tail of the lru list.
		r.lru.MoveToBack(r.lruElem[frameID])
	case len(node.history) >= r.k:
		// Promotion: the frame now has a finite backward k-distance.
		r.fifo.Remove(r.fifoElem[frameID])
		delete(r.fifoElem, frameID)
		r.lruElem[frameID] = r.lru.PushBack(frameID)
		node.inLRU = true
	}
}

// SetEvictable toggles whether frameID may be returned from Evict and
// keeps the evictable count in sync. Out-of-range ids are programmer
// errors; unknown in-range ids are ignored.
func (r *LRUKReplacer) SetEvictable(frameID FrameID, evictable bool) {
	if int(frameID) < 0 || int(frameID) >= r.capacity {
		panic(fmt.Sprintf("bufferpool: frame id %d out of range [0, %d)", frameID, r.capacity))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok || node.evictable == evictable {
		return
	}
	node.evictable = evictable
	if evictable {
		r.curSize++
	} else {
		r.curSize--
	}
}

// Evict removes and returns the best victim, or false if no frame is
// evictable.
func (r *LRUKReplacer) Evict() (FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.curSize == 0 {
		return 0, false
	}

	for e := r.fifo.Front(); e != nil; e = e.Next() {
		fid := e.Value.(FrameID)
		if r.nodes[fid].evictable {
			r.dropLocked(fid)
			return fid, true
		}
	}
	for e := r.lru.Front(); e != nil; e = e.Next() {
		fid := e.Value.(FrameID)
		if r.nodes[fid].evictable {
			r.dropLocked(fid)
			return fid, true
		}
	}
	return 0, false
}

// Remove forgets a frame entirely, e.g. when its page is deleted.
// Removing an untracked frame is a no-op; removing a non-evictable
// frame is a programmer error.
func (r *LRUKReplacer) Remove(frameID FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[frameID]
	if !ok {
		return
	}
	if !node.evictable {
		panic(fmt.Sprintf("bufferpool: removing non-evictable frame %d", frameID))
	}
	r.dropLocked(frameID)
}

// Size returns the number of currently evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.curSize
}

func (r *LRUKReplacer) dropLocked(frameID FrameID) {
	node := r.nodes[frameID]
	if node.inLRU {
		r.lru.Remove(r.lruElem[frameID])
		delete(r.lruElem, frameID)
	} else {
		r.fifo.Remove(r.fifoElem[frameID])
		delete(r.fifoElem, frameID)
	}
	if node.evictable {
		r.curSize--
	}
	delete(r.nodes, frameID)
}
