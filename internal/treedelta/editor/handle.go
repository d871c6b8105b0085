package editor

import (
	"fmt"

	"github.com/gingerrexayers/treedelta-go/internal/treedelta/types"
)

// Handle identifies one open directory or file within an edit session. It is
// an arena index tagged with the generation of the slot, so a handle that
// outlives its node is detected rather than aliased to a newer one.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h is the zero Handle, which never names a node.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

func (h Handle) String() string {
	return fmt.Sprintf("#%d.%d", h.index, h.gen)
}

// deltaState tracks the text delta stream of a file node.
type deltaState int

const (
	deltaNone deltaState = iota
	deltaActive
	deltaDone
)

// node is the per-handle record a session keeps while the handle is open.
type node struct {
	kind     types.NodeKind
	parent   Handle
	path     string
	baton    Baton
	children int
	delta    deltaState
}

type slot struct {
	gen  uint32
	live bool
	node node
}

// arena owns the node records of one session. Released slots are reused
// under a new generation.
type arena struct {
	slots []slot
	free  []uint32
	count int
}

func (a *arena) alloc(n node) Handle {
	var index uint32
	if last := len(a.free) - 1; last >= 0 {
		index = a.free[last]
		a.free = a.free[:last]
	} else {
		a.slots = append(a.slots, slot{})
		index = uint32(len(a.slots) - 1)
	}

	s := &a.slots[index]
	s.gen++
	s.live = true
	s.node = n
	a.count++
	return Handle{index: index, gen: s.gen}
}

// lookup returns the node for h, or false when h is stale or unknown. The
// pointer is only valid until the next alloc.
func (a *arena) lookup(h Handle) (*node, bool) {
	if h.IsZero() || int(h.index) >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[h.index]
	if !s.live || s.gen != h.gen {
		return nil, false
	}
	return &s.node, true
}

func (a *arena) release(h Handle) {
	if _, ok := a.lookup(h); !ok {
		return
	}
	s := &a.slots[h.index]
	s.live = false
	s.node = node{}
	a.free = append(a.free, h.index)
	a.count--
}

// releaseAll retires every live handle at once.
func (a *arena) releaseAll() {
	for i := range a.slots {
		if a.slots[i].live {
			a.release(Handle{index: uint32(i), gen: a.slots[i].gen})
		}
	}
}

// live returns the number of open handles.
func (a *arena) live() int {
	return a.count
}
