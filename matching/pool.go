package matching

import "sync"

// Resettable is implemented by pooled records. Reset must return the
// record to its zero state; the pool calls it on release so a recycled
// record never leaks fields from its previous life.
type Resettable interface {
	Reset()
}

// Pool hands out reusable records from a LIFO free list and tracks the
// set of live pointers. Releasing a pointer the pool does not consider
// live (a double release, or a record it never issued) is a no-op.
type Pool[T any, PT interface {
	Resettable
	*T
}] struct {
	mu   sync.Mutex
	free []PT
	live map[PT]struct{}
}

// NewPool pre-populates the free list with size records. The pool grows
// past size on demand; size only sets the warm capacity.
func NewPool[T any, PT interface {
	Resettable
	*T
}](size int) *Pool[T, PT] {
	p := &Pool[T, PT]{
		free: make([]PT, 0, size),
		live: make(map[PT]struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.free = append(p.free, PT(new(T)))
	}
	return p
}

// Acquire pops a record from the free list, allocating a fresh one when
// the list is empty.
func (p *Pool[T, PT]) Acquire() PT {
	p.mu.Lock()
	defer p.mu.Unlock()

	var rec PT
	if n := len(p.free); n > 0 {
		rec = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		rec = PT(new(T))
	}
	p.live[rec] = struct{}{}
	return rec
}

// Release clears the record and returns it to the free list. Pointers
// that are not currently live are ignored.
func (p *Pool[T, PT]) Release(rec PT) {
	if rec == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.live[rec]; !ok {
		return
	}
	delete(p.live, rec)
	rec.Reset()
	p.free = append(p.free, rec)
}

// Available reports how many records are waiting in the free list.
func (p *Pool[T, PT]) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Allocated reports how many records are currently checked out.
func (p *Pool[T, PT]) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Capacity reports the total number of records the pool manages.
func (p *Pool[T, PT]) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free) + len(p.live)
}
