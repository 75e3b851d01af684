package session

import "sync"

// subscriber is one Subscribe registration. Views are handed over through a
// one-slot mailbox: whichever goroutine finds the subscriber idle delivers,
// and keeps delivering until the mailbox is empty.
type subscriber struct {
	id int
	fn func(View)

	mu         sync.Mutex
	next       *View
	queued     uint64
	delivering bool
}

// deliver queues v, numbered seq, and drains the mailbox unless another
// goroutine is already doing so. A view numbered at or below one already
// queued is dropped.
func (s *subscriber) deliver(v View, seq uint64) {
	s.mu.Lock()
	if seq <= s.queued {
		s.mu.Unlock()
		return
	}
	s.next, s.queued = &v, seq
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for s.next != nil {
		view := *s.next
		s.next = nil
		s.mu.Unlock()
		s.fn(view)
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}
