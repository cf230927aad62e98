package persistence

import (
	"sync"
)

// writeQueue is the unbounded FIFO of pending writes. Every removal is a
// single locked operation so an entry is handed to exactly one writer.
type writeQueue struct {
	mu    sync.Mutex
	items []*WriteRequest
}

// push appends to the tail and returns the new depth
func (q *writeQueue) push(req *WriteRequest) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, req)
	return len(q.items)
}

// pop removes and returns the head, or nil when empty
func (q *writeQueue) pop() *WriteRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}
	req := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return req
}

// removeOwner extracts every request for ownerKey, keeping relative order on
// both sides.
func (q *writeQueue) removeOwner(ownerKey string) []*WriteRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var matched []*WriteRequest
	kept := q.items[:0]
	for _, req := range q.items {
		if req.OwnerKey == ownerKey {
			matched = append(matched, req)
		} else {
			kept = append(kept, req)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return matched
}

// len returns the current depth
func (q *writeQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// pending returns a copy of the queued requests in order
func (q *writeQueue) pending() []*WriteRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*WriteRequest, len(q.items))
	copy(out, q.items)
	return out
}
