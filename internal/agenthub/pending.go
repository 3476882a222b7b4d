package agenthub

import (
	"errors"
	"sync"

	"github.com/owulveryck/a2ahub/internal/a2a"
)

var ErrDuplicateRequest = errors.New("request id already pending")

// pendingRequests correlates outstanding request ids with their waiter.
// Each entry is resolved or removed exactly once.
type pendingRequests struct {
	mu      sync.Mutex
	waiters map[string]chan *a2a.Message
}

func newPendingRequests() *pendingRequests {
	return &pendingRequests{waiters: make(map[string]chan *a2a.Message)}
}

// Insert registers id and returns the channel its reply will be delivered on.
func (p *pendingRequests) Insert(id string) (<-chan *a2a.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.waiters[id]; ok {
		return nil, ErrDuplicateRequest
	}
	ch := make(chan *a2a.Message, 1)
	p.waiters[id] = ch
	return ch, nil
}

// Resolve delivers reply to the waiter for id and removes the entry. It
// returns false when no entry exists.
func (p *pendingRequests) Resolve(id string, reply *a2a.Message) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}
	ch <- reply
	return true
}

// Remove drops the entry for id without delivering anything.
func (p *pendingRequests) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.waiters[id]; !ok {
		return false
	}
	delete(p.waiters, id)
	return true
}

func (p *pendingRequests) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiters)
}
