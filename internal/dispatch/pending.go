package dispatch

import (
	"sync"

	"github.com/google/uuid"

	"github.com/rickgao/realtime-client/internal/model"
)

// PendingSends maps correlation tokens of locally issued sends to the callers
// waiting for their echo.
type PendingSends struct {
	mu      sync.Mutex
	pending map[string]func([]model.Event)
}

// NewPendingSends creates an empty set.
func NewPendingSends() *PendingSends {
	return &PendingSends{pending: make(map[string]func([]model.Event))}
}

// NewToken returns a fresh correlation token.
func (p *PendingSends) NewToken() string {
	return uuid.NewString()
}

// Expect registers resolve for token.
func (p *PendingSends) Expect(token string, resolve func([]model.Event)) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pending[token]; ok {
		return ErrDuplicateToken
	}
	p.pending[token] = resolve
	return nil
}

// Resolve removes token and calls its resolver. It reports whether token was pending.
func (p *PendingSends) Resolve(token string, events []model.Event) bool {
	p.mu.Lock()
	resolve, ok := p.pending[token]
	delete(p.pending, token)
	p.mu.Unlock()

	if ok {
		resolve(events)
	}
	return ok
}

// Cancel forgets token without resolving it.
func (p *PendingSends) Cancel(token string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, ok := p.pending[token]
	delete(p.pending, token)
	return ok
}

// Len returns the number of pending sends.
func (p *PendingSends) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
