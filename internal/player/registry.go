package player

import "sync"

// Registry hands out one Session per session ID, creating it lazily. The
// factory is called with the registry's lock held, so it must not touch the
// registry itself.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  func(id string) *Session
}

func NewRegistry(factory func(id string) *Session) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		factory:  factory,
	}
}

// Get returns the session for id, creating it on first use.
func (r *Registry) Get(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		s = r.factory(id)
		r.sessions[id] = s
	}
	return s
}

// Peek returns the session for id without creating one.
func (r *Registry) Peek(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}
