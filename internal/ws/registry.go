package ws

import (
	"sync"

	"github.com/google/uuid"
)

// Sender is one live connection's outbound side. TrySend must not block;
// it reports false when the connection can no longer accept delivery.
// Shutdown tears the connection down and must be safe to call repeatedly.
type Sender interface {
	TrySend(payload []byte) bool
	Shutdown()
}

// Registry maintains the live mapping from identity id to open connections
// and supports targeted pushes. Process-local only; cleared on restart.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]map[uuid.UUID]Sender
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[int64]map[uuid.UUID]Sender)}
}

// Register adds a connection to the identity's set. Re-registering the same
// key is a no-op overwrite.
func (r *Registry) Register(identityID int64, key uuid.UUID, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[identityID]
	if set == nil {
		set = make(map[uuid.UUID]Sender)
		r.conns[identityID] = set
	}
	set[key] = s
}

// Deregister removes a connection from its identity's set. Idempotent.
func (r *Registry) Deregister(identityID int64, key uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.conns[identityID]
	if set == nil {
		return
	}
	delete(set, key)
	if len(set) == 0 {
		delete(r.conns, identityID)
	}
}

// Push delivers payload to every live connection of identityID and returns
// the number of successful deliveries. Connections that refuse delivery are
// treated as dead: they are pruned and shut down, forcing the client to
// reconnect and resync rather than linger on a socket that will never
// receive another push.
func (r *Registry) Push(identityID int64, payload []byte) int {
	r.mu.RLock()
	set := r.conns[identityID]
	targets := make(map[uuid.UUID]Sender, len(set))
	for k, s := range set {
		targets[k] = s
	}
	r.mu.RUnlock()

	delivered := 0
	dead := make(map[uuid.UUID]Sender)
	for k, s := range targets {
		if s.TrySend(payload) {
			delivered++
		} else {
			dead[k] = s
		}
	}
	for k, s := range dead {
		r.Deregister(identityID, k)
		s.Shutdown()
	}
	return delivered
}

// Count reports how many connections are registered for identityID.
func (r *Registry) Count(identityID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[identityID])
}
