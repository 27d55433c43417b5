// Package registry implements the connection registry: the mapping from
// connection handle to accept-time timestamp, and the sole owner of
// connection lifetime. A single map suffices, since the registry is only
// ever touched from the reactor goroutine — sharding a single-writer
// structure would add nothing but complexity.
package registry

import (
	"fmt"
	"time"
)

// Entry is anything the registry can own and eventually destroy. The
// registry does not know about HTTP or WebSocket state; internal/conn
// supplies a type that satisfies this.
type Entry interface {
	FD() int
	Close() error
}

// Registry owns the set of live connections, confined to a single owner
// goroutine recorded at construction. Every mutating method panics if
// called from any other goroutine: a cross-thread mutation is a contract
// violation, not a race to recover from.
type Registry[T Entry] struct {
	owner     *ownerToken
	conns     map[int]T
	acceptedAt map[int]time.Time
}

// New creates an empty registry owned by the calling goroutine's thread
// token. Call from the goroutine that will become the reactor goroutine.
func New[T Entry](owner *ownerToken) *Registry[T] {
	return &Registry[T]{
		owner:      owner,
		conns:      make(map[int]T),
		acceptedAt: make(map[int]time.Time),
	}
}

// Insert registers a newly accepted connection at the given wall-clock
// time. The registry takes ownership: removal destroys it.
func (r *Registry[T]) Insert(c T, now time.Time) {
	r.owner.assert()
	r.conns[c.FD()] = c
	r.acceptedAt[c.FD()] = now
}

// Lookup returns the connection for fd, if registered.
func (r *Registry[T]) Lookup(fd int) (T, bool) {
	r.owner.assert()
	c, ok := r.conns[fd]
	return c, ok
}

// Remove destroys and unregisters the connection for fd. It is a contract
// violation — and therefore fatal — to remove an fd the registry does not
// know about.
func (r *Registry[T]) Remove(fd int) {
	r.owner.assert()
	c, ok := r.conns[fd]
	if !ok {
		panic(fmt.Sprintf("registry: attempt to remove unknown connection fd=%d", fd))
	}
	delete(r.conns, fd)
	delete(r.acceptedAt, fd)
	_ = c.Close()
}

// AcceptedAt returns the accept-time timestamp recorded for fd.
func (r *Registry[T]) AcceptedAt(fd int) (time.Time, bool) {
	r.owner.assert()
	t, ok := r.acceptedAt[fd]
	return t, ok
}

// Range calls fn for every live connection, in unspecified order. fn must
// not mutate the registry.
func (r *Registry[T]) Range(fn func(fd int, c T, acceptedAt time.Time)) {
	r.owner.assert()
	for fd, c := range r.conns {
		fn(fd, c, r.acceptedAt[fd])
	}
}

// Len returns the number of live connections.
func (r *Registry[T]) Len() int {
	r.owner.assert()
	return len(r.conns)
}

// DestroyAll removes and closes every connection, used on shutdown.
func (r *Registry[T]) DestroyAll() {
	r.owner.assert()
	for fd, c := range r.conns {
		_ = c.Close()
		delete(r.conns, fd)
		delete(r.acceptedAt, fd)
	}
}
