package registry

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// ownerToken records the OS thread that is allowed to use the registry,
// comparing gettid() against the thread id captured at serve() entry.
// Only Registry methods check it. Go's goroutine scheduler can in general
// migrate a goroutine across OS threads, so the reactor goroutine calls
// runtime.LockOSThread() before binding the token, pinning it to one
// thread for the lifetime of Serve.
type ownerToken struct {
	tid  int
	bound bool
}

// NewOwnerToken allocates an unbound token. Bind must be called from the
// goroutine that is about to become the reactor goroutine.
func NewOwnerToken() *ownerToken {
	return &ownerToken{}
}

// Bind captures the calling OS thread id. The caller must already hold
// runtime.LockOSThread() so the id stays valid for the reactor's lifetime.
func (t *ownerToken) Bind() {
	t.tid = unix.Gettid()
	t.bound = true
}

// assert panics — a fatal, unrecoverable contract violation — if called
// before Bind or from any thread other than the one Bind recorded.
func (t *ownerToken) assert() {
	if !t.bound {
		panic("registry: owner token used before Bind")
	}
	if tid := unix.Gettid(); tid != t.tid {
		panic(fmt.Sprintf("registry: mutating call from thread %d, owned by thread %d", tid, t.tid))
	}
}
