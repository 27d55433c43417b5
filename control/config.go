// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store with dynamic update and hot-reload
// propagation. Backs the server's runtime-mutable settings: Server
// registers an OnReload listener (in NewServer) that reads a changed
// value back out of GetSnapshot and schedules it onto the reactor
// thread, so SetLameConnectionTimeoutSeconds takes effect without
// restarting the reactor.

package control

import (
	"sync"
)

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		config:    make(map[string]any),
		listeners: make([]func(), 0),
	}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig merges new values, making them visible to GetSnapshot, then
// dispatches reload to every registered listener.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) {
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	cs.mu.Unlock()
	cs.dispatchReload()
}

// OnReload registers a listener invoked by every subsequent SetConfig
// call. Listeners run synchronously on the SetConfig caller's goroutine;
// one that needs to touch reactor-confined state must hand off through
// its own scheduling mechanism (Server does this via Server.Schedule)
// rather than mutating that state directly here.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}

// dispatchReload invokes all listeners in registration order, outside
// the config lock so a listener calling back into GetSnapshot does not
// deadlock against the RWMutex SetConfig just released.
func (cs *ConfigStore) dispatchReload() {
	cs.mu.RLock()
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}
