// Package server exposes the embeddable facade: Serve, Terminate,
// Schedule, AddWebSocketHandler, SetLameConnectionTimeoutSeconds, and
// GetStatsDocument.
package server

import (
	"time"

	"github.com/lattice-io/reactorweb/control"
	"github.com/lattice-io/reactorweb/internal/reactor"
)

// DefaultMaxRequestBytes bounds a single HTTP request (request line +
// headers + body) absent an explicit override.
const DefaultMaxRequestBytes = 4 << 20

// DefaultMaxMessageBytes is the default WebSocket message size cap.
const DefaultMaxMessageBytes = 64 << 20

// DefaultBacklog is the listen() backlog used when none is configured.
const DefaultBacklog = 128

// Config holds the server's pre-serve settings. Backed by a
// control.ConfigStore snapshot so SetLameConnectionTimeoutSeconds can
// reach a running reactor through the same hot-reload path
// control/config.go exposes, rather than requiring a restart.
type Config struct {
	MaxRequestBytes       int
	MaxMessageBytes       int
	Backlog               int
	LameConnectionTimeout time.Duration
	Log                   Logger
}

// DefaultConfig returns the zero-value-safe baseline every NewServer
// starts from before functional options are applied.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBytes:       DefaultMaxRequestBytes,
		MaxMessageBytes:       DefaultMaxMessageBytes,
		Backlog:               DefaultBacklog,
		LameConnectionTimeout: reactor.DefaultLameConnectionTimeout,
	}
}

// newConfigStore seeds a control.ConfigStore from a Config snapshot so
// the rest of the facade can read settings uniformly whether they came
// from startup options or a later SetConfig-style runtime update.
func newConfigStore(cfg *Config) *control.ConfigStore {
	cs := control.NewConfigStore()
	cs.SetConfig(map[string]any{
		"maxRequestBytes":       cfg.MaxRequestBytes,
		"maxMessageBytes":       cfg.MaxMessageBytes,
		"backlog":               cfg.Backlog,
		"lameConnectionTimeout": cfg.LameConnectionTimeout,
	})
	return cs
}
