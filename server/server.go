package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lattice-io/reactorweb/control"
	"github.com/lattice-io/reactorweb/internal/conn"
	"github.com/lattice-io/reactorweb/internal/handlers"
	"github.com/lattice-io/reactorweb/internal/logging"
	"github.com/lattice-io/reactorweb/internal/reactor"
	"github.com/lattice-io/reactorweb/internal/sso"
	"github.com/lattice-io/reactorweb/internal/staticfile"
	"github.com/lattice-io/reactorweb/internal/taskqueue"
)

// ErrAlreadyServing is returned by the pre-serve registration calls once
// Serve has been entered.
var ErrAlreadyServing = errors.New("server: already serving")

// Handler is the application collaborator for one registered WebSocket
// endpoint: OnConnect/OnMessage/OnClose.
type Handler = handlers.Handler

// Conn is the reverse channel a Handler uses to talk back to one
// connection: Send/CloseWithStatus.
type Conn = handlers.Conn

// Authenticator is the optional SSO collaborator consulted on upgrade.
type Authenticator = sso.Authenticator

// Credentials is whatever an Authenticator attaches to a connection.
type Credentials = sso.Credentials

// StaticResolver serves the GET-static end-to-end path.
type StaticResolver = staticfile.Resolver

// Server is the embeddable facade: one instance owns one reactor, one
// handler registry, and the pre-serve configuration that seeds both.
type Server struct {
	mu sync.Mutex

	cfg            Config
	configStore    *control.ConfigStore
	metrics        *control.MetricsRegistry
	probes         *control.DebugProbes
	handlerReg     *handlers.Registry
	authenticator  Authenticator
	staticOverride StaticResolver

	reactor      *reactor.Reactor
	started      bool
	pendingTasks []taskqueue.Task
}

// NewServer builds a Server with the given functional options applied
// over DefaultConfig.
func NewServer(opts ...Option) *Server {
	cfg := DefaultConfig()
	s := &Server{
		cfg:        *cfg,
		handlerReg: handlers.NewRegistry(),
		metrics:    control.NewMetricsRegistry(),
		probes:     control.NewDebugProbes(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.Log == nil {
		s.cfg.Log = logging.Discard{}
	}
	s.configStore = newConfigStore(&s.cfg)
	s.configStore.OnReload(s.onConfigReload)
	s.probes.RegisterProbe("metrics", func() any { return s.metrics.GetSnapshot() })
	s.probes.RegisterProbe("config", func() any { return s.configStore.GetSnapshot() })
	return s
}

// onConfigReload is the ConfigStore listener that drives live
// reconfiguration: it reads the just-published value back out of the
// store and schedules the reactor-thread mutation through Schedule,
// which buffers until Serve creates the reactor if called early.
func (s *Server) onConfigReload() {
	snap := s.configStore.GetSnapshot()
	d, ok := snap["lameConnectionTimeout"].(time.Duration)
	if !ok {
		return
	}
	s.Schedule(func() {
		s.mu.Lock()
		r := s.reactor
		s.mu.Unlock()
		if r != nil {
			r.SetLameConnectionTimeout(d)
		}
	})
}

// AddWebSocketHandler registers endpoint with its handler and
// cross-origin policy. Pre-serve only: registration is expected to
// complete before Serve begins accepting connections.
func (s *Server) AddWebSocketHandler(endpoint string, handler Handler, allowCrossOrigin bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyServing
	}
	s.handlerReg.Register(endpoint, handler, allowCrossOrigin)
	return nil
}

// SetLameConnectionTimeoutSeconds adjusts the reap timeout. It always
// updates the pre-serve config, then publishes the change through
// control.ConfigStore.SetConfig; the OnReload listener registered in
// NewServer picks it up from there and, once the reactor is running,
// schedules the mutation onto the reactor thread like any other
// cross-thread mutation.
func (s *Server) SetLameConnectionTimeoutSeconds(n int) {
	d := time.Duration(n) * time.Second
	s.mu.Lock()
	s.cfg.LameConnectionTimeout = d
	s.mu.Unlock()

	s.configStore.SetConfig(map[string]any{"lameConnectionTimeout": d})
}

// Schedule submits a task to run on the reactor thread, callable before,
// during, or after Serve starts. Tasks submitted before
// the reactor exists are buffered and flushed, in order, the moment
// Serve creates it.
func (s *Server) Schedule(task taskqueue.Task) {
	s.mu.Lock()
	r := s.reactor
	if r == nil {
		s.pendingTasks = append(s.pendingTasks, task)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	r.Schedule(task)
}

// Terminate requests orderly shutdown, safe from any thread. A no-op if
// Serve has not yet been called.
func (s *Server) Terminate() {
	s.mu.Lock()
	r := s.reactor
	s.mu.Unlock()
	if r != nil {
		r.Terminate()
	}
}

// RegisterDebugProbe exposes a named runtime introspection hook through
// DumpDebugState. Safe to call at any time; probes registered after
// Serve starts take effect immediately since DebugProbes guards its map
// with its own mutex.
func (s *Server) RegisterDebugProbe(name string, fn func() any) {
	s.probes.RegisterProbe(name, fn)
}

// DumpDebugState runs every registered probe and returns the results
// keyed by name, including the built-in "metrics" probe this Server
// registers over its own control.MetricsRegistry.
func (s *Server) DumpDebugState() map[string]any {
	return s.probes.DumpState()
}

// GetStatsDocument returns the per-connection stats table. Reactor-thread
// only: call it from within a Schedule'd task or a Handler callback.
func (s *Server) GetStatsDocument() string {
	s.mu.Lock()
	r := s.reactor
	s.mu.Unlock()
	if r == nil {
		return ""
	}
	return r.StatsDocument()
}

// Serve binds the calling goroutine's OS thread as the reactor thread and
// blocks until Terminate is observed or a listener-fatal error occurs.
// staticPath may be empty to disable static file serving entirely (every
// request resolves to 404).
func (s *Server) Serve(staticPath string, port int) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyServing
	}

	var resolver StaticResolver
	switch {
	case s.staticOverride != nil:
		resolver = s.staticOverride
	case staticPath != "":
		resolver = staticfile.NewFSResolver(staticPath)
	}

	connCfg := conn.Config{
		MaxRequestBytes: s.cfg.MaxRequestBytes,
		MaxMessageBytes: s.cfg.MaxMessageBytes,
		Handlers:        s.handlerReg,
		Static:          resolver,
		Log:             s.cfg.Log,
	}
	if s.authenticator != nil {
		connCfg.Authenticator = s.authenticator
	} else {
		connCfg.Authenticator = sso.NoopAuthenticator{}
	}

	fd, err := reactor.Listen(port, s.cfg.Backlog)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: listen port %d: %w", port, err)
	}

	r, err := reactor.New(fd, reactor.Config{
		ConnConfig:            connCfg,
		Log:                   s.cfg.Log,
		Metrics:               s.metrics,
		LameConnectionTimeout: s.cfg.LameConnectionTimeout,
	})
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: create reactor: %w", err)
	}

	s.reactor = r
	s.started = true
	pending := s.pendingTasks
	s.pendingTasks = nil
	s.mu.Unlock()

	for _, t := range pending {
		r.Schedule(t)
	}

	return r.Serve()
}
