package server

import (
	"time"

	"github.com/lattice-io/reactorweb/internal/logging"
)

// Logger is the leveled logging collaborator, re-exported so embedding
// programs can supply one without importing an internal package.
type Logger = logging.Logger

// Option customizes a Server before Serve is called.
type Option func(*Server)

// WithMaxRequestBytes overrides the per-request byte limit.
func WithMaxRequestBytes(n int) Option {
	return func(s *Server) { s.cfg.MaxRequestBytes = n }
}

// WithMaxMessageBytes overrides the per-WebSocket-message byte limit.
func WithMaxMessageBytes(n int) Option {
	return func(s *Server) { s.cfg.MaxMessageBytes = n }
}

// WithBacklog overrides the listen() backlog.
func WithBacklog(n int) Option {
	return func(s *Server) { s.cfg.Backlog = n }
}

// WithLameConnectionTimeout overrides the default lame-connection reap
// timeout; SetLameConnectionTimeoutSeconds changes it again after Serve
// has started.
func WithLameConnectionTimeout(d time.Duration) Option {
	return func(s *Server) { s.cfg.LameConnectionTimeout = d }
}

// WithLogger attaches a leveled logger; the default discards everything.
func WithLogger(log Logger) Option {
	return func(s *Server) { s.cfg.Log = log }
}

// WithAuthenticator attaches the optional SSO collaborator consulted
// during WebSocket upgrade.
func WithAuthenticator(auth Authenticator) Option {
	return func(s *Server) { s.authenticator = auth }
}

// WithStaticResolver overrides the default filesystem-backed static
// resolver built from the staticPath argument to Serve. Supplying one
// here lets an embedding program serve from something other than a plain
// directory (an embed.FS, a CDN-backed cache, ...).
func WithStaticResolver(resolver StaticResolver) Option {
	return func(s *Server) { s.staticOverride = resolver }
}
