// Package staticfile implements the static file resolver collaborator:
// resolving a request path to file content, with Last-Modified /
// If-Modified-Since handling for conditional GETs.
package staticfile

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Result is what Resolve returns for the connection state machine's
// Dispatch phase to turn into a response.
type Result struct {
	// Found is false when no file answers the request; the caller sends
	// a 404.
	Found bool
	// NotModified is true when the client's If-Modified-Since is still
	// fresh; the caller sends a bare 304 with no body.
	NotModified bool
	ContentType string
	ModTime     time.Time
	Body        io.ReadCloser
	Size        int64
}

// Resolver maps a request path to file content. The default
// implementation is filesystem-backed; embedding programs may supply
// their own (e.g. serving from a packed archive).
type Resolver interface {
	Resolve(path string, ifModifiedSince time.Time) (Result, error)
}

// FSResolver serves files rooted at Root, rejecting any path that
// escapes it after cleaning (no "..") and defaulting directory requests
// to index.html.
type FSResolver struct {
	Root string
}

// NewFSResolver creates a resolver rooted at root.
func NewFSResolver(root string) *FSResolver {
	return &FSResolver{Root: root}
}

func (fr *FSResolver) Resolve(reqPath string, ifModifiedSince time.Time) (Result, error) {
	clean := filepath.Clean("/" + reqPath)
	if strings.Contains(clean, "..") {
		return Result{Found: false}, nil
	}
	full := filepath.Join(fr.Root, clean)

	info, err := os.Stat(full)
	if err != nil {
		return Result{Found: false}, nil
	}
	if info.IsDir() {
		full = filepath.Join(full, "index.html")
		info, err = os.Stat(full)
		if err != nil {
			return Result{Found: false}, nil
		}
	}

	modTime := info.ModTime().Truncate(time.Second)
	if !ifModifiedSince.IsZero() && !modTime.After(ifModifiedSince) {
		return Result{Found: true, NotModified: true, ModTime: modTime}, nil
	}

	f, err := os.Open(full)
	if err != nil {
		return Result{Found: false}, nil
	}

	return Result{
		Found:       true,
		ContentType: contentTypeFor(full),
		ModTime:     modTime,
		Body:        f,
		Size:        info.Size(),
	}, nil
}

func contentTypeFor(path string) string {
	ext := filepath.Ext(path)
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// ParseIfModifiedSince parses the HTTP-date of an If-Modified-Since
// header, returning the zero Time if absent or unparsable (treated as
// "always serve fresh").
func ParseIfModifiedSince(header string) time.Time {
	if header == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(header)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatLastModified renders t in the HTTP-date format used for both
// Last-Modified response headers and If-Modified-Since comparisons.
func FormatLastModified(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}
