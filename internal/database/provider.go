package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Options configures a backend connection.
type Options struct {
	// URL selects the backend by scheme: sqlite://, postgres://, mysql://.
	URL          string
	MaxOpenConns int
	MaxIdleConns int
	// Logger receives migration and connection logs. Nil discards them.
	Logger *slog.Logger
}

// OpenFunc opens a migrated Store for a backend.
type OpenFunc func(ctx context.Context, opts Options) (Store, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]OpenFunc)
)

// ErrUnknownBackend is returned when no backend is registered for a URL scheme.
var ErrUnknownBackend = errors.New("unsupported database backend")

// RegisterBackend registers a backend constructor for the given URL schemes.
// Backend packages call this from init so callers only need a blank import.
func RegisterBackend(open OpenFunc, schemes ...string) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	for _, scheme := range schemes {
		backends[scheme] = open
	}
}

// Backends returns the registered URL schemes.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	schemes := make([]string, 0, len(backends))
	for s := range backends {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

// Scheme returns the scheme part of a database URL.
func Scheme(url string) string {
	scheme, _, ok := strings.Cut(url, "://")
	if !ok {
		return ""
	}
	return strings.ToLower(scheme)
}

// Open connects to the backend selected by opts.URL.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.URL == "" {
		return nil, errors.New("database URL is required")
	}
	scheme := Scheme(opts.URL)

	backendsMu.RLock()
	open, ok := backends[scheme]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownBackend, scheme, strings.Join(Backends(), ", "))
	}
	return open(ctx, opts)
}
