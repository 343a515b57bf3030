// Package registry caches process engines by configuration identity.
//
// A Registry hands out at most one engine per configuration resource for
// its whole lifetime. Construction is delegated to a Builder; concurrent
// first requests for the same identity share a single construction.
//
// ResolveFallback walks an ordered chain of identities, moving on only when
// a configuration resource does not exist. The engine found is registered
// under every identity tried before it, so the chain is walked once.
package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/procharness/internal/config"
	"github.com/roach88/procharness/internal/engine"
)

// Builder constructs the engine for one configuration identity. It must
// return an error matching config.ErrNotFound when the identity names no
// configuration resource.
type Builder func(ctx context.Context, configID string) (*engine.Engine, error)

// ConfigBuilder returns a Builder that loads configuration resources from
// fsys and builds engines with opts.
func ConfigBuilder(fsys fs.FS, opts ...engine.Option) Builder {
	return func(ctx context.Context, configID string) (*engine.Engine, error) {
		cfg, err := config.Load(fsys, configID)
		if err != nil {
			return nil, err
		}
		return engine.New(ctx, cfg, opts...)
	}
}

// Handle bundles an engine with the identity it was built for.
type Handle struct {
	configID string
	engine   *engine.Engine
}

// ConfigID is the identity the engine was built from. For a handle reached
// through a fallback this is the identity that actually resolved.
func (h *Handle) ConfigID() string                      { return h.configID }
func (h *Handle) Engine() *engine.Engine                { return h.engine }
func (h *Handle) Repository() *engine.RepositoryService { return h.engine.Repository() }
func (h *Handle) Runtime() *engine.RuntimeService       { return h.engine.Runtime() }
func (h *Handle) Tasks() *engine.TaskService            { return h.engine.Tasks() }
func (h *Handle) History() *engine.HistoryService       { return h.engine.History() }
func (h *Handle) Identity() *engine.IdentityService     { return h.engine.Identity() }
func (h *Handle) Management() *engine.ManagementService { return h.engine.Management() }
func (h *Handle) Forms() *engine.FormService            { return h.engine.Forms() }

// ConstructionError reports a failed engine construction.
type ConstructionError struct {
	ConfigID string
	Err      error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("build engine for %q: %v", e.ConfigID, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}

// ErrClosed is returned by Resolve after CloseAll.
var ErrClosed = errors.New("registry closed")

// Registry caches engine handles by configuration identity.
//
// Thread-safety: all methods are safe for concurrent use.
type Registry struct {
	build  Builder
	logger *slog.Logger

	group singleflight.Group

	mu      sync.Mutex
	handles map[string]*Handle // guarded by mu
	closed  bool               // guarded by mu
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. Default: a discarding logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// New creates an empty registry.
func New(build Builder, opts ...Option) *Registry {
	r := &Registry{
		build:   build,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lookup returns the cached handle for configID without building one.
func (r *Registry) Lookup(configID string) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[configID]
	return h, ok
}

// Len returns the number of cached identities, aliases included.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// Resolve returns the handle for configID, building the engine on first
// use. Every later call with the same identity returns the same handle.
// A missing configuration resource yields an error matching
// config.ErrNotFound; any other build failure is a *ConstructionError.
func (r *Registry) Resolve(ctx context.Context, configID string) (*Handle, error) {
	if h, ok, err := r.cached(configID); ok || err != nil {
		return h, err
	}

	v, err, _ := r.group.Do(configID, func() (any, error) {
		if h, ok, err := r.cached(configID); ok || err != nil {
			return h, err
		}

		// Waiters share this build, so one caller's cancellation must not fail them all.
		e, err := r.build(context.WithoutCancel(ctx), configID)
		if err != nil {
			if config.IsNotFound(err) {
				return nil, err
			}
			return nil, &ConstructionError{ConfigID: configID, Err: err}
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.closed {
			if err := e.Close(); err != nil {
				r.logger.Error("close engine", "config", configID, "error", err)
			}
			return nil, ErrClosed
		}
		h := &Handle{configID: configID, engine: e}
		r.handles[configID] = h
		r.logger.Info("engine registered", "config", configID, "engine", e.Name())
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

// ResolveFallback resolves the first identity in ids whose configuration
// exists. Only a missing configuration moves on to the next identity; any
// other failure is returned at once. The resolved handle is also cached
// under each identity tried before it.
func (r *Registry) ResolveFallback(ctx context.Context, ids ...string) (*Handle, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("resolve engine: no configuration identities given")
	}

	var missing []error
	for i, id := range ids {
		h, err := r.Resolve(ctx, id)
		if err == nil {
			r.alias(h, ids[:i])
			return h, nil
		}
		if !config.IsNotFound(err) {
			return nil, err
		}
		r.logger.Debug("configuration not found, trying next", "config", id)
		missing = append(missing, err)
	}
	return nil, fmt.Errorf("resolve engine: no configuration found: %w", errors.Join(missing...))
}

func (r *Registry) alias(h *Handle, ids []string) {
	if len(ids) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if _, ok := r.handles[id]; ok {
			continue
		}
		r.handles[id] = h
		r.logger.Info("engine registered under fallback", "config", id, "resolved", h.configID)
	}
}

func (r *Registry) cached(configID string) (*Handle, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, false, ErrClosed
	}
	h, ok := r.handles[configID]
	return h, ok, nil
}

// CloseAll closes every cached engine once and empties the registry. The
// registry refuses further Resolve calls. Close errors are joined.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.closed = true
	r.mu.Unlock()

	seen := make(map[*Handle]bool, len(handles))
	var errs []error
	for _, h := range handles {
		if seen[h] {
			continue
		}
		seen[h] = true
		if err := h.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine %q: %w", h.configID, err))
		}
	}
	r.logger.Info("registry closed", "engines", len(seen))
	return errors.Join(errs...)
}
