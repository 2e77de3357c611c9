// Package model manages the shared, lazily-loaded inference model handle.
package model

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"whisperd/internal/apperr"
)

// Ref is an immutable reference to a loaded model.
type Ref struct {
	Name string
	Path string
}

// LoadFunc performs the actual model load. It is invoked at most once per
// unloaded-to-loaded transition.
type LoadFunc func(ctx context.Context) (Ref, error)

// Status is a point-in-time snapshot of the handle.
type Status struct {
	Name      string `json:"model_name"`
	Loaded    bool   `json:"loaded"`
	LoadCount int    `json:"load_count"`
}

// Handle is the single shared model instance. The first caller to observe the
// unloaded state performs the load while holding the lock; concurrent callers
// block until it finishes. A failed load leaves the handle unloaded so a
// later call may retry.
type Handle struct {
	name   string
	load   LoadFunc
	logger *zap.Logger

	mu        sync.Mutex
	ref       *Ref
	loadCount int
}

// NewHandle creates an unloaded handle for the named model.
func NewHandle(name string, load LoadFunc, logger *zap.Logger) *Handle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handle{name: name, load: load, logger: logger}
}

// Name returns the configured model name.
func (h *Handle) Name() string {
	return h.name
}

// Get returns the loaded model, loading it first if necessary.
func (h *Handle) Get(ctx context.Context) (Ref, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ref != nil {
		return *h.ref, nil
	}

	h.logger.Info("model not loaded, loading", zap.String("model", h.name))
	ref, err := h.load(ctx)
	if err != nil {
		h.logger.Error("model load failed", zap.String("model", h.name), zap.Error(err))
		return Ref{}, apperr.ModelLoad(h.name, err)
	}

	h.ref = &ref
	h.loadCount++
	h.logger.Info("model loaded",
		zap.String("model", h.name),
		zap.String("path", ref.Path),
		zap.Int("load_count", h.loadCount))
	return ref, nil
}

// IsLoaded reports whether the model is currently loaded.
func (h *Handle) IsLoaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ref != nil
}

// Unload releases the model. A later Get loads it again.
func (h *Handle) Unload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ref != nil {
		h.logger.Info("unloading model", zap.String("model", h.name))
		h.ref = nil
	}
}

// GetStatus returns a snapshot of the handle state.
func (h *Handle) GetStatus() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Status{
		Name:      h.name,
		Loaded:    h.ref != nil,
		LoadCount: h.loadCount,
	}
}
