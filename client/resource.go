package client

import (
	"context"
	"log/slog"
	"sync"

	"github.com/tomyedwab/nativedb/dberrors"
)

// handle holds a native handle in an explicit Open or Closed state. The zero
// value is Closed.
type handle[T ~string] struct {
	id   T
	open bool
}

func openHandle[T ~string](id T) handle[T] {
	return handle[T]{id: id, open: true}
}

// get returns the live handle, or AlreadyDisposed naming what.
func (h handle[T]) get(what string) (T, error) {
	if !h.open {
		var zero T
		return zero, dberrors.AlreadyDisposed(what)
	}
	return h.id, nil
}

func (h *handle[T]) close() {
	var zero T
	h.id = zero
	h.open = false
}

// resource is the capability every node of the ownership tree offers its
// parent during cascading teardown.
type resource interface {
	isOpen() bool
	// forceClose tears the node down on behalf of a parent. The node ends up
	// Closed even when the native call fails.
	forceClose(ctx context.Context) error
	describe() string
}

// registry is an insertion-ordered set of child nodes.
type registry[T comparable] struct {
	mu    sync.Mutex
	items []T
}

func (r *registry[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, v)
}

func (r *registry[T]) remove(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, item := range r.items {
		if item == v {
			r.items = append(r.items[:i], r.items[i+1:]...)
			return
		}
	}
}

func (r *registry[T]) snapshot() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.items))
	copy(out, r.items)
	return out
}

func (r *registry[T]) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

// closeLeaked force-closes children that were still open when their owner
// went away. Leaks are a caller error and are reported as warnings; failures
// are logged and do not stop the remaining children from closing.
func closeLeaked[T resource](ctx context.Context, logger *slog.Logger, owner, kind string, children []T) {
	var open []T
	for _, child := range children {
		if child.isOpen() {
			open = append(open, child)
		}
	}
	if len(open) == 0 {
		return
	}
	logger.Warn("Closing resources left open",
		"owner", owner,
		"kind", kind,
		"count", len(open))
	for _, child := range open {
		name := child.describe()
		if err := child.forceClose(ctx); err != nil {
			logger.Warn("Failed to close resource",
				"owner", owner,
				"resource", name,
				"error", err)
		}
	}
}
