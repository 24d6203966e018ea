package modloader

import (
	"log/slog"
	"sync"
)

// Reclaimer postpones unloading of modules whose last share was released.
// Schedule may run on any goroutine, including one currently executing code
// from the library being released; Drain must only run where no module code
// is on the stack.
type Reclaimer struct {
	mu    sync.Mutex
	queue []*Module

	afterClose func(m *Module, err error)
}

// NewReclaimer creates an empty reclaimer. afterClose, if set, runs for every
// drained module once its library has been closed (err reports a failed unload).
func NewReclaimer(afterClose func(m *Module, err error)) *Reclaimer {
	return &Reclaimer{afterClose: afterClose}
}

// Schedule queues m for unloading. It is the release hook handed to CreateFromPath.
func (r *Reclaimer) Schedule(m *Module) {
	r.mu.Lock()
	r.queue = append(r.queue, m)
	r.mu.Unlock()

	logLifecycle(slog.LevelDebug, "Scheduled module for delayed unload", "", m.path,
		slog.String("load_id", m.id.String()))
}

// Pending returns how many modules are waiting to be unloaded.
func (r *Reclaimer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Drain closes every queued library and returns how many were processed.
// Unload failures are logged and the handle is treated as leaked.
func (r *Reclaimer) Drain() int {
	r.mu.Lock()
	queue := r.queue
	r.queue = nil
	r.mu.Unlock()

	for _, m := range queue {
		err := m.reclaim()
		if err != nil {
			logLoaderError(NewLoaderError(ErrorTypeUnload, m.context, m.path, "failed to unload module library", err))
		}
		if r.afterClose != nil {
			r.afterClose(m, err)
		}
	}
	return len(queue)
}
