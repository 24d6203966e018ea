// Package world runs the single goroutine that owns world state.
package world

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Do once the loop has exited.
var ErrStopped = errors.New("world: loop is not running")

// Ticker is updated once per world tick.
type Ticker interface {
	Update()
}

// TickerFunc adapts a function to Ticker.
type TickerFunc func()

func (f TickerFunc) Update() { f() }

// World drives registered tickers from one goroutine pinned to one OS thread.
// Work that must touch world state from elsewhere goes through Do.
type World struct {
	interval time.Duration

	mu      sync.Mutex
	tickers []Ticker
	onStop  []func()

	// Tasks is the channel for work submitted from other goroutines.
	tasks   chan func()
	running atomic.Bool
	stopped chan struct{}
	ticks   atomic.Uint64
}

// New creates a World ticking every interval.
func New(interval time.Duration) *World {
	return &World{
		interval: interval,
		tasks:    make(chan func()),
		stopped:  make(chan struct{}),
	}
}

// Register adds t to the tick. Tickers run in registration order.
func (w *World) Register(t Ticker) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickers = append(w.tickers, t)
}

// OnStop adds fn to run on the loop goroutine after the last tick.
func (w *World) OnStop(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onStop = append(w.onStop, fn)
}

// Ticks returns how many ticks have completed.
func (w *World) Ticks() uint64 {
	return w.ticks.Load()
}

// Run ticks until ctx is done, then runs the OnStop hooks. It must be
// called once, and it blocks.
func (w *World) Run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.running.Store(true)
	defer func() {
		w.running.Store(false)
		close(w.stopped)
	}()

	slog.Info("World loop started", "tick", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick()
	for {
		select {
		case <-ctx.Done():
			w.stop()
			slog.Info("World loop stopped", "ticks", w.Ticks())
			return

		case task := <-w.tasks:
			task()

		case <-ticker.C:
			w.tick()
		}
	}
}

// Do runs fn on the loop goroutine and waits for it to finish.
func (w *World) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case w.tasks <- task:
	case <-w.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running reports whether Run is active.
func (w *World) Running() bool {
	return w.running.Load()
}

func (w *World) tick() {
	w.mu.Lock()
	tickers := append([]Ticker(nil), w.tickers...)
	w.mu.Unlock()

	for _, t := range tickers {
		t.Update()
	}
	w.ticks.Add(1)
}

func (w *World) stop() {
	w.mu.Lock()
	hooks := append([]func(){}, w.onStop...)
	w.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
}
