package memory

import (
	"context"
	"sync"
)

// watcher decouples store mutation from consumer reads: push never blocks
// the store lock, and events drain to out in push order until ctx ends.
type watcher[T any] struct {
	out  chan T
	quit chan struct{}

	mu    sync.Mutex
	cond  *sync.Cond
	queue []T
	done  bool
}

func newWatcher[T any](ctx context.Context) *watcher[T] {
	w := &watcher[T]{
		out:  make(chan T),
		quit: make(chan struct{}),
	}
	w.cond = sync.NewCond(&w.mu)

	go w.pump()
	go func() {
		<-ctx.Done()
		w.stop()
	}()
	return w
}

func (w *watcher[T]) push(v T) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.queue = append(w.queue, v)
	w.cond.Signal()
}

func (w *watcher[T]) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	close(w.quit)
	w.cond.Signal()
}

func (w *watcher[T]) pump() {
	defer close(w.out)
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.done {
			w.cond.Wait()
		}
		if w.done {
			w.mu.Unlock()
			return
		}
		v := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		select {
		case w.out <- v:
		case <-w.quit:
			return
		}
	}
}
