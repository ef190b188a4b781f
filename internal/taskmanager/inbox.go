package taskmanager

import "sync"

// inbox funnels work from arbitrary goroutines onto the loop goroutine.
type inbox struct {
	items []func()
	wake  chan struct{}
	mu    sync.Mutex
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (in *inbox) post(fn func()) {
	in.mu.Lock()
	in.items = append(in.items, fn)
	in.mu.Unlock()

	select {
	case in.wake <- struct{}{}:
	default:
	}
}

// take returns everything posted so far.
func (in *inbox) take() []func() {
	in.mu.Lock()
	defer in.mu.Unlock()
	items := in.items
	in.items = nil
	return items
}

func (in *inbox) len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.items)
}
