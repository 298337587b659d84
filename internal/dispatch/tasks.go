package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type task struct {
	owner  int64
	cancel context.CancelFunc
}

// Tasks tracks background jobs started by users.
type Tasks struct {
	mux   sync.Mutex
	tasks map[uuid.UUID]task
	wg    sync.WaitGroup
}

// NewTasks creates new Tasks.
func NewTasks() *Tasks {
	return &Tasks{tasks: map[uuid.UUID]task{}}
}

// Start runs f in background on behalf of owner.
//
// Task context inherits values of ctx but not its cancellation.
func (t *Tasks) Start(ctx context.Context, owner int64, f func(ctx context.Context)) uuid.UUID {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.New()

	t.mux.Lock()
	t.tasks[id] = task{owner: owner, cancel: cancel}
	t.wg.Add(1)
	t.mux.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			cancel()
			t.mux.Lock()
			delete(t.tasks, id)
			t.mux.Unlock()
		}()
		f(ctx)
	}()
	return id
}

// Cancel cancels all tasks of owner and returns count of canceled.
func (t *Tasks) Cancel(owner int64) int {
	t.mux.Lock()
	defer t.mux.Unlock()

	var n int
	for _, v := range t.tasks {
		if v.owner == owner {
			v.cancel()
			n++
		}
	}
	return n
}

// Running returns count of running tasks of owner.
func (t *Tasks) Running(owner int64) int {
	t.mux.Lock()
	defer t.mux.Unlock()

	var n int
	for _, v := range t.tasks {
		if v.owner == owner {
			n++
		}
	}
	return n
}

// Shutdown cancels all tasks and waits for them to exit.
func (t *Tasks) Shutdown() {
	t.mux.Lock()
	for _, v := range t.tasks {
		v.cancel()
	}
	t.mux.Unlock()

	t.wg.Wait()
}
