package tgbot

import "sync"

// queue runs jobs of each user sequentially and jobs of different users
// in parallel.
type queue struct {
	mux  sync.Mutex
	jobs map[int64][]func()
	wg   sync.WaitGroup
}

func newQueue() *queue {
	return &queue{jobs: map[int64][]func(){}}
}

// Push schedules f after previously pushed jobs of user.
func (q *queue) Push(user int64, f func()) {
	q.mux.Lock()
	defer q.mux.Unlock()

	// Key is present while worker of user is alive.
	pending, running := q.jobs[user]
	q.jobs[user] = append(pending, f)
	if running {
		return
	}
	q.wg.Add(1)
	go q.work(user)
}

func (q *queue) work(user int64) {
	defer q.wg.Done()
	for {
		q.mux.Lock()
		pending := q.jobs[user]
		if len(pending) == 0 {
			delete(q.jobs, user)
			q.mux.Unlock()
			return
		}
		f := pending[0]
		q.jobs[user] = pending[1:]
		q.mux.Unlock()

		f()
	}
}

// Wait blocks until all pushed jobs are done.
func (q *queue) Wait() {
	q.wg.Wait()
}
