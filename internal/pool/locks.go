package pool

import "sync"

// phoneLocks is a mutex per phone number.
type phoneLocks struct {
	mux   sync.Mutex
	locks map[string]*phoneLock
}

type phoneLock struct {
	sync.Mutex
	refs int
}

func newPhoneLocks() *phoneLocks {
	return &phoneLocks{locks: map[string]*phoneLock{}}
}

// lock acquires lock of phone and returns unlock function.
func (l *phoneLocks) lock(phone string) func() {
	l.mux.Lock()
	pl, ok := l.locks[phone]
	if !ok {
		pl = &phoneLock{}
		l.locks[phone] = pl
	}
	pl.refs++
	l.mux.Unlock()

	pl.Lock()
	return func() {
		pl.Unlock()

		l.mux.Lock()
		pl.refs--
		if pl.refs == 0 {
			delete(l.locks, phone)
		}
		l.mux.Unlock()
	}
}
