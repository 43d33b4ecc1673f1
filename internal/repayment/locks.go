package repayment

import "sync"

// lockRegistry hands out one mutex per loan so concurrent payments against
// the same loan serialize while different loans proceed in parallel.
type lockRegistry struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{locks: make(map[int64]*sync.Mutex)}
}

func (r *lockRegistry) forLoan(loanID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[loanID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[loanID] = lock
	}
	return lock
}
