package printer

import (
	"sync"
	"time"
)

// retryTask owns at most one pending delayed call. Scheduling while a call
// is pending is a no-op; Cancel invalidates a pending call even if its
// timer has already fired.
type retryTask struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	done  chan struct{} // closed when the latest scheduled call is over
}

// Schedule arranges for fn to run after delay. It reports false when a
// call is already pending.
func (r *retryTask) Schedule(delay time.Duration, fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		return false
	}

	r.gen++
	gen := r.gen
	done := make(chan struct{})
	r.done = done
	r.timer = time.AfterFunc(delay, func() {
		defer close(done)

		r.mu.Lock()
		if r.gen != gen {
			r.mu.Unlock()
			return
		}
		r.timer = nil
		r.mu.Unlock()

		fn()
	})
	return true
}

// Pending reports whether a call is waiting for its timer
func (r *retryTask) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}

// Cancel drops the pending call, if any
func (r *retryTask) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gen++
	if r.timer != nil && r.timer.Stop() {
		close(r.done)
	}
	r.timer = nil
}

// Wait blocks until no scheduled call is running or pending
func (r *retryTask) Wait() {
	for {
		r.mu.Lock()
		done := r.done
		r.mu.Unlock()
		if done == nil {
			return
		}
		<-done

		// fn may have scheduled a follow-up call
		r.mu.Lock()
		settled := r.done == done
		r.mu.Unlock()
		if settled {
			return
		}
	}
}
