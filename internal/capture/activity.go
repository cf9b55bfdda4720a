package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Activity errors.
var (
	ErrActivityRunning   = errors.New("capture activity already running")
	ErrActivityAbandoned = errors.New("capture activity abandoned after join timeout")
	ErrJoinTimeout       = errors.New("timed out joining capture activity")
)

// Activity runs at most one background capture loop at a time. The loop
// stops cooperatively: it must return once the running function it is
// given reports false.
type Activity struct {
	mu        sync.Mutex
	running   atomic.Bool
	done      chan struct{}
	abandoned bool
}

// Start launches loop on a new goroutine. It fails if a previous loop has
// not been joined, or if a previous Stop gave up waiting.
func (a *Activity) Start(loop func(running func() bool)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.abandoned {
		return ErrActivityAbandoned
	}
	if a.done != nil {
		select {
		case <-a.done:
		default:
			return ErrActivityRunning
		}
	}

	done := make(chan struct{})
	a.done = done
	a.running.Store(true)

	go func() {
		defer close(done)
		loop(a.running.Load)
	}()
	return nil
}

// Stop clears the run flag and waits for the loop to return. A timeout of
// zero waits forever. When the timeout expires the activity is marked
// abandoned, Stop returns ErrJoinTimeout and every later Start fails.
func (a *Activity) Stop(timeout time.Duration) error {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	if done == nil {
		return nil
	}

	a.running.Store(false)

	if timeout <= 0 {
		<-done
	} else {
		t := time.NewTimer(timeout)
		defer t.Stop()
		select {
		case <-done:
		case <-t.C:
			a.mu.Lock()
			a.abandoned = true
			a.mu.Unlock()
			return ErrJoinTimeout
		}
	}

	a.mu.Lock()
	if a.done == done {
		a.done = nil
	}
	a.mu.Unlock()
	return nil
}

// Alive reports whether a loop is currently running.
func (a *Activity) Alive() bool {
	a.mu.Lock()
	done := a.done
	a.mu.Unlock()

	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// Abandoned reports whether a Stop timed out.
func (a *Activity) Abandoned() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.abandoned
}
