package worker

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Throttle bounds one pipeline kind: at most limit runs in flight, and at most
// limit starts per window.
type Throttle struct {
	sem      chan struct{}
	limiter  *rate.Limiter
	inFlight atomic.Int32
}

// NewThrottle returns a Throttle. A zero window disables the start rate.
func NewThrottle(limit int, window time.Duration) *Throttle {
	if limit < 1 {
		limit = 1
	}
	every := rate.Inf
	if window > 0 {
		every = rate.Every(window / time.Duration(limit))
	}
	return &Throttle{
		sem:     make(chan struct{}, limit),
		limiter: rate.NewLimiter(every, limit),
	}
}

// Acquire blocks until a slot is free and the window allows another start.
func (t *Throttle) Acquire(ctx context.Context) error {
	select {
	case t.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.limiter.Wait(ctx); err != nil {
		<-t.sem
		return err
	}
	t.inFlight.Add(1)
	return nil
}

func (t *Throttle) Release() {
	t.inFlight.Add(-1)
	<-t.sem
}

func (t *Throttle) InFlight() int {
	return int(t.inFlight.Load())
}

func (t *Throttle) Limit() int {
	return cap(t.sem)
}
