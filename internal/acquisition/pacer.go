package acquisition

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Pacer spaces consecutive fetch dispatches by a base delay plus random jitter
type Pacer struct {
	limiter *rate.Limiter
	jitter  time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewPacer creates a pacer. A non-positive delay disables the base spacing
// and a non-positive jitter disables the random component.
func NewPacer(delay, jitter time.Duration) *Pacer {
	p := &Pacer{
		jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if delay > 0 {
		p.limiter = rate.NewLimiter(rate.Every(delay), 1)
	}
	return p
}

// Wait blocks until the next dispatch may start or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	d := p.jitterDuration()
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pacer) jitterDuration() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rnd.Int63n(int64(p.jitter)))
}
