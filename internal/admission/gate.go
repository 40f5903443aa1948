// Package admission bounds the number of concurrent transcode jobs.
package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/michaeldallariva/NexusM-sub001/internal/log"
	"github.com/michaeldallariva/NexusM-sub001/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// DefaultWait is how long a request may queue for a slot.
const DefaultWait = 30 * time.Second

// ErrBusy means every slot stayed taken for the whole wait. Retryable.
var ErrBusy = errors.New("server busy: no transcode slot available")

// Reason labels for rejections. Lowercase for stable PromQL.
type Reason string

const (
	ReasonTimeout   Reason = "timeout"
	ReasonCancelled Reason = "cancelled"
)

// Release returns a slot. Calling it more than once is a no-op.
type Release func()

// Gate is a counting semaphore with a bounded wait.
type Gate struct {
	sem    *semaphore.Weighted
	max    int
	wait   time.Duration
	inUse  atomic.Int64
	logger zerolog.Logger
}

// NewGate creates a gate with max slots. wait <= 0 uses DefaultWait.
func NewGate(max int, wait time.Duration) *Gate {
	if max <= 0 {
		max = 1
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &Gate{
		sem:    semaphore.NewWeighted(int64(max)),
		max:    max,
		wait:   wait,
		logger: log.WithComponent("admission"),
	}
}

// Acquire takes a slot. It tries without blocking first and otherwise waits up
// to the configured bound, returning ErrBusy on timeout or ctx's error when
// the caller gave up first.
func (g *Gate) Acquire(ctx context.Context) (Release, error) {
	if g.sem.TryAcquire(1) {
		metrics.RecordAdmit("immediate", 0)
		return g.release(), nil
	}

	start := time.Now()
	g.logger.Debug().Int("capacity", g.max).Msg("all transcode slots busy, waiting")

	waitCtx, cancel := context.WithTimeout(ctx, g.wait)
	defer cancel()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			metrics.RecordReject(string(ReasonCancelled))
			return nil, ctx.Err()
		}
		metrics.RecordReject(string(ReasonTimeout))
		g.logger.Warn().
			Str("event", "admission.rejected").
			Dur("waited", time.Since(start)).
			Int("capacity", g.max).
			Msg("transcode admission timed out")
		return nil, ErrBusy
	}
	metrics.RecordAdmit("waited", time.Since(start).Seconds())
	return g.release(), nil
}

func (g *Gate) release() Release {
	g.inUse.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			g.inUse.Add(-1)
			metrics.RecordRelease()
			g.sem.Release(1)
		})
	}
}

// InUse reports how many slots are held.
func (g *Gate) InUse() int { return int(g.inUse.Load()) }

// Capacity reports the configured maximum.
func (g *Gate) Capacity() int { return g.max }
