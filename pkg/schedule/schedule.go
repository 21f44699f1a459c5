// Package schedule evaluates a cron expression on a timer and enqueues a
// synthetic build_index request when it comes due, so operators don't have
// to poll the front end to keep the index fresh.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/zerosumquant/claude-extractor-core/pkg/logger"
)

// DefaultTick is how often the scheduler checks whether expr is due.
const DefaultTick = 30 * time.Second

// Scheduler periodically evaluates a five-field cron expression and calls
// trigger when it's due. It runs on its own goroutine but never touches
// the store, mapped files, or block indexes directly; it only enqueues.
type Scheduler struct {
	expr    string
	tick    time.Duration
	gx      gronx.Gronx
	trigger func(ctx context.Context)
}

// New builds a Scheduler for expr, evaluated every tick. If expr is empty
// the scheduler is a no-op when Run is called.
func New(expr string, tick time.Duration, trigger func(ctx context.Context)) (*Scheduler, error) {
	if expr != "" && !gronx.IsValid(expr) {
		return nil, fmt.Errorf("schedule: invalid cron expression %q", expr)
	}
	if tick <= 0 {
		tick = DefaultTick
	}
	return &Scheduler{expr: expr, tick: tick, gx: gronx.New(), trigger: trigger}, nil
}

// Run blocks, checking expr every tick, until ctx is cancelled. Disabled
// (returns immediately) when no expression was configured.
func (s *Scheduler) Run(ctx context.Context) {
	if s.expr == "" {
		return
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := s.gx.IsDue(s.expr, time.Now())
			if err != nil {
				logger.WarnCF("schedule", "cron evaluation failed", map[string]any{"expr": s.expr, "error": err.Error()})
				continue
			}
			if due {
				s.trigger(ctx)
			}
		}
	}
}
