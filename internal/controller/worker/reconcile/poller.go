// Package reconcile runs the reconciliation loop on a fixed schedule.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/simpix/formalization/internal/usecase"
	"github.com/simpix/formalization/pkg/logger"
)

type Poller struct {
	reconciler usecase.Reconciler
	logger     logger.Interface

	interval time.Duration
	minAge   time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

func New(reconciler usecase.Reconciler, l logger.Interface, interval, minAge time.Duration) *Poller {
	return &Poller{
		reconciler: reconciler,
		logger:     l,
		interval:   interval,
		minAge:     minAge,
	}
}

func (p *Poller) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return fmt.Errorf("Poller - Start - worker already started")
	}

	p.ctx, p.cancel = context.WithCancel(ctx)

	// Cycles run on the ticker goroutine, a slow provider round delays the
	// next tick instead of overlapping it.
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				if _, err := p.reconciler.Run(p.ctx, p.minAge); err != nil {
					p.logger.Error(err, "Poller - Start - p.reconciler.Run")
				}
			}
		}
	}()

	return nil
}

func (p *Poller) Shutdown(ctx context.Context) error {
	if !p.started.Load() {
		return nil
	}

	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})

	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return nil
	}
}
