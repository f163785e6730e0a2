package outbox

import (
	"context"
	"time"
)

// Run polls for pending writes until the context is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.ProcessPending(ctx, ""); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("outbox batch failed", "error", err)
			}
		}
	}
}

// RunJanitor periodically resets rows stuck in processing, recovering work
// lost to a worker crash mid-delivery.
func (p *Processor) RunJanitor(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.StallAfter / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := p.store.ResetStalledWrites(ctx, p.cfg.StallAfter)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("stall recovery failed", "error", err)
				continue
			}
			if n > 0 {
				p.logger.Warn("recovered stalled writes", "count", n)
			}
		}
	}
}
