package market

import (
	"context"

	"stratexec/internal/logger"
)

// Consume applies quotes from ch until ctx is done or ch is closed.
// Rejected quotes are logged and skipped.
func (b *PriceBook) Consume(ctx context.Context, ch <-chan Quote) {
	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-ch:
			if !ok {
				return
			}
			if _, err := b.Update(q); err != nil {
				logger.Warnf("[market] quote %s dropped: %v", q.Symbol, err)
			}
		}
	}
}
