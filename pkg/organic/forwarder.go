package organic

import (
	"context"
	"time"

	"github.com/psantana5/fold-orchestrator/pkg/logging"
	"github.com/psantana5/fold-orchestrator/pkg/models"
)

// BatchSender delivers a batch to the scheduler process
type BatchSender interface {
	Send(items []models.JobRequest) error
}

// Forwarder periodically drains the intake queue into one batch
type Forwarder struct {
	queue    *Queue
	sender   BatchSender
	interval time.Duration
	logger   *logging.Logger
}

// NewForwarder creates a forwarder. The default interval is 500ms.
func NewForwarder(queue *Queue, sender BatchSender, interval time.Duration, logger *logging.Logger) *Forwarder {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Forwarder{queue: queue, sender: sender, interval: interval, logger: logger}
}

// Run forwards batches until ctx is cancelled
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.Flush()
			return
		case <-ticker.C:
			f.Flush()
		}
	}
}

// Flush sends everything queued as one batch. A batch that cannot be sent
// is dropped.
func (f *Forwarder) Flush() int {
	items := f.queue.Drain()
	if len(items) == 0 {
		return 0
	}

	if err := f.sender.Send(items); err != nil {
		f.logger.Error("Failed to forward organic batch, dropping it", map[string]interface{}{
			"items": len(items),
			"error": err.Error(),
		})
		return 0
	}

	f.logger.Info("Forwarded organic batch", map[string]interface{}{"items": len(items)})
	return len(items)
}
