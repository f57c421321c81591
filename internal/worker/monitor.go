package worker

import (
	"context"
	"time"

	"github.com/wb-go/wbf/zlog"
)

type stuckSweeper interface {
	FailStuck(ctx context.Context) (int, error)
}

// Monitor periodically fails tasks that stayed in processing for too long,
// e.g. because the worker that held them crashed.
type Monitor struct {
	sweeper  stuckSweeper
	interval time.Duration
	logger   *zlog.Zerolog
}

func NewMonitor(sweeper stuckSweeper, interval time.Duration, logger *zlog.Zerolog) *Monitor {
	return &Monitor{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.sweeper.FailStuck(ctx)
			if err != nil {
				m.logger.Error().Err(err).Msg("Failed to check for stuck tasks")
				continue
			}
			if n > 0 {
				m.logger.Warn().Int("count", n).Msg("Failed stuck tasks")
			}
		}
	}
}
