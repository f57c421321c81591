package queue

import (
	"context"
	"fmt"
	"time"

	"image-pipeline/internal/domain"

	"github.com/wb-go/wbf/zlog"
)

const RoleAdmin = "admin"

// Coordinator reports queue occupancy per user or across all users.
type Coordinator struct {
	counter      statusCounter
	failedWindow time.Duration
	logger       *zlog.Zerolog
	now          func() time.Time
}

func NewCoordinator(counter statusCounter, failedWindow time.Duration, logger *zlog.Zerolog) *Coordinator {
	return &Coordinator{
		counter:      counter,
		failedWindow: failedWindow,
		logger:       logger,
		now:          time.Now,
	}
}

// Status counts pending, processing and recently failed tasks. Global scope
// is reserved for the admin role.
func (c *Coordinator) Status(ctx context.Context, userID, role string, global bool) (domain.QueueStatus, error) {
	scope := userID
	if global {
		if role != RoleAdmin {
			c.logger.Warn().Str("user_id", userID).Msg("Global queue status denied")
			return domain.QueueStatus{}, domain.ErrForbidden
		}
		scope = ""
	}

	counts, err := c.counter.CountByStatus(ctx, scope, c.now().Add(-c.failedWindow))
	if err != nil {
		return domain.QueueStatus{}, fmt.Errorf("failed to count tasks: %w", err)
	}

	return domain.QueueStatus{
		Pending:    counts.Pending,
		Processing: counts.Processing,
		Failed:     counts.Failed,
		Total:      counts.Pending + counts.Processing + counts.Failed,
	}, nil
}
