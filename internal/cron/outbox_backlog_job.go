package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/creditsync/pkg/logger"
)

const defaultBacklogWarn = 1000

type outboxBacklogRepo interface {
	CountPending(ctx context.Context, maxAttempts int) (int64, error)
}

type OutboxBacklogJobParams struct {
	Logger      *logger.Logger
	Repo        outboxBacklogRepo
	Threshold   int64
	// MaxAttempts excludes rows the publisher has given up on.
	MaxAttempts int
}

// NewOutboxBacklogJob reports how many notifications are still waiting for the
// publisher and warns when the backlog crosses Threshold.
func NewOutboxBacklogJob(params OutboxBacklogJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	threshold := params.Threshold
	if threshold <= 0 {
		threshold = defaultBacklogWarn
	}
	return &outboxBacklogJob{
		logg:        params.Logger,
		repo:        params.Repo,
		threshold:   threshold,
		maxAttempts: params.MaxAttempts,
	}, nil
}

type outboxBacklogJob struct {
	logg        *logger.Logger
	repo        outboxBacklogRepo
	threshold   int64
	maxAttempts int
}

func (j *outboxBacklogJob) Name() string { return "outbox-backlog" }

func (j *outboxBacklogJob) Run(ctx context.Context) error {
	pending, err := j.repo.CountPending(ctx, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("count pending outbox rows: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":   pending,
		"threshold": j.threshold,
	})
	if pending >= j.threshold {
		j.logg.Warn(logCtx, "outbox backlog above threshold")
		return nil
	}
	j.logg.Debug(logCtx, "outbox backlog within threshold")
	return nil
}
