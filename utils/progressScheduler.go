package utils

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tmsmtm/engine"
	"tmsmtm/repository"
)

type SweepStats struct {
	Checked int
	Passed  int
	Failed  int
}

// ProgressSweeper re-applies progress for every actionable task of every
// approved enrollment, so tasks pass even when no trade event triggers it.
type ProgressSweeper struct {
	Repo      repository.MTMRepository
	Tracker   *engine.Tracker
	Logger    *zap.Logger
	BatchSize int
}

func (s *ProgressSweeper) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	batch := s.BatchSize
	if batch <= 0 {
		batch = 200
	}

	var afterID uint
	for {
		rows, err := s.Repo.ListActionableProgress(ctx, afterID, batch)
		if err != nil {
			s.log().Error("[PROGRESS-SCHEDULER] Error fetching actionable progress", zap.Error(err))
			return stats
		}
		if len(rows) == 0 {
			return stats
		}

		for _, row := range rows {
			afterID = row.ID
			if ctx.Err() != nil {
				return stats
			}
			stats.Checked++
			verdict, err := s.Tracker.Reevaluate(ctx, row.EnrollmentID, row.TaskID)
			if err != nil {
				// the row may have moved since it was listed
				if !errors.Is(err, engine.ErrTaskNotActionable) {
					stats.Failed++
					s.log().Warn("[PROGRESS-SCHEDULER] apply progress failed",
						zap.Uint("enrollment_id", row.EnrollmentID),
						zap.Uint("task_id", row.TaskID),
						zap.Error(err))
				}
				continue
			}
			if verdict.Passed {
				stats.Passed++
			}
		}
		if len(rows) < batch {
			return stats
		}
	}
}

func (s *ProgressSweeper) log() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}

// InitializeProgressScheduler runs the sweep on schedule. An empty schedule
// disables it and returns a nil scheduler.
func InitializeProgressScheduler(schedule string, sweeper *ProgressSweeper) (*cron.Cron, error) {
	if schedule == "" {
		sweeper.log().Info("[PROGRESS-SCHEDULER] disabled")
		return nil, nil
	}

	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		start := time.Now()
		stats := sweeper.Sweep(context.Background())
		sweeper.log().Info("[PROGRESS-SCHEDULER] sweep finished",
			zap.Int("checked", stats.Checked),
			zap.Int("passed", stats.Passed),
			zap.Int("failed", stats.Failed),
			zap.Duration("took", time.Since(start)))
	})
	if err != nil {
		return nil, err
	}

	c.Start()
	sweeper.log().Info("[PROGRESS-SCHEDULER] started", zap.String("schedule", schedule))
	return c, nil
}
