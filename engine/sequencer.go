package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"tmsmtm/audit"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
)

type UnlockStatus string

// UnlockApplied means a locked or absent successor is now unlocked;
// UnlockRefreshed means the successor was already open and only its
// unlocked_at moved.
const (
	UnlockApplied        UnlockStatus = "unlocked"
	UnlockRefreshed      UnlockStatus = "refreshed"
	UnlockEndOfSequence  UnlockStatus = "end_of_sequence"
	UnlockCurrentMissing UnlockStatus = "current_missing"
)

type UnlockOutcome struct {
	Status UnlockStatus `json:"status"`
	TaskID *uint        `json:"task_id,omitempty"`
}

// Sequencer opens tasks of an enrollment one at a time, in
// (sort_order, id) order.
type Sequencer struct {
	Repo   repository.MTMRepository
	Audit  audit.Sink
	Logger *zap.Logger
	Now    func() time.Time
}

func (s *Sequencer) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Initialize unlocks the first active task of the enrollment's model.
func (s *Sequencer) Initialize(ctx context.Context, enrollmentID uint) (UnlockOutcome, error) {
	var out UnlockOutcome
	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		var err error
		out, err = s.initialize(ctx, repo, enrollmentID)
		return err
	})
	if err != nil {
		return UnlockOutcome{}, err
	}
	s.recordUnlock(ctx, enrollmentID, out, true)
	return out, nil
}

func (s *Sequencer) initialize(ctx context.Context, repo repository.MTMRepository, enrollmentID uint) (UnlockOutcome, error) {
	enrollment, err := repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return UnlockOutcome{}, ErrEnrollmentNotFound
		}
		return UnlockOutcome{}, fmt.Errorf("load enrollment: %w", err)
	}

	first, err := repo.FirstTask(ctx, enrollment.ModelID)
	if errors.Is(err, repository.ErrNotFound) {
		return UnlockOutcome{Status: UnlockEndOfSequence}, nil
	}
	if err != nil {
		return UnlockOutcome{}, fmt.Errorf("load first task: %w", err)
	}

	if err := repo.UpsertUnlocked(ctx, enrollmentID, first.ID, s.now()); err != nil {
		return UnlockOutcome{}, fmt.Errorf("unlock first task: %w", err)
	}
	taskID := first.ID
	return UnlockOutcome{Status: UnlockApplied, TaskID: &taskID}, nil
}

// UnlockNext opens the successor of currentTaskID. Repeated calls leave a
// single unlocked row behind.
func (s *Sequencer) UnlockNext(ctx context.Context, enrollmentID, currentTaskID uint) (UnlockOutcome, error) {
	var out UnlockOutcome
	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		var err error
		out, err = s.unlockNext(ctx, repo, enrollmentID, currentTaskID)
		return err
	})
	if err != nil {
		return UnlockOutcome{}, err
	}
	s.recordUnlock(ctx, enrollmentID, out, false)
	return out, nil
}

func (s *Sequencer) unlockNext(ctx context.Context, repo repository.MTMRepository, enrollmentID, currentTaskID uint) (UnlockOutcome, error) {
	if _, err := repo.GetProgress(ctx, enrollmentID, currentTaskID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.warnMissing(enrollmentID, currentTaskID)
			return UnlockOutcome{Status: UnlockCurrentMissing}, nil
		}
		return UnlockOutcome{}, fmt.Errorf("load current progress: %w", err)
	}

	current, err := repo.GetTask(ctx, currentTaskID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.warnMissing(enrollmentID, currentTaskID)
			return UnlockOutcome{Status: UnlockCurrentMissing}, nil
		}
		return UnlockOutcome{}, fmt.Errorf("load current task: %w", err)
	}

	successors, err := repo.TasksAfter(ctx, current.ModelID, current.SortOrder, current.ID)
	if err != nil {
		return UnlockOutcome{}, fmt.Errorf("list successor tasks: %w", err)
	}
	if len(successors) == 0 {
		return UnlockOutcome{Status: UnlockEndOfSequence}, nil
	}

	ids := make([]uint, 0, len(successors))
	for _, t := range successors {
		ids = append(ids, t.ID)
	}
	progress, err := repo.ProgressByTasks(ctx, enrollmentID, ids)
	if err != nil {
		return UnlockOutcome{}, fmt.Errorf("load successor progress: %w", err)
	}

	for _, next := range successors {
		p, ok := progress[next.ID]
		taskID := next.ID
		switch {
		case !ok || p.Status == mtm.ProgressLocked:
			if err := repo.UpsertUnlocked(ctx, enrollmentID, next.ID, s.now()); err != nil {
				return UnlockOutcome{}, fmt.Errorf("unlock task %d: %w", next.ID, err)
			}
			return UnlockOutcome{Status: UnlockApplied, TaskID: &taskID}, nil
		case p.Actionable():
			// Open rows keep their status; only unlocked_at moves.
			if err := repo.RefreshUnlocked(ctx, p.ID, s.now()); err != nil {
				return UnlockOutcome{}, fmt.Errorf("refresh task %d: %w", next.ID, err)
			}
			return UnlockOutcome{Status: UnlockRefreshed, TaskID: &taskID}, nil
		}
	}
	return UnlockOutcome{Status: UnlockEndOfSequence}, nil
}

func (s *Sequencer) warnMissing(enrollmentID, taskID uint) {
	if s.Logger != nil {
		s.Logger.Warn("current task progress missing",
			zap.Uint("enrollment_id", enrollmentID),
			zap.Uint("task_id", taskID))
	}
}

// recordUnlock emits task.unlocked for a newly opened task only. initial
// marks the first task of a new enrollment.
func (s *Sequencer) recordUnlock(ctx context.Context, enrollmentID uint, out UnlockOutcome, initial bool) {
	if s.Audit == nil || out.Status != UnlockApplied || out.TaskID == nil {
		return
	}
	e := audit.NewEvent(audit.TaskUnlocked)
	e.EnrollmentID = enrollmentID
	e.TaskID = *out.TaskID
	if initial {
		e.Details = map[string]any{audit.DetailInitial: true}
	}
	s.Audit.Record(ctx, e)
}
