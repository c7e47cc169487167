package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"tmsmtm/audit"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
)

type EnrollResult struct {
	EnrollmentID   uint  `json:"enrollment_id"`
	UnlockedTaskID *uint `json:"unlocked_task_id"`
}

// EnrollmentService creates enrollments and moves them through
// pending -> approved -> completed, or to rejected / dropped.
type EnrollmentService struct {
	Repo      repository.MTMRepository
	Sequencer *Sequencer
	Audit     audit.Sink
	Logger    *zap.Logger
	Now       func() time.Time
}

func (s *EnrollmentService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *EnrollmentService) sequencer() *Sequencer {
	if s.Sequencer != nil {
		return s.Sequencer
	}
	return &Sequencer{Repo: s.Repo, Audit: s.Audit, Logger: s.Logger, Now: s.Now}
}

// Enroll creates an approved enrollment and unlocks the model's first task,
// all in one transaction.
func (s *EnrollmentService) Enroll(ctx context.Context, traderID, modelID uint, tier string) (EnrollResult, error) {
	var res EnrollResult
	var unlock UnlockOutcome

	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		model, err := s.guardNew(ctx, repo, traderID, modelID)
		if err != nil {
			return err
		}
		at := s.now()
		enrollment := mtm.Enrollment{
			UserID:      traderID,
			ModelID:     modelID,
			Tier:        normalizeTier(tier, model.Tier),
			Status:      mtm.EnrollmentApproved,
			RequestedAt: at,
			ApprovedAt:  &at,
		}
		if err := s.insert(ctx, repo, &enrollment); err != nil {
			return err
		}

		unlock, err = s.sequencer().initialize(ctx, repo, enrollment.ID)
		if err != nil {
			return err
		}
		res = EnrollResult{EnrollmentID: enrollment.ID, UnlockedTaskID: unlock.TaskID}
		return nil
	})
	if err != nil {
		s.logFailure("enroll", traderID, modelID, err)
		return EnrollResult{}, err
	}

	s.record(ctx, audit.EnrollmentCreated, traderID, res.EnrollmentID, map[string]any{"model_id": modelID, "tier": tier})
	s.sequencer().recordUnlock(ctx, res.EnrollmentID, unlock, true)
	return res, nil
}

// Request records a pending enrollment that an admin must approve.
func (s *EnrollmentService) Request(ctx context.Context, traderID, modelID uint, tier string) (*mtm.Enrollment, error) {
	var enrollment mtm.Enrollment
	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		model, err := s.guardNew(ctx, repo, traderID, modelID)
		if err != nil {
			return err
		}
		enrollment = mtm.Enrollment{
			UserID:      traderID,
			ModelID:     modelID,
			Tier:        normalizeTier(tier, model.Tier),
			Status:      mtm.EnrollmentPending,
			RequestedAt: s.now(),
		}
		return s.insert(ctx, repo, &enrollment)
	})
	if err != nil {
		s.logFailure("request", traderID, modelID, err)
		return nil, err
	}
	s.record(ctx, audit.EnrollmentRequested, traderID, enrollment.ID, map[string]any{"model_id": modelID})
	return &enrollment, nil
}

// Approve moves a pending enrollment to approved and unlocks its first task.
func (s *EnrollmentService) Approve(ctx context.Context, enrollmentID, adminID uint) (EnrollResult, error) {
	var res EnrollResult
	var unlock UnlockOutcome

	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		if _, err := s.transition(ctx, repo, enrollmentID, mtm.EnrollmentPending); err != nil {
			return err
		}
		at := s.now()
		err := repo.UpdateEnrollment(ctx, enrollmentID, map[string]any{
			"status":      mtm.EnrollmentApproved,
			"approved_at": at,
			"approved_by": adminID,
		})
		if err != nil {
			return fmt.Errorf("approve enrollment: %w", err)
		}
		unlock, err = s.sequencer().initialize(ctx, repo, enrollmentID)
		if err != nil {
			return err
		}
		res = EnrollResult{EnrollmentID: enrollmentID, UnlockedTaskID: unlock.TaskID}
		return nil
	})
	if err != nil {
		return EnrollResult{}, err
	}

	s.record(ctx, audit.EnrollmentApproved, adminID, enrollmentID, nil)
	s.sequencer().recordUnlock(ctx, enrollmentID, unlock, true)
	return res, nil
}

func (s *EnrollmentService) Reject(ctx context.Context, enrollmentID, adminID uint, reason string) error {
	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		if _, err := s.transition(ctx, repo, enrollmentID, mtm.EnrollmentPending); err != nil {
			return err
		}
		return repo.UpdateEnrollment(ctx, enrollmentID, map[string]any{
			"status":           mtm.EnrollmentRejected,
			"rejected_at":      s.now(),
			"rejection_reason": strings.TrimSpace(reason),
		})
	})
	if err != nil {
		return err
	}
	s.record(ctx, audit.EnrollmentRejected, adminID, enrollmentID, map[string]any{"reason": reason})
	return nil
}

func (s *EnrollmentService) Drop(ctx context.Context, enrollmentID, actorID uint) error {
	err := s.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		if _, err := s.transition(ctx, repo, enrollmentID, mtm.EnrollmentApproved); err != nil {
			return err
		}
		return repo.UpdateEnrollment(ctx, enrollmentID, map[string]any{"status": mtm.EnrollmentDropped})
	})
	if err != nil {
		return err
	}
	s.record(ctx, audit.EnrollmentDropped, actorID, enrollmentID, nil)
	return nil
}

// guardNew rejects a second enrollment of the pair, whatever its status,
// and requires an active model.
func (s *EnrollmentService) guardNew(ctx context.Context, repo repository.MTMRepository, traderID, modelID uint) (*mtm.TradingModel, error) {
	existing, err := repo.FindEnrollment(ctx, traderID, modelID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("check existing enrollment: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyEnrolled
	}

	model, err := repo.GetModel(ctx, modelID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrModelNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	if !model.IsActive {
		return nil, ErrModelNotFound
	}
	return model, nil
}

func (s *EnrollmentService) insert(ctx context.Context, repo repository.MTMRepository, enrollment *mtm.Enrollment) error {
	if err := repo.CreateEnrollment(ctx, enrollment); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return ErrAlreadyEnrolled
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

func (s *EnrollmentService) transition(ctx context.Context, repo repository.MTMRepository, enrollmentID uint, from string) (*mtm.Enrollment, error) {
	enrollment, err := repo.GetEnrollment(ctx, enrollmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment.Status != from {
		return nil, fmt.Errorf("%w: enrollment is %s", ErrInvalidTransition, enrollment.Status)
	}
	return enrollment, nil
}

func (s *EnrollmentService) logFailure(op string, traderID, modelID uint, err error) {
	if s.Logger == nil || errors.Is(err, ErrAlreadyEnrolled) {
		return
	}
	s.Logger.Error("enrollment failed",
		zap.String("op", op),
		zap.Uint("trader_id", traderID),
		zap.Uint("model_id", modelID),
		zap.Error(err))
}

func (s *EnrollmentService) record(ctx context.Context, action string, actorID, enrollmentID uint, details map[string]any) {
	if s.Audit == nil {
		return
	}
	e := audit.NewEvent(action)
	e.ActorID = actorID
	e.EnrollmentID = enrollmentID
	e.Details = details
	s.Audit.Record(ctx, e)
}

func normalizeTier(tier, fallback string) string {
	tier = strings.ToLower(strings.TrimSpace(tier))
	if tier == "" {
		return fallback
	}
	return tier
}
