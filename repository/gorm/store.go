package gormrepository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"tmsmtm/database"
	"tmsmtm/models"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

var _ repository.MTMRepository = (*Store)(nil)

// WithTx runs fn inside a transaction. Nested calls become savepoints.
func (s *Store) WithTx(ctx context.Context, fn func(repo repository.MTMRepository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return repository.ErrNotFound
	}
	return err
}

func normalizeLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

// --- users & reference data ------------------------------------------------

func (s *Store) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ? AND is_deleted = ?", id, false).First(&user).Error; err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

func (s *Store) GetModel(ctx context.Context, id uint) (*mtm.TradingModel, error) {
	var item mtm.TradingModel
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) GetTask(ctx context.Context, id uint) (*mtm.Task, error) {
	var item mtm.Task
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) ListTasks(ctx context.Context, modelID uint) ([]mtm.Task, error) {
	var items []mtm.Task
	err := s.db.WithContext(ctx).
		Where("model_id = ? AND is_active = ?", modelID, true).
		Order("sort_order asc, id asc").
		Find(&items).Error
	return items, err
}

func (s *Store) FirstTask(ctx context.Context, modelID uint) (*mtm.Task, error) {
	var item mtm.Task
	err := s.db.WithContext(ctx).
		Where("model_id = ? AND is_active = ?", modelID, true).
		Order("sort_order asc, id asc").
		First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// TasksAfter returns the active tasks that follow (sortOrder, taskID) in the
// model's sequence.
func (s *Store) TasksAfter(ctx context.Context, modelID uint, sortOrder int, taskID uint) ([]mtm.Task, error) {
	var items []mtm.Task
	err := s.db.WithContext(ctx).
		Where("model_id = ? AND is_active = ?", modelID, true).
		Where("(sort_order > ? OR (sort_order = ? AND id > ?))", sortOrder, sortOrder, taskID).
		Order("sort_order asc, id asc").
		Find(&items).Error
	return items, err
}

// --- enrollments ------------------------------------------------------------

func (s *Store) GetEnrollment(ctx context.Context, id uint) (*mtm.Enrollment, error) {
	var item mtm.Enrollment
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// FindEnrollment looks for any enrollment of the pair, soft-deleted rows
// included, since the unique index covers them too.
func (s *Store) FindEnrollment(ctx context.Context, userID, modelID uint) (*mtm.Enrollment, error) {
	var item mtm.Enrollment
	err := s.db.WithContext(ctx).Unscoped().
		Where("user_id = ? AND model_id = ?", userID, modelID).
		First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) CreateEnrollment(ctx context.Context, item *mtm.Enrollment) error {
	if item == nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(item).Error; err != nil {
		if database.IsDuplicateKey(err) {
			return fmt.Errorf("%w: %v", repository.ErrDuplicate, err)
		}
		return err
	}
	return nil
}

func (s *Store) UpdateEnrollment(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&mtm.Enrollment{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ListEnrollments(ctx context.Context, params repository.ListEnrollmentsParams) ([]mtm.Enrollment, int64, error) {
	query := s.db.WithContext(ctx).Model(&mtm.Enrollment{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.ModelID != nil {
		query = query.Where("model_id = ?", *params.ModelID)
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	query = query.Session(&gorm.Session{})
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []mtm.Enrollment
	err := query.Preload("TradingModel").
		Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, total, err
}

// --- task progress ----------------------------------------------------------

func (s *Store) GetProgress(ctx context.Context, enrollmentID, taskID uint) (*mtm.TaskProgress, error) {
	var item mtm.TaskProgress
	err := s.db.WithContext(ctx).
		Where("enrollment_id = ? AND task_id = ?", enrollmentID, taskID).
		First(&item).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) ListProgress(ctx context.Context, enrollmentID uint) ([]mtm.TaskProgress, error) {
	var items []mtm.TaskProgress
	err := s.db.WithContext(ctx).
		Preload("Task").
		Where("enrollment_id = ?", enrollmentID).
		Order("id asc").
		Find(&items).Error
	return items, err
}

func (s *Store) ProgressByTasks(ctx context.Context, enrollmentID uint, taskIDs []uint) (map[uint]mtm.TaskProgress, error) {
	out := make(map[uint]mtm.TaskProgress, len(taskIDs))
	if len(taskIDs) == 0 {
		return out, nil
	}
	var items []mtm.TaskProgress
	err := s.db.WithContext(ctx).
		Where("enrollment_id = ? AND task_id IN ?", enrollmentID, taskIDs).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	for _, it := range items {
		out[it.TaskID] = it
	}
	return out, nil
}

// UpsertUnlocked creates or refreshes the (enrollment, task) row as
// unlocked. The unique index keeps it to a single row.
func (s *Store) UpsertUnlocked(ctx context.Context, enrollmentID, taskID uint, at time.Time) error {
	row := mtm.TaskProgress{
		EnrollmentID: enrollmentID,
		TaskID:       taskID,
		Status:       mtm.ProgressUnlocked,
		UnlockedAt:   &at,
	}
	return s.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "enrollment_id"}, {Name: "task_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"status":      mtm.ProgressUnlocked,
				"unlocked_at": at,
				"updated_at":  at,
			}),
		}).
		Create(&row).Error
}

func (s *Store) TouchProgress(ctx context.Context, id uint, status string, at time.Time) error {
	fields := map[string]any{
		"last_evaluated_at": at,
	}
	if status != "" {
		fields["status"] = status
	}
	return s.updateProgress(ctx, id, fields)
}

func (s *Store) MarkProgressPassed(ctx context.Context, id uint, at time.Time) error {
	return s.updateProgress(ctx, id, map[string]any{
		"status":            mtm.ProgressPassed,
		"passed_at":         at,
		"last_evaluated_at": at,
	})
}

// CountAttempt bumps the row's attempt counter. Background sweeps do not
// count.
func (s *Store) CountAttempt(ctx context.Context, id uint) error {
	return s.updateProgress(ctx, id, map[string]any{"attempts": gorm.Expr("attempts + 1")})
}

// RefreshUnlocked moves unlocked_at on an open row and leaves its status
// alone.
func (s *Store) RefreshUnlocked(ctx context.Context, id uint, at time.Time) error {
	return s.updateProgress(ctx, id, map[string]any{"unlocked_at": at})
}

func (s *Store) updateProgress(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&mtm.TaskProgress{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListActionableProgress pages through unlocked or in-progress rows that
// belong to approved enrollments, ordered by id after afterID.
func (s *Store) ListActionableProgress(ctx context.Context, afterID uint, limit int) ([]mtm.TaskProgress, error) {
	var items []mtm.TaskProgress
	err := s.db.WithContext(ctx).
		Model(&mtm.TaskProgress{}).
		Joins("JOIN mtm_enrollments ON mtm_enrollments.id = mtm_task_progress.enrollment_id AND mtm_enrollments.deleted_at IS NULL").
		Where("mtm_enrollments.status = ?", mtm.EnrollmentApproved).
		Where("mtm_task_progress.status IN ?", []string{mtm.ProgressUnlocked, mtm.ProgressInProgress}).
		Where("mtm_task_progress.id > ?", afterID).
		Order("mtm_task_progress.id asc").
		Limit(normalizeLimit(limit, 200)).
		Find(&items).Error
	return items, err
}

// --- trades -----------------------------------------------------------------

func (s *Store) qualifying(ctx context.Context, f repository.TradeFilter) *gorm.DB {
	query := s.db.WithContext(ctx).
		Model(&mtm.Trade{}).
		Where("enrollment_id = ? AND task_id = ?", f.EnrollmentID, f.TaskID).
		Where("compliance_status IN ?", []string{mtm.CompliancePass, mtm.ComplianceOverride}).
		Where("outcome IS NOT NULL AND outcome <> '' AND UPPER(outcome) <> ?", mtm.OutcomeOpen)
	if f.ClosedSince != nil {
		query = query.Where("COALESCE(closed_at, created_at) >= ?", *f.ClosedSince)
	}
	return query
}

func (s *Store) CountQualifyingTrades(ctx context.Context, filter repository.TradeFilter) (int64, error) {
	var n int64
	err := s.qualifying(ctx, filter).Count(&n).Error
	return n, err
}

// QualifyingTradeTimes returns when each qualifying trade closed, falling
// back to its creation time.
func (s *Store) QualifyingTradeTimes(ctx context.Context, filter repository.TradeFilter) ([]time.Time, error) {
	var rows []mtm.Trade
	if err := s.qualifying(ctx, filter).Select("id", "closed_at", "created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(rows))
	for _, r := range rows {
		if r.ClosedAt != nil {
			out = append(out, *r.ClosedAt)
		} else {
			out = append(out, r.CreatedAt)
		}
	}
	return out, nil
}

func (s *Store) CreateTrade(ctx context.Context, item *mtm.Trade) error {
	if item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetTrade(ctx context.Context, id uint) (*mtm.Trade, error) {
	var item mtm.Trade
	if err := s.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

func (s *Store) UpdateTrade(ctx context.Context, id uint, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&mtm.Trade{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteTrade(ctx context.Context, id uint) error {
	res := s.db.WithContext(ctx).Delete(&mtm.Trade{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (s *Store) ListOpenTrades(ctx context.Context, userID uint, excludeID uint) ([]mtm.Trade, error) {
	query := s.db.WithContext(ctx).
		Where("user_id = ? AND UPPER(outcome) = ?", userID, mtm.OutcomeOpen)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var items []mtm.Trade
	err := query.Order("id asc").Find(&items).Error
	return items, err
}

func (s *Store) ListTrades(ctx context.Context, params repository.ListTradesParams) ([]mtm.Trade, int64, error) {
	query := s.db.WithContext(ctx).Model(&mtm.Trade{})
	if params.UserID != nil {
		query = query.Where("user_id = ?", *params.UserID)
	}
	if params.EnrollmentID != nil {
		query = query.Where("enrollment_id = ?", *params.EnrollmentID)
	}
	if params.TaskID != nil {
		query = query.Where("task_id = ?", *params.TaskID)
	}
	if params.Compliance != nil && strings.TrimSpace(*params.Compliance) != "" {
		query = query.Where("compliance_status = ?", strings.TrimSpace(*params.Compliance))
	}
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var items []mtm.Trade
	err := query.Order("created_at desc").
		Limit(normalizeLimit(params.Limit, 50)).
		Offset(normalizeOffset(params.Offset)).
		Find(&items).Error
	return items, total, err
}
