package repository

import (
	"context"
	"errors"
	"time"

	"tmsmtm/models"
	"tmsmtm/models/mtm"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// TradeFilter selects the trades attributed to one (enrollment, task) pair.
type TradeFilter struct {
	EnrollmentID uint
	TaskID       uint
	ClosedSince  *time.Time
}

type ListEnrollmentsParams struct {
	UserID  *uint
	ModelID *uint
	Status  *string
	Limit   int
	Offset  int
}

type ListTradesParams struct {
	UserID       *uint
	EnrollmentID *uint
	TaskID       *uint
	Compliance   *string
	Limit        int
	Offset       int
}

// MTMRepository is the store the MTM engine runs against. WithTx hands the
// callback a repository bound to one transaction.
type MTMRepository interface {
	WithTx(ctx context.Context, fn func(repo MTMRepository) error) error

	GetUser(ctx context.Context, id uint) (*models.User, error)

	GetModel(ctx context.Context, id uint) (*mtm.TradingModel, error)
	GetTask(ctx context.Context, id uint) (*mtm.Task, error)
	ListTasks(ctx context.Context, modelID uint) ([]mtm.Task, error)
	FirstTask(ctx context.Context, modelID uint) (*mtm.Task, error)
	TasksAfter(ctx context.Context, modelID uint, sortOrder int, taskID uint) ([]mtm.Task, error)

	GetEnrollment(ctx context.Context, id uint) (*mtm.Enrollment, error)
	FindEnrollment(ctx context.Context, userID, modelID uint) (*mtm.Enrollment, error)
	CreateEnrollment(ctx context.Context, item *mtm.Enrollment) error
	UpdateEnrollment(ctx context.Context, id uint, fields map[string]any) error
	ListEnrollments(ctx context.Context, params ListEnrollmentsParams) ([]mtm.Enrollment, int64, error)

	GetProgress(ctx context.Context, enrollmentID, taskID uint) (*mtm.TaskProgress, error)
	ListProgress(ctx context.Context, enrollmentID uint) ([]mtm.TaskProgress, error)
	ProgressByTasks(ctx context.Context, enrollmentID uint, taskIDs []uint) (map[uint]mtm.TaskProgress, error)
	UpsertUnlocked(ctx context.Context, enrollmentID, taskID uint, at time.Time) error
	RefreshUnlocked(ctx context.Context, id uint, at time.Time) error
	TouchProgress(ctx context.Context, id uint, status string, at time.Time) error
	CountAttempt(ctx context.Context, id uint) error
	MarkProgressPassed(ctx context.Context, id uint, at time.Time) error
	ListActionableProgress(ctx context.Context, afterID uint, limit int) ([]mtm.TaskProgress, error)

	CountQualifyingTrades(ctx context.Context, filter TradeFilter) (int64, error)
	QualifyingTradeTimes(ctx context.Context, filter TradeFilter) ([]time.Time, error)
	CreateTrade(ctx context.Context, item *mtm.Trade) error
	GetTrade(ctx context.Context, id uint) (*mtm.Trade, error)
	UpdateTrade(ctx context.Context, id uint, fields map[string]any) error
	DeleteTrade(ctx context.Context, id uint) error
	ListOpenTrades(ctx context.Context, userID uint, excludeID uint) ([]mtm.Trade, error)
	ListTrades(ctx context.Context, params ListTradesParams) ([]mtm.Trade, int64, error)
}
