package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"tmsmtm/database"
	"tmsmtm/models/mtm"
	gormrepository "tmsmtm/repository/gorm"
)

type fixture struct {
	t         *testing.T
	db        *gorm.DB
	store     *gormrepository.Store
	sequencer *Sequencer
	tracker   *Tracker
	service   *EnrollmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	store := gormrepository.New(db)
	seq := &Sequencer{Repo: store}
	return &fixture{
		t:         t,
		db:        db,
		store:     store,
		sequencer: seq,
		tracker:   &Tracker{Repo: store, Sequencer: seq},
		service:   &EnrollmentService{Repo: store, Sequencer: seq},
	}
}

func (f *fixture) model(id uint, difficulty string) mtm.TradingModel {
	f.t.Helper()
	m := mtm.TradingModel{
		Model:      gorm.Model{ID: id},
		Title:      "Discipline Basics",
		Tier:       "basic",
		Difficulty: difficulty,
		IsActive:   true,
	}
	require.NoError(f.t, f.db.Create(&m).Error)
	return m
}

func (f *fixture) task(modelID uint, name string, sortOrder, minTrades int) mtm.Task {
	f.t.Helper()
	task := mtm.Task{
		ModelID:   modelID,
		Name:      name,
		Tier:      "basic",
		SortOrder: sortOrder,
		IsActive:  true,
		MinTrades: minTrades,
	}
	require.NoError(f.t, f.db.Create(&task).Error)
	return task
}

func (f *fixture) deactivate(task mtm.Task) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&mtm.Task{}).Where("id = ?", task.ID).Update("is_active", false).Error)
}

func (f *fixture) setRuleJSON(task mtm.Task, raw string) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&mtm.Task{}).Where("id = ?", task.ID).Update("rule_json", raw).Error)
}

type tradeOpt func(*mtm.Trade)

func withOutcome(o string) tradeOpt { return func(t *mtm.Trade) { t.Outcome = o } }
func withCompliance(c string) tradeOpt { return func(t *mtm.Trade) { t.ComplianceStatus = c } }
func closedAt(ts time.Time) tradeOpt { return func(t *mtm.Trade) { t.ClosedAt = &ts } }

func (f *fixture) trade(userID, enrollmentID, taskID uint, opts ...tradeOpt) mtm.Trade {
	f.t.Helper()
	closed := time.Now().UTC()
	tr := mtm.Trade{
		UserID:           userID,
		EnrollmentID:     &enrollmentID,
		TaskID:           &taskID,
		Symbol:           "INFY",
		Direction:        mtm.DirectionLong,
		EntryPrice:       decimal.NewFromInt(100),
		Outcome:          "TARGET_HIT",
		ClosedAt:         &closed,
		ComplianceStatus: mtm.CompliancePass,
	}
	for _, opt := range opts {
		opt(&tr)
	}
	require.NoError(f.t, f.db.Create(&tr).Error)
	return tr
}

func (f *fixture) progress(enrollmentID, taskID uint) *mtm.TaskProgress {
	f.t.Helper()
	p, err := f.store.GetProgress(context.Background(), enrollmentID, taskID)
	if err != nil {
		return nil
	}
	return p
}

func (f *fixture) progressRows(enrollmentID, taskID uint) int64 {
	f.t.Helper()
	var n int64
	require.NoError(f.t, f.db.Model(&mtm.TaskProgress{}).
		Where("enrollment_id = ? AND task_id = ?", enrollmentID, taskID).
		Count(&n).Error)
	return n
}

func (f *fixture) enrollment(id uint) mtm.Enrollment {
	f.t.Helper()
	var e mtm.Enrollment
	require.NoError(f.t, f.db.First(&e, id).Error)
	return e
}
