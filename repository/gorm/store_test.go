package gormrepository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmsmtm/database"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	db, err := database.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func uintPtr(v uint) *uint { return &v }

func TestUpsertUnlockedKeepsOneRow(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertUnlocked(ctx, 1, 2, first))
	require.NoError(t, s.UpsertUnlocked(ctx, 1, 2, first.Add(time.Hour)))

	var rows []mtm.TaskProgress
	require.NoError(t, s.db.Where("enrollment_id = ? AND task_id = ?", 1, 2).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, mtm.ProgressUnlocked, rows[0].Status)
	require.NotNil(t, rows[0].UnlockedAt)
	assert.True(t, rows[0].UnlockedAt.Equal(first.Add(time.Hour)))
}

func TestTouchAndPassProgress(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Now().UTC()
	require.NoError(t, s.UpsertUnlocked(ctx, 1, 2, at))
	p, err := s.GetProgress(ctx, 1, 2)
	require.NoError(t, err)

	require.NoError(t, s.TouchProgress(ctx, p.ID, mtm.ProgressInProgress, at))
	p, err = s.GetProgress(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, mtm.ProgressInProgress, p.Status)
	assert.Equal(t, 0, p.Attempts)

	require.NoError(t, s.CountAttempt(ctx, p.ID))
	require.NoError(t, s.CountAttempt(ctx, p.ID))
	require.NoError(t, s.MarkProgressPassed(ctx, p.ID, at))

	p, err = s.GetProgress(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, mtm.ProgressPassed, p.Status)
	assert.Equal(t, 2, p.Attempts)
	assert.NotNil(t, p.PassedAt)

	assert.ErrorIs(t, s.TouchProgress(ctx, 999, "", at), repository.ErrNotFound)
	_, err = s.GetProgress(ctx, 9, 9)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestRefreshUnlockedKeepsStatus(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpsertUnlocked(ctx, 1, 2, first))
	p, err := s.GetProgress(ctx, 1, 2)
	require.NoError(t, err)
	require.NoError(t, s.TouchProgress(ctx, p.ID, mtm.ProgressInProgress, first))

	later := first.Add(2 * time.Hour)
	require.NoError(t, s.RefreshUnlocked(ctx, p.ID, later))

	p, err = s.GetProgress(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, mtm.ProgressInProgress, p.Status)
	require.NotNil(t, p.UnlockedAt)
	assert.True(t, p.UnlockedAt.Equal(later))

	assert.ErrorIs(t, s.RefreshUnlocked(ctx, 999, later), repository.ErrNotFound)
}

func TestCountQualifyingTrades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mk := func(outcome, compliance string, closed *time.Time) *mtm.Trade {
		tr := &mtm.Trade{
			UserID: 7, EnrollmentID: uintPtr(1), TaskID: uintPtr(2),
			Symbol: "TCS", EntryPrice: decimal.NewFromInt(10),
			Outcome: outcome, ComplianceStatus: compliance, ClosedAt: closed,
		}
		require.NoError(t, s.CreateTrade(ctx, tr))
		return tr
	}
	recent := time.Now().UTC().Add(-time.Hour)
	old := time.Now().UTC().AddDate(0, 0, -60)

	mk("TARGET_HIT", mtm.CompliancePass, &recent)
	mk("SL_HIT", mtm.ComplianceOverride, &old)
	mk("OPEN", mtm.CompliancePass, nil)
	mk("BREAKEVEN", mtm.ComplianceFail, &recent)
	gone := mk("MANUAL_EXIT", mtm.CompliancePass, &recent)
	require.NoError(t, s.DeleteTrade(ctx, gone.ID))

	filter := repository.TradeFilter{EnrollmentID: 1, TaskID: 2}
	n, err := s.CountQualifyingTrades(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	since := time.Now().UTC().AddDate(0, 0, -30)
	filter.ClosedSince = &since
	n, err = s.CountQualifyingTrades(ctx, filter)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	times, err := s.QualifyingTradeTimes(ctx, filter)
	require.NoError(t, err)
	require.Len(t, times, 1)
	assert.True(t, times[0].Equal(recent))

	assert.ErrorIs(t, s.DeleteTrade(ctx, gone.ID), repository.ErrNotFound)
}

func TestTasksAfterAndFirstTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mk := func(name string, order int) mtm.Task {
		task := mtm.Task{ModelID: 1, Name: name, SortOrder: order, IsActive: true}
		require.NoError(t, s.db.Create(&task).Error)
		return task
	}
	b := mk("b", 2)
	a := mk("a", 1)
	c := mk("c", 2)
	d := mk("d", 3)
	require.NoError(t, s.db.Model(&d).Update("is_active", false).Error)

	first, err := s.FirstTask(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, a.ID, first.ID)

	after, err := s.TasksAfter(ctx, 1, b.SortOrder, b.ID)
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, c.ID, after[0].ID)

	_, err = s.FirstTask(ctx, 2)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateEnrollmentDuplicate(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateEnrollment(ctx, &mtm.Enrollment{UserID: 7, ModelID: 3, Status: mtm.EnrollmentApproved}))
	err := s.CreateEnrollment(ctx, &mtm.Enrollment{UserID: 7, ModelID: 3, Status: mtm.EnrollmentPending})
	assert.True(t, errors.Is(err, repository.ErrDuplicate))
}

func TestListEnrollmentsLoadsModel(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	swing := mtm.TradingModel{Title: "Swing Basics", Difficulty: "easy"}
	require.NoError(t, s.db.Create(&swing).Error)
	require.NoError(t, s.CreateEnrollment(ctx, &mtm.Enrollment{UserID: 7, ModelID: swing.ID, Status: mtm.EnrollmentApproved}))
	require.NoError(t, s.CreateEnrollment(ctx, &mtm.Enrollment{UserID: 8, ModelID: swing.ID, Status: mtm.EnrollmentPending}))

	items, total, err := s.ListEnrollments(ctx, repository.ListEnrollmentsParams{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, "Swing Basics", it.TradingModel.Title)
	}

	pending := mtm.EnrollmentPending
	items, total, err = s.ListEnrollments(ctx, repository.ListEnrollmentsParams{Status: &pending, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, items, 1)
	assert.Equal(t, uint(8), items[0].UserID)
	assert.Equal(t, swing.ID, items[0].TradingModel.ID)
}

func TestListActionableProgress(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	at := time.Now().UTC()

	approved := mtm.Enrollment{UserID: 1, ModelID: 1, Status: mtm.EnrollmentApproved}
	pending := mtm.Enrollment{UserID: 2, ModelID: 1, Status: mtm.EnrollmentPending}
	require.NoError(t, s.CreateEnrollment(ctx, &approved))
	require.NoError(t, s.CreateEnrollment(ctx, &pending))

	require.NoError(t, s.UpsertUnlocked(ctx, approved.ID, 10, at))
	require.NoError(t, s.UpsertUnlocked(ctx, approved.ID, 11, at))
	require.NoError(t, s.UpsertUnlocked(ctx, pending.ID, 10, at))
	p, err := s.GetProgress(ctx, approved.ID, 11)
	require.NoError(t, err)
	require.NoError(t, s.MarkProgressPassed(ctx, p.ID, at))

	rows, err := s.ListActionableProgress(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, approved.ID, rows[0].EnrollmentID)
	assert.Equal(t, uint(10), rows[0].TaskID)

	rows, err = s.ListActionableProgress(ctx, rows[0].ID, 0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestListOpenTrades(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	open1 := &mtm.Trade{UserID: 7, Symbol: "INFY", EntryPrice: decimal.NewFromInt(100), Outcome: "OPEN"}
	open2 := &mtm.Trade{UserID: 7, Symbol: "INFY", EntryPrice: decimal.NewFromInt(90), Outcome: "open"}
	closed := &mtm.Trade{UserID: 7, Symbol: "INFY", EntryPrice: decimal.NewFromInt(80), Outcome: "SL_HIT"}
	other := &mtm.Trade{UserID: 8, Symbol: "INFY", EntryPrice: decimal.NewFromInt(80), Outcome: "OPEN"}
	for _, tr := range []*mtm.Trade{open1, open2, closed, other} {
		require.NoError(t, s.CreateTrade(ctx, tr))
	}

	trades, err := s.ListOpenTrades(ctx, 7, open2.ID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, open1.ID, trades[0].ID)
	assert.True(t, trades[0].EntryPrice.Equal(decimal.NewFromInt(100)))
}
