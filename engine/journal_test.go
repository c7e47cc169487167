package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tmsmtm/models"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
	"tmsmtm/rules"
)

func (f *fixture) journal() *Journal {
	return &Journal{Repo: f.store, Tracker: f.tracker}
}

func (f *fixture) requireStopLoss(task mtm.Task) {
	f.t.Helper()
	require.NoError(f.t, f.db.Model(&mtm.Task{}).Where("id = ?", task.ID).Update("require_sl", true).Error)
}

func closedInput(userID, enrollmentID, taskID uint) TradeInput {
	return TradeInput{
		UserID:       userID,
		EnrollmentID: enrollmentID,
		TaskID:       taskID,
		Symbol:       "infy",
		Direction:    "long",
		EntryPrice:   decimal.NewFromInt(100),
		Outcome:      "target_hit",
	}
}

func TestSubmitNudgeSavesAsFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 1)
	f.requireStopLoss(t1)
	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)

	out, err := f.journal().Submit(ctx, closedInput(7, res.EnrollmentID, t1.ID))
	require.NoError(t, err)
	require.NotNil(t, out.Trade)
	assert.Equal(t, mtm.ComplianceFail, out.Trade.ComplianceStatus)
	assert.Equal(t, rules.TierNudge, out.Decision.Tier)
	assert.Equal(t, "INFY", out.Trade.Symbol)
	assert.NotNil(t, out.Trade.ClosedAt)

	var violations []string
	require.NoError(t, json.Unmarshal(out.Trade.Violations, &violations))
	assert.Equal(t, []string{"Stop loss is required"}, violations)

	require.NotNil(t, out.Verdict)
	assert.False(t, out.Verdict.Passed, "a failing trade never counts")
	assert.Equal(t, mtm.ProgressUnlocked, f.progress(res.EnrollmentID, t1.ID).Status)
}

func TestSubmitSoftBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "moderate")
	t1 := f.task(1, "T1", 1, 1)
	f.requireStopLoss(t1)
	res, err := f.service.Enroll(ctx, 7, 1, "intermediate")
	require.NoError(t, err)

	in := closedInput(7, res.EnrollmentID, t1.ID)
	out, err := f.journal().Submit(ctx, in)
	assert.ErrorIs(t, err, ErrTradeBlocked)
	assert.Equal(t, CodeTradeBlocked, ErrorCode(err))
	assert.True(t, out.Decision.RequiresOverride)
	assert.Nil(t, out.Trade)

	var n int64
	require.NoError(t, f.db.Model(&mtm.Trade{}).Count(&n).Error)
	assert.Zero(t, n)

	in.Acknowledged = true
	out, err = f.journal().Submit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, mtm.ComplianceOverride, out.Trade.ComplianceStatus)
	require.NotNil(t, out.Verdict)
	assert.True(t, out.Verdict.Passed)
}

func TestSubmitHardBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "advanced")
	t1 := f.task(1, "T1", 1, 1)
	f.requireStopLoss(t1)
	res, err := f.service.Enroll(ctx, 7, 1, "advanced")
	require.NoError(t, err)

	in := closedInput(7, res.EnrollmentID, t1.ID)
	in.Acknowledged = true
	out, err := f.journal().Submit(ctx, in)
	assert.ErrorIs(t, err, ErrTradeBlocked)
	assert.Equal(t, rules.TierHardBlock, out.Decision.Tier)
	assert.False(t, out.Compliance.Compliant)

	stop := decimal.NewFromInt(95)
	in.StopLoss = &stop
	out, err = f.journal().Submit(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, mtm.CompliancePass, out.Trade.ComplianceStatus)
}

func TestSubmitGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 1)
	t2 := f.task(1, "T2", 2, 1)
	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)
	j := f.journal()

	_, err = j.Submit(ctx, closedInput(8, res.EnrollmentID, t1.ID))
	assert.ErrorIs(t, err, ErrEnrollmentNotFound)

	_, err = j.Submit(ctx, closedInput(7, res.EnrollmentID, t2.ID))
	assert.ErrorIs(t, err, ErrTaskNotActionable)

	require.NoError(t, f.service.Drop(ctx, res.EnrollmentID, 7))
	_, err = j.Submit(ctx, closedInput(7, res.EnrollmentID, t1.ID))
	assert.ErrorIs(t, err, ErrEnrollmentNotActive)
}

func TestSubmitUsesAccountContext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	capital := decimal.NewFromInt(50000)
	user := models.User{Name: "Ravi", Email: "ravi@example.com", Capital: &capital}
	require.NoError(t, f.db.Create(&user).Error)

	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 5)
	f.setRuleJSON(t1, `{"forbid_avg_down": true, "min_capital": 100000}`)
	res, err := f.service.Enroll(ctx, user.ID, 1, "basic")
	require.NoError(t, err)
	j := f.journal()

	open := closedInput(user.ID, res.EnrollmentID, t1.ID)
	open.Outcome = ""
	open.EntryPrice = decimal.NewFromInt(110)
	out, err := j.Submit(ctx, open)
	require.NoError(t, err)
	assert.Nil(t, out.Verdict, "open trades do not trigger progress")
	assert.Equal(t, mtm.OutcomeOpen, out.Trade.Outcome)
	assert.Contains(t, out.Compliance.Violations, "Account capital 50000.00 is below the required minimum 100000.00")

	lower := closedInput(user.ID, res.EnrollmentID, t1.ID)
	out, err = j.Submit(ctx, lower)
	require.NoError(t, err)
	assert.Contains(t, out.Compliance.Violations, "Averaging down is not allowed: entry 100.00 is worse than average open entry 110.00")
	assert.Empty(t, out.Compliance.Warnings)
}

func TestCloseDeleteOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 2)
	t2 := f.task(1, "T2", 2, 1)
	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)
	eid := res.EnrollmentID
	j := f.journal()

	open := closedInput(7, eid, t1.ID)
	open.Outcome = "OPEN"
	first, err := j.Submit(ctx, open)
	require.NoError(t, err)

	_, _, err = j.Close(ctx, 7, first.Trade.ID, "NOT_A_CODE", nil)
	assert.ErrorIs(t, err, ErrInvalidOutcome)
	_, _, err = j.Close(ctx, 8, first.Trade.ID, "SL_HIT", nil)
	assert.ErrorIs(t, err, ErrTradeNotFound)

	closed, verdict, err := j.Close(ctx, 7, first.Trade.ID, "sl_hit", nil)
	require.NoError(t, err)
	assert.Equal(t, "SL_HIT", closed.Outcome)
	require.NotNil(t, verdict)
	assert.EqualValues(t, 1, verdict.TradeCount)
	assert.Equal(t, mtm.ProgressInProgress, f.progress(eid, t1.ID).Status)

	extra, err := j.Submit(ctx, closedInput(7, eid, t1.ID))
	require.NoError(t, err)
	require.True(t, extra.Verdict.Passed)
	assert.Equal(t, mtm.ProgressUnlocked, f.progress(eid, t2.ID).Status)

	// T2: a failing trade is overridden by an admin and then counts
	failing := f.trade(7, eid, t2.ID, withCompliance(mtm.ComplianceFail))
	overridden, verdict, err := j.Override(ctx, 1, failing.ID, "  reviewed chart ")
	require.NoError(t, err)
	assert.Equal(t, mtm.ComplianceOverride, overridden.ComplianceStatus)
	assert.Equal(t, "reviewed chart", overridden.OverrideReason)
	require.NotNil(t, verdict)
	assert.True(t, verdict.Passed)
	assert.True(t, verdict.EnrollmentCompleted)

	// deleting a trade of a passed task leaves the task passed
	require.NoError(t, j.Delete(ctx, 7, extra.Trade.ID))
	assert.Equal(t, mtm.ProgressPassed, f.progress(eid, t1.ID).Status)
	assert.ErrorIs(t, j.Delete(ctx, 7, extra.Trade.ID), ErrTradeNotFound)

	_, _, err = j.Override(ctx, 1, 9999, "nope")
	assert.ErrorIs(t, err, ErrTradeNotFound)
}

func TestDeleteStopsCounting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 2)
	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)
	j := f.journal()

	out, err := j.Submit(ctx, closedInput(7, res.EnrollmentID, t1.ID))
	require.NoError(t, err)
	require.NoError(t, j.Delete(ctx, 7, out.Trade.ID))

	ev, err := f.tracker.Evaluate(ctx, res.EnrollmentID, t1.ID)
	require.NoError(t, err)
	assert.Zero(t, ev.TradeCount)
}

func TestCloseChecksAllowedOutcomes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 1)
	f.setRuleJSON(t1, `{"allowed_outcomes": ["TARGET_HIT"]}`)
	j := f.journal()

	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)
	open := closedInput(7, res.EnrollmentID, t1.ID)
	open.Outcome = "OPEN"
	out, err := j.Submit(ctx, open)
	require.NoError(t, err)
	assert.Equal(t, mtm.CompliancePass, out.Trade.ComplianceStatus)
	assert.Empty(t, out.Compliance.Violations)

	closed, verdict, err := j.Close(ctx, 7, out.Trade.ID, "target_hit", nil)
	require.NoError(t, err)
	assert.Equal(t, mtm.CompliancePass, closed.ComplianceStatus)
	require.NotNil(t, verdict)
	assert.EqualValues(t, 1, verdict.TradeCount)
	assert.True(t, verdict.Passed)

	// a disallowed outcome on close turns the trade into a failure
	res, err = f.service.Enroll(ctx, 8, 1, "basic")
	require.NoError(t, err)
	open = closedInput(8, res.EnrollmentID, t1.ID)
	open.Outcome = "OPEN"
	out, err = j.Submit(ctx, open)
	require.NoError(t, err)

	closed, verdict, err = j.Close(ctx, 8, out.Trade.ID, "SL_HIT", nil)
	require.NoError(t, err)
	assert.Equal(t, mtm.ComplianceFail, closed.ComplianceStatus)
	var violations []string
	require.NoError(t, json.Unmarshal(closed.Violations, &violations))
	assert.Equal(t, []string{"Outcome SL_HIT is not allowed for this task"}, violations)
	require.NotNil(t, verdict)
	assert.False(t, verdict.Passed)

	var stored mtm.Trade
	require.NoError(t, f.db.First(&stored, out.Trade.ID).Error)
	assert.Equal(t, mtm.ComplianceFail, stored.ComplianceStatus)
}

func TestCloseUnderHardBlockRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "advanced")
	t1 := f.task(1, "T1", 1, 1)
	f.setRuleJSON(t1, `{"allowed_outcomes": ["TARGET_HIT"]}`)
	res, err := f.service.Enroll(ctx, 7, 1, "advanced")
	require.NoError(t, err)
	j := f.journal()

	open := closedInput(7, res.EnrollmentID, t1.ID)
	open.Outcome = ""
	out, err := j.Submit(ctx, open)
	require.NoError(t, err, "an open trade is not blocked on its outcome")
	assert.Equal(t, mtm.CompliancePass, out.Trade.ComplianceStatus)

	closed, verdict, err := j.Close(ctx, 7, out.Trade.ID, "SL_HIT", nil)
	require.NoError(t, err)
	assert.Equal(t, mtm.ComplianceFail, closed.ComplianceStatus)
	require.NotNil(t, verdict)
	assert.Zero(t, verdict.TradeCount)
}

func TestCloseRejectsClosedTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 5)
	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)
	j := f.journal()

	out, err := j.Submit(ctx, closedInput(7, res.EnrollmentID, t1.ID))
	require.NoError(t, err)
	before := *out.Trade.ClosedAt

	later := before.Add(48 * time.Hour)
	_, _, err = j.Close(ctx, 7, out.Trade.ID, "SL_HIT", &later)
	assert.ErrorIs(t, err, ErrTradeClosed)
	assert.Equal(t, CodeInvalidTransition, ErrorCode(err))

	var stored mtm.Trade
	require.NoError(t, f.db.First(&stored, out.Trade.ID).Error)
	assert.Equal(t, "TARGET_HIT", stored.Outcome)
	require.NotNil(t, stored.ClosedAt)
	assert.True(t, stored.ClosedAt.Equal(before))
}

// failingProgressRepo refuses to mark tasks passed.
type failingProgressRepo struct {
	repository.MTMRepository
}

func (r failingProgressRepo) WithTx(ctx context.Context, fn func(repo repository.MTMRepository) error) error {
	return r.MTMRepository.WithTx(ctx, func(tx repository.MTMRepository) error {
		return fn(failingProgressRepo{tx})
	})
}

func (failingProgressRepo) MarkProgressPassed(context.Context, uint, time.Time) error {
	return errors.New("disk full")
}

func TestSubmitRollsBackWhenProgressFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model(1, "easy")
	t1 := f.task(1, "T1", 1, 1)
	res, err := f.service.Enroll(ctx, 7, 1, "basic")
	require.NoError(t, err)

	sink := &recordingSink{}
	j := &Journal{Repo: failingProgressRepo{f.store}, Tracker: f.tracker, Audit: sink}
	_, err = j.Submit(ctx, closedInput(7, res.EnrollmentID, t1.ID))
	require.Error(t, err)
	assert.Equal(t, CodeServerError, ErrorCode(err))

	var n int64
	require.NoError(t, f.db.Model(&mtm.Trade{}).Count(&n).Error)
	assert.Zero(t, n)
	p := f.progress(res.EnrollmentID, t1.ID)
	assert.Equal(t, mtm.ProgressUnlocked, p.Status)
	assert.Zero(t, p.Attempts)
	assert.Empty(t, sink.actions())
}
