package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jinzhu/now"
	"go.uber.org/zap"

	"tmsmtm/audit"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
	"tmsmtm/rules"
)

type Evaluation struct {
	ShouldPass bool             `json:"should_pass"`
	Reason     string           `json:"reason"`
	TradeCount int64            `json:"trade_count"`
	Resolution rules.Resolution `json:"-"`
}

type Verdict struct {
	Evaluation
	// Passed is set when this call moved the task to passed.
	Passed              bool           `json:"passed"`
	AlreadyPassed       bool           `json:"already_passed"`
	Unlock              *UnlockOutcome `json:"unlock,omitempty"`
	EnrollmentCompleted bool           `json:"enrollment_completed"`

	completedAt time.Time
}

// Tracker decides whether a task's completion criteria are met and records
// the result on the task's progress row.
type Tracker struct {
	Repo      repository.MTMRepository
	Sequencer *Sequencer
	Audit     audit.Sink
	Logger    *zap.Logger
	Now       func() time.Time
}

var weekConfig = &now.Config{WeekStartDay: time.Monday, TimeLocation: time.UTC}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t *Tracker) sequencer() *Sequencer {
	if t.Sequencer != nil {
		return t.Sequencer
	}
	return &Sequencer{Repo: t.Repo, Audit: t.Audit, Logger: t.Logger, Now: t.Now}
}

func (t *Tracker) Evaluate(ctx context.Context, enrollmentID, taskID uint) (Evaluation, error) {
	return t.evaluate(ctx, t.Repo, enrollmentID, taskID)
}

func (t *Tracker) evaluate(ctx context.Context, repo repository.MTMRepository, enrollmentID, taskID uint) (Evaluation, error) {
	task, err := repo.GetTask(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return Evaluation{Reason: "Task not found"}, nil
	}
	if err != nil {
		return Evaluation{}, fmt.Errorf("load task: %w", err)
	}

	res := rules.Resolve(*task)
	t.logResolution(task.ID, res)
	ev := Evaluation{Resolution: res}
	rs := res.Rules

	if rs.MinTrades <= 0 {
		ev.ShouldPass = true
		ev.Reason = "No minimum trade requirement"
		return ev, nil
	}

	filter := repository.TradeFilter{EnrollmentID: enrollmentID, TaskID: taskID}
	if rs.TimeWindowDays > 0 {
		since := t.now().AddDate(0, 0, -rs.TimeWindowDays)
		filter.ClosedSince = &since
	}

	count, err := repo.CountQualifyingTrades(ctx, filter)
	if err != nil {
		return Evaluation{}, fmt.Errorf("count qualifying trades: %w", err)
	}
	ev.TradeCount = count
	if count < int64(rs.MinTrades) {
		ev.Reason = fmt.Sprintf("%d of %d qualifying trades", count, rs.MinTrades)
		return ev, nil
	}

	if rs.WeeklyMinTrades > 0 && rs.WeeksConsistency > 0 {
		times, err := repo.QualifyingTradeTimes(ctx, filter)
		if err != nil {
			return Evaluation{}, fmt.Errorf("load qualifying trade times: %w", err)
		}
		streak := ConsecutiveWeeks(times, rs.WeeklyMinTrades)
		if streak < rs.WeeksConsistency {
			ev.Reason = fmt.Sprintf("%d of %d consecutive weeks with at least %d trades",
				streak, rs.WeeksConsistency, rs.WeeklyMinTrades)
			return ev, nil
		}
	}

	ev.ShouldPass = true
	ev.Reason = fmt.Sprintf("%d of %d qualifying trades", count, rs.MinTrades)
	return ev, nil
}

// ConsecutiveWeeks returns the longest run of consecutive Monday-based
// calendar weeks that each hold at least perWeek of the given times.
func ConsecutiveWeeks(times []time.Time, perWeek int) int {
	if perWeek <= 0 {
		perWeek = 1
	}
	counts := make(map[time.Time]int)
	for _, ts := range times {
		counts[weekConfig.With(ts.UTC()).BeginningOfWeek()]++
	}

	weeks := make([]time.Time, 0, len(counts))
	for w, n := range counts {
		if n >= perWeek {
			weeks = append(weeks, w)
		}
	}
	sort.Slice(weeks, func(i, j int) bool { return weeks[i].Before(weeks[j]) })

	best, run := 0, 0
	for i, w := range weeks {
		if i > 0 && weeks[i-1].AddDate(0, 0, 7).Equal(w) {
			run++
		} else {
			run = 1
		}
		if run > best {
			best = run
		}
	}
	return best
}

// ApplyProgress re-evaluates the task on the trader's behalf and persists
// the outcome. When the task passes, its successor is unlocked in the same
// transaction.
func (t *Tracker) ApplyProgress(ctx context.Context, enrollmentID, taskID uint) (Verdict, error) {
	return t.applyInTx(ctx, enrollmentID, taskID, true)
}

// Reevaluate is ApplyProgress for background sweeps: the result is
// persisted but the row's attempt counter is left alone.
func (t *Tracker) Reevaluate(ctx context.Context, enrollmentID, taskID uint) (Verdict, error) {
	return t.applyInTx(ctx, enrollmentID, taskID, false)
}

func (t *Tracker) applyInTx(ctx context.Context, enrollmentID, taskID uint, countAttempt bool) (Verdict, error) {
	var v Verdict
	err := t.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		var err error
		v, err = t.apply(ctx, repo, enrollmentID, taskID, countAttempt)
		return err
	})
	if err != nil {
		t.logApplyError(enrollmentID, taskID, err)
		return Verdict{}, err
	}
	t.recordVerdict(ctx, enrollmentID, taskID, v)
	return v, nil
}

// apply does the work of ApplyProgress against repo, which callers run
// inside a transaction. Audit events are left to recordVerdict.
func (t *Tracker) apply(ctx context.Context, repo repository.MTMRepository, enrollmentID, taskID uint, countAttempt bool) (Verdict, error) {
	var v Verdict
	progress, err := repo.GetProgress(ctx, enrollmentID, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return v, ErrTaskNotActionable
	}
	if err != nil {
		return v, fmt.Errorf("load progress: %w", err)
	}
	if progress.Status == mtm.ProgressPassed {
		v.AlreadyPassed = true
		v.ShouldPass = true
		v.Reason = "Task already passed"
		return v, nil
	}
	if !progress.Actionable() {
		return v, ErrTaskNotActionable
	}

	ev, err := t.evaluate(ctx, repo, enrollmentID, taskID)
	if err != nil {
		return v, err
	}
	v.Evaluation = ev
	at := t.now()

	if countAttempt {
		if err := repo.CountAttempt(ctx, progress.ID); err != nil {
			return v, fmt.Errorf("count attempt: %w", err)
		}
	}

	if !ev.ShouldPass {
		status := progress.Status
		if status == mtm.ProgressUnlocked && ev.TradeCount > 0 {
			status = mtm.ProgressInProgress
		}
		if err := repo.TouchProgress(ctx, progress.ID, status, at); err != nil {
			return v, fmt.Errorf("record evaluation: %w", err)
		}
		return v, nil
	}

	if err := repo.MarkProgressPassed(ctx, progress.ID, at); err != nil {
		return v, fmt.Errorf("mark task passed: %w", err)
	}
	v.Passed = true

	out, err := t.sequencer().unlockNext(ctx, repo, enrollmentID, taskID)
	if err != nil {
		return v, err
	}
	v.Unlock = &out

	if out.Status == UnlockEndOfSequence {
		done, err := t.completeIfFinished(ctx, repo, enrollmentID, at)
		if err != nil {
			return v, err
		}
		v.EnrollmentCompleted = done
		v.completedAt = at
	}
	return v, nil
}

func (t *Tracker) logApplyError(enrollmentID, taskID uint, err error) {
	if errors.Is(err, ErrTaskNotActionable) || t.Logger == nil {
		return
	}
	t.Logger.Error("apply progress failed",
		zap.Uint("enrollment_id", enrollmentID),
		zap.Uint("task_id", taskID),
		zap.Error(err))
}

// recordVerdict emits the audit events of a committed verdict.
func (t *Tracker) recordVerdict(ctx context.Context, enrollmentID, taskID uint, v Verdict) {
	if v.Passed {
		t.record(ctx, audit.TaskPassed, enrollmentID, taskID, map[string]any{"trade_count": v.TradeCount})
		if v.Unlock != nil {
			t.sequencer().recordUnlock(ctx, enrollmentID, *v.Unlock, false)
		}
	}
	if v.EnrollmentCompleted {
		t.record(ctx, audit.EnrollmentCompleted, enrollmentID, 0, map[string]any{"completed_at": v.completedAt})
	}
}

// completeIfFinished moves an approved enrollment to completed once every
// active task of its model is passed.
func (t *Tracker) completeIfFinished(ctx context.Context, repo repository.MTMRepository, enrollmentID uint, at time.Time) (bool, error) {
	enrollment, err := repo.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return false, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment.Status != mtm.EnrollmentApproved {
		return false, nil
	}

	tasks, err := repo.ListTasks(ctx, enrollment.ModelID)
	if err != nil {
		return false, fmt.Errorf("list tasks: %w", err)
	}
	if len(tasks) == 0 {
		return false, nil
	}
	ids := make([]uint, 0, len(tasks))
	for _, task := range tasks {
		ids = append(ids, task.ID)
	}
	progress, err := repo.ProgressByTasks(ctx, enrollmentID, ids)
	if err != nil {
		return false, fmt.Errorf("load progress: %w", err)
	}
	for _, id := range ids {
		if p, ok := progress[id]; !ok || p.Status != mtm.ProgressPassed {
			return false, nil
		}
	}

	err = repo.UpdateEnrollment(ctx, enrollmentID, map[string]any{
		"status":       mtm.EnrollmentCompleted,
		"completed_at": at,
	})
	if err != nil {
		return false, fmt.Errorf("complete enrollment: %w", err)
	}
	return true, nil
}

func (t *Tracker) logResolution(taskID uint, res rules.Resolution) {
	if t.Logger == nil {
		return
	}
	if res.Source == rules.SourceMalformed {
		t.Logger.Warn("ignoring malformed rule_json",
			zap.Uint("task_id", taskID),
			zap.Error(res.Err))
	}
	if len(res.Ignored) > 0 || len(res.Invalid) > 0 {
		t.Logger.Debug("rule_json keys skipped",
			zap.Uint("task_id", taskID),
			zap.Strings("ignored", res.Ignored),
			zap.Strings("invalid", res.Invalid))
	}
}

func (t *Tracker) record(ctx context.Context, action string, enrollmentID, taskID uint, details map[string]any) {
	if t.Audit == nil {
		return
	}
	e := audit.NewEvent(action)
	e.EnrollmentID = enrollmentID
	e.TaskID = taskID
	e.Details = details
	t.Audit.Record(ctx, e)
}
