package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"tmsmtm/audit"
	"tmsmtm/models/mtm"
	"tmsmtm/repository"
	"tmsmtm/rules"
)

var (
	ErrTradeBlocked        = errors.New("trade blocked by compliance rules")
	ErrTradeNotFound       = errors.New("trade not found")
	ErrEnrollmentNotActive = errors.New("enrollment is not approved")
	ErrInvalidOutcome      = errors.New("outcome is not a terminal outcome")
	ErrTradeClosed         = errors.New("trade is already closed")
)

type TradeInput struct {
	UserID          uint
	EnrollmentID    uint
	TaskID          uint
	Symbol          string
	Direction       string
	EntryPrice      decimal.Decimal
	StopLoss        *decimal.Decimal
	TargetPrice     *decimal.Decimal
	PositionPercent *decimal.Decimal
	Outcome         string
	ClosedAt        *time.Time
	AnalysisLink    string
	Notes           string
	MarketCap       string
	// Acknowledged is the trader accepting the violations under a soft block.
	Acknowledged bool
}

type SubmitResult struct {
	Trade      *mtm.Trade     `json:"trade,omitempty"`
	Compliance rules.Result   `json:"compliance"`
	Decision   rules.Decision `json:"decision"`
	Verdict    *Verdict       `json:"verdict,omitempty"`
}

// Journal records trades against an enrollment's task, gating them through
// the task's rules and the model's enforcement tier.
type Journal struct {
	Repo    repository.MTMRepository
	Tracker *Tracker
	Audit   audit.Sink
	Logger  *zap.Logger
	Now     func() time.Time
}

func (j *Journal) now() time.Time {
	if j.Now != nil {
		return j.Now().UTC()
	}
	return time.Now().UTC()
}

// Submit evaluates and, when the tier allows it, saves the trade. A blocked
// trade returns ErrTradeBlocked together with the evaluation. Saving the
// trade and applying progress commit together.
func (j *Journal) Submit(ctx context.Context, in TradeInput) (SubmitResult, error) {
	var out SubmitResult
	err := j.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		enrollment, err := j.ownedEnrollment(ctx, repo, in.UserID, in.EnrollmentID)
		if err != nil {
			return err
		}
		if enrollment.Status != mtm.EnrollmentApproved {
			return ErrEnrollmentNotActive
		}

		progress, err := repo.GetProgress(ctx, in.EnrollmentID, in.TaskID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTaskNotActionable
		}
		if err != nil {
			return fmt.Errorf("load progress: %w", err)
		}
		if !progress.Actionable() {
			return ErrTaskNotActionable
		}

		task, err := repo.GetTask(ctx, in.TaskID)
		if err != nil {
			return fmt.Errorf("load task: %w", err)
		}
		model, err := repo.GetModel(ctx, enrollment.ModelID)
		if err != nil {
			return fmt.Errorf("load model: %w", err)
		}

		trade := in.trade()
		if trade.IsClosed() && trade.ClosedAt == nil {
			at := j.now()
			trade.ClosedAt = &at
		}

		evalCtx, err := j.evaluationContext(ctx, repo, in.UserID, 0)
		if err != nil {
			return err
		}
		result := rules.Evaluate(trade, rulesFor(trade, rules.Resolve(*task).Rules), evalCtx)
		decision := rules.Gate(rules.TierFor(model.Difficulty), result, in.Acknowledged)
		out = SubmitResult{Compliance: result, Decision: decision}
		if !decision.Save {
			return ErrTradeBlocked
		}

		trade.ComplianceStatus = decision.ComplianceStatus
		trade.Violations = jsonList(result.Violations)
		trade.Warnings = jsonList(result.Warnings)
		if err := repo.CreateTrade(ctx, &trade); err != nil {
			return fmt.Errorf("save trade: %w", err)
		}
		out.Trade = &trade

		if trade.IsClosed() {
			out.Verdict, err = j.applyProgress(ctx, repo, &trade)
		}
		return err
	})
	if errors.Is(err, ErrTradeBlocked) {
		return out, err
	}
	if err != nil {
		return SubmitResult{}, err
	}

	j.record(ctx, audit.TradeSubmitted, in.UserID, out.Trade, map[string]any{
		"compliance_status": out.Trade.ComplianceStatus,
		"tier":              string(out.Decision.Tier),
	})
	j.recordVerdict(ctx, out.Trade, out.Verdict)
	return out, nil
}

// Close sets a terminal outcome on an open trade, re-checks it against the
// task's rules with that outcome and re-applies progress.
func (j *Journal) Close(ctx context.Context, userID, tradeID uint, outcome string, closedAt *time.Time) (*mtm.Trade, *Verdict, error) {
	outcome = strings.ToUpper(strings.TrimSpace(outcome))
	if !isTerminal(outcome) {
		return nil, nil, ErrInvalidOutcome
	}

	var trade *mtm.Trade
	var verdict *Verdict
	err := j.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		var err error
		trade, err = j.ownedTrade(ctx, repo, userID, tradeID)
		if err != nil {
			return err
		}
		if trade.IsClosed() {
			return ErrTradeClosed
		}

		at := j.now()
		if closedAt != nil {
			at = closedAt.UTC()
		}
		trade.Outcome = outcome
		trade.ClosedAt = &at

		fields := map[string]any{"outcome": outcome, "closed_at": at}
		result, status, ok, err := j.recheck(ctx, repo, trade)
		if err != nil {
			return err
		}
		if ok {
			trade.ComplianceStatus = status
			trade.Violations = jsonList(result.Violations)
			trade.Warnings = jsonList(result.Warnings)
			fields["compliance_status"] = trade.ComplianceStatus
			fields["violations"] = trade.Violations
			fields["warnings"] = trade.Warnings
		}
		if err := repo.UpdateTrade(ctx, trade.ID, fields); err != nil {
			return fmt.Errorf("close trade: %w", err)
		}

		verdict, err = j.applyProgress(ctx, repo, trade)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	j.recordVerdict(ctx, trade, verdict)
	return trade, verdict, nil
}

// Delete soft-deletes the trade; it stops counting toward progress at once.
func (j *Journal) Delete(ctx context.Context, userID, tradeID uint) error {
	var trade *mtm.Trade
	var verdict *Verdict
	err := j.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		var err error
		trade, err = j.ownedTrade(ctx, repo, userID, tradeID)
		if err != nil {
			return err
		}
		if err := repo.DeleteTrade(ctx, trade.ID); err != nil {
			return fmt.Errorf("delete trade: %w", err)
		}
		verdict, err = j.applyProgress(ctx, repo, trade)
		return err
	})
	if err != nil {
		return err
	}
	j.recordVerdict(ctx, trade, verdict)
	return nil
}

// Override is an admin resolving a flagged trade: it then counts toward
// progress.
func (j *Journal) Override(ctx context.Context, adminID, tradeID uint, reason string) (*mtm.Trade, *Verdict, error) {
	reason = strings.TrimSpace(reason)
	var trade *mtm.Trade
	var verdict *Verdict
	err := j.Repo.WithTx(ctx, func(repo repository.MTMRepository) error {
		var err error
		trade, err = repo.GetTrade(ctx, tradeID)
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTradeNotFound
		}
		if err != nil {
			return fmt.Errorf("load trade: %w", err)
		}
		err = repo.UpdateTrade(ctx, trade.ID, map[string]any{
			"compliance_status": mtm.ComplianceOverride,
			"override_reason":   reason,
			"overridden_by":     adminID,
		})
		if err != nil {
			return fmt.Errorf("override trade: %w", err)
		}
		trade.ComplianceStatus = mtm.ComplianceOverride
		trade.OverrideReason = reason
		trade.OverriddenBy = &adminID

		verdict, err = j.applyProgress(ctx, repo, trade)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	j.record(ctx, audit.TradeOverridden, adminID, trade, map[string]any{"reason": reason})
	j.recordVerdict(ctx, trade, verdict)
	return trade, verdict, nil
}

// recheck evaluates a trade against its task's rules again. ok is false
// when the trade has no task or model to check against. An overridden
// trade stays overridden. A violation the tier would have blocked is
// recorded as a failure, since a close cannot be refused.
func (j *Journal) recheck(ctx context.Context, repo repository.MTMRepository, trade *mtm.Trade) (rules.Result, string, bool, error) {
	if trade.EnrollmentID == nil || trade.TaskID == nil {
		return rules.Result{}, "", false, nil
	}
	task, err := repo.GetTask(ctx, *trade.TaskID)
	if errors.Is(err, repository.ErrNotFound) {
		return rules.Result{}, "", false, nil
	}
	if err != nil {
		return rules.Result{}, "", false, fmt.Errorf("load task: %w", err)
	}
	enrollment, err := repo.GetEnrollment(ctx, *trade.EnrollmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return rules.Result{}, "", false, nil
	}
	if err != nil {
		return rules.Result{}, "", false, fmt.Errorf("load enrollment: %w", err)
	}
	model, err := repo.GetModel(ctx, enrollment.ModelID)
	if errors.Is(err, repository.ErrNotFound) {
		return rules.Result{}, "", false, nil
	}
	if err != nil {
		return rules.Result{}, "", false, fmt.Errorf("load model: %w", err)
	}

	evalCtx, err := j.evaluationContext(ctx, repo, trade.UserID, trade.ID)
	if err != nil {
		return rules.Result{}, "", false, err
	}
	result := rules.Evaluate(*trade, rulesFor(*trade, rules.Resolve(*task).Rules), evalCtx)
	overridden := trade.ComplianceStatus == mtm.ComplianceOverride
	decision := rules.Gate(rules.TierFor(model.Difficulty), result, overridden)

	status := decision.ComplianceStatus
	switch {
	case overridden:
		status = mtm.ComplianceOverride
	case !decision.Save:
		status = mtm.ComplianceFail
	}
	return result, status, true, nil
}

// rulesFor defers the allowed-outcomes check until the trade has a
// terminal outcome.
func rulesFor(trade mtm.Trade, rs rules.RuleSet) rules.RuleSet {
	if !trade.IsClosed() {
		rs.AllowedOutcomes = nil
	}
	return rs
}

// applyProgress re-applies the trade's task inside the caller's
// transaction. Tasks that are no longer actionable are left alone.
func (j *Journal) applyProgress(ctx context.Context, repo repository.MTMRepository, trade *mtm.Trade) (*Verdict, error) {
	if j.Tracker == nil || trade.EnrollmentID == nil || trade.TaskID == nil {
		return nil, nil
	}
	v, err := j.Tracker.apply(ctx, repo, *trade.EnrollmentID, *trade.TaskID, true)
	if errors.Is(err, ErrTaskNotActionable) {
		return nil, nil
	}
	if err != nil {
		j.Tracker.logApplyError(*trade.EnrollmentID, *trade.TaskID, err)
		return nil, err
	}
	return &v, nil
}

func (j *Journal) recordVerdict(ctx context.Context, trade *mtm.Trade, v *Verdict) {
	if j.Tracker == nil || v == nil || trade.EnrollmentID == nil || trade.TaskID == nil {
		return
	}
	j.Tracker.recordVerdict(ctx, *trade.EnrollmentID, *trade.TaskID, *v)
}

func (j *Journal) evaluationContext(ctx context.Context, repo repository.MTMRepository, userID, excludeTradeID uint) (rules.Context, error) {
	var out rules.Context
	user, err := repo.GetUser(ctx, userID)
	switch {
	case err == nil:
		out.Capital = user.Capital
	case !errors.Is(err, repository.ErrNotFound):
		return out, fmt.Errorf("load user: %w", err)
	}

	open, err := repo.ListOpenTrades(ctx, userID, excludeTradeID)
	if err != nil {
		return out, fmt.Errorf("load open trades: %w", err)
	}
	out.PositionsKnown = true
	for _, t := range open {
		out.Positions = append(out.Positions, rules.Position{
			Symbol:     t.Symbol,
			Direction:  t.Direction,
			EntryPrice: t.EntryPrice,
		})
	}
	return out, nil
}

func (j *Journal) ownedEnrollment(ctx context.Context, repo repository.MTMRepository, userID, enrollmentID uint) (*mtm.Enrollment, error) {
	enrollment, err := repo.GetEnrollment(ctx, enrollmentID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment.UserID != userID {
		return nil, ErrEnrollmentNotFound
	}
	return enrollment, nil
}

func (j *Journal) ownedTrade(ctx context.Context, repo repository.MTMRepository, userID, tradeID uint) (*mtm.Trade, error) {
	trade, err := repo.GetTrade(ctx, tradeID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTradeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load trade: %w", err)
	}
	if trade.UserID != userID {
		return nil, ErrTradeNotFound
	}
	return trade, nil
}

func (j *Journal) record(ctx context.Context, action string, actorID uint, trade *mtm.Trade, details map[string]any) {
	if j.Audit == nil {
		return
	}
	e := audit.NewEvent(action)
	e.ActorID = actorID
	e.TradeID = trade.ID
	if trade.EnrollmentID != nil {
		e.EnrollmentID = *trade.EnrollmentID
	}
	if trade.TaskID != nil {
		e.TaskID = *trade.TaskID
	}
	e.Details = details
	j.Audit.Record(ctx, e)
}

func (in TradeInput) trade() mtm.Trade {
	enrollmentID, taskID := in.EnrollmentID, in.TaskID
	outcome := strings.ToUpper(strings.TrimSpace(in.Outcome))
	if outcome == "" {
		outcome = mtm.OutcomeOpen
	}
	direction := strings.ToUpper(strings.TrimSpace(in.Direction))
	if direction == "" {
		direction = mtm.DirectionLong
	}
	return mtm.Trade{
		UserID:          in.UserID,
		EnrollmentID:    &enrollmentID,
		TaskID:          &taskID,
		Symbol:          strings.ToUpper(strings.TrimSpace(in.Symbol)),
		Direction:       direction,
		EntryPrice:      in.EntryPrice,
		StopLoss:        in.StopLoss,
		TargetPrice:     in.TargetPrice,
		PositionPercent: in.PositionPercent,
		Outcome:         outcome,
		ClosedAt:        in.ClosedAt,
		AnalysisLink:    strings.TrimSpace(in.AnalysisLink),
		Notes:           in.Notes,
		MarketCap:       strings.TrimSpace(in.MarketCap),
	}
}

func isTerminal(outcome string) bool {
	for _, o := range mtm.TerminalOutcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

func jsonList(items []string) datatypes.JSON {
	if items == nil {
		items = []string{}
	}
	raw, _ := json.Marshal(items)
	return datatypes.JSON(raw)
}
