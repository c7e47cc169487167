package rules

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tmsmtm/models/mtm"
)

var hundred = decimal.NewFromInt(100)

// Position is an open position the trader already holds.
type Position struct {
	Symbol     string
	Direction  string
	EntryPrice decimal.Decimal
}

// Context carries account facts a trade row does not hold. A zero Context
// reproduces the trade-only evaluation: min_capital and forbid_avg_down can
// then only warn.
type Context struct {
	Capital        *decimal.Decimal
	Positions      []Position
	PositionsKnown bool
}

// Result is the outcome of checking one trade. Compliant is true iff
// Violations is empty; warnings never affect it.
type Result struct {
	Compliant  bool     `json:"compliant"`
	Violations []string `json:"violations"`
	Warnings   []string `json:"warnings"`
}

// Evaluate checks a trade against a resolved rule set. Every check runs so
// the full violation list is always returned.
func Evaluate(trade mtm.Trade, rs RuleSet, ctx Context) Result {
	res := Result{Violations: []string{}, Warnings: []string{}}
	entry := trade.EntryPrice

	if rs.RequireSL && trade.StopLoss == nil {
		res.Violations = append(res.Violations, "Stop loss is required")
	}

	if rs.MaxRiskPct != nil && trade.StopLoss != nil && entry.IsPositive() {
		risk := entry.Sub(*trade.StopLoss).Abs().Div(entry).Mul(hundred)
		if risk.GreaterThan(*rs.MaxRiskPct) {
			res.Violations = append(res.Violations, fmt.Sprintf(
				"Risk %s%% exceeds maximum %s%%", risk.StringFixed(2), rs.MaxRiskPct.StringFixed(2)))
		}
	}

	if rs.MaxPositionPct != nil && trade.PositionPercent != nil &&
		trade.PositionPercent.GreaterThan(*rs.MaxPositionPct) {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"Position size %s%% exceeds maximum %s%%", trade.PositionPercent.StringFixed(2), rs.MaxPositionPct.StringFixed(2)))
	}

	if rs.MinRR != nil && trade.StopLoss != nil && trade.TargetPrice != nil && entry.IsPositive() {
		// Zero risk skips the check rather than counting as infinite reward.
		risk := entry.Sub(*trade.StopLoss).Abs()
		if risk.IsPositive() {
			rr := trade.TargetPrice.Sub(entry).Abs().Div(risk)
			if rr.LessThan(*rs.MinRR) {
				res.Violations = append(res.Violations, fmt.Sprintf(
					"Risk/reward %s is below minimum %s", rr.StringFixed(2), rs.MinRR.StringFixed(2)))
			}
		}
	}

	if rs.RequireAnalysisLink && strings.TrimSpace(trade.AnalysisLink) == "" {
		res.Violations = append(res.Violations, "Analysis link is required")
	}

	if len(rs.AllowedOutcomes) > 0 && !containsFold(rs.AllowedOutcomes, trade.Outcome) {
		res.Violations = append(res.Violations, fmt.Sprintf(
			"Outcome %s is not allowed for this task", strings.ToUpper(strings.TrimSpace(trade.Outcome))))
	}

	if tag := strings.TrimSpace(rs.RequireChartTag); tag != "" &&
		!strings.Contains(strings.ToLower(trade.Notes), strings.ToLower(tag)) {
		res.Violations = append(res.Violations, fmt.Sprintf("Notes must include chart tag %q", tag))
	}

	if market := strings.TrimSpace(rs.Market); market != "" &&
		!strings.EqualFold(strings.TrimSpace(trade.MarketCap), market) {
		res.Violations = append(res.Violations, fmt.Sprintf("Trade market must be %s", market))
	}

	if rs.MinCapital != nil {
		switch {
		case ctx.Capital == nil:
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"Minimum capital of %s could not be verified", rs.MinCapital.StringFixed(2)))
		case ctx.Capital.LessThan(*rs.MinCapital):
			res.Violations = append(res.Violations, fmt.Sprintf(
				"Account capital %s is below the required minimum %s", ctx.Capital.StringFixed(2), rs.MinCapital.StringFixed(2)))
		}
	}

	if rs.ForbidAvgDown {
		if !ctx.PositionsKnown {
			res.Warnings = append(res.Warnings, "Averaging down could not be verified without position history")
		} else if avg, ok := averageEntry(ctx.Positions, trade); ok && averagesDown(trade, avg) {
			res.Violations = append(res.Violations, fmt.Sprintf(
				"Averaging down is not allowed: entry %s is worse than average open entry %s",
				entry.StringFixed(2), avg.StringFixed(2)))
		}
	}

	res.Compliant = len(res.Violations) == 0
	return res
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

func direction(d string) string {
	if strings.EqualFold(strings.TrimSpace(d), mtm.DirectionShort) {
		return mtm.DirectionShort
	}
	return mtm.DirectionLong
}

func averageEntry(positions []Position, trade mtm.Trade) (decimal.Decimal, bool) {
	sum := decimal.Zero
	n := 0
	dir := direction(trade.Direction)
	for _, p := range positions {
		if !strings.EqualFold(p.Symbol, trade.Symbol) || direction(p.Direction) != dir {
			continue
		}
		sum = sum.Add(p.EntryPrice)
		n++
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(n))), true
}

func averagesDown(trade mtm.Trade, avg decimal.Decimal) bool {
	if direction(trade.Direction) == mtm.DirectionShort {
		return trade.EntryPrice.GreaterThan(avg)
	}
	return trade.EntryPrice.LessThan(avg)
}
