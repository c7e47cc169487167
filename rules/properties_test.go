package rules

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"

	"tmsmtm/models/mtm"
)

func TestResolverProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("rule_json min_trades always wins", prop.ForAll(
		func(structured, override int) bool {
			task := mtm.Task{MinTrades: structured, RuleJSON: strPtr(fmt.Sprintf(`{"min_trades": %d}`, override))}
			return Resolve(task).Rules.MinTrades == override
		},
		gen.IntRange(-50, 500),
		gen.IntRange(0, 500),
	))

	properties.Property("malformed rule_json resolves to the structured set", prop.ForAll(
		func(minTrades int, requireSL bool, junk string) bool {
			plain := mtm.Task{MinTrades: minTrades, RequireSL: requireSL}
			broken := plain
			broken.RuleJSON = strPtr("{" + junk)
			got := Resolve(broken)
			return got.Source == SourceMalformed && reflect.DeepEqual(got.Rules, Resolve(plain).Rules)
		},
		gen.IntRange(0, 100),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestEvaluatorProperties(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	rs := RuleSet{
		RequireSL:      true,
		MaxRiskPct:     dec("2"),
		MaxPositionPct: dec("25"),
		MinRR:          dec("1.5"),
		MinCapital:     dec("1000"),
		ForbidAvgDown:  true,
	}

	properties.Property("evaluation is deterministic", prop.ForAll(
		func(entry, stop, target, pos float64) bool {
			tr := mtm.Trade{
				EntryPrice:      decimal.NewFromFloat(entry),
				StopLoss:        decPtr(stop),
				TargetPrice:     decPtr(target),
				PositionPercent: decPtr(pos),
				Outcome:         "TARGET_HIT",
			}
			return reflect.DeepEqual(Evaluate(tr, rs, Context{}), Evaluate(tr, rs, Context{}))
		},
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 100),
	))

	properties.Property("zero risk never trips the risk/reward floor", prop.ForAll(
		func(entry, target float64) bool {
			tr := mtm.Trade{
				EntryPrice:  decimal.NewFromFloat(entry),
				StopLoss:    decPtr(entry),
				TargetPrice: decPtr(target),
			}
			res := Evaluate(tr, RuleSet{MinRR: dec("1000")}, Context{})
			for _, v := range res.Violations {
				if strings.HasPrefix(v, "Risk/reward") {
					return false
				}
			}
			return res.Compliant
		},
		gen.Float64Range(0.01, 10000),
		gen.Float64Range(0, 10000),
	))

	properties.Property("compliant iff no violations", prop.ForAll(
		func(entry, stop float64, withStop bool) bool {
			tr := mtm.Trade{EntryPrice: decimal.NewFromFloat(entry)}
			if withStop {
				tr.StopLoss = decPtr(stop)
			}
			res := Evaluate(tr, rs, Context{})
			return res.Compliant == (len(res.Violations) == 0)
		},
		gen.Float64Range(0, 1000),
		gen.Float64Range(0, 1000),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func decPtr(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}
