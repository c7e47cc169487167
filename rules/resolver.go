// Package rules holds the pure parts of the MTM engine: resolving a task's
// effective rule set, checking a trade against it, and mapping model
// difficulty to an enforcement tier. Nothing here performs I/O.
package rules

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"tmsmtm/models/mtm"
)

// RuleSet is the flattened rule set governing one task. Nil thresholds mean
// "no limit".
type RuleSet struct {
	MinTrades           int              `json:"min_trades"`
	TimeWindowDays      int              `json:"time_window_days"`
	RequireSL           bool             `json:"require_sl"`
	MaxRiskPct          *decimal.Decimal `json:"max_risk_pct"`
	MaxPositionPct      *decimal.Decimal `json:"max_position_pct"`
	MinRR               *decimal.Decimal `json:"min_rr"`
	RequireAnalysisLink bool             `json:"require_analysis_link"`
	WeeklyMinTrades     int              `json:"weekly_min_trades"`
	WeeksConsistency    int              `json:"weeks_consistency"`

	// Only settable through rule_json.
	AllowedOutcomes []string         `json:"allowed_outcomes,omitempty"`
	RequireChartTag string           `json:"require_chart_tag,omitempty"`
	Market          string           `json:"market,omitempty"`
	MinCapital      *decimal.Decimal `json:"min_capital,omitempty"`
	ForbidAvgDown   bool             `json:"forbid_avg_down,omitempty"`
}

// Source tells where a resolved rule set came from.
type Source string

const (
	SourceStructured Source = "structured" // no rule_json
	SourceOverride   Source = "override"   // rule_json parsed and applied
	SourceMalformed  Source = "malformed"  // rule_json present but unusable
)

// ErrNotObject is reported when rule_json is valid JSON but not an object.
var ErrNotObject = errors.New("rule_json is not a JSON object")

// Resolution is the result of Resolve. Err is set only for SourceMalformed;
// Resolve itself never fails.
type Resolution struct {
	Rules   RuleSet
	Source  Source
	Err     error
	Ignored []string // unknown keys
	Invalid []string // known keys with a value of the wrong type
}

// Resolve merges the task's structured rule columns with its rule_json
// override. Known keys in rule_json win over the structured columns.
func Resolve(task mtm.Task) Resolution {
	res := Resolution{
		Rules: RuleSet{
			MinTrades:           task.MinTrades,
			TimeWindowDays:      task.TimeWindowDays,
			RequireSL:           task.RequireSL,
			MaxRiskPct:          copyDecimal(task.MaxRiskPct),
			MaxPositionPct:      copyDecimal(task.MaxPositionPct),
			MinRR:               copyDecimal(task.MinRR),
			RequireAnalysisLink: task.RequireAnalysisLink,
			WeeklyMinTrades:     task.WeeklyMinTrades,
			WeeksConsistency:    task.WeeksConsistency,
		},
		Source: SourceStructured,
	}
	if task.RuleJSON == nil {
		return res
	}
	raw := bytes.TrimSpace([]byte(*task.RuleJSON))
	if len(raw) == 0 {
		return res
	}

	fields, err := parseObject(raw)
	if err != nil {
		res.Source = SourceMalformed
		res.Err = err
		return res
	}

	res.Source = SourceOverride
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		apply, known := overrides[key]
		if !known {
			res.Ignored = append(res.Ignored, key)
			continue
		}
		if err := apply(&res.Rules, fields[key]); err != nil {
			res.Invalid = append(res.Invalid, key)
		}
	}
	return res
}

func parseObject(raw []byte) (map[string]any, error) {
	if raw[0] != '{' {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("parse rule_json: invalid JSON")
		}
		return nil, ErrNotObject
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("parse rule_json: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse rule_json: trailing data")
	}
	return fields, nil
}

var overrides = map[string]func(*RuleSet, any) error{
	"min_trades":            intField(func(r *RuleSet, v int) { r.MinTrades = v }),
	"time_window_days":      intField(func(r *RuleSet, v int) { r.TimeWindowDays = v }),
	"require_sl":            boolField(func(r *RuleSet, v bool) { r.RequireSL = v }),
	"max_risk_pct":          decimalField(func(r *RuleSet, v *decimal.Decimal) { r.MaxRiskPct = v }),
	"max_position_pct":      decimalField(func(r *RuleSet, v *decimal.Decimal) { r.MaxPositionPct = v }),
	"min_rr":                decimalField(func(r *RuleSet, v *decimal.Decimal) { r.MinRR = v }),
	"require_analysis_link": boolField(func(r *RuleSet, v bool) { r.RequireAnalysisLink = v }),
	"weekly_min_trades":     intField(func(r *RuleSet, v int) { r.WeeklyMinTrades = v }),
	"weeks_consistency":     intField(func(r *RuleSet, v int) { r.WeeksConsistency = v }),
	"allowed_outcomes":      applyAllowedOutcomes,
	"require_chart_tag":     stringField(func(r *RuleSet, v string) { r.RequireChartTag = v }),
	"market":                stringField(func(r *RuleSet, v string) { r.Market = v }),
	"min_capital":           decimalField(func(r *RuleSet, v *decimal.Decimal) { r.MinCapital = v }),
	"forbid_avg_down":       boolField(func(r *RuleSet, v bool) { r.ForbidAvgDown = v }),
}

var errFieldType = errors.New("unexpected value type")

func intField(set func(*RuleSet, int)) func(*RuleSet, any) error {
	return func(r *RuleSet, v any) error {
		switch x := v.(type) {
		case nil:
			set(r, 0)
		case json.Number:
			n, err := integral(x.String())
			if err != nil {
				return err
			}
			set(r, n)
		case string:
			n, err := integral(strings.TrimSpace(x))
			if err != nil {
				return err
			}
			set(r, n)
		default:
			return errFieldType
		}
		return nil
	}
}

func integral(s string) (int, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.Trunc(f) != f || math.Abs(f) > math.MaxInt32 {
		return 0, errFieldType
	}
	return int(f), nil
}

func boolField(set func(*RuleSet, bool)) func(*RuleSet, any) error {
	return func(r *RuleSet, v any) error {
		switch x := v.(type) {
		case nil:
			set(r, false)
		case bool:
			set(r, x)
		case json.Number:
			switch x.String() {
			case "0":
				set(r, false)
			case "1":
				set(r, true)
			default:
				return errFieldType
			}
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return errFieldType
			}
			set(r, b)
		default:
			return errFieldType
		}
		return nil
	}
}

func decimalField(set func(*RuleSet, *decimal.Decimal)) func(*RuleSet, any) error {
	return func(r *RuleSet, v any) error {
		var s string
		switch x := v.(type) {
		case nil:
			set(r, nil)
			return nil
		case json.Number:
			s = x.String()
		case string:
			s = strings.TrimSpace(x)
		default:
			return errFieldType
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return errFieldType
		}
		set(r, &d)
		return nil
	}
}

func stringField(set func(*RuleSet, string)) func(*RuleSet, any) error {
	return func(r *RuleSet, v any) error {
		switch x := v.(type) {
		case nil:
			set(r, "")
		case string:
			set(r, strings.TrimSpace(x))
		default:
			return errFieldType
		}
		return nil
	}
}

func applyAllowedOutcomes(r *RuleSet, v any) error {
	switch x := v.(type) {
	case nil:
		r.AllowedOutcomes = nil
	case string:
		r.AllowedOutcomes = []string{strings.TrimSpace(x)}
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return errFieldType
			}
			out = append(out, strings.TrimSpace(s))
		}
		r.AllowedOutcomes = out
	default:
		return errFieldType
	}
	return nil
}

func copyDecimal(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
