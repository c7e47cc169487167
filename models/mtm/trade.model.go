package mtm

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	OutcomeOpen = "OPEN"

	DirectionLong  = "LONG"
	DirectionShort = "SHORT"

	CompliancePass     = "pass"
	ComplianceFail     = "fail"
	ComplianceOverride = "override"
)

// TerminalOutcomes are the outcome codes accepted when closing a trade.
var TerminalOutcomes = []string{"TARGET_HIT", "SL_HIT", "BREAKEVEN", "MANUAL_EXIT", "PARTIAL_EXIT"}

// Trade is a journaled position. Soft-deleted rows are excluded from every
// default query through gorm's DeletedAt.
type Trade struct {
	gorm.Model
	UserID       uint  `json:"user_id" gorm:"index;not null"`
	EnrollmentID *uint `json:"enrollment_id" gorm:"index:idx_trade_enrollment_task,priority:1"`
	TaskID       *uint `json:"task_id" gorm:"index:idx_trade_enrollment_task,priority:2"`

	Symbol          string           `json:"symbol" gorm:"index"`
	Direction       string           `json:"direction" gorm:"default:'LONG'"`
	EntryPrice      decimal.Decimal  `json:"entry_price" gorm:"type:numeric(20,6);not null"`
	StopLoss        *decimal.Decimal `json:"stop_loss" gorm:"type:numeric(20,6)"`
	TargetPrice     *decimal.Decimal `json:"target_price" gorm:"type:numeric(20,6)"`
	PositionPercent *decimal.Decimal `json:"position_percent" gorm:"type:numeric(10,4)"`
	Outcome         string           `json:"outcome" gorm:"default:'OPEN'"`
	ClosedAt        *time.Time       `json:"closed_at"`
	AnalysisLink    string           `json:"analysis_link"`
	Notes           string           `json:"notes" gorm:"type:text"`
	MarketCap       string           `json:"marketcap" gorm:"column:marketcap"`

	ComplianceStatus string         `json:"compliance_status" gorm:"index;default:'pass'"`
	Violations       datatypes.JSON `json:"violations"`
	Warnings         datatypes.JSON `json:"warnings"`
	OverrideReason   string         `json:"override_reason"`
	OverriddenBy     *uint          `json:"overridden_by"`
}

func (Trade) TableName() string {
	return "trades"
}

// IsClosed reports whether the trade carries a terminal outcome.
func (t Trade) IsClosed() bool {
	return strings.TrimSpace(t.Outcome) != "" && !isOpen(t.Outcome)
}

func isOpen(outcome string) bool {
	return strings.EqualFold(strings.TrimSpace(outcome), OutcomeOpen)
}
