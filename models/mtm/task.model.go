package mtm

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Task is one ordered gate within a model. Within a model, (sort_order, id)
// defines the sequence.
type Task struct {
	gorm.Model
	ModelID   uint   `json:"model_id" gorm:"index:idx_mtm_task_order,priority:1;not null"`
	Tier      string `json:"tier" gorm:"default:'basic'"`
	Name      string `json:"name" gorm:"not null"`
	SortOrder int    `json:"sort_order" gorm:"index:idx_mtm_task_order,priority:2;default:0"`
	IsActive  bool   `json:"is_active" gorm:"default:true"`

	MinTrades           int              `json:"min_trades" gorm:"default:0"`
	TimeWindowDays      int              `json:"time_window_days" gorm:"default:0"`
	RequireSL           bool             `json:"require_sl" gorm:"column:require_sl;default:false"`
	MaxRiskPct          *decimal.Decimal `json:"max_risk_pct" gorm:"type:numeric(10,4)"`
	MaxPositionPct      *decimal.Decimal `json:"max_position_pct" gorm:"type:numeric(10,4)"`
	MinRR               *decimal.Decimal `json:"min_rr" gorm:"column:min_rr;type:numeric(10,4)"`
	RequireAnalysisLink bool             `json:"require_analysis_link" gorm:"default:false"`
	WeeklyMinTrades     int              `json:"weekly_min_trades" gorm:"default:0"`
	WeeksConsistency    int              `json:"weeks_consistency" gorm:"default:0"`

	// Stored as text rather than a JSON column so a malformed override can
	// still be persisted and reported.
	RuleJSON *string `json:"rule_json" gorm:"column:rule_json;type:text"`
}

func (Task) TableName() string {
	return "mtm_tasks"
}
