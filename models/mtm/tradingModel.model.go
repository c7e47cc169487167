package mtm

import "gorm.io/gorm"

// TradingModel is an MTM curriculum a trader enrolls in.
type TradingModel struct {
	gorm.Model
	Title       string `json:"title" gorm:"not null"`
	Description string `json:"description" gorm:"type:text"`
	Tier        string `json:"tier" gorm:"default:'basic'"` // basic, intermediate, advanced
	Difficulty  string `json:"difficulty"`                  // consulted only for the enforcement tier
	IsActive    bool   `json:"is_active" gorm:"default:true"`
	CreatedBy   uint   `json:"created_by"`
	Tasks       []Task `json:"tasks,omitempty" gorm:"foreignKey:ModelID"`
}

func (TradingModel) TableName() string {
	return "mtm_models"
}
