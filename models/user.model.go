package models

import (
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	RoleTrader = "TRADER"
	RoleAdmin  = "ADMIN"
)

type User struct {
	gorm.Model
	Name      string           `json:"name" gorm:"default:''"`
	Email     string           `json:"email" gorm:"unique;not null"`
	Role      string           `json:"role" gorm:"default:'TRADER'"`      // TRADER, ADMIN
	Capital   *decimal.Decimal `json:"capital" gorm:"type:numeric(20,2)"` // account capital for min_capital checks
	IsDeleted bool             `json:"-" gorm:"default:false"`
}
