package mtm

import (
	"time"

	"gorm.io/gorm"
)

const (
	EnrollmentPending   = "pending"
	EnrollmentApproved  = "approved"
	EnrollmentRejected  = "rejected"
	EnrollmentDropped   = "dropped"
	EnrollmentCompleted = "completed"
)

// Enrollment is a trader's participation in one model at one tier.
// The (user_id, model_id) unique index is the final guard against
// duplicate enrollments.
type Enrollment struct {
	gorm.Model
	UserID          uint         `json:"user_id" gorm:"uniqueIndex:idx_mtm_enrollment_user_model,priority:1;not null"`
	ModelID         uint         `json:"model_id" gorm:"uniqueIndex:idx_mtm_enrollment_user_model,priority:2;not null"`
	Tier            string       `json:"tier"`
	Status          string       `json:"status" gorm:"index;default:'pending'"`
	RequestedAt     time.Time    `json:"requested_at"`
	ApprovedAt      *time.Time   `json:"approved_at"`
	ApprovedBy      *uint        `json:"approved_by"`
	RejectedAt      *time.Time   `json:"rejected_at"`
	RejectionReason string       `json:"rejection_reason"`
	CompletedAt     *time.Time   `json:"completed_at"`
	TradingModel    TradingModel `json:"model,omitempty" gorm:"foreignKey:ModelID"`
}

func (Enrollment) TableName() string {
	return "mtm_enrollments"
}
