package mtm

import (
	"time"

	"gorm.io/gorm"
)

const (
	ProgressLocked     = "locked"
	ProgressUnlocked   = "unlocked"
	ProgressInProgress = "in_progress"
	ProgressPassed     = "passed"
	ProgressFailed     = "failed"
)

// TaskProgress is the per-(enrollment, task) state. One row exists once a
// task has ever been unlocked.
type TaskProgress struct {
	gorm.Model
	EnrollmentID    uint       `json:"enrollment_id" gorm:"uniqueIndex:idx_mtm_progress_enrollment_task,priority:1;not null"`
	TaskID          uint       `json:"task_id" gorm:"uniqueIndex:idx_mtm_progress_enrollment_task,priority:2;not null"`
	Status          string     `json:"status" gorm:"index;default:'locked'"`
	UnlockedAt      *time.Time `json:"unlocked_at"`
	PassedAt        *time.Time `json:"passed_at"`
	LastEvaluatedAt *time.Time `json:"last_evaluated_at"`
	Attempts        int        `json:"attempts" gorm:"default:0"`
	Task            Task       `json:"task,omitempty" gorm:"foreignKey:TaskID"`
}

func (TaskProgress) TableName() string {
	return "mtm_task_progress"
}

// Actionable reports whether the trader can work on the task.
func (p TaskProgress) Actionable() bool {
	return p.Status == ProgressUnlocked || p.Status == ProgressInProgress
}
