package retrain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

type JobModel struct {
	ID           uuid.UUID         `gorm:"type:char(36);primaryKey;column:id"`
	StartDate    string            `gorm:"column:start_date"`
	EndDate      string            `gorm:"column:end_date"`
	Status       string            `gorm:"column:status"`
	RowCount     int               `gorm:"column:row_count"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ErrorMessage string            `gorm:"column:error_message"`
	RequestedBy  string            `gorm:"column:requested_by"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (JobModel) TableName() string {
	return "retrain_jobs"
}

type CreateJobInput struct {
	StartDate   string `json:"start_date"`
	EndDate     string `json:"end_date"`
	RequestedBy string `json:"requested_by"`
}
