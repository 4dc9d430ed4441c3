package models

import (
	"time"

	"gorm.io/gorm"
)

type TaskType string

const (
	TaskCall         TaskType = "call"
	TaskContact      TaskType = "contact"
	TaskPrepareVisit TaskType = "prepare_visit"
	TaskFollowUp     TaskType = "follow_up"
)

type TaskPriority string

const (
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
)

// Task is an action item for a human agent
type Task struct {
	gorm.Model
	LeadID uint `gorm:"not null;index:idx_task_lead_type" json:"lead_id"`

	Type        TaskType     `gorm:"not null;index:idx_task_lead_type" json:"type"`
	Priority    TaskPriority `gorm:"not null;default:'normal'" json:"priority"`
	Status      TaskStatus   `gorm:"not null;default:'pending';index" json:"status"`
	Description string       `gorm:"type:text" json:"description"`
	Reference   string       `gorm:"index" json:"reference"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Dedupe asks the store to refuse the task when an identical one is still
	// pending for the lead.
	Dedupe bool `gorm:"-" json:"-"`
}
