// Package store persists leads, conversations, tasks and nurturing actions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leadflow/models"
)

var (
	ErrNotFound          = errors.New("record not found")
	ErrVersionConflict   = errors.New("lead was modified concurrently")
	ErrDuplicateTask     = errors.New("identical task already pending")
	ErrAlreadyDispatched = errors.New("action already dispatched for this trigger")
	ErrDuplicateMessage  = errors.New("message already recorded")
)

// NewLead identifies a first inbound contact.
type NewLead struct {
	Channel    models.Channel
	ExternalID string
	Name       *string
	Phone      string
	Email      string
	At         time.Time
}

// LeadFilter narrows ListLeads.
type LeadFilter struct {
	Status   models.LeadStatus
	Label    models.Label
	MinScore int
	Page     int
	Limit    int
}

// Stats feeds the dashboard.
type Stats struct {
	NewLeads         int64 `json:"new_leads"`
	HotLeads         int64 `json:"hot_leads"`
	PendingTasks     int64 `json:"pending_tasks"`
	ActionsSent      int64 `json:"actions_sent"`
	MessagesReceived int64 `json:"messages_received"`
}

// Store is everything the service persists. GormStore and MemoryStore both
// implement it.
type Store interface {
	GetOrCreateLead(ctx context.Context, in NewLead) (*models.Lead, bool, error)
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	ListLeads(ctx context.Context, f LeadFilter) ([]models.Lead, int64, error)
	LoadActiveLeads(ctx context.Context) ([]models.Lead, error)
	PersistLead(ctx context.Context, lead *models.Lead, tasks ...models.Task) error
	AddTag(ctx context.Context, leadID uint, tag string) error

	AppendMessage(ctx context.Context, msg *models.Message) error
	// RecordInbound appends msg and saves the lead's contact counters in one
	// write, with the same version check as PersistLead.
	RecordInbound(ctx context.Context, lead *models.Lead, msg *models.Message) error
	History(ctx context.Context, leadID uint, channel models.Channel) ([]models.Message, error)

	CreateTask(ctx context.Context, task *models.Task) error
	HasRecentTask(ctx context.Context, leadID uint, taskType models.TaskType, since time.Time) (bool, error)
	HasTaskReference(ctx context.Context, leadID uint, reference string) (bool, error)
	ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
	CompleteTask(ctx context.Context, id uint, at time.Time) (*models.Task, error)

	ReserveDispatch(ctx context.Context, lead *models.Lead, action *models.NurturingAction) error
	FinishDispatch(ctx context.Context, action *models.NurturingAction, sendErr error, restore *models.Lead) error
	ListActions(ctx context.Context, leadID uint) ([]models.NurturingAction, error)

	CreateProperty(ctx context.Context, p *models.Property) error
	Stats(ctx context.Context, since time.Time) (Stats, error)
}

// failedKey frees the dispatch key of a failed action so the same trigger can
// be attempted again on a later pass.
func failedKey(a *models.NurturingAction) string {
	return fmt.Sprintf("%s#failed-%d", a.DispatchKey, a.ID)
}

func normalizePage(f LeadFilter) (offset, limit int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit, limit
}
