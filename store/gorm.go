package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadflow/models"
)

// GormStore is the postgres-backed Store
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates every table the store uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Lead{},
		&models.LeadTag{},
		&models.Message{},
		&models.Task{},
		&models.NurturingAction{},
		&models.Property{},
	)
}

func (s *GormStore) GetOrCreateLead(ctx context.Context, in NewLead) (*models.Lead, bool, error) {
	lead := models.Lead{
		ExternalID:  in.ExternalID,
		Channel:     in.Channel,
		Name:        in.Name,
		Phone:       in.Phone,
		Email:       strings.ToLower(in.Email),
		Status:      models.LeadStatusNew,
		Label:       models.LabelCurious,
		LastContact: in.At,
	}
	lead.CreatedAt = in.At
	lead.UpdatedAt = in.At

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}, {Name: "channel"}},
			DoNothing: true,
		}).
		Create(&lead)
	if res.Error != nil {
		return nil, false, fmt.Errorf("failed to create lead: %w", res.Error)
	}
	created := res.RowsAffected == 1

	var stored models.Lead
	if err := s.db.WithContext(ctx).
		Where("channel = ? AND external_id = ?", in.Channel, in.ExternalID).
		First(&stored).Error; err != nil {
		return nil, false, translate(err)
	}
	return &stored, created, nil
}

func (s *GormStore) GetLead(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	if err := s.db.WithContext(ctx).Preload("Tags").First(&lead, id).Error; err != nil {
		return nil, translate(err)
	}
	return &lead, nil
}

func (s *GormStore) ListLeads(ctx context.Context, f LeadFilter) ([]models.Lead, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.Lead{})
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Label != "" {
		query = query.Where("label = ?", f.Label)
	}
	if f.MinScore > 0 {
		query = query.Where("score >= ?", f.MinScore)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count leads: %w", err)
	}

	offset, limit := normalizePage(f)
	var leads []models.Lead
	if err := query.Order("score DESC, id ASC").Offset(offset).Limit(limit).Find(&leads).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list leads: %w", err)
	}
	return leads, total, nil
}

func (s *GormStore) LoadActiveLeads(ctx context.Context) ([]models.Lead, error) {
	var leads []models.Lead
	if err := s.db.WithContext(ctx).
		Where("status NOT IN ?", models.InactiveStatuses).
		Order("id ASC").
		Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to load active leads: %w", err)
	}
	return leads, nil
}

func (s *GormStore) PersistLead(ctx context.Context, lead *models.Lead, tasks ...models.Task) error {
	version := lead.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := saveLead(tx, lead); err != nil {
			return err
		}
		for i := range tasks {
			task := tasks[i]
			task.LeadID = lead.ID
			if err := createTask(tx, &task); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		// rolled back, keep the caller's copy in step with the row
		lead.Version = version
	}
	return err
}

// saveLead performs the versioned whole-record write. On success lead.Version
// matches the stored row.
func saveLead(tx *gorm.DB, lead *models.Lead) error {
	p := lead.Preferences
	res := tx.Model(&models.Lead{}).
		Where("id = ? AND version = ?", lead.ID, lead.Version).
		Updates(map[string]interface{}{
			"name":                lead.Name,
			"phone":               lead.Phone,
			"email":               lead.Email,
			"status":              lead.Status,
			"score":               lead.Score,
			"label":               lead.Label,
			"pref_operation":      p.Operation,
			"pref_property_type":  p.PropertyType,
			"pref_zone":           p.Zone,
			"pref_min_budget":     p.MinBudget,
			"pref_max_budget":     p.MaxBudget,
			"pref_bedrooms":       p.Bedrooms,
			"pref_urgency":        p.Urgency,
			"pref_purpose":        p.Purpose,
			"interest_level":      lead.InterestLevel,
			"wants_visit":         lead.WantsVisit,
			"last_contact":        lead.LastContact,
			"total_interactions":  lead.TotalInteractions,
			"last_nurturing_rule": lead.LastNurturingRule,
			"last_nurturing_at":   lead.LastNurturingAt,
			"version":             gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update lead %d: %w", lead.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrVersionConflict
	}
	lead.Version++
	return nil
}

func createTask(tx *gorm.DB, task *models.Task) error {
	if task.Dedupe {
		var pending int64
		if err := tx.Model(&models.Task{}).
			Where("lead_id = ? AND type = ? AND status = ?", task.LeadID, task.Type, models.TaskPending).
			Count(&pending).Error; err != nil {
			return fmt.Errorf("failed to check pending tasks: %w", err)
		}
		if pending > 0 {
			return ErrDuplicateTask
		}
	}
	if task.Status == "" {
		task.Status = models.TaskPending
	}
	if err := tx.Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (s *GormStore) AddTag(ctx context.Context, leadID uint, tag string) error {
	t := models.LeadTag{LeadID: leadID, Tag: strings.ToLower(strings.TrimSpace(tag))}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&t).Error
}

func (s *GormStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if err := s.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (s *GormStore) RecordInbound(ctx context.Context, lead *models.Lead, msg *models.Message) error {
	version := lead.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if msg.ExternalMessageID != nil {
			var n int64
			if err := tx.Model(&models.Message{}).
				Where("external_message_id = ?", *msg.ExternalMessageID).
				Count(&n).Error; err != nil {
				return fmt.Errorf("failed to check message id: %w", err)
			}
			if n > 0 {
				return ErrDuplicateMessage
			}
		}

		if err := saveLead(tx, lead); err != nil {
			return err
		}

		msg.LeadID = lead.ID
		if err := tx.Create(msg).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateMessage
			}
			return fmt.Errorf("failed to append message: %w", err)
		}
		return nil
	})
	if err != nil {
		lead.Version = version
		msg.ID = 0
	}
	return err
}

func (s *GormStore) History(ctx context.Context, leadID uint, channel models.Channel) ([]models.Message, error) {
	var msgs []models.Message
	if err := s.db.WithContext(ctx).
		Where("lead_id = ? AND channel = ?", leadID, channel).
		Order("timestamp ASC, id ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return msgs, nil
}

func (s *GormStore) CreateTask(ctx context.Context, task *models.Task) error {
	return createTask(s.db.WithContext(ctx), task)
}

func (s *GormStore) HasRecentTask(ctx context.Context, leadID uint, taskType models.TaskType, since time.Time) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("lead_id = ? AND type = ?", leadID, taskType).
		Where("status = ? OR created_at >= ?", models.TaskPending, since).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check tasks: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) HasTaskReference(ctx context.Context, leadID uint, reference string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Task{}).
		Where("lead_id = ? AND reference = ?", leadID, reference).
		Count(&n).Error; err != nil {
		return false, fmt.Errorf("failed to check tasks: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) ListTasks(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	query := s.db.WithContext(ctx).Model(&models.Task{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var tasks []models.Task
	if err := query.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (s *GormStore) CompleteTask(ctx context.Context, id uint, at time.Time) (*models.Task, error) {
	var task models.Task
	if err := s.db.WithContext(ctx).First(&task, id).Error; err != nil {
		return nil, translate(err)
	}
	if err := s.db.WithContext(ctx).Model(&task).Updates(map[string]interface{}{
		"status":       models.TaskDone,
		"completed_at": at,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	task.Status = models.TaskDone
	task.CompletedAt = &at
	return &task, nil
}

func (s *GormStore) ReserveDispatch(ctx context.Context, lead *models.Lead, action *models.NurturingAction) error {
	version := lead.Version
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.NurturingAction{}).
			Where("dispatch_key = ?", action.DispatchKey).
			Count(&n).Error; err != nil {
			return fmt.Errorf("failed to check dispatch key: %w", err)
		}
		if n > 0 {
			return ErrAlreadyDispatched
		}

		if err := saveLead(tx, lead); err != nil {
			return err
		}

		action.LeadID = lead.ID
		action.Status = models.ActionPending
		if err := tx.Create(action).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrAlreadyDispatched
			}
			return fmt.Errorf("failed to record action: %w", err)
		}
		return nil
	})
	if err != nil {
		lead.Version = version
	}
	return err
}

func (s *GormStore) FinishDispatch(ctx context.Context, action *models.NurturingAction, sendErr error, restore *models.Lead) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{}
		if sendErr == nil {
			now := time.Now()
			action.Status = models.ActionSent
			action.DispatchedAt = &now
			updates["status"] = models.ActionSent
			updates["dispatched_at"] = now
		} else {
			action.Status = models.ActionFailed
			action.Error = sendErr.Error()
			action.DispatchKey = failedKey(action)
			updates["status"] = models.ActionFailed
			updates["error"] = action.Error
			updates["dispatch_key"] = action.DispatchKey
		}
		if err := tx.Model(&models.NurturingAction{}).Where("id = ?", action.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to update action: %w", err)
		}

		if sendErr != nil && restore != nil {
			return saveLead(tx, restore)
		}
		return nil
	})
}

func (s *GormStore) ListActions(ctx context.Context, leadID uint) ([]models.NurturingAction, error) {
	var actions []models.NurturingAction
	if err := s.db.WithContext(ctx).
		Where("lead_id = ?", leadID).
		Order("created_at DESC").
		Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("failed to list actions: %w", err)
	}
	return actions, nil
}

func (s *GormStore) CreateProperty(ctx context.Context, p *models.Property) error {
	if p.Status == "" {
		p.Status = models.PropertyAvailable
	}
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}
	return nil
}

func (s *GormStore) Stats(ctx context.Context, since time.Time) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)

	if err := db.Model(&models.Lead{}).Where("created_at >= ?", since).Count(&st.NewLeads).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.Lead{}).
		Where("label IN ? AND status NOT IN ?", []models.Label{models.LabelHot, models.LabelReady}, models.InactiveStatuses).
		Count(&st.HotLeads).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.Task{}).Where("status = ?", models.TaskPending).Count(&st.PendingTasks).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.NurturingAction{}).
		Where("status = ? AND dispatched_at >= ?", models.ActionSent, since).
		Count(&st.ActionsSent).Error; err != nil {
		return st, err
	}
	if err := db.Model(&models.Message{}).
		Where("role = ? AND timestamp >= ?", models.RoleUser, since).
		Count(&st.MessagesReceived).Error; err != nil {
		return st, err
	}
	return st, nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
