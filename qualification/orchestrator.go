// Package qualification turns conversations into lead scores and tasks.
package qualification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"leadflow/events"
	"leadflow/extraction"
	"leadflow/lock"
	"leadflow/models"
	"leadflow/scoring"
	"leadflow/store"
	"leadflow/utils"
)

var (
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrMalformedExtraction = errors.New("extraction returned malformed data")
	ErrInvariantViolation  = errors.New("scoring invariant violated")
)

// Extractor returns the attributes found in a conversation.
type Extractor interface {
	Extract(ctx context.Context, history []models.Message) (*models.Extraction, error)
}

// Publisher receives activity notifications.
type Publisher interface {
	Publish(e events.Event)
}

// LeadStore is the persistence the orchestrator needs.
type LeadStore interface {
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	History(ctx context.Context, leadID uint, channel models.Channel) ([]models.Message, error)
	HasRecentTask(ctx context.Context, leadID uint, taskType models.TaskType, since time.Time) (bool, error)
	HasTaskReference(ctx context.Context, leadID uint, reference string) (bool, error)
	PersistLead(ctx context.Context, lead *models.Lead, tasks ...models.Task) error
}

type Config struct {
	// TaskCooldown is how long a created task suppresses another one of the
	// same type for the same lead.
	TaskCooldown time.Duration
	// RetryWait is the pause before the single retry of a failed call.
	RetryWait time.Duration
	Publisher Publisher
	Logger    logrus.FieldLogger
	Clock     func() time.Time
}

// Result of one qualification.
type Result struct {
	Lead    *models.Lead
	Tasks   []models.Task
	Handoff extraction.HandoffReason
	// Skipped is set when there was no conversation to qualify.
	Skipped bool
}

type Orchestrator struct {
	store     LeadStore
	extractor Extractor
	locker    lock.Locker
	publisher Publisher
	logger    logrus.FieldLogger
	now       func() time.Time
	cooldown  time.Duration
	retryWait time.Duration
}

func NewOrchestrator(st LeadStore, ex Extractor, lk lock.Locker, cfg Config) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		extractor: ex,
		locker:    lk,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       cfg.Clock,
		cooldown:  cfg.TaskCooldown,
		retryWait: cfg.RetryWait,
	}
	if o.logger == nil {
		o.logger = utils.Logger("qualification")
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.cooldown <= 0 {
		o.cooldown = 24 * time.Hour
	}
	return o
}

// Qualify extracts attributes from the lead's conversation, rescores the lead
// and persists the result together with any tasks it triggers. On failure
// the stored lead is left untouched.
func (o *Orchestrator) Qualify(ctx context.Context, leadID uint) (*Result, error) {
	unlock, err := o.locker.Lock(ctx, lock.LeadKey(leadID))
	if err != nil {
		return nil, fmt.Errorf("lock lead %d: %w", leadID, err)
	}
	defer unlock()

	log := o.logger.WithField("lead_id", leadID)

	lead, err := o.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("load lead %d: %w", leadID, err)
	}
	history, err := o.store.History(ctx, leadID, lead.Channel)
	if err != nil {
		return nil, fmt.Errorf("load conversation of lead %d: %w", leadID, err)
	}
	if len(history) == 0 {
		return &Result{Lead: lead, Skipped: true}, nil
	}

	ext, err := o.extract(ctx, history)
	if err != nil {
		log.WithError(err).Warn("qualification skipped")
		return nil, err
	}

	trigger := lastCustomerMessage(history)
	handoff := extraction.ReasonNone
	if trigger != nil {
		handoff = extraction.Reason(trigger.Content)
	}
	// the model flag reads the whole conversation, so it may still be set
	// long after the request was handled
	flagged := ext.WantsHumanAgent && handoff == extraction.ReasonNone
	if flagged {
		handoff = extraction.ReasonDirect
	}

	o.apply(lead, ext)
	if !scoring.Valid(lead.Score, lead.Label) {
		return nil, fmt.Errorf("%w: score %d label %s", ErrInvariantViolation, lead.Score, lead.Label)
	}

	tasks, err := o.decideTasks(ctx, lead, handoff, trigger, flagged)
	if err != nil {
		return nil, err
	}

	err = utils.RetryOnce(ctx, o.retryWait, retryableStoreError, func(ctx context.Context) error {
		return o.store.PersistLead(ctx, lead, tasks...)
	})
	if err != nil {
		if !errors.Is(err, store.ErrDuplicateTask) && !errors.Is(err, store.ErrVersionConflict) {
			utils.LogError("qualification_persist", err, map[string]interface{}{"lead_id": leadID})
		}
		return nil, fmt.Errorf("persist lead %d: %w", leadID, err)
	}

	log.WithFields(logrus.Fields{
		"score":  lead.Score,
		"label":  lead.Label,
		"status": lead.Status,
		"tasks":  len(tasks),
	}).Info("lead qualified")
	o.publish(lead, tasks)

	return &Result{Lead: lead, Tasks: tasks, Handoff: handoff}, nil
}

func (o *Orchestrator) extract(ctx context.Context, history []models.Message) (*models.Extraction, error) {
	var ext *models.Extraction
	err := utils.RetryOnce(ctx, o.retryWait, func(err error) bool {
		return !errors.Is(err, extraction.ErrMalformedOutput)
	}, func(ctx context.Context) error {
		var err error
		ext, err = o.extractor.Extract(ctx, history)
		return err
	})
	switch {
	case err == nil && ext == nil:
		return nil, ErrMalformedExtraction
	case err == nil:
		return ext, nil
	case errors.Is(err, extraction.ErrMalformedOutput):
		return nil, fmt.Errorf("%w: %v", ErrMalformedExtraction, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}
}

// apply merges the extraction and recomputes score, label and status.
func (o *Orchestrator) apply(lead *models.Lead, ext *models.Extraction) {
	lead.Preferences = MergePreferences(lead.Preferences, ext.Preferences())
	lead.Name = MergeName(lead.Name, ext.Name)
	if scoring.ParseInterest(ext.InterestLevel) != scoring.InterestUnknown {
		lead.InterestLevel = ext.InterestLevel
	}
	lead.WantsVisit = ext.WantsVisit

	res := scoring.ForLead(lead)
	lead.Score = res.Score
	lead.Label = res.Label

	if lead.Status == models.LeadStatusNew {
		switch {
		case lead.Score >= scoring.CallTaskThreshold:
			lead.Status = models.LeadStatusQualified
		case lead.Score > 50:
			lead.Status = models.LeadStatusContacted
		}
	}
}

func (o *Orchestrator) decideTasks(ctx context.Context, lead *models.Lead, handoff extraction.HandoffReason, trigger *models.Message, flagged bool) ([]models.Task, error) {
	since := o.now().Add(-o.cooldown)
	var tasks []models.Task

	recent := func(t models.TaskType) (bool, error) {
		found, err := o.store.HasRecentTask(ctx, lead.ID, t, since)
		if err != nil {
			return false, fmt.Errorf("check %s tasks of lead %d: %w", t, lead.ID, err)
		}
		return found, nil
	}

	switch {
	case lead.Score >= scoring.CallTaskThreshold:
		found, err := recent(models.TaskCall)
		if err != nil {
			return nil, err
		}
		if !found {
			tasks = append(tasks, models.Task{
				Type:        models.TaskCall,
				Priority:    models.PriorityHigh,
				Description: hotLeadDescription(lead),
				Dedupe:      true,
			})
		}
	case lead.Label == models.LabelHot:
		found, err := recent(models.TaskFollowUp)
		if err != nil {
			return nil, err
		}
		if !found {
			tasks = append(tasks, models.Task{
				Type:        models.TaskFollowUp,
				Priority:    models.PriorityNormal,
				Description: followUpDescription(lead),
				Dedupe:      true,
			})
		}
	}

	if lead.WantsVisit {
		found, err := recent(models.TaskPrepareVisit)
		if err != nil {
			return nil, err
		}
		if !found {
			tasks = append(tasks, models.Task{
				Type:        models.TaskPrepareVisit,
				Priority:    models.PriorityNormal,
				Description: fmt.Sprintf("%s quiere visitar inmuebles. Preparar propuesta de visita.", lead.DisplayName()),
				Dedupe:      true,
			})
		}
	}

	if handoff != extraction.ReasonNone && trigger != nil {
		task, err := o.contactTask(ctx, lead, handoff, trigger, flagged)
		if err != nil {
			return nil, err
		}
		if task != nil {
			tasks = append(tasks, *task)
		}
	}
	return tasks, nil
}

// contactTask returns the urgent task for a handoff request, keyed on the
// message that asked for it. Every new request gets its own task; reading
// the same message again does not. A request seen only through the model
// flag waits until no contact task is pending or recent.
func (o *Orchestrator) contactTask(ctx context.Context, lead *models.Lead, handoff extraction.HandoffReason, trigger *models.Message, flagged bool) (*models.Task, error) {
	ref := MessageReference(trigger.ID)
	found, err := o.store.HasTaskReference(ctx, lead.ID, ref)
	if err != nil {
		return nil, fmt.Errorf("check contact tasks of lead %d: %w", lead.ID, err)
	}
	if found {
		return nil, nil
	}
	if flagged {
		found, err = o.store.HasRecentTask(ctx, lead.ID, models.TaskContact, o.now().Add(-o.cooldown))
		if err != nil {
			return nil, fmt.Errorf("check contact tasks of lead %d: %w", lead.ID, err)
		}
		if found {
			return nil, nil
		}
	}
	return &models.Task{
		Type:        models.TaskContact,
		Priority:    models.PriorityUrgent,
		Description: handoffDescription(lead, handoff),
		Reference:   ref,
	}, nil
}

// MessageReference is the task reference of the conversation message that
// triggered it.
func MessageReference(messageID uint) string {
	return fmt.Sprintf("message:%d", messageID)
}

func (o *Orchestrator) publish(lead *models.Lead, tasks []models.Task) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(events.Event{
		Type:   events.LeadQualified,
		LeadID: lead.ID,
		Data: map[string]interface{}{
			"score":  lead.Score,
			"label":  lead.Label,
			"status": lead.Status,
		},
	})
	for _, t := range tasks {
		o.publisher.Publish(events.Event{Type: events.TaskCreated, LeadID: lead.ID, Data: t})
	}
}

func retryableStoreError(err error) bool {
	return !errors.Is(err, store.ErrVersionConflict) &&
		!errors.Is(err, store.ErrDuplicateTask) &&
		!errors.Is(err, store.ErrNotFound)
}

func lastCustomerMessage(history []models.Message) *models.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == models.RoleUser {
			return &history[i]
		}
	}
	return nil
}
