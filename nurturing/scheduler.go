package nurturing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"leadflow/dispatch"
	"leadflow/events"
	"leadflow/lock"
	"leadflow/models"
	"leadflow/store"
	"leadflow/utils"
)

// ErrPassInProgress is returned when another pass holds the pass lock.
var ErrPassInProgress = errors.New("nurturing pass already in progress")

// Dispatcher delivers a rendered message on a channel.
type Dispatcher interface {
	Dispatch(ctx context.Context, leadID uint, ch models.Channel, msg dispatch.Message) error
}

// Publisher receives activity notifications.
type Publisher interface {
	Publish(e events.Event)
}

// Store is the persistence the scheduler needs.
type Store interface {
	LoadActiveLeads(ctx context.Context) ([]models.Lead, error)
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	ReserveDispatch(ctx context.Context, lead *models.Lead, action *models.NurturingAction) error
	FinishDispatch(ctx context.Context, action *models.NurturingAction, sendErr error, restore *models.Lead) error
}

type Config struct {
	Rules []Rule
	// Workers bounds how many leads are processed at once.
	Workers     int
	SendTimeout time.Duration
	Renderer    *Renderer
	Publisher   Publisher
	Logger      logrus.FieldLogger
}

// Scheduler evaluates the rule table against every active lead.
type Scheduler struct {
	rules   []Rule
	workers int
	locker  lock.Locker
	sender
}

func NewScheduler(st Store, d Dispatcher, lk lock.Locker, cfg Config) (*Scheduler, error) {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRules()
	}
	if err := Validate(cfg.Rules); err != nil {
		return nil, fmt.Errorf("invalid rule table: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Scheduler{
		rules:   cfg.Rules,
		workers: cfg.Workers,
		locker:  lk,
		sender:  newSender(st, d, cfg, "nurturing"),
	}, nil
}

// Rules returns the active rule table in priority order.
func (s *Scheduler) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// DispatchKey identifies one firing of a rule: the same rule cannot fire twice
// for the same last-contact instant.
func DispatchKey(leadID uint, ruleID string, lastContact time.Time) string {
	return fmt.Sprintf("%d:%s:%d", leadID, ruleID, lastContact.Unix())
}

type passStats struct {
	mu         sync.Mutex
	actions    []models.NurturingAction
	failed     int
	suppressed int
	errors     int
}

func (p *passStats) add(a *models.NurturingAction, suppressed bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if suppressed {
		p.suppressed++
	}
	if a != nil {
		p.actions = append(p.actions, *a)
		if a.Status == models.ActionFailed {
			p.failed++
		}
	} else if err != nil {
		p.errors++
	}
}

// RunPass evaluates every active lead at now and dispatches at most one action
// per lead. Passes never overlap. When ctx is cancelled the remaining leads
// are skipped and the actions already dispatched are returned with ctx.Err().
func (s *Scheduler) RunPass(ctx context.Context, now time.Time) ([]models.NurturingAction, error) {
	unlock, ok, err := s.locker.TryLock(ctx, lock.PassKey)
	if err != nil {
		return nil, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !ok {
		return nil, ErrPassInProgress
	}
	defer unlock()

	log := s.logger.WithField("pass_id", uuid.NewString())
	started := time.Now()

	leads, err := s.store.LoadActiveLeads(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active leads: %w", err)
	}

	stats := &passStats{}
	var g errgroup.Group
	g.SetLimit(s.workers)
	for i := range leads {
		if ctx.Err() != nil {
			break
		}
		id := leads[i].ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			action, suppressed, err := s.processLead(ctx, id, now)
			if err != nil {
				log.WithError(err).WithField("lead_id", id).Warn("nurturing failed for lead")
			}
			stats.add(action, suppressed, err)
			return nil
		})
	}
	_ = g.Wait()

	fields := logrus.Fields{
		"leads":      len(leads),
		"dispatched": len(stats.actions) - stats.failed,
		"failed":     stats.failed,
		"suppressed": stats.suppressed,
		"errors":     stats.errors,
		"duration":   time.Since(started).String(),
	}
	if s.publisher != nil {
		s.publisher.Publish(events.Event{Type: events.PassCompleted, Data: fields})
	}
	if err := ctx.Err(); err != nil {
		log.WithFields(fields).Warn("nurturing pass cancelled")
		return stats.actions, err
	}
	log.WithFields(fields).Info("nurturing pass completed")
	return stats.actions, nil
}

func (s *Scheduler) processLead(ctx context.Context, leadID uint, now time.Time) (*models.NurturingAction, bool, error) {
	unlock, err := s.locker.Lock(ctx, lock.LeadKey(leadID))
	if err != nil {
		return nil, false, fmt.Errorf("lock lead %d: %w", leadID, err)
	}
	defer unlock()

	// the snapshot may be stale; qualification could have run since
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, false, fmt.Errorf("reload lead %d: %w", leadID, err)
	}
	if !lead.Status.IsActive() {
		return nil, false, nil
	}

	decision := Evaluate(s.rules, FactsFor(lead, now))
	if decision.Rule == nil {
		return nil, false, nil
	}
	rule := decision.Rule
	if decision.Suppressed {
		s.logger.WithFields(logrus.Fields{"lead_id": leadID, "rule": rule.ID}).Debug("rule fired recently, lead suppressed")
		return nil, true, nil
	}

	msg, err := s.renderer.Render(rule.Template, lead, nil)
	if err != nil {
		return nil, false, err
	}
	action := &models.NurturingAction{
		RuleID:      rule.ID,
		Channel:     rule.Channel,
		Template:    rule.Template,
		DispatchKey: DispatchKey(lead.ID, rule.ID, lead.LastContact),
	}
	action, err = s.deliver(ctx, lead, action, msg, now, true)
	return action, false, err
}

// sender runs the reserve, send, finish sequence shared by the rule pass and
// the inventory trigger.
type sender struct {
	store       Store
	dispatcher  Dispatcher
	renderer    *Renderer
	publisher   Publisher
	logger      logrus.FieldLogger
	sendTimeout time.Duration
}

func newSender(st Store, d Dispatcher, cfg Config, component string) sender {
	s := sender{
		store:       st,
		dispatcher:  d,
		renderer:    cfg.Renderer,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
		sendTimeout: cfg.SendTimeout,
	}
	if s.renderer == nil {
		s.renderer = NewRenderer("", "")
	}
	if s.logger == nil {
		s.logger = utils.Logger(component)
	}
	if s.sendTimeout <= 0 {
		s.sendTimeout = 30 * time.Second
	}
	return s
}

// deliver must be called with the lead lock held. It returns (nil, nil) when
// the trigger was already handled.
func (s *sender) deliver(ctx context.Context, lead *models.Lead, action *models.NurturingAction, msg dispatch.Message, now time.Time, mark bool) (*models.NurturingAction, error) {
	msg.To = recipient(lead, action.Channel)
	action.Subject = msg.Subject
	action.Body = msg.Body

	restore := *lead
	lead.LastContact = now
	if mark {
		at := now
		lead.LastNurturingRule = action.RuleID
		lead.LastNurturingAt = &at
	}

	log := s.logger.WithFields(logrus.Fields{
		"lead_id": lead.ID,
		"rule":    action.RuleID,
		"channel": action.Channel,
	})

	if err := s.store.ReserveDispatch(ctx, lead, action); err != nil {
		if errors.Is(err, store.ErrAlreadyDispatched) {
			log.Debug("trigger already dispatched")
			return nil, nil
		}
		return nil, fmt.Errorf("reserve dispatch for lead %d: %w", lead.ID, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	sendErr := s.dispatcher.Dispatch(sendCtx, lead.ID, action.Channel, msg)
	cancel()

	// the outcome is recorded even if the pass is being cancelled
	restore.Version = lead.Version
	finishCtx := context.WithoutCancel(ctx)
	if err := s.store.FinishDispatch(finishCtx, action, sendErr, &restore); err != nil {
		utils.LogError("nurturing_finish_dispatch", err, map[string]interface{}{
			"lead_id":   lead.ID,
			"action_id": action.ID,
		})
		return action, fmt.Errorf("finish dispatch %d: %w", action.ID, err)
	}

	if sendErr != nil {
		log.WithError(sendErr).Warn("nurturing message not delivered, will retry next pass")
		s.publish(events.ActionFailed, action)
		return action, nil
	}
	log.Info("nurturing message sent")
	s.publish(events.ActionDispatched, action)
	return action, nil
}

func (s *sender) publish(t events.Type, a *models.NurturingAction) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.Event{Type: t, LeadID: a.LeadID, Data: *a})
}

func recipient(lead *models.Lead, ch models.Channel) string {
	if ch == models.ChannelEmail {
		return lead.EmailAddress()
	}
	return lead.PhoneNumber()
}
