package qualification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"leadflow/lock"
	"leadflow/models"
	"leadflow/store"
	"leadflow/utils"
)

// InboundMessage is what every channel adapter hands over, already
// normalized to the lead's identity on that channel.
type InboundMessage struct {
	Channel    models.Channel `json:"channel" validate:"required,oneof=whatsapp instagram email phone web portal"`
	ExternalID string         `json:"external_id" validate:"required,max=255"`
	Name       string         `json:"name" validate:"max=255"`
	Phone      string         `json:"phone" validate:"max=32"`
	Email      string         `json:"email" validate:"omitempty,email"`
	Content    string         `json:"content" validate:"required"`
	Role       string         `json:"role" validate:"omitempty,oneof=user assistant"`
	At         time.Time      `json:"at"`

	// MessageID is the channel's id for the message. Resubmitting the same
	// id is a no-op.
	MessageID string `json:"message_id" validate:"max=255"`
}

// ErrInvalidMessage wraps validation failures of an inbound message.
var ErrInvalidMessage = errors.New("invalid inbound message")

// Inbox is the single entry point for inbound messages.
type Inbox interface {
	Submit(ctx context.Context, msg InboundMessage) (*Submission, error)
}

type Submission struct {
	Lead    *models.Lead  `json:"lead"`
	Created bool          `json:"created"`
	Tasks   []models.Task `json:"tasks,omitempty"`
	// Duplicate is set when the message id was already recorded.
	Duplicate bool `json:"duplicate,omitempty"`
	// QualifyError is kept out of the reply to the customer; the conversation
	// continues with the previous score.
	QualifyError error `json:"-"`
}

// InboxStore adds the write path of inbound messages to LeadStore.
type InboxStore interface {
	LeadStore
	GetOrCreateLead(ctx context.Context, in store.NewLead) (*models.Lead, bool, error)
	RecordInbound(ctx context.Context, lead *models.Lead, msg *models.Message) error
}

// Ingestor records inbound messages and qualifies the lead right after.
type Ingestor struct {
	store     InboxStore
	locker    lock.Locker
	qualifier *Orchestrator
	logger    logrus.FieldLogger
	now       func() time.Time
}

func NewIngestor(st InboxStore, lk lock.Locker, q *Orchestrator, logger logrus.FieldLogger) *Ingestor {
	if logger == nil {
		logger = utils.Logger("inbox")
	}
	return &Ingestor{store: st, locker: lk, qualifier: q, logger: logger, now: time.Now}
}

func (i *Ingestor) Submit(ctx context.Context, msg InboundMessage) (*Submission, error) {
	msg.ExternalID = strings.TrimSpace(msg.ExternalID)
	msg.MessageID = strings.TrimSpace(msg.MessageID)
	if err := utils.ValidateStruct(&msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.At.IsZero() {
		msg.At = i.now()
	}
	if msg.Role == "" {
		msg.Role = models.RoleUser
	}

	var name *string
	if n := strings.TrimSpace(msg.Name); n != "" {
		name = &n
	}
	lead, created, err := i.store.GetOrCreateLead(ctx, store.NewLead{
		Channel:    msg.Channel,
		ExternalID: msg.ExternalID,
		Name:       name,
		Phone:      msg.Phone,
		Email:      msg.Email,
		At:         msg.At,
	})
	if err != nil {
		return nil, fmt.Errorf("resolve lead: %w", err)
	}

	lead, err = i.record(ctx, lead.ID, msg)
	if errors.Is(err, store.ErrDuplicateMessage) {
		i.logger.WithFields(logrus.Fields{
			"lead_id":    lead.ID,
			"message_id": msg.MessageID,
		}).Info("message already recorded, skipped")
		return &Submission{Lead: lead, Duplicate: true}, nil
	}
	if err != nil {
		return nil, err
	}

	sub := &Submission{Lead: lead, Created: created}
	if msg.Role != models.RoleUser || i.qualifier == nil {
		return sub, nil
	}

	res, err := i.qualifier.Qualify(ctx, lead.ID)
	if err != nil {
		sub.QualifyError = err
		i.logger.WithError(err).WithField("lead_id", lead.ID).Warn("qualification failed, keeping previous score")
		return sub, nil
	}
	sub.Lead = res.Lead
	sub.Tasks = res.Tasks
	return sub, nil
}

// record appends the message and bumps the interaction counter in one store
// write under the lead lock.
func (i *Ingestor) record(ctx context.Context, leadID uint, msg InboundMessage) (*models.Lead, error) {
	unlock, err := i.locker.Lock(ctx, lock.LeadKey(leadID))
	if err != nil {
		return nil, fmt.Errorf("lock lead %d: %w", leadID, err)
	}
	defer unlock()

	entry := &models.Message{
		LeadID:    leadID,
		Channel:   msg.Channel,
		Role:      msg.Role,
		Content:   msg.Content,
		Timestamp: msg.At,
	}
	if msg.MessageID != "" {
		id := string(msg.Channel) + ":" + msg.MessageID
		entry.ExternalMessageID = &id
	}

	err = utils.RetryOnce(ctx, 0, func(err error) bool { return errors.Is(err, store.ErrVersionConflict) }, func(ctx context.Context) error {
		lead, err := i.store.GetLead(ctx, leadID)
		if err != nil {
			return err
		}
		if msg.Role == models.RoleUser {
			lead.TotalInteractions++
		}
		if msg.At.After(lead.LastContact) {
			lead.LastContact = msg.At
		}
		if lead.Phone == "" && msg.Phone != "" {
			lead.Phone = msg.Phone
		}
		if lead.Email == "" && msg.Email != "" {
			lead.Email = strings.ToLower(msg.Email)
		}
		return i.store.RecordInbound(ctx, lead, entry)
	})
	if errors.Is(err, store.ErrDuplicateMessage) {
		lead, gerr := i.store.GetLead(ctx, leadID)
		if gerr != nil {
			return nil, gerr
		}
		return lead, err
	}
	if err != nil {
		return nil, fmt.Errorf("record message for lead %d: %w", leadID, err)
	}
	return i.store.GetLead(ctx, leadID)
}
