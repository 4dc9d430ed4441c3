// Package dispatch delivers outbound nurturing messages over the lead's
// channels.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"leadflow/models"
	"leadflow/utils"
)

var (
	ErrNoSender         = errors.New("no sender configured for channel")
	ErrInvalidRecipient = errors.New("invalid recipient")
	// ErrTemporary marks failures worth one more attempt.
	ErrTemporary = errors.New("temporary delivery failure")
)

// Message is one rendered outbound message.
type Message struct {
	To       string
	Subject  string
	Body     string
	Template string
}

// Sender delivers on one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Router picks the Sender registered for a channel.
type Router struct {
	mu      sync.RWMutex
	senders map[models.Channel]Sender
	logger  logrus.FieldLogger
}

func NewRouter(logger logrus.FieldLogger) *Router {
	if logger == nil {
		logger = utils.Logger("dispatch")
	}
	return &Router{senders: make(map[models.Channel]Sender), logger: logger}
}

func (r *Router) Register(ch models.Channel, s Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.senders[ch] = s
}

// Supports reports whether the channel has a sender.
func (r *Router) Supports(ch models.Channel) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.senders[ch]
	return ok
}

func (r *Router) Dispatch(ctx context.Context, leadID uint, ch models.Channel, msg Message) error {
	r.mu.RLock()
	s, ok := r.senders[ch]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSender, ch)
	}
	if strings.TrimSpace(msg.To) == "" {
		return fmt.Errorf("%w: empty address for lead %d", ErrInvalidRecipient, leadID)
	}

	log := r.logger.WithFields(logrus.Fields{
		"lead_id":  leadID,
		"channel":  ch,
		"template": msg.Template,
	})
	if err := s.Send(ctx, msg); err != nil {
		log.WithError(err).Warn("dispatch failed")
		return err
	}
	log.Info("message dispatched")
	return nil
}

// IsTemporary reports whether a delivery error may succeed on retry.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTemporary) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	// SMTP replies that indicate temporary failures
	msg := strings.ToLower(err.Error())
	for _, code := range []string{"try again", "temporary", "421", "450", "451", "452"} {
		if strings.Contains(msg, code) {
			return true
		}
	}
	return false
}

// LogSender only logs. Used when a channel has no gateway configured.
type LogSender struct {
	Channel models.Channel
	Logger  logrus.FieldLogger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = utils.Logger("dispatch")
	}
	logger.WithFields(logrus.Fields{
		"channel":  s.Channel,
		"to":       msg.To,
		"subject":  msg.Subject,
		"template": msg.Template,
	}).Info("dry-run delivery")
	return nil
}
