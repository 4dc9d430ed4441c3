package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"

	"leadflow/models"
	"leadflow/qualification"
	"leadflow/utils"
)

// IncomingMail is one unread message pulled from the mailbox. UID stays valid
// across sessions, unlike the sequence number.
type IncomingMail struct {
	UID       uint32
	MessageID string
	From      string
	Name      string
	Subject   string
	Body      string
	Date      time.Time
}

// Mailbox is the email channel adapter's source of unread mail.
type Mailbox interface {
	Unseen(ctx context.Context) ([]IncomingMail, error)
	MarkSeen(ctx context.Context, uids []uint32) error
}

type IMAPConfig struct {
	Host       string
	Port       int
	Encryption string
	Username   string
	Password   string
	Mailbox    string
}

// IMAPMailbox opens a new session per call.
type IMAPMailbox struct {
	cfg IMAPConfig
}

func NewIMAPMailbox(cfg IMAPConfig) *IMAPMailbox {
	if cfg.Mailbox == "" {
		cfg.Mailbox = "INBOX"
	}
	return &IMAPMailbox{cfg: cfg}
}

func (m *IMAPMailbox) connect() (*client.Client, error) {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	tlsConfig := &tls.Config{ServerName: m.cfg.Host}

	var (
		c   *client.Client
		err error
	)
	switch strings.ToUpper(m.cfg.Encryption) {
	case "SSL", "TLS":
		c, err = client.DialTLS(addr, tlsConfig)
	case "STARTTLS":
		c, err = client.Dial(addr)
		if err == nil {
			err = c.StartTLS(tlsConfig)
		}
	default:
		c, err = client.Dial(addr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}

	if err := c.Login(m.cfg.Username, m.cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to login to IMAP server: %w", err)
	}
	if _, err := c.Select(m.cfg.Mailbox, false); err != nil {
		c.Logout()
		return nil, fmt.Errorf("failed to select mailbox: %w", err)
	}
	return c, nil
}

func (m *IMAPMailbox) Unseen(ctx context.Context) ([]IncomingMail, error) {
	c, err := m.connect()
	if err != nil {
		return nil, err
	}
	defer c.Logout()

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, imap.FetchEnvelope, section.FetchItem()}, messages)
	}()

	var out []IncomingMail
	for msg := range messages {
		if ctx.Err() != nil {
			continue
		}
		in := IncomingMail{UID: msg.Uid}
		if env := msg.Envelope; env != nil {
			in.MessageID = env.MessageId
			in.Subject = env.Subject
			in.Date = env.Date
			if len(env.From) > 0 {
				from := env.From[0]
				in.From = from.MailboxName + "@" + from.HostName
				in.Name = from.PersonalName
			}
		}
		if literal := msg.GetBody(section); literal != nil {
			body, err := plainTextBody(literal)
			if err != nil {
				continue
			}
			in.Body = body
		}
		out = append(out, in)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("error during fetch: %w", err)
	}
	return out, ctx.Err()
}

func (m *IMAPMailbox) MarkSeen(_ context.Context, uids []uint32) error {
	if len(uids) == 0 {
		return nil
	}
	c, err := m.connect()
	if err != nil {
		return err
	}
	defer c.Logout()

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	return c.UidStore(seqset, item, []interface{}{imap.SeenFlag}, nil)
}

// plainTextBody returns the first text/plain part, falling back to HTML.
func plainTextBody(r io.Reader) (string, error) {
	mr, err := mail.CreateReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to create message reader: %w", err)
	}

	var text, html string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("failed to read next part: %w", err)
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		b, err := io.ReadAll(p.Body)
		if err != nil {
			return "", fmt.Errorf("failed to read body: %w", err)
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && text == "":
			text = string(b)
		case strings.HasPrefix(contentType, "text/html") && html == "":
			html = string(b)
		}
	}
	if text == "" {
		text = html
	}
	return strings.TrimSpace(text), nil
}

// InboundFromMail normalizes an email into the shared inbound shape. A new
// subject line is kept as context for the extractor; replies drop it.
func InboundFromMail(m IncomingMail) qualification.InboundMessage {
	content := m.Body
	if m.Subject != "" && !strings.HasPrefix(strings.ToLower(m.Subject), "re:") {
		content = fmt.Sprintf("[Asunto: %s]\n%s", m.Subject, m.Body)
	}
	return qualification.InboundMessage{
		Channel:    models.ChannelEmail,
		ExternalID: strings.ToLower(m.From),
		MessageID:  m.MessageID,
		Name:       m.Name,
		Email:      strings.ToLower(m.From),
		Content:    content,
		Role:       models.RoleUser,
		At:         m.Date,
	}
}

// InboxWorker polls the mailbox and submits every unread email as an
// inbound message.
type InboxWorker struct {
	mailbox  Mailbox
	inbox    qualification.Inbox
	interval time.Duration
	logger   logrus.FieldLogger
}

func NewInboxWorker(mailbox Mailbox, inbox qualification.Inbox, interval time.Duration, logger logrus.FieldLogger) *InboxWorker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = utils.Logger("inbox_worker")
	}
	return &InboxWorker{mailbox: mailbox, inbox: inbox, interval: interval, logger: logger}
}

func (w *InboxWorker) Start(ctx context.Context) {
	w.logger.Info("inbox worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.Poll(ctx)
		case <-ctx.Done():
			w.logger.Info("inbox worker shutting down")
			return
		}
	}
}

// Poll submits the current unread mail once. Messages that fail to submit
// stay unread and are picked up by the next poll. Mail left unread after a
// failed MarkSeen is submitted again and dropped by its Message-ID.
func (w *InboxWorker) Poll(ctx context.Context) int {
	mails, err := w.mailbox.Unseen(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("failed to fetch mail")
		return 0
	}

	var seen []uint32
	for _, m := range mails {
		if ctx.Err() != nil {
			break
		}
		if m.From == "" || strings.TrimSpace(m.Body) == "" {
			seen = append(seen, m.UID)
			continue
		}
		sub, err := w.inbox.Submit(ctx, InboundFromMail(m))
		if err != nil {
			w.logger.WithError(err).WithField("from", m.From).Warn("failed to submit email")
			continue
		}
		seen = append(seen, m.UID)
		w.logger.WithFields(logrus.Fields{
			"lead_id":   sub.Lead.ID,
			"created":   sub.Created,
			"duplicate": sub.Duplicate,
		}).Info("email received")
	}

	if err := w.mailbox.MarkSeen(ctx, seen); err != nil {
		w.logger.WithError(err).Warn("failed to mark mail as seen")
	}
	return len(seen)
}
