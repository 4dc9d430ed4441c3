package dispatch

import (
	"context"
	"errors"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
	"gopkg.in/gomail.v2"

	"leadflow/models"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, msg)
	return nil
}

func TestRouterDispatch(t *testing.T) {
	r := NewRouter(nil)
	wa := &recordingSender{}
	r.Register(models.ChannelWhatsApp, wa)

	assert.True(t, r.Supports(models.ChannelWhatsApp))
	assert.False(t, r.Supports(models.ChannelEmail))

	err := r.Dispatch(context.Background(), 1, models.ChannelWhatsApp, Message{To: "+34600000000", Body: "hola"})
	require.NoError(t, err)
	require.Len(t, wa.sent, 1)
	assert.Equal(t, "hola", wa.sent[0].Body)

	err = r.Dispatch(context.Background(), 1, models.ChannelEmail, Message{To: "a@b.es"})
	assert.ErrorIs(t, err, ErrNoSender)

	err = r.Dispatch(context.Background(), 1, models.ChannelWhatsApp, Message{To: " "})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestIsTemporary(t *testing.T) {
	assert.True(t, IsTemporary(errors.New("421 Service not available, try again later")))
	assert.True(t, IsTemporary(ErrTemporary))
	assert.True(t, IsTemporary(context.DeadlineExceeded))
	assert.False(t, IsTemporary(errors.New("550 mailbox unavailable")))
	assert.False(t, IsTemporary(nil))
}

func TestEmailSenderBuildsMessage(t *testing.T) {
	var got *gomail.Message
	s := &EmailSender{
		cfg: SMTPConfig{FromEmail: "agencia@example.com", FromName: "Inmobiliaria"},
		send: func(m *gomail.Message) error {
			got = m
			return nil
		},
	}

	err := s.Send(context.Background(), Message{To: "ana@example.com", Subject: "Novedades", Body: "Hola Ana", Template: "reactivation"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"ana@example.com"}, got.GetHeader("To"))
	assert.Equal(t, []string{"Novedades"}, got.GetHeader("Subject"))
	assert.Equal(t, []string{"reactivation"}, got.GetHeader("X-Leadflow-Template"))
}

func TestEmailSenderRejectsBadAddress(t *testing.T) {
	s := &EmailSender{send: func(*gomail.Message) error { t.Fatal("must not send"); return nil }}
	err := s.Send(context.Background(), Message{To: "not-an-email"})
	assert.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestEmailSenderHonoursContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	s := &EmailSender{send: func(*gomail.Message) error { <-block; return nil }}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, Message{To: "ana@example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// twilioStub serves a fake Messages endpoint on an in-memory listener.
func twilioStub(t *testing.T, status int, body string) (*fasthttp.Client, *url.Values) {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	form := &url.Values{}
	var mu sync.Mutex

	srv := &fasthttp.Server{Handler: func(ctx *fasthttp.RequestCtx) {
		mu.Lock()
		defer mu.Unlock()
		parsed, _ := url.ParseQuery(string(ctx.PostBody()))
		*form = parsed
		if string(ctx.Path()) != "/Accounts/AC123/Messages.json" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		ctx.SetStatusCode(status)
		ctx.SetBodyString(body)
	}}
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { ln.Close() })

	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	return client, form
}

func TestWhatsAppSender(t *testing.T) {
	cfg := WhatsAppConfig{AccountSID: "AC123", AuthToken: "tok", From: "+14155238886", BaseURL: "http://twilio.test"}

	t.Run("accepted", func(t *testing.T) {
		client, form := twilioStub(t, fasthttp.StatusCreated, `{"sid":"SM1"}`)
		s := NewWhatsAppSender(cfg, client)

		err := s.Send(context.Background(), Message{To: "+34600111222", Body: "Hola"})
		require.NoError(t, err)
		assert.Equal(t, "whatsapp:+34600111222", form.Get("To"))
		assert.Equal(t, "whatsapp:+14155238886", form.Get("From"))
		assert.Equal(t, "Hola", form.Get("Body"))
	})

	t.Run("rate limited is temporary", func(t *testing.T) {
		client, _ := twilioStub(t, fasthttp.StatusTooManyRequests, `{"code":20429,"message":"Too Many Requests"}`)
		err := NewWhatsAppSender(cfg, client).Send(context.Background(), Message{To: "+34600111222", Body: "Hola"})
		assert.ErrorIs(t, err, ErrTemporary)
	})

	t.Run("bad request is permanent", func(t *testing.T) {
		client, _ := twilioStub(t, fasthttp.StatusBadRequest, `{"code":21211,"message":"Invalid 'To' Phone Number"}`)
		err := NewWhatsAppSender(cfg, client).Send(context.Background(), Message{To: "+34600111222", Body: "Hola"})
		require.Error(t, err)
		assert.False(t, IsTemporary(err))
	})

	t.Run("invalid number never leaves the process", func(t *testing.T) {
		err := NewWhatsAppSender(cfg, &fasthttp.Client{}).Send(context.Background(), Message{To: "600111222"})
		assert.ErrorIs(t, err, ErrInvalidRecipient)
	})
}
