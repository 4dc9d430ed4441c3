package dispatch

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const twilioAPI = "https://api.twilio.com/2010-04-01"

type WhatsAppConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string
	Timeout    time.Duration
}

// WhatsAppSender posts messages to the Twilio WhatsApp API.
type WhatsAppSender struct {
	cfg    WhatsAppConfig
	client *fasthttp.Client
}

func NewWhatsAppSender(cfg WhatsAppConfig, client *fasthttp.Client) *WhatsAppSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioAPI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if client == nil {
		client = &fasthttp.Client{
			Name:         "leadflow",
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}
	}
	return &WhatsAppSender{cfg: cfg, client: client}
}

type twilioError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func whatsappAddress(number string) string {
	number = strings.TrimSpace(number)
	if strings.HasPrefix(number, "whatsapp:") {
		return number
	}
	return "whatsapp:" + number
}

func (s *WhatsAppSender) Send(ctx context.Context, msg Message) error {
	to := strings.TrimPrefix(strings.TrimSpace(msg.To), "whatsapp:")
	if !strings.HasPrefix(to, "+") || len(to) < 8 {
		return fmt.Errorf("%w: %q is not an E.164 number", ErrInvalidRecipient, msg.To)
	}

	timeout := s.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return fmt.Errorf("whatsapp send: %w", context.DeadlineExceeded)
	}

	form := url.Values{}
	form.Set("To", whatsappAddress(to))
	form.Set("From", whatsappAddress(s.cfg.From))
	form.Set("Body", msg.Body)

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/Accounts/%s/Messages.json", s.cfg.BaseURL, s.cfg.AccountSID))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(s.cfg.AccountSID+":"+s.cfg.AuthToken)))
	req.SetBodyString(form.Encode())

	if err := s.client.DoTimeout(req, resp, timeout); err != nil {
		return fmt.Errorf("%w: whatsapp send: %v", ErrTemporary, err)
	}

	status := resp.StatusCode()
	if status >= 200 && status < 300 {
		return nil
	}

	var apiErr twilioError
	_ = json.Unmarshal(resp.Body(), &apiErr)
	if status == fasthttp.StatusTooManyRequests || status >= 500 {
		return fmt.Errorf("%w: whatsapp api %d: %s", ErrTemporary, status, apiErr.Message)
	}
	return fmt.Errorf("whatsapp api %d (code %d): %s", status, apiErr.Code, apiErr.Message)
}
