package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	controller "leadflow/controllers"
	"leadflow/dispatch"
	"leadflow/events"
	"leadflow/lock"
	"leadflow/middleware"
	"leadflow/models"
	"leadflow/nurturing"
	"leadflow/qualification"
	"leadflow/store"
	"leadflow/utils"
)

const (
	jwtSecret  = "test-jwt-secret"
	hookSecret = "test-hook-secret"
)

type staticExtractor struct{}

func (staticExtractor) Extract(context.Context, []models.Message) (*models.Extraction, error) {
	zone := "Chamberí"
	return &models.Extraction{Zone: &zone, InterestLevel: "alto"}, nil
}

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, uint, models.Channel, dispatch.Message) error { return nil }

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	st := store.NewMemoryStore()
	lk := lock.NewLocalLocker()
	hub := events.NewHub(8)

	orch := qualification.NewOrchestrator(st, staticExtractor{}, lk, qualification.Config{Publisher: hub})
	ingestor := qualification.NewIngestor(st, lk, orch, nil)

	cfg := nurturing.Config{Rules: nurturing.DefaultRules(), Renderer: nurturing.NewRenderer("Laura", "Inmobiliaria"), Publisher: hub}
	sched, err := nurturing.NewScheduler(st, nopDispatcher{}, lk, cfg)
	require.NoError(t, err)

	app := fiber.New()
	SetupRoutes(app, Handlers{
		Inbound:   controller.NewInboundController(ingestor, nil),
		Auth:      controller.NewAuthController("", jwtSecret, time.Hour),
		Leads:     controller.NewLeadController(st, orch, nil),
		Tasks:     controller.NewTaskController(st, hub),
		Nurturing: controller.NewNurturingController(sched),
		Inventory: controller.NewInventoryController(st, nurturing.NewInventoryNotifier(st, nopDispatcher{}, lk, cfg), nil),
		Dashboard: controller.NewDashboardController(st, time.UTC),
		Events:    hub,

		JWTSecret:     jwtSecret,
		WebhookSecret: hookSecret,
		WebhookRate:   100,
	})
	return app
}

func request(t *testing.T, app *fiber.App, method, path, body string, headers map[string]string) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func bearer(t *testing.T) map[string]string {
	t.Helper()
	token, _, err := utils.GenerateJWTToken(jwtSecret, "ana", "admin", time.Hour)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestWebhookRequiresSecret(t *testing.T) {
	app := newTestApp(t)
	body := `{"channel":"whatsapp","external_id":"+34600111222","content":"Busco piso en Chamberí"}`

	resp := request(t, app, http.MethodPost, "/webhooks/inbound", body, nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = request(t, app, http.MethodPost, "/webhooks/inbound", body, map[string]string{middleware.WebhookSecretHeader: hookSecret})
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
}

func TestInboundLeadIsVisibleThroughAPI(t *testing.T) {
	app := newTestApp(t)
	hook := map[string]string{middleware.WebhookSecretHeader: hookSecret}

	resp := request(t, app, http.MethodPost, "/webhooks/inbound",
		`{"channel":"whatsapp","external_id":"+34600111222","name":"Marta","content":"Busco piso en Chamberí"}`, hook)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp = request(t, app, http.MethodGet, "/api/v1/leads", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = request(t, app, http.MethodGet, "/api/v1/leads", "", bearer(t))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var env struct {
		Data struct {
			Total int64 `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.EqualValues(t, 1, env.Data.Total)
}

func TestRulesAndRunAreProtected(t *testing.T) {
	app := newTestApp(t)

	resp := request(t, app, http.MethodGet, "/api/v1/nurturing/rules", "", bearer(t))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp = request(t, app, http.MethodPost, "/api/v1/nurturing/run", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	resp = request(t, app, http.MethodPost, "/api/v1/nurturing/run", "", bearer(t))
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestTokenEndpointWithoutKeyConfigured(t *testing.T) {
	app := newTestApp(t)
	resp := request(t, app, http.MethodPost, "/auth/token", `{"operator":"ana","api_key":"x"}`, nil)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
