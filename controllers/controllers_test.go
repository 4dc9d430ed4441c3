package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"leadflow/events"
	"leadflow/models"
	"leadflow/nurturing"
	"leadflow/qualification"
	"leadflow/store"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func do(t *testing.T, app *fiber.App, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &env), string(raw))
	}
	return resp.StatusCode, env
}

func seed(t *testing.T, st store.Store, externalID string, score int) *models.Lead {
	t.Helper()
	ctx := context.Background()
	lead, _, err := st.GetOrCreateLead(ctx, store.NewLead{
		Channel:    models.ChannelWhatsApp,
		ExternalID: externalID,
		At:         time.Now(),
	})
	require.NoError(t, err)
	lead.Score = score
	require.NoError(t, st.PersistLead(ctx, lead))
	return lead
}

type fakeInbox struct {
	sub *qualification.Submission
	err error
	got qualification.InboundMessage
}

func (f *fakeInbox) Submit(_ context.Context, msg qualification.InboundMessage) (*qualification.Submission, error) {
	f.got = msg
	return f.sub, f.err
}

func TestHandleInbound(t *testing.T) {
	lead := &models.Lead{Score: 40, Label: models.LabelInterested}
	lead.ID = 7
	inbox := &fakeInbox{sub: &qualification.Submission{Lead: lead, Created: true}}

	app := fiber.New()
	app.Post("/inbound", NewInboundController(inbox, nil).HandleInbound)

	status, env := do(t, app, http.MethodPost, "/inbound", fiber.Map{
		"channel":     "whatsapp",
		"external_id": "+34600111222",
		"content":     "Busco piso en Chamberí",
	})
	assert.Equal(t, fiber.StatusCreated, status)
	assert.Equal(t, "+34600111222", inbox.got.ExternalID)

	var out InboundResponse
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, uint(7), out.LeadID)
	assert.Equal(t, "interested", out.Label)

	inbox.sub.Created = false
	status, _ = do(t, app, http.MethodPost, "/inbound", fiber.Map{"channel": "whatsapp", "external_id": "x", "content": "hola"})
	assert.Equal(t, fiber.StatusOK, status)

	inbox.err = errors.Join(qualification.ErrInvalidMessage, errors.New("content is required"))
	status, env = do(t, app, http.MethodPost, "/inbound", fiber.Map{"channel": "whatsapp"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.False(t, env.Success)
}

type fakeQualifier struct {
	res *qualification.Result
	err error
}

func (f *fakeQualifier) Qualify(context.Context, uint) (*qualification.Result, error) {
	return f.res, f.err
}

func TestLeadEndpoints(t *testing.T) {
	st := store.NewMemoryStore()
	hot := seed(t, st, "hot", 80)
	seed(t, st, "cold", 10)

	q := &fakeQualifier{}
	lc := NewLeadController(st, q, nil)
	app := fiber.New()
	app.Get("/leads", lc.GetLeads)
	app.Get("/leads/:id", lc.GetLead)
	app.Get("/leads/:id/summary", lc.GetSummary)
	app.Post("/leads/:id/qualify", lc.QualifyLead)
	app.Post("/leads/:id/tags", lc.AddTag)
	app.Get("/leads/:id/actions", lc.GetActions)

	t.Run("list filters by min score", func(t *testing.T) {
		status, env := do(t, app, http.MethodGet, "/leads?min_score=50", nil)
		require.Equal(t, fiber.StatusOK, status)
		var page struct {
			Data  []map[string]interface{} `json:"data"`
			Total int64                    `json:"total"`
		}
		require.NoError(t, json.Unmarshal(env.Data, &page))
		assert.EqualValues(t, 1, page.Total)
		assert.Len(t, page.Data, 1)
	})

	t.Run("unknown and malformed ids", func(t *testing.T) {
		status, _ := do(t, app, http.MethodGet, "/leads/999", nil)
		assert.Equal(t, fiber.StatusNotFound, status)
		status, _ = do(t, app, http.MethodGet, "/leads/abc", nil)
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("summary", func(t *testing.T) {
		status, env := do(t, app, http.MethodGet, "/leads/"+itoa(hot.ID)+"/summary", nil)
		require.Equal(t, fiber.StatusOK, status)
		assert.NotEmpty(t, env.Data)
	})

	t.Run("tags are normalized", func(t *testing.T) {
		status, env := do(t, app, http.MethodPost, "/leads/"+itoa(hot.ID)+"/tags", fiber.Map{"tag": "  Inversor "})
		require.Equal(t, fiber.StatusOK, status)
		var tags []models.LeadTag
		require.NoError(t, json.Unmarshal(env.Data, &tags))
		require.Len(t, tags, 1)
		assert.Equal(t, "inversor", tags[0].Tag)

		status, _ = do(t, app, http.MethodPost, "/leads/"+itoa(hot.ID)+"/tags", fiber.Map{"tag": "   "})
		assert.Equal(t, fiber.StatusBadRequest, status)
	})

	t.Run("qualify maps extraction failures to bad gateway", func(t *testing.T) {
		q.err = qualification.ErrExtractionFailed
		status, _ := do(t, app, http.MethodPost, "/leads/"+itoa(hot.ID)+"/qualify", nil)
		assert.Equal(t, fiber.StatusBadGateway, status)

		q.err = nil
		q.res = &qualification.Result{Lead: hot}
		status, _ = do(t, app, http.MethodPost, "/leads/"+itoa(hot.ID)+"/qualify", nil)
		assert.Equal(t, fiber.StatusOK, status)
	})

	t.Run("actions of unknown lead", func(t *testing.T) {
		status, _ := do(t, app, http.MethodGet, "/leads/999/actions", nil)
		assert.Equal(t, fiber.StatusNotFound, status)
		status, _ = do(t, app, http.MethodGet, "/leads/"+itoa(hot.ID)+"/actions", nil)
		assert.Equal(t, fiber.StatusOK, status)
	})
}

func TestTaskEndpoints(t *testing.T) {
	st := store.NewMemoryStore()
	lead := seed(t, st, "t", 70)
	task := &models.Task{LeadID: lead.ID, Type: models.TaskCall, Priority: models.PriorityHigh}
	require.NoError(t, st.CreateTask(context.Background(), task))

	hub := events.NewHub(4)
	sub, cancel := hub.Subscribe()
	defer cancel()

	tc := NewTaskController(st, hub)
	app := fiber.New()
	app.Get("/tasks", tc.GetTasks)
	app.Patch("/tasks/:id/complete", tc.CompleteTask)

	status, env := do(t, app, http.MethodGet, "/tasks", nil)
	require.Equal(t, fiber.StatusOK, status)
	var tasks []models.Task
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	assert.Len(t, tasks, 1)

	status, _ = do(t, app, http.MethodPatch, "/tasks/"+itoa(task.ID)+"/complete", nil)
	require.Equal(t, fiber.StatusOK, status)

	select {
	case e := <-sub:
		assert.Equal(t, events.TaskCompleted, e.Type)
		assert.Equal(t, lead.ID, e.LeadID)
	case <-time.After(time.Second):
		t.Fatal("no task event published")
	}

	_, env = do(t, app, http.MethodGet, "/tasks", nil)
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	assert.Empty(t, tasks, "completed tasks leave the pending list")

	_, env = do(t, app, http.MethodGet, "/tasks?status=all", nil)
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	assert.Len(t, tasks, 1)

	status, _ = do(t, app, http.MethodPatch, "/tasks/999/complete", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
}

type fakeRunner struct {
	actions []models.NurturingAction
	err     error
}

func (f *fakeRunner) RunPass(context.Context, time.Time) ([]models.NurturingAction, error) {
	return f.actions, f.err
}

func (f *fakeRunner) Rules() []nurturing.Rule { return nurturing.DefaultRules() }

func TestNurturingEndpoints(t *testing.T) {
	runner := &fakeRunner{actions: []models.NurturingAction{
		{Status: models.ActionSent},
		{Status: models.ActionFailed},
	}}
	nc := NewNurturingController(runner)
	app := fiber.New()
	app.Post("/run", nc.RunPass)
	app.Get("/rules", nc.GetRules)

	status, env := do(t, app, http.MethodPost, "/run", nil)
	require.Equal(t, fiber.StatusOK, status)
	var out struct {
		Sent   int `json:"sent"`
		Failed int `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1, out.Sent)
	assert.Equal(t, 1, out.Failed)

	runner.err = nurturing.ErrPassInProgress
	status, _ = do(t, app, http.MethodPost, "/run", nil)
	assert.Equal(t, fiber.StatusConflict, status)

	status, env = do(t, app, http.MethodGet, "/rules", nil)
	require.Equal(t, fiber.StatusOK, status)
	var rules []map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &rules))
	assert.Len(t, rules, len(nurturing.DefaultRules()))
}

type fakeNotifier struct {
	got *models.Property
}

func (f *fakeNotifier) NotifyNewProperty(_ context.Context, p *models.Property) ([]models.NurturingAction, error) {
	f.got = p
	return []models.NurturingAction{{Status: models.ActionSent}}, nil
}

func TestCreateProperty(t *testing.T) {
	st := store.NewMemoryStore()
	n := &fakeNotifier{}
	app := fiber.New()
	app.Post("/properties", NewInventoryController(st, n, nil).CreateProperty)

	status, env := do(t, app, http.MethodPost, "/properties", fiber.Map{
		"reference":     "REF-001",
		"title":         "Piso luminoso en Chamberí",
		"operation":     "venta",
		"property_type": "piso",
		"zone":          "Chamberí",
		"city":          "Madrid",
		"price":         325000,
		"bedrooms":      3,
	})
	require.Equal(t, fiber.StatusCreated, status)
	require.NotNil(t, n.got)
	assert.NotZero(t, n.got.ID, "announced after it is stored")
	assert.Equal(t, models.PropertyAvailable, n.got.Status)

	var out struct {
		Notified int `json:"notified"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, 1, out.Notified)

	status, _ = do(t, app, http.MethodPost, "/properties", fiber.Map{"title": "sin referencia"})
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func TestIssueToken(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	app := fiber.New()
	app.Post("/token", NewAuthController(string(hash), "jwt-secret", time.Hour).IssueToken)

	status, env := do(t, app, http.MethodPost, "/token", fiber.Map{"operator": "ana", "api_key": "s3cret"})
	require.Equal(t, fiber.StatusOK, status)
	var tok TokenResponse
	require.NoError(t, json.Unmarshal(env.Data, &tok))
	assert.NotEmpty(t, tok.AccessToken)

	status, _ = do(t, app, http.MethodPost, "/token", fiber.Map{"operator": "ana", "api_key": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)

	unconfigured := fiber.New()
	unconfigured.Post("/token", NewAuthController("", "jwt-secret", time.Hour).IssueToken)
	status, _ = do(t, unconfigured, http.MethodPost, "/token", fiber.Map{"operator": "ana", "api_key": "s3cret"})
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
}

func TestDashboardStats(t *testing.T) {
	st := store.NewMemoryStore()
	seed(t, st, "new", 65)

	app := fiber.New()
	app.Get("/stats", NewDashboardController(st, nil).GetDashboardStats)

	status, env := do(t, app, http.MethodGet, "/stats", nil)
	require.Equal(t, fiber.StatusOK, status)
	var out DashboardStats
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.EqualValues(t, 1, out.NewLeads)

	status, _ = do(t, app, http.MethodGet, "/stats?days=0", nil)
	assert.Equal(t, fiber.StatusBadRequest, status)
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
