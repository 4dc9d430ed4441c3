package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/utils"
)

func TestProtected(t *testing.T) {
	app := fiber.New()
	app.Get("/me", Protected("secret"), func(c *fiber.Ctx) error {
		return c.SendString(c.Locals("operator").(string))
	})

	token, _, err := utils.GenerateJWTToken("secret", "admin", "admin", time.Hour)
	require.NoError(t, err)
	forged, _, err := utils.GenerateJWTToken("other", "admin", "admin", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", fiber.StatusUnauthorized},
		{"bad format", "Token " + token, fiber.StatusUnauthorized},
		{"wrong key", "Bearer " + forged, fiber.StatusUnauthorized},
		{"valid", "Bearer " + token, fiber.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestWebhookSecret(t *testing.T) {
	app := fiber.New()
	app.Post("/hook", WebhookSecret("s3cret"), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	req := httptest.NewRequest("POST", "/hook", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("POST", "/hook", nil)
	req.Header.Set(WebhookSecretHeader, "s3cret")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)

	open := fiber.New()
	open.Post("/hook", WebhookSecret(""), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })
	resp, err = open.Test(httptest.NewRequest("POST", "/hook", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
}

func TestWebhookRateLimiter(t *testing.T) {
	app := fiber.New()
	app.Post("/hook", WebhookRateLimiter(2, nil), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/hook", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusAccepted, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest("POST", "/hook", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	app := fiber.New()
	app.Use(CORS([]string{"https://crm.example.com"}))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest("OPTIONS", "/", nil)
	req.Header.Set("Origin", "https://crm.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://crm.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Equal(t, "3600", resp.Header.Get("Access-Control-Max-Age"))

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
