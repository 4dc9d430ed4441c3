package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"leadflow/utils"
)

const WebhookSecretHeader = "X-Webhook-Secret"

// WebhookSecret rejects inbound webhooks that do not carry the shared secret.
// An empty secret disables the check for local development.
func WebhookSecret(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Next()
		}
		got := c.Get(WebhookSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			utils.LogEvent("webhook_rejected", map[string]interface{}{
				"ip":   c.IP(),
				"path": c.Path(),
			})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid webhook secret",
			})
		}
		return c.Next()
	}
}
