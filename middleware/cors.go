package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
)

// CORS lets the dashboard origins call the API. Credentials are only
// allowed when no wildcard origin is configured.
func CORS(origins []string) fiber.Handler {
	credentials := true
	for _, o := range origins {
		if o == "*" {
			credentials = false
		}
	}

	return cors.New(cors.Config{
		AllowOrigins:     strings.Join(origins, ","),
		AllowCredentials: credentials,
		AllowMethods:     "GET,POST,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization," + WebhookSecretHeader,
		ExposeHeaders:    "Content-Length",
		MaxAge:           3600,
	})
}
