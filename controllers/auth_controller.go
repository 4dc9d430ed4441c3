package controller

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	"leadflow/utils"
)

type TokenRequest struct {
	Operator string `json:"operator" validate:"required,max=100"`
	APIKey   string `json:"api_key" validate:"required"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthController exchanges the admin API key for a short-lived JWT.
type AuthController struct {
	keyHash   []byte
	jwtSecret string
	ttl       time.Duration
}

func NewAuthController(keyHash, jwtSecret string, ttl time.Duration) *AuthController {
	return &AuthController{keyHash: []byte(keyHash), jwtSecret: jwtSecret, ttl: ttl}
}

func (ac *AuthController) IssueToken(c *fiber.Ctx) error {
	var req TokenRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid request body", err)
	}
	if err := utils.ValidateStruct(req); err != nil {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Validation failed", err)
	}

	if len(ac.keyHash) == 0 {
		return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "API key login is not configured", nil)
	}
	if err := bcrypt.CompareHashAndPassword(ac.keyHash, []byte(req.APIKey)); err != nil {
		utils.LogEvent("login_failed", map[string]interface{}{
			"operator": req.Operator,
			"ip":       c.IP(),
		})
		return utils.ErrorResponse(c, fiber.StatusUnauthorized, "Invalid credentials", nil)
	}

	token, expires, err := utils.GenerateJWTToken(ac.jwtSecret, req.Operator, "admin", ac.ttl)
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to generate token", err)
	}

	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Strict",
	})
	return c.JSON(utils.SuccessResponse(TokenResponse{AccessToken: token, ExpiresAt: expires}))
}
