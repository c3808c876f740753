package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/studio/internal/auth"
	"github.com/makeasinger/studio/internal/middleware"
)

// AuthHandler answers ForwardAuth checks for the API gateway
type AuthHandler struct {
	verifier auth.Verifier
}

func NewAuthHandler(v auth.Verifier) *AuthHandler {
	return &AuthHandler{verifier: v}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	token, ok := auth.BearerToken(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	id, err := h.verifier.Verify(token)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set(middleware.HeaderUserID, id.UserID)
	c.Set(middleware.HeaderUserEmail, id.Email)
	if id.Name != "" {
		c.Set(middleware.HeaderUserName, id.Name)
	}
	return c.SendStatus(fiber.StatusOK)
}
