package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/credits/internal/account"
)

// RegisterAccountRoutes wires the balance endpoints.
func RegisterAccountRoutes(r fiber.Router, h *account.Handler) {
	r.Post("/reset", h.Reset)
	r.Post("/charge", h.Charge)
	r.Get("/balance", h.Balance)
}
