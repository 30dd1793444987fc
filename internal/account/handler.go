package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/credits/internal/ledger"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type resetRequest struct {
	Account *string `json:"account"`
}

type chargeRequest struct {
	Account *string `json:"account"`
	Charges *int64  `json:"charges"`
}

type chargeResponse struct {
	IsAuthorized     bool  `json:"isAuthorized"`
	RemainingBalance int64 `json:"remainingBalance"`
	Charges          int64 `json:"charges"`
}

type balanceResponse struct {
	Account string `json:"account"`
	Balance int64  `json:"balance"`
	AsOf    string `json:"asOf"`
}

// Reset restores the account balance to the default.
func (h *Handler) Reset(c *fiber.Ctx) error {
	var req resetRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := h.service.Reset(c.UserContext(), orDefault(req.Account, DefaultAccount)); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Charge deducts credits from the account when enough remain.
func (h *Handler) Charge(c *fiber.Ctx) error {
	var req chargeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	res, err := h.service.Charge(c.UserContext(), orDefault(req.Account, DefaultAccount), orDefault(req.Charges, DefaultCharge))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(chargeResponse{
		IsAuthorized:     res.IsAuthorized,
		RemainingBalance: res.RemainingBalance,
		Charges:          res.Charges,
	})
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	bal, err := h.service.Balance(c.UserContext(), c.Query("account", DefaultAccount))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		Account: bal.Account,
		Balance: bal.Amount,
		AsOf:    bal.AsOf.Format(time.RFC3339Nano),
	})
}

// parseBody decodes an optional JSON body; an empty body means all defaults.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

func orDefault[T any](v *T, fallback T) T {
	if v == nil {
		return fallback
	}
	return *v
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
