package middleware

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/credits/internal/logging"
)

func TestRequestIDGeneratedAndPropagated(t *testing.T) {
	app := fiber.New()
	app.Use(RequestID())

	var seen string
	app.Get("/", func(c *fiber.Ctx) error {
		seen = logging.RequestID(c.UserContext())
		return c.SendStatus(fiber.StatusNoContent)
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	got := resp.Header.Get(requestIDHeader)
	if got == "" || got != seen {
		t.Fatalf("expected header and context id to match, got %q and %q", got, seen)
	}

	req := httptest.NewRequest(fiber.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "client-supplied")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) != "client-supplied" || seen != "client-supplied" {
		t.Fatalf("client request id must be kept, got %q", seen)
	}
}

func TestAuditLogsStatusAndSkipsProbes(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "")

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(RequestID(), Audit(logger, "/healthz"))
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Post("/charge", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusBadRequest, "charges must not be negative")
	})

	if _, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/healthz", nil)); err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("probe requests must not be logged: %s", buf.String())
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/charge", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	line := buf.String()
	if !strings.Contains(line, `"level":"WARN"`) || !strings.Contains(line, `"status":400`) || !strings.Contains(line, `"request_id"`) {
		t.Fatalf("unexpected audit line: %s", line)
	}
}

func TestServerErrorIsLoggedOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithWriter(&buf, "info", "")

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(RequestID(), Audit(logger))
	app.Post("/charge", func(c *fiber.Ctx) error {
		return errors.New("charge: store unavailable")
	})

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/charge", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if n := strings.Count(buf.String(), `"level":"ERROR"`); n != 1 {
		t.Fatalf("expected one error line, got %d: %s", n, buf.String())
	}
	if !strings.Contains(buf.String(), "store unavailable") {
		t.Fatalf("error line must carry the cause: %s", buf.String())
	}
}
