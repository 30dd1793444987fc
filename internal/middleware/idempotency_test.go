package middleware

import (
	"io"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/credits/internal/infra"
	"github.com/congo-pay/credits/internal/logging"
)

func setupTestApp(t *testing.T) (*fiber.App, *int, func()) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}

	cache := infra.NewRedisHandle("redis://" + mr.Addr())
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	logger := logging.Discard()
	app.Use(Idempotency(cache, time.Minute, logger))

	calls := 0
	app.Post("/charge", func(c *fiber.Ctx) error {
		calls++
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"remainingBalance": 100 - 10*calls})
	})
	app.Post("/broken", func(c *fiber.Ctx) error {
		calls++
		return fiber.NewError(fiber.StatusInternalServerError, "store unavailable")
	})

	cleanup := func() {
		cache.Close()
		mr.Close()
	}

	return app, &calls, cleanup
}

func post(t *testing.T, app *fiber.App, path, key string) (int, string) {
	t.Helper()
	return postBody(t, app, path, key, "{}")
}

func postBody(t *testing.T, app *fiber.App, path, key, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodPost, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(raw)
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		status, _ := post(t, app, "/charge", "")
		if status != fiber.StatusOK {
			t.Fatalf("expected %d got %d", fiber.StatusOK, status)
		}
	}
	if *calls != 2 {
		t.Fatalf("expected handler to run twice, ran %d times", *calls)
	}
}

func TestIdempotencyReplaysCachedCharge(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, first := post(t, app, "/charge", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected status %d got %d", fiber.StatusOK, status)
	}

	// A retry with the same key must not charge again.
	status, second := post(t, app, "/charge", "abc123")
	if status != fiber.StatusOK {
		t.Fatalf("expected cached status %d got %d", fiber.StatusOK, status)
	}
	if first != second {
		t.Fatalf("expected cached payload %s got %s", first, second)
	}
	if *calls != 1 {
		t.Fatalf("expected a single charge, handler ran %d times", *calls)
	}

	_, third := post(t, app, "/charge", "other-key")
	if !strings.Contains(third, strconv.Itoa(80)) {
		t.Fatalf("a new key must reach the handler, got %s", third)
	}
}

func TestIdempotencyDoesNotCacheServerErrors(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	for i := 0; i < 2; i++ {
		status, body := post(t, app, "/broken", "retry-me")
		if status != fiber.StatusInternalServerError {
			t.Fatalf("expected %d got %d", fiber.StatusInternalServerError, status)
		}
		if !strings.Contains(body, `"error":"store unavailable"`) {
			t.Fatalf("unexpected error body %s", body)
		}
	}
	if *calls != 2 {
		t.Fatalf("failed requests must be retryable, handler ran %d times", *calls)
	}
}

func TestIdempotencyRejectsKeyReusedWithDifferentBody(t *testing.T) {
	app, calls, cleanup := setupTestApp(t)
	defer cleanup()

	status, _ := postBody(t, app, "/charge", "order-7", `{"account":"acme","charges":10}`)
	if status != fiber.StatusOK {
		t.Fatalf("expected %d got %d", fiber.StatusOK, status)
	}

	status, body := postBody(t, app, "/charge", "order-7", `{"account":"globex","charges":10}`)
	if status != fiber.StatusUnprocessableEntity {
		t.Fatalf("expected %d got %d: %s", fiber.StatusUnprocessableEntity, status, body)
	}
	if *calls != 1 {
		t.Fatalf("a mismatched body must not reach the handler, ran %d times", *calls)
	}

	status, _ = postBody(t, app, "/charge", "order-7", `{"account":"acme","charges":10}`)
	if status != fiber.StatusOK {
		t.Fatalf("the original body must still replay, got %d", status)
	}
}
