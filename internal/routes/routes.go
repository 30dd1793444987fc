package routes

import (
	"fmt"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/congo-pay/credits/internal/account"
	"github.com/congo-pay/credits/internal/config"
	"github.com/congo-pay/credits/internal/infra"
	"github.com/congo-pay/credits/internal/ledger"
	"github.com/congo-pay/credits/internal/metrics"
	"github.com/congo-pay/credits/internal/middleware"
)

// Deps aggregates shared dependencies required to wire routes. Store handles
// are lazy; nothing is dialed until the first request needs it.
type Deps struct {
	Cfg     config.Config
	Redis   *infra.RedisHandle
	DB      *infra.PostgresHandle
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}

	led, err := NewLedger(d)
	if err != nil {
		return err
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	app.Use(middleware.Audit(d.Logger, "/healthz", "/metrics"))
	if d.Redis != nil && d.Cfg.IdempotencyTTL > 0 {
		app.Use(middleware.Idempotency(d.Redis, d.Cfg.IdempotencyTTL, d.Logger))
	}

	RegisterHealthRoutes(app, d)
	app.Get("/metrics", adaptor.HTTPHandler(d.Metrics.Handler()))

	svc := account.NewService(led,
		account.WithDefaultBalance(d.Cfg.DefaultBalance),
		account.WithStoreTimeout(d.Cfg.StoreTimeout),
		account.WithMetrics(d.Metrics),
		account.WithLogger(d.Logger),
	)
	RegisterAccountRoutes(app, account.NewHandler(svc))

	return nil
}

// NewLedger picks the charge backend named by the configuration.
func NewLedger(d Deps) (ledger.Ledger, error) {
	switch d.Cfg.StoreBackend {
	case config.BackendRedis:
		if d.Redis == nil {
			return nil, fmt.Errorf("redis handle is required when STORE_BACKEND=%s", config.BackendRedis)
		}
		if d.Cfg.ChargeStrategy == config.StrategyCAS {
			return ledger.NewCASLedger(d.Redis,
				ledger.WithMaxAttempts(d.Cfg.CASMaxAttempts),
				ledger.WithBackoff(d.Cfg.CASBackoffInitial, d.Cfg.CASBackoffMax),
				ledger.WithRetryObserver(d.Metrics.CASRetry),
			), nil
		}
		return ledger.NewScriptLedger(d.Redis), nil
	case config.BackendPostgres:
		if d.DB == nil {
			return nil, fmt.Errorf("database handle is required when STORE_BACKEND=%s", config.BackendPostgres)
		}
		return ledger.NewPostgresLedger(d.DB), nil
	case config.BackendMemory:
		return ledger.NewInMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", d.Cfg.StoreBackend)
	}
}
