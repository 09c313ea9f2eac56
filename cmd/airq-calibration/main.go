package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/i474232898/airq-calibration/internal/airq"
	"github.com/i474232898/airq-calibration/internal/airq/backend"
	httpapi "github.com/i474232898/airq-calibration/internal/api/http"
	"github.com/i474232898/airq-calibration/internal/config"
	"github.com/i474232898/airq-calibration/internal/scheduler"
	"github.com/i474232898/airq-calibration/internal/store"
)

func main() {
	// Load configuration (.env is read by config.Load).
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Shared HTTP client for outbound backend calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Calibration backend with resilience (backoff + circuit breaker).
	client := backend.NewClient(httpClient, backend.Options{
		BaseURL:    cfg.BackendBaseURL,
		MaxRetries: cfg.BackendMaxRetries,
	})

	cache := store.NewDeviceCache(cfg.CacheMaxAge)
	catalog := airq.NewCatalog(cfg.Devices)

	// Core service orchestrating backend, cache and catalog.
	service := airq.NewService(client, cache, catalog, cfg.Settings())
	sessions := airq.NewSessions(service)

	// Background cache refresh (disabled when the interval is 0) and session expiry.
	sched := scheduler.New(cfg.CacheRefreshInterval, cfg.HTTPTimeout, service)
	sched.ExpireSessions(sessions, cfg.SessionTTL)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "airq-calibration",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		// Calibration and export calls wait on the backend.
		WriteTimeout: cfg.HTTPTimeout + 10*time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "airq-calibration",
			"devices": len(catalog.Devices()),
		})
	})

	httpapi.RegisterRoutes(app, service, sessions)

	go func() {
		log.Printf("INFO: listening on :%s (backend %s)", cfg.Port, cfg.BackendBaseURL)
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
