package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jhoicas/inventario-ledger/internal/bootstrap"
	httpRouter "github.com/jhoicas/inventario-ledger/internal/interfaces/http"
	"github.com/jhoicas/inventario-ledger/pkg/config"
	"github.com/jhoicas/inventario-ledger/pkg/logger"
	"github.com/jhoicas/inventario-ledger/pkg/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:     cfg.App.Env,
		Level:   cfg.App.LogLevel,
		Service: cfg.App.Name,
		Version: cfg.App.Version,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("backend", cfg.Ledger.ProjectionBackend).
		Msg("iniciando ledger de inventario")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("telemetría")
	}

	engine, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("inicializar motor")
	}
	defer engine.Close()

	checks := make(map[string]httpRouter.HealthCheck, len(engine.Checks))
	for name, check := range engine.Checks {
		checks[name] = check
	}

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		ReadTimeout:           time.Second * 10,
		WriteTimeout:          time.Minute, // POST /ops/reconcile recorre todo el inventario
		IdleTimeout:           time.Second * 60,
		DisableStartupMessage: cfg.App.Env != "development",
	})
	app.Use(recover.New())
	httpRouter.Router(app, httpRouter.RouterDeps{
		Service:       cfg.App.Name,
		Checks:        checks,
		Metrics:       promhttp.HandlerFor(engine.Registry, promhttp.HandlerOpts{}),
		Replenishment: engine.Replenishment,
		Reconciler:    engine.Reconciler,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	if cfg.Reconcile.Enabled {
		go func() {
			err := engine.Reconciler.Run(ctx, cfg.Reconcile.Interval)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("reconciliador detenido")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado de telemetría")
	}

	log.Info().Msg("ledger detenido")
}
