package http

import (
	"context"
	nethttp "net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
)

// HealthCheck verifica una dependencia (base de datos, Redis...).
type HealthCheck func(ctx context.Context) error

// RouterDeps dependencias del servidor de operación.
type RouterDeps struct {
	Service       string
	Checks        map[string]HealthCheck
	Metrics       nethttp.Handler // promhttp; nil = sin /metrics
	Replenishment *inventory.ReplenishmentUseCase
	Reconciler    *inventory.Reconciler
}

// Router registra las rutas de operación. No hay API de negocio: las transacciones entran por
// las interfaces Go del coordinador.
func Router(app *fiber.App, deps RouterDeps) {
	h := NewOpsHandler(deps)

	app.Get("/health", h.Health)
	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	ops := app.Group("/ops")
	if deps.Replenishment != nil {
		ops.Get("/replenishment", h.Replenishment)
	}
	if deps.Reconciler != nil {
		ops.Post("/reconcile", h.Reconcile)
		ops.Get("/reconcile/:itemID", h.ReconcileItem)
	}
}
