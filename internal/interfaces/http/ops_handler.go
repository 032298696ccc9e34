package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/inventario-ledger/internal/application/dto"
	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain"
)

const healthTimeout = 2 * time.Second

// OpsHandler maneja las rutas de operación.
type OpsHandler struct {
	service       string
	checks        map[string]HealthCheck
	replenishment *inventory.ReplenishmentUseCase
	reconciler    *inventory.Reconciler
}

// NewOpsHandler construye el handler.
func NewOpsHandler(deps RouterDeps) *OpsHandler {
	return &OpsHandler{
		service:       deps.Service,
		checks:        deps.Checks,
		replenishment: deps.Replenishment,
		reconciler:    deps.Reconciler,
	}
}

// Health ejecuta los chequeos de dependencias. 503 si alguno falla.
func (h *OpsHandler) Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), healthTimeout)
	defer cancel()

	resp := dto.HealthResponse{Status: "ok", Service: h.service, Checks: map[string]string{}}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			continue
		}
		resp.Checks[name] = "ok"
	}
	if resp.Status != "ok" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// Replenishment lista de reposición. Query opcional warehouse_id (vacío = todas las bodegas).
func (h *OpsHandler) Replenishment(c *fiber.Ctx) error {
	list, err := h.replenishment.GenerateReplenishmentList(c.UserContext(), c.Query("warehouse_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(list)
}

// Reconcile ejecuta una pasada completa de reconciliación y devuelve el resumen.
func (h *OpsHandler) Reconcile(c *fiber.Ctx) error {
	summary, err := h.reconciler.ReconcileAll(c.UserContext())
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(summary)
}

// ReconcileItem reconcilia un solo ítem.
func (h *OpsHandler) ReconcileItem(c *fiber.Ctx) error {
	report, err := h.reconciler.ReconcileItem(c.UserContext(), c.Params("itemID"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(report)
}

func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: "ítem no encontrado"})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrStorageUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "UNAVAILABLE", Message: "almacenamiento no disponible"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}
