package repository

import (
	"context"

	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
)

// AppliedDelta resultado de un compare-and-swap exitoso sobre la proyección.
type AppliedDelta struct {
	PreviousQuantity int64
	NewQuantity      int64
	Sequence         int64 // nueva versión del ítem
}

// ProjectionRepository define el puerto del proyector de cantidades: único escritor de
// Quantity/Version. Las llamadas sobre ítems distintos son independientes.
type ProjectionRepository interface {
	// CurrentQuantity devuelve la cantidad actual (domain.ErrNotFound si el ítem no existe).
	CurrentQuantity(ctx context.Context, itemID string) (int64, error)
	// ApplyDelta aplica el delta solo si la cantidad almacenada es expectedPrevious.
	// domain.ErrStaleQuantity si no coincide; domain.ErrInsufficientStock si el resultado es negativo.
	ApplyDelta(ctx context.Context, itemID string, delta, expectedPrevious int64) (AppliedDelta, error)

	Get(ctx context.Context, itemID string) (*entity.InventoryItem, error)
	// Resolve obtiene el ítem del par (producto, bodega) y lo crea en cero si no existe.
	Resolve(ctx context.Context, productID, warehouseID string) (*entity.InventoryItem, error)
	// Configure actualiza umbrales y estado; nunca toca la cantidad.
	Configure(ctx context.Context, itemID string, settings entity.ItemSettings) (*entity.InventoryItem, error)
	List(ctx context.Context, limit, offset int) ([]*entity.InventoryItem, error)
	// ListBelowReorderPoint ítems con cantidad <= punto de reorden. warehouseID vacío = todas las bodegas.
	ListBelowReorderPoint(ctx context.Context, warehouseID string) ([]*entity.InventoryItem, error)
}
