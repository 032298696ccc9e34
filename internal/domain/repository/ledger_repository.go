package repository

import (
	"context"
	"time"

	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
)

// LedgerRepository define el puerto del ledger: registro durable, append-only e inmutable
// de transacciones de inventario. Fuente de verdad del historial de cantidades.
type LedgerRepository interface {
	// Append persiste la transacción y devuelve su ID. Falla con domain.ErrDuplicateReference si
	// (ítem, referencia, tipo) ya existe y con domain.ErrStorageUnavailable si es transitorio.
	Append(ctx context.Context, tx *entity.InventoryTransaction) (string, error)
	// GetByID obtiene una transacción por ID (nil si no existe).
	GetByID(ctx context.Context, id string) (*entity.InventoryTransaction, error)
	// ListFor devuelve las transacciones del ítem ordenadas por secuencia; since es opcional.
	ListFor(ctx context.Context, itemID string, since *time.Time) ([]*entity.InventoryTransaction, error)
	// FindByReference busca la transacción de un ítem con esa referencia y tipo (nil si no existe).
	FindByReference(ctx context.Context, itemID string, ref entity.Reference, txType string) (*entity.InventoryTransaction, error)
	// ListByReference lista todas las transacciones etiquetadas con la referencia (p. ej. piernas de un traslado).
	ListByReference(ctx context.Context, ref entity.Reference) ([]*entity.InventoryTransaction, error)
	// ListItemIDs pagina, en orden estable, los ítems que tienen al menos una transacción.
	ListItemIDs(ctx context.Context, limit, offset int) ([]string, error)
}
