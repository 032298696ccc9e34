package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.ProjectionRepository = (*ProjectionRepo)(nil)

const itemColumns = `id, product_id, warehouse_id, quantity, min_stock_level, max_stock_level,
	reorder_point, status, version, created_at, updated_at`

// ProjectionRepo proyección de cantidades sobre la tabla inventory_items. El compare-and-swap
// se resuelve en un único UPDATE condicionado a la cantidad esperada.
type ProjectionRepo struct {
	q Querier
}

// NewProjectionRepository construye el adaptador. Pasar pool o tx (Querier).
func NewProjectionRepository(q Querier) *ProjectionRepo {
	return &ProjectionRepo{q: q}
}

// CurrentQuantity devuelve la cantidad almacenada.
func (r *ProjectionRepo) CurrentQuantity(ctx context.Context, itemID string) (int64, error) {
	var qty int64
	err := r.q.QueryRow(ctx, `SELECT quantity FROM inventory_items WHERE id = $1`, itemID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return 0, domain.ErrNotFound
		}
		return 0, mapError("current quantity", err)
	}
	return qty, nil
}

// ApplyDelta aplica el delta solo si la cantidad sigue siendo expectedPrevious y el resultado
// no queda negativo. Si no se actualizó ninguna fila se relee para distinguir la causa.
func (r *ProjectionRepo) ApplyDelta(ctx context.Context, itemID string, delta, expectedPrevious int64) (repository.AppliedDelta, error) {
	query := `
		UPDATE inventory_items
		SET quantity = quantity + $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND quantity = $3 AND quantity + $2 >= 0
		RETURNING quantity, version`
	var applied repository.AppliedDelta
	err := r.q.QueryRow(ctx, query, itemID, delta, expectedPrevious).Scan(&applied.NewQuantity, &applied.Sequence)
	if err == nil {
		applied.PreviousQuantity = expectedPrevious
		return applied, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return repository.AppliedDelta{}, mapLookupError("apply delta", err)
	}

	current, err := r.CurrentQuantity(ctx, itemID)
	if err != nil {
		return repository.AppliedDelta{}, err
	}
	if current != expectedPrevious {
		return repository.AppliedDelta{}, domain.ErrStaleQuantity
	}
	return repository.AppliedDelta{}, domain.ErrInsufficientStock
}

// Get obtiene el ítem por ID.
func (r *ProjectionRepo) Get(ctx context.Context, itemID string) (*entity.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`
	item, err := scanItem(r.q.QueryRow(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, domain.ErrNotFound
		}
		return nil, mapError("get item", err)
	}
	return item, nil
}

// Resolve obtiene el ítem del par (producto, bodega), creándolo en cero si no existe.
func (r *ProjectionRepo) Resolve(ctx context.Context, productID, warehouseID string) (*entity.InventoryItem, error) {
	insert := `
		INSERT INTO inventory_items (id, product_id, warehouse_id, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (product_id, warehouse_id) DO NOTHING`
	if _, err := r.q.Exec(ctx, insert, uuid.New().String(), productID, warehouseID, entity.ItemStatusActive); err != nil {
		return nil, mapError("resolve item", err)
	}
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE product_id = $1 AND warehouse_id = $2`
	item, err := scanItem(r.q.QueryRow(ctx, query, productID, warehouseID))
	if err != nil {
		return nil, mapError("resolve item", err)
	}
	return item, nil
}

// Configure actualiza umbrales y estado sin tocar cantidad ni versión.
func (r *ProjectionRepo) Configure(ctx context.Context, itemID string, settings entity.ItemSettings) (*entity.InventoryItem, error) {
	query := `
		UPDATE inventory_items
		SET min_stock_level = $2, max_stock_level = $3, reorder_point = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING ` + itemColumns
	item, err := scanItem(r.q.QueryRow(ctx, query,
		itemID, settings.MinStockLevel, settings.MaxStockLevel, settings.ReorderPoint, settings.Status,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, mapLookupError("configure item", err)
	}
	return item, nil
}

// List lista ítems paginados en orden de creación. limit 0 = todos.
func (r *ProjectionRepo) List(ctx context.Context, limit, offset int) ([]*entity.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items ORDER BY created_at, id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	} else if offset > 0 {
		query += ` OFFSET $1`
		args = append(args, offset)
	}
	return r.list(ctx, "list items", query, args...)
}

// ListBelowReorderPoint ítems con cantidad <= punto de reorden. warehouseID vacío = todas las bodegas.
func (r *ProjectionRepo) ListBelowReorderPoint(ctx context.Context, warehouseID string) ([]*entity.InventoryItem, error) {
	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE quantity <= reorder_point`
	args := []any{}
	if warehouseID != "" {
		query += ` AND warehouse_id = $1`
		args = append(args, warehouseID)
	}
	query += ` ORDER BY created_at, id`
	return r.list(ctx, "list below reorder point", query, args...)
}

func (r *ProjectionRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.InventoryItem, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()
	var list []*entity.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		list = append(list, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return list, nil
}

func scanItem(row pgx.Row) (*entity.InventoryItem, error) {
	var item entity.InventoryItem
	err := row.Scan(
		&item.ID, &item.ProductID, &item.WarehouseID, &item.Quantity, &item.MinStockLevel,
		&item.MaxStockLevel, &item.ReorderPoint, &item.Status, &item.Version,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
