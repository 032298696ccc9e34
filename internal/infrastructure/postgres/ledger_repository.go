package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.LedgerRepository = (*LedgerRepo)(nil)

const ledgerColumns = `id, inventory_item_id, product_id, warehouse_id, sequence,
	previous_quantity, new_quantity, change_amount, type, reference_id, reference_type,
	unit_cost, performed_by, notes, created_at`

// LedgerRepo implementación del ledger sobre PostgreSQL. Solo inserta; la tabla rechaza UPDATE/DELETE.
type LedgerRepo struct {
	q Querier
}

// NewLedgerRepository construye el adaptador. Pasar pool o tx (Querier).
func NewLedgerRepository(q Querier) *LedgerRepo {
	return &LedgerRepo{q: q}
}

// Append persiste la transacción. La restricción única (ítem, referencia, tipo) produce
// domain.ErrDuplicateReference.
func (r *LedgerRepo) Append(ctx context.Context, tx *entity.InventoryTransaction) (string, error) {
	if err := tx.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	id, createdAt := tx.ID, tx.CreatedAt
	if id == "" {
		id = uuid.New().String()
	}
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	var refID, refType *string
	if tx.Reference != nil {
		refID, refType = &tx.Reference.ID, &tx.Reference.Type
	}
	unitCost := decimal.NullDecimal{}
	if tx.UnitCost != nil {
		unitCost = decimal.NewNullDecimal(*tx.UnitCost)
	}
	query := `
		INSERT INTO inventory_transactions (` + ledgerColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	_, err := r.q.Exec(ctx, query,
		id, tx.InventoryItemID, tx.ProductID, tx.WarehouseID, tx.Sequence,
		tx.PreviousQuantity, tx.NewQuantity, tx.ChangeAmount, tx.Type, refID, refType,
		unitCost, tx.PerformedBy, tx.Notes, createdAt,
	)
	if err != nil {
		return "", mapError("append transaction", err)
	}
	return id, nil
}

// GetByID obtiene una transacción por ID (nil si no existe).
func (r *LedgerRepo) GetByID(ctx context.Context, id string) (*entity.InventoryTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM inventory_transactions WHERE id = $1`
	tx, err := scanTransaction(r.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, nil
		}
		return nil, mapError("get transaction", err)
	}
	return tx, nil
}

// ListFor lista las transacciones del ítem por secuencia.
func (r *LedgerRepo) ListFor(ctx context.Context, itemID string, since *time.Time) ([]*entity.InventoryTransaction, error) {
	query := `SELECT ` + ledgerColumns + ` FROM inventory_transactions WHERE inventory_item_id = $1`
	args := []any{itemID}
	if since != nil {
		query += ` AND created_at >= $2`
		args = append(args, *since)
	}
	query += ` ORDER BY sequence, created_at`
	list, err := r.list(ctx, "list ledger", query, args...)
	if isInvalidID(err) {
		return nil, nil
	}
	return list, err
}

// FindByReference busca la transacción del ítem con esa referencia y tipo.
func (r *LedgerRepo) FindByReference(ctx context.Context, itemID string, ref entity.Reference, txType string) (*entity.InventoryTransaction, error) {
	query := `
		SELECT ` + ledgerColumns + ` FROM inventory_transactions
		WHERE inventory_item_id = $1 AND reference_id = $2 AND reference_type = $3 AND type = $4`
	tx, err := scanTransaction(r.q.QueryRow(ctx, query, itemID, ref.ID, ref.Type, txType))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, nil
		}
		return nil, mapError("find by reference", err)
	}
	return tx, nil
}

// ListByReference lista todas las transacciones con la referencia, en orden de registro.
func (r *LedgerRepo) ListByReference(ctx context.Context, ref entity.Reference) ([]*entity.InventoryTransaction, error) {
	query := `
		SELECT ` + ledgerColumns + ` FROM inventory_transactions
		WHERE reference_id = $1 AND reference_type = $2
		ORDER BY created_at, id`
	return r.list(ctx, "list by reference", query, ref.ID, ref.Type)
}

// ListItemIDs pagina los ítems presentes en el ledger, también los que ya no tienen proyección;
// limit 0 = todos.
func (r *LedgerRepo) ListItemIDs(ctx context.Context, limit, offset int) ([]string, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT inventory_item_id::text FROM inventory_transactions
		ORDER BY 1 LIMIT $1 OFFSET $2`, lim, offset)
	if err != nil {
		return nil, mapError("list ledger items", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapError("list ledger items", err)
	}
	return ids, nil
}

func (r *LedgerRepo) list(ctx context.Context, op, query string, args ...any) ([]*entity.InventoryTransaction, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(op, err)
	}
	defer rows.Close()
	var list []*entity.InventoryTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		list = append(list, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}
	return list, nil
}

func scanTransaction(row pgx.Row) (*entity.InventoryTransaction, error) {
	var (
		tx       entity.InventoryTransaction
		refID    *string
		refType  *string
		unitCost decimal.NullDecimal
	)
	err := row.Scan(
		&tx.ID, &tx.InventoryItemID, &tx.ProductID, &tx.WarehouseID, &tx.Sequence,
		&tx.PreviousQuantity, &tx.NewQuantity, &tx.ChangeAmount, &tx.Type, &refID, &refType,
		&unitCost, &tx.PerformedBy, &tx.Notes, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if refID != nil && refType != nil {
		tx.Reference = &entity.Reference{ID: *refID, Type: *refType}
	}
	if unitCost.Valid {
		cost := unitCost.Decimal
		tx.UnitCost = &cost
	}
	return &tx, nil
}
