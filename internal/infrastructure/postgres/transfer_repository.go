package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

var _ repository.TransferRepository = (*TransferRepo)(nil)

// TransferRepo persiste traslados (cabecera + líneas) en PostgreSQL.
type TransferRepo struct {
	q  Querier
	tx *TxRunner
}

// NewTransferRepository construye el adaptador. Create escribe cabecera y líneas en una
// sola transacción mediante runner.
func NewTransferRepository(q Querier, runner *TxRunner) *TransferRepo {
	return &TransferRepo{q: q, tx: runner}
}

// Create inserta el traslado y sus líneas. Un ID repetido produce domain.ErrConflict.
func (r *TransferRepo) Create(ctx context.Context, t *entity.InventoryTransfer) error {
	return r.tx.Run(ctx, func(q Querier) error {
		header := `
			INSERT INTO inventory_transfers (id, source_warehouse_id, destination_warehouse_id, status,
				requested_by, notes, failure_reason, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		_, err := q.Exec(ctx, header,
			t.ID, t.SourceWarehouseID, t.DestinationWarehouseID, t.Status,
			t.RequestedBy, t.Notes, t.FailureReason, t.CreatedAt, t.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("create transfer: %w", domain.ErrConflict)
			}
			return mapError("create transfer", err)
		}

		batch := &pgx.Batch{}
		for i, line := range t.Items {
			batch.Queue(
				`INSERT INTO inventory_transfer_items (transfer_id, line_no, product_id, quantity) VALUES ($1, $2, $3, $4)`,
				t.ID, i+1, line.ProductID, line.Quantity,
			)
		}
		return r.sendBatch(ctx, q, batch)
	})
}

func (r *TransferRepo) sendBatch(ctx context.Context, q Querier, batch *pgx.Batch) error {
	sender, ok := q.(interface {
		SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	})
	if !ok {
		return errors.New("querier sin soporte de batch")
	}
	results := sender.SendBatch(ctx, batch)
	defer func() { _ = results.Close() }()
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			return mapError("create transfer items", err)
		}
	}
	return nil
}

// GetByID obtiene el traslado con sus líneas (nil si no existe).
func (r *TransferRepo) GetByID(ctx context.Context, id string) (*entity.InventoryTransfer, error) {
	query := `
		SELECT id, source_warehouse_id, destination_warehouse_id, status, requested_by, notes,
			failure_reason, created_at, updated_at, completed_at, cancelled_at
		FROM inventory_transfers WHERE id = $1`
	var t entity.InventoryTransfer
	err := r.q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.SourceWarehouseID, &t.DestinationWarehouseID, &t.Status, &t.RequestedBy, &t.Notes,
		&t.FailureReason, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
			return nil, nil
		}
		return nil, mapError("get transfer", err)
	}

	rows, err := r.q.Query(ctx,
		`SELECT product_id, quantity FROM inventory_transfer_items WHERE transfer_id = $1 ORDER BY line_no`, id)
	if err != nil {
		return nil, mapError("get transfer items", err)
	}
	lines, err := pgx.CollectRows(rows, pgx.RowToStructByPos[entity.TransferLine])
	if err != nil {
		return nil, mapError("scan transfer items", err)
	}
	t.Items = lines
	return &t, nil
}

// UpdateStatus cambia el estado solo si el actual es from.
func (r *TransferRepo) UpdateStatus(ctx context.Context, t *entity.InventoryTransfer, from string) error {
	query := `
		UPDATE inventory_transfers
		SET status = $2, failure_reason = $3, updated_at = $4, completed_at = $5, cancelled_at = $6
		WHERE id = $1 AND status = $7`
	tag, err := r.q.Exec(ctx, query,
		t.ID, t.Status, t.FailureReason, t.UpdatedAt, t.CompletedAt, t.CancelledAt, from,
	)
	if err != nil {
		return mapLookupError("update transfer status", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.ensureExists(ctx, t.ID, "update transfer status"); err != nil {
		return err
	}
	return fmt.Errorf("traslado %s ya no está en %s: %w", t.ID, from, domain.ErrConflict)
}

// Claim toma la reserva si está libre, vencida o ya es de token. El vencimiento usa el reloj
// de la base para que todas las instancias comparen contra la misma hora.
func (r *TransferRepo) Claim(ctx context.Context, id, token string, ttl time.Duration) error {
	query := `
		UPDATE inventory_transfers
		SET claim_token = $2, claim_expires_at = now() + make_interval(secs => $3)
		WHERE id = $1
			AND (claim_token IS NULL OR claim_token = $2 OR claim_expires_at < now())`
	tag, err := r.q.Exec(ctx, query, id, token, ttl.Seconds())
	if err != nil {
		return mapLookupError("claim transfer", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if err := r.ensureExists(ctx, id, "claim transfer"); err != nil {
		return err
	}
	return fmt.Errorf("traslado %s reservado por otra llamada: %w", id, domain.ErrConflict)
}

// Release libera la reserva de token; una reserva ajena o ya vencida y retomada no se toca.
func (r *TransferRepo) Release(ctx context.Context, id, token string) error {
	_, err := r.q.Exec(ctx, `
		UPDATE inventory_transfers SET claim_token = NULL, claim_expires_at = NULL
		WHERE id = $1 AND claim_token = $2`, id, token)
	if err != nil {
		return mapLookupError("release transfer", err)
	}
	return nil
}

func (r *TransferRepo) ensureExists(ctx context.Context, id, op string) error {
	var exists bool
	if err := r.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory_transfers WHERE id = $1)`, id).Scan(&exists); err != nil {
		return mapLookupError(op, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return nil
}
