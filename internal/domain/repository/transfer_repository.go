package repository

import (
	"context"
	"time"

	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
)

// TransferRepository define el puerto de persistencia para traslados.
type TransferRepository interface {
	Create(ctx context.Context, transfer *entity.InventoryTransfer) error
	GetByID(ctx context.Context, id string) (*entity.InventoryTransfer, error)
	// UpdateStatus cambia el estado solo si el actual es from (domain.ErrConflict si no).
	// Guarda también FailureReason y las marcas de tiempo del traslado.
	UpdateStatus(ctx context.Context, transfer *entity.InventoryTransfer, from string) error
	// Claim reserva el traslado para token durante ttl. Falla con domain.ErrConflict si otra
	// reserva vigente lo tiene; reclamar con el mismo token la renueva.
	Claim(ctx context.Context, id, token string, ttl time.Duration) error
	// Release libera la reserva si sigue perteneciendo a token.
	Release(ctx context.Context, id, token string) error
}
