package entity

import "time"

// Estados de un traslado (enum cerrado de cuatro estados).
const (
	TransferStatusPending   = "PENDING"
	TransferStatusInTransit = "IN_TRANSIT"
	TransferStatusCompleted = "COMPLETED"
	TransferStatusCancelled = "CANCELLED"
)

// TransferLine línea de un traslado.
type TransferLine struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int64  `json:"quantity" validate:"gt=0"`
}

// InventoryTransfer agrupa las dos piernas (débito en origen, crédito en destino) bajo un ID.
// Solo llega a COMPLETED cuando todas las piernas de todas las líneas quedaron registradas.
type InventoryTransfer struct {
	ID                     string
	SourceWarehouseID      string
	DestinationWarehouseID string
	Status                 string
	Items                  []TransferLine
	RequestedBy            string
	Notes                  string
	FailureReason          string
	CreatedAt              time.Time
	UpdatedAt              time.Time
	CompletedAt            *time.Time
	CancelledAt            *time.Time
}

// Reference referencia con la que se etiquetan las piernas del traslado.
func (t *InventoryTransfer) Reference() Reference {
	return Reference{ID: t.ID, Type: ReferenceTypeTransfer}
}

// CompensationReference referencia de las piernas de compensación.
func (t *InventoryTransfer) CompensationReference() Reference {
	return Reference{ID: t.ID, Type: ReferenceTypeTransferCompensation}
}

// Terminal indica si el traslado ya no admite transiciones.
func (t *InventoryTransfer) Terminal() bool {
	return t.Status == TransferStatusCompleted || t.Status == TransferStatusCancelled
}

// CanTransition valida las transiciones permitidas del traslado.
func CanTransition(from, to string) bool {
	switch from {
	case TransferStatusPending:
		return to == TransferStatusInTransit || to == TransferStatusCompleted || to == TransferStatusCancelled
	case TransferStatusInTransit:
		return to == TransferStatusCompleted || to == TransferStatusCancelled
	}
	return false
}
