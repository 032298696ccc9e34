package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tipos de transacción de inventario.
const (
	TransactionTypePurchase   = "PURCHASE"   // entrada por compra
	TransactionTypeSale       = "SALE"       // salida por venta
	TransactionTypeAdjustment = "ADJUSTMENT" // ajuste (signo libre)
	TransactionTypeTransfer   = "TRANSFER"   // pierna de traslado entre bodegas
	TransactionTypeReturn     = "RETURN"     // devolución de cliente
	TransactionTypeDamaged    = "DAMAGED"    // baja por daño
	TransactionTypeExpired    = "EXPIRED"    // baja por vencimiento
)

// Tipos de referencia conocidos. El ledger guarda la referencia de forma opaca.
const (
	ReferenceTypeOrder                = "ORDER"
	ReferenceTypeTransfer             = "TRANSFER"
	ReferenceTypeTransferCompensation = "TRANSFER_COMPENSATION"
	ReferenceTypeImport               = "IMPORT"
)

// ValidTransactionType indica si el tipo pertenece al enum cerrado.
func ValidTransactionType(t string) bool {
	switch t {
	case TransactionTypePurchase, TransactionTypeSale, TransactionTypeAdjustment, TransactionTypeTransfer,
		TransactionTypeReturn, TransactionTypeDamaged, TransactionTypeExpired:
		return true
	}
	return false
}

// Reference enlaza una transacción con su origen (orden, traslado...).
type Reference struct {
	ID   string `json:"id" validate:"required"`
	Type string `json:"type" validate:"required"`
}

func (r Reference) String() string {
	return r.Type + ":" + r.ID
}

// InventoryTransaction entrada inmutable del ledger.
type InventoryTransaction struct {
	ID               string
	InventoryItemID  string
	ProductID        string
	WarehouseID      string
	Sequence         int64 // versión de la proyección producida por este delta
	PreviousQuantity int64
	NewQuantity      int64
	ChangeAmount     int64 // positivo entrada, negativo salida
	Type             string
	Reference        *Reference
	UnitCost         *decimal.Decimal // informativo (compras)
	PerformedBy      string
	Notes            string
	CreatedAt        time.Time
}

// Validate verifica el invariante NewQuantity = PreviousQuantity + ChangeAmount.
func (t *InventoryTransaction) Validate() error {
	if t.NewQuantity != t.PreviousQuantity+t.ChangeAmount {
		return fmt.Errorf("transacción %s: %d + %d != %d", t.ID, t.PreviousQuantity, t.ChangeAmount, t.NewQuantity)
	}
	if t.NewQuantity < 0 {
		return fmt.Errorf("transacción %s: cantidad negativa %d", t.ID, t.NewQuantity)
	}
	return nil
}
