package entity

import "time"

// Estados de un ítem de inventario. Un ítem nunca se elimina: se desactiva por estado.
const (
	ItemStatusActive          = "ACTIVE"
	ItemStatusOnHold          = "ON_HOLD"
	ItemStatusUnderInspection = "UNDER_INSPECTION"
	ItemStatusDiscontinued    = "DISCONTINUED"
)

// ValidItemStatus indica si el estado pertenece al enum cerrado.
func ValidItemStatus(s string) bool {
	switch s {
	case ItemStatusActive, ItemStatusOnHold, ItemStatusUnderInspection, ItemStatusDiscontinued:
		return true
	}
	return false
}

// InventoryItem representa el stock proyectado de un producto en una bodega.
// Derivado de las transacciones del ledger; Quantity y Version solo cambian vía ApplyDelta.
type InventoryItem struct {
	ID            string
	ProductID     string
	WarehouseID   string
	Quantity      int64
	MinStockLevel int64
	MaxStockLevel *int64 // opcional
	ReorderPoint  int64
	Status        string
	Version       int64 // se incrementa en cada delta aplicado; ordena el ledger
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// BelowReorderPoint indica si la cantidad actual está en o por debajo del punto de reorden.
func (i *InventoryItem) BelowReorderPoint() bool {
	return i.Quantity <= i.ReorderPoint
}

// ItemSettings umbrales y estado editables de un ítem (nunca la cantidad).
type ItemSettings struct {
	MinStockLevel int64  `json:"min_stock_level" validate:"gte=0"`
	MaxStockLevel *int64 `json:"max_stock_level,omitempty" validate:"omitempty,gte=0"`
	ReorderPoint  int64  `json:"reorder_point" validate:"gte=0"`
	Status        string `json:"status" validate:"required,oneof=ACTIVE ON_HOLD UNDER_INSPECTION DISCONTINUED"`
}
