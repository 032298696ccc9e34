package dto

import "github.com/shopspring/decimal"

// ReplenishmentSuggestionDTO representa una sugerencia de reposición para un ítem
// que se encuentra en o por debajo de su punto de reorden.
type ReplenishmentSuggestionDTO struct {
	ItemID             string          `json:"item_id"`
	ProductID          string          `json:"product_id"`
	WarehouseID        string          `json:"warehouse_id"`
	CurrentStock       int64           `json:"current_stock"`
	ReorderPoint       int64           `json:"reorder_point"`
	IdealStock         int64           `json:"ideal_stock"`          // MaxStockLevel o ReorderPoint * 1.5
	SuggestedOrderQty  int64           `json:"suggested_order_qty"`  // IdealStock - CurrentStock
	UnitCost           decimal.Decimal `json:"unit_cost"`            // costo promedio ponderado del ledger
	EstimatedOrderCost decimal.Decimal `json:"estimated_order_cost"` // SuggestedOrderQty * UnitCost
	Priority           int             `json:"priority"`             // 1 = más urgente
}
