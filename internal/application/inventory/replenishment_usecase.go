package inventory

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/inventario-ledger/internal/application/dto"
	domaininv "github.com/jhoicas/inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

// ReplenishmentUseCase genera la lista de reposición para una bodega.
// Combina la proyección (cantidad y umbrales) con el costo promedio ponderado del ledger.
type ReplenishmentUseCase struct {
	projection repository.ProjectionRepository
	ledger     repository.LedgerRepository
}

// NewReplenishmentUseCase construye el caso de uso de reposición.
func NewReplenishmentUseCase(
	projection repository.ProjectionRepository,
	ledger repository.LedgerRepository,
) *ReplenishmentUseCase {
	return &ReplenishmentUseCase{
		projection: projection,
		ledger:     ledger,
	}
}

// GenerateReplenishmentList devuelve los ítems en o bajo el punto de reorden con la cantidad
// sugerida de pedido. warehouseID puede ser vacío para considerar todas las bodegas.
func (uc *ReplenishmentUseCase) GenerateReplenishmentList(
	ctx context.Context,
	warehouseID string,
) ([]dto.ReplenishmentSuggestionDTO, error) {

	// 1. Ítems en o bajo el punto de reorden
	items, err := uc.projection.ListBelowReorderPoint(ctx, warehouseID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []dto.ReplenishmentSuggestionDTO{}, nil
	}

	suggestions := make([]dto.ReplenishmentSuggestionDTO, 0, len(items))
	for _, item := range items {
		// 2. Stock ideal: máximo configurado o 1.5 veces el punto de reorden
		ideal := item.ReorderPoint + item.ReorderPoint/2
		if item.MaxStockLevel != nil {
			ideal = *item.MaxStockLevel
		}
		suggested := ideal - item.Quantity
		if suggested < 0 {
			suggested = 0
		}

		// 3. Costo promedio ponderado a partir de las compras del ledger
		txs, err := uc.ledger.ListFor(ctx, item.ID, nil)
		if err != nil {
			return nil, err
		}
		unitCost := domaininv.WeightedAverageCost(txs)

		suggestions = append(suggestions, dto.ReplenishmentSuggestionDTO{
			ItemID:             item.ID,
			ProductID:          item.ProductID,
			WarehouseID:        item.WarehouseID,
			CurrentStock:       item.Quantity,
			ReorderPoint:       item.ReorderPoint,
			IdealStock:         ideal,
			SuggestedOrderQty:  suggested,
			UnitCost:           unitCost.Round(4),
			EstimatedOrderCost: decimal.NewFromInt(suggested).Mul(unitCost).Round(2),
		})
	}

	// 4. Ordenar: mayor déficit relativo primero (déficit / punto de reorden),
	//    luego mayor cantidad sugerida.
	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		relA := relativeDeficit(a)
		relB := relativeDeficit(b)
		if !relA.Equal(relB) {
			return relA.GreaterThan(relB)
		}
		if a.SuggestedOrderQty != b.SuggestedOrderQty {
			return a.SuggestedOrderQty > b.SuggestedOrderQty
		}
		return a.ItemID < b.ItemID
	})

	// 5. Asignar prioridad (1 = más urgente)
	for i := range suggestions {
		suggestions[i].Priority = i + 1
	}

	return suggestions, nil
}

func relativeDeficit(s dto.ReplenishmentSuggestionDTO) decimal.Decimal {
	if s.ReorderPoint <= 0 {
		return decimal.Zero
	}
	deficit := decimal.NewFromInt(s.ReorderPoint - s.CurrentStock)
	return deficit.Div(decimal.NewFromInt(s.ReorderPoint))
}
