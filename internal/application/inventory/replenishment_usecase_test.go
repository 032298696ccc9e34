package inventory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/memory"
)

func purchase(t *testing.T, c *inventory.Coordinator, itemID string, qty int64, cost, ref string) {
	t.Helper()
	unit := decimal.RequireFromString(cost)
	_, err := c.Submit(context.Background(), inventory.SubmitInput{
		ItemID:      itemID,
		Type:        entity.TransactionTypePurchase,
		Delta:       qty,
		Reference:   &entity.Reference{ID: ref, Type: entity.ReferenceTypeOrder},
		PerformedBy: "compras",
		UnitCost:    &unit,
	})
	require.NoError(t, err)
}

func configure(t *testing.T, c *inventory.Coordinator, itemID string, reorder int64, max *int64) {
	t.Helper()
	_, err := c.ConfigureItem(context.Background(), itemID, entity.ItemSettings{
		ReorderPoint:  reorder,
		MaxStockLevel: max,
		Status:        entity.ItemStatusActive,
	})
	require.NoError(t, err)
}

// Caso 1: solo entran los ítems en o bajo el punto de reorden, ordenados por déficit relativo,
// con el costo promedio ponderado del ledger.
func TestGenerateReplenishmentList_PrioridadYCosto(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStore()
	projection := memory.NewProjectionStore()
	coord := inventory.NewCoordinator(ledger, projection, fastConfig())

	// A: 2 unidades (1 a 4.00 y 1 a 6.00 → costo 5.00), reorden 10, sin máximo → ideal 15.
	a, err := coord.ResolveItem(ctx, "PA", "W1")
	require.NoError(t, err)
	configure(t, coord, a.ID, 10, nil)
	purchase(t, coord, a.ID, 1, "4", "OC-A1")
	purchase(t, coord, a.ID, 1, "6", "OC-A2")

	// B: 15 unidades a 2.00, reorden 20, máximo 50.
	b, err := coord.ResolveItem(ctx, "PB", "W1")
	require.NoError(t, err)
	maxB := int64(50)
	configure(t, coord, b.ID, 20, &maxB)
	purchase(t, coord, b.ID, 15, "2", "OC-B1")

	// C: sobre el punto de reorden, no debe aparecer.
	c, err := coord.ResolveItem(ctx, "PC", "W1")
	require.NoError(t, err)
	configure(t, coord, c.ID, 10, nil)
	purchase(t, coord, c.ID, 100, "1", "OC-C1")

	uc := inventory.NewReplenishmentUseCase(projection, ledger)
	list, err := uc.GenerateReplenishmentList(ctx, "W1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	first, second := list[0], list[1]
	assert.Equal(t, a.ID, first.ItemID, "déficit relativo 0.8 antes que 0.25")
	assert.Equal(t, 1, first.Priority)
	assert.Equal(t, int64(15), first.IdealStock)
	assert.Equal(t, int64(13), first.SuggestedOrderQty)
	assert.True(t, decimal.NewFromInt(5).Equal(first.UnitCost), "costo: %s", first.UnitCost)
	assert.True(t, decimal.NewFromInt(65).Equal(first.EstimatedOrderCost))

	assert.Equal(t, b.ID, second.ItemID)
	assert.Equal(t, 2, second.Priority)
	assert.Equal(t, int64(50), second.IdealStock)
	assert.Equal(t, int64(35), second.SuggestedOrderQty)
	assert.True(t, decimal.NewFromInt(70).Equal(second.EstimatedOrderCost))
}

// Caso 2: el filtro por bodega excluye las demás; una bodega sin faltantes devuelve lista vacía.
func TestGenerateReplenishmentList_FiltroPorBodega(t *testing.T) {
	ctx := context.Background()
	ledger := memory.NewLedgerStore()
	projection := memory.NewProjectionStore()
	coord := inventory.NewCoordinator(ledger, projection, fastConfig())

	low := stock(t, coord, "P1", "W1", 1)
	configure(t, coord, low.ID, 5, nil)
	ok := stock(t, coord, "P1", "W2", 50)
	configure(t, coord, ok.ID, 5, nil)

	uc := inventory.NewReplenishmentUseCase(projection, ledger)

	list, err := uc.GenerateReplenishmentList(ctx, "W2")
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)

	list, err = uc.GenerateReplenishmentList(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, low.ID, list[0].ItemID)
	assert.True(t, list[0].UnitCost.IsZero(), "sin costo registrado el costo es cero")
}
