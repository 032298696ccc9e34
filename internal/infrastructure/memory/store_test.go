package memory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// ProjectionStore
// ──────────────────────────────────────────────────────────────────────────────

func TestProjectionStore_ApplyDeltaCAS(t *testing.T) {
	ctx := context.Background()
	s := memory.NewProjectionStore()
	item, err := s.Resolve(ctx, "P1", "W1")
	require.NoError(t, err)

	applied, err := s.ApplyDelta(ctx, item.ID, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), applied.PreviousQuantity)
	assert.Equal(t, int64(10), applied.NewQuantity)
	assert.Equal(t, int64(1), applied.Sequence)

	_, err = s.ApplyDelta(ctx, item.ID, -1, 3)
	assert.ErrorIs(t, err, domain.ErrStaleQuantity)

	_, err = s.ApplyDelta(ctx, item.ID, -11, 10)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)

	_, err = s.ApplyDelta(ctx, "no-existe", 1, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	qty, err := s.CurrentQuantity(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), qty, "los intentos rechazados no alteran la cantidad")
}

func TestProjectionStore_ResolveEsIdempotente(t *testing.T) {
	ctx := context.Background()
	s := memory.NewProjectionStore()

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			item, err := s.Resolve(ctx, "P1", "W1")
			assert.NoError(t, err)
			ids[i] = item.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id, "un solo ítem por producto y bodega")
	}

	list, err := s.List(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestProjectionStore_ConfigureNoTocaCantidad(t *testing.T) {
	ctx := context.Background()
	s := memory.NewProjectionStore()
	item, err := s.Resolve(ctx, "P1", "W1")
	require.NoError(t, err)
	_, err = s.ApplyDelta(ctx, item.ID, 4, 0)
	require.NoError(t, err)

	maxLevel := int64(40)
	got, err := s.Configure(ctx, item.ID, entity.ItemSettings{ReorderPoint: 5, MaxStockLevel: &maxLevel, Status: entity.ItemStatusOnHold})
	require.NoError(t, err)
	assert.Equal(t, int64(4), got.Quantity)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, entity.ItemStatusOnHold, got.Status)

	maxLevel = 99
	stored, err := s.Get(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), *stored.MaxStockLevel, "el almacén guarda su propia copia")

	below, err := s.ListBelowReorderPoint(ctx, "W1")
	require.NoError(t, err)
	assert.Len(t, below, 1)
	below, err = s.ListBelowReorderPoint(ctx, "W2")
	require.NoError(t, err)
	assert.Empty(t, below)
}

func TestProjectionStore_ListPaginado(t *testing.T) {
	ctx := context.Background()
	s := memory.NewProjectionStore()
	for _, p := range []string{"P1", "P2", "P3"} {
		_, err := s.Resolve(ctx, p, "W1")
		require.NoError(t, err)
	}

	page, err := s.List(ctx, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)
	page, err = s.List(ctx, 2, 2)
	require.NoError(t, err)
	assert.Len(t, page, 1)
	page, err = s.List(ctx, 2, 4)
	require.NoError(t, err)
	assert.Empty(t, page)
}

// ──────────────────────────────────────────────────────────────────────────────
// LedgerStore
// ──────────────────────────────────────────────────────────────────────────────

func ledgerTx(itemID string, seq, prev, change int64, ref *entity.Reference) *entity.InventoryTransaction {
	return &entity.InventoryTransaction{
		InventoryItemID:  itemID,
		Sequence:         seq,
		PreviousQuantity: prev,
		NewQuantity:      prev + change,
		ChangeAmount:     change,
		Type:             entity.TransactionTypeAdjustment,
		Reference:        ref,
		PerformedBy:      "tester",
	}
}

func TestLedgerStore_AppendYReferencias(t *testing.T) {
	ctx := context.Background()
	s := memory.NewLedgerStore()
	ref := &entity.Reference{ID: "ORD-1", Type: entity.ReferenceTypeOrder}

	id, err := s.Append(ctx, ledgerTx("I1", 1, 0, 5, ref))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	_, err = s.Append(ctx, ledgerTx("I1", 2, 5, 1, ref))
	assert.ErrorIs(t, err, domain.ErrDuplicateReference)

	_, err = s.Append(ctx, ledgerTx("I2", 1, 0, 1, ref))
	require.NoError(t, err, "la misma referencia en otro ítem es válida")

	found, err := s.FindByReference(ctx, "I1", *ref, entity.TransactionTypeAdjustment)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, id, found.ID)

	missing, err := s.FindByReference(ctx, "I1", *ref, entity.TransactionTypeSale)
	require.NoError(t, err)
	assert.Nil(t, missing)

	byRef, err := s.ListByReference(ctx, *ref)
	require.NoError(t, err)
	assert.Len(t, byRef, 2)
	assert.Equal(t, 2, s.Len())
}

func TestLedgerStore_RechazaEntradasInvalidas(t *testing.T) {
	s := memory.NewLedgerStore()
	tx := ledgerTx("I1", 1, 0, 5, nil)
	tx.NewQuantity = 7

	_, err := s.Append(context.Background(), tx)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Append(ctx, ledgerTx("I1", 1, 0, 5, nil))
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
}

func TestLedgerStore_ListForOrdenaPorSecuencia(t *testing.T) {
	ctx := context.Background()
	s := memory.NewLedgerStore()
	for _, tx := range []*entity.InventoryTransaction{
		ledgerTx("I1", 3, 7, 1, nil),
		ledgerTx("I1", 1, 0, 5, nil),
		ledgerTx("I1", 2, 5, 2, nil),
	} {
		_, err := s.Append(ctx, tx)
		require.NoError(t, err)
	}

	list, err := s.ListFor(ctx, "I1", nil)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, tx := range list {
		assert.Equal(t, int64(i+1), tx.Sequence)
	}

	list[0].ChangeAmount = 1000
	again, err := s.ListFor(ctx, "I1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), again[0].ChangeAmount, "las entradas del ledger son inmutables")
}

func TestLedgerStore_AppendNoModificaLaEntrada(t *testing.T) {
	ctx := context.Background()
	s := memory.NewLedgerStore()
	tx := ledgerTx("I1", 1, 0, 5, nil)

	id, err := s.Append(ctx, tx)
	require.NoError(t, err)
	assert.Empty(t, tx.ID, "el ID se asigna solo a la copia guardada")
	assert.True(t, tx.CreatedAt.IsZero())

	stored, err := s.GetByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.CreatedAt.IsZero())

	dup := ledgerTx("I2", 1, 0, 1, nil)
	dup.ID = id
	_, err = s.Append(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrDuplicateReference, "un ID repetido se rechaza aunque sea de otro ítem")
}

func TestLedgerStore_ListItemIDs(t *testing.T) {
	ctx := context.Background()
	s := memory.NewLedgerStore()
	for _, tx := range []*entity.InventoryTransaction{
		ledgerTx("I3", 1, 0, 1, nil),
		ledgerTx("I1", 1, 0, 1, nil),
		ledgerTx("I1", 2, 1, 1, nil),
		ledgerTx("I2", 1, 0, 1, nil),
	} {
		_, err := s.Append(ctx, tx)
		require.NoError(t, err)
	}

	ids, err := s.ListItemIDs(ctx, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"I1", "I2", "I3"}, ids)

	page, err := s.ListItemIDs(ctx, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"I2", "I3"}, page)

	empty, err := s.ListItemIDs(ctx, 2, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// ──────────────────────────────────────────────────────────────────────────────
// TransferStore
// ──────────────────────────────────────────────────────────────────────────────

func TestTransferStore_UpdateStatusCAS(t *testing.T) {
	ctx := context.Background()
	s := memory.NewTransferStore()
	tr := &entity.InventoryTransfer{ID: "T1", Status: entity.TransferStatusPending, Items: []entity.TransferLine{{ProductID: "P1", Quantity: 1}}}
	require.NoError(t, s.Create(ctx, tr))
	assert.ErrorIs(t, s.Create(ctx, tr), domain.ErrConflict)

	next := *tr
	next.Status = entity.TransferStatusInTransit
	require.NoError(t, s.UpdateStatus(ctx, &next, entity.TransferStatusPending))

	stale := *tr
	stale.Status = entity.TransferStatusCancelled
	assert.ErrorIs(t, s.UpdateStatus(ctx, &stale, entity.TransferStatusPending), domain.ErrConflict)

	missing := entity.InventoryTransfer{ID: "T2"}
	assert.ErrorIs(t, s.UpdateStatus(ctx, &missing, entity.TransferStatusPending), domain.ErrNotFound)

	got, err := s.GetByID(ctx, "T1")
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusInTransit, got.Status)

	none, err := s.GetByID(ctx, "T9")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestTransferStore_Claim(t *testing.T) {
	ctx := context.Background()
	s := memory.NewTransferStore()
	require.NoError(t, s.Create(ctx, &entity.InventoryTransfer{ID: "T1", Status: entity.TransferStatusPending}))

	require.NoError(t, s.Claim(ctx, "T1", "a", time.Minute))
	assert.ErrorIs(t, s.Claim(ctx, "T1", "b", time.Minute), domain.ErrConflict)
	require.NoError(t, s.Claim(ctx, "T1", "a", time.Minute), "el mismo token renueva la reserva")

	require.NoError(t, s.Release(ctx, "T1", "b"), "liberar con otro token no hace nada")
	assert.ErrorIs(t, s.Claim(ctx, "T1", "b", time.Minute), domain.ErrConflict)

	require.NoError(t, s.Release(ctx, "T1", "a"))
	require.NoError(t, s.Claim(ctx, "T1", "b", time.Nanosecond))
	time.Sleep(time.Millisecond)
	require.NoError(t, s.Claim(ctx, "T1", "c", time.Minute), "una reserva vencida se puede retomar")

	assert.ErrorIs(t, s.Claim(ctx, "T9", "a", time.Minute), domain.ErrNotFound)
}
