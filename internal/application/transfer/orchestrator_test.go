package transfer_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/application/transfer"
	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/inventario-ledger/internal/infrastructure/memory"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles de prueba
// ──────────────────────────────────────────────────────────────────────────────

type recordingNotifier struct {
	mu   sync.Mutex
	sent []entity.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, notification entity.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
	return nil
}

func (n *recordingNotifier) ofType(kind string) []entity.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []entity.Notification
	for _, s := range n.sent {
		if s.Type == kind {
			out = append(out, s)
		}
	}
	return out
}

type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[key]++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) TransferFinished(status string) { m.inc("finished:" + status) }
func (m *recordingMetrics) Compensation(kind string)       { m.inc("compensation:" + kind) }
func (m *recordingMetrics) IntegrityAlarm()                { m.inc("alarm") }

// failingSubmitter delega en el coordinador salvo cuando fail decide rechazar el envío.
type failingSubmitter struct {
	transfer.Submitter
	fail func(in inventory.SubmitInput) error
}

func (f *failingSubmitter) Submit(ctx context.Context, in inventory.SubmitInput) (*entity.InventoryTransaction, error) {
	if f.fail != nil {
		if err := f.fail(in); err != nil {
			return nil, err
		}
	}
	return f.Submitter.Submit(ctx, in)
}

// blindLedger no puede consultar referencias mientras blind está activo.
type blindLedger struct {
	repository.LedgerRepository
	blind atomic.Bool
}

func (b *blindLedger) FindByReference(ctx context.Context, itemID string, ref entity.Reference, txType string) (*entity.InventoryTransaction, error) {
	if b.blind.Load() {
		return nil, domain.ErrStorageUnavailable
	}
	return b.LedgerRepository.FindByReference(ctx, itemID, ref, txType)
}

// ──────────────────────────────────────────────────────────────────────────────
// Fixture
// ──────────────────────────────────────────────────────────────────────────────

type fixture struct {
	ledger    *memory.LedgerStore
	transfers *memory.TransferStore
	coord     *inventory.Coordinator
	submitter *failingSubmitter
	notifier  *recordingNotifier
	metrics   *recordingMetrics
	orch      *transfer.Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ledger := memory.NewLedgerStore()
	coord := inventory.NewCoordinator(ledger, memory.NewProjectionStore(), inventory.DefaultConfig())
	f := &fixture{
		ledger:    ledger,
		transfers: memory.NewTransferStore(),
		coord:     coord,
		submitter: &failingSubmitter{Submitter: coord},
		notifier:  &recordingNotifier{},
		metrics:   &recordingMetrics{},
	}
	f.orch = transfer.NewOrchestrator(f.transfers, ledger, f.submitter, f.notifier, f.metrics, zerolog.Nop())
	return f
}

// seed crea el ítem y registra una compra inicial.
func (f *fixture) seed(t *testing.T, productID, warehouseID string, qty int64) string {
	t.Helper()
	item, err := f.coord.ResolveItem(context.Background(), productID, warehouseID)
	require.NoError(t, err)
	if qty > 0 {
		_, err = f.coord.Submit(context.Background(), inventory.SubmitInput{
			ItemID:      item.ID,
			Type:        entity.TransactionTypePurchase,
			Delta:       qty,
			Reference:   &entity.Reference{ID: "seed", Type: entity.ReferenceTypeOrder},
			PerformedBy: "tester",
		})
		require.NoError(t, err)
	}
	return item.ID
}

func (f *fixture) qty(t *testing.T, productID, warehouseID string) int64 {
	t.Helper()
	item, err := f.coord.ResolveItem(context.Background(), productID, warehouseID)
	require.NoError(t, err)
	return item.Quantity
}

func (f *fixture) initiate(t *testing.T, lines ...entity.TransferLine) *entity.InventoryTransfer {
	t.Helper()
	tr, err := f.orch.Initiate(context.Background(), transfer.InitiateInput{
		SourceWarehouseID:      "A",
		DestinationWarehouseID: "B",
		Items:                  lines,
		PerformedBy:            "alice",
	})
	require.NoError(t, err)
	require.Equal(t, entity.TransferStatusPending, tr.Status)
	return tr
}

// ──────────────────────────────────────────────────────────────────────────────
// Initiate
// ──────────────────────────────────────────────────────────────────────────────

// Caso 1: entradas inválidas se rechazan con ErrInvalidInput y no se crea el traslado.
func TestInitiate_EntradasInvalidas(t *testing.T) {
	f := newFixture(t)
	line := entity.TransferLine{ProductID: "P1", Quantity: 1}

	tests := []struct {
		name string
		in   transfer.InitiateInput
	}{
		{"misma bodega", transfer.InitiateInput{SourceWarehouseID: "A", DestinationWarehouseID: "A", Items: []entity.TransferLine{line}, PerformedBy: "u"}},
		{"sin líneas", transfer.InitiateInput{SourceWarehouseID: "A", DestinationWarehouseID: "B", PerformedBy: "u"}},
		{"cantidad cero", transfer.InitiateInput{SourceWarehouseID: "A", DestinationWarehouseID: "B", Items: []entity.TransferLine{{ProductID: "P1"}}, PerformedBy: "u"}},
		{"sin solicitante", transfer.InitiateInput{SourceWarehouseID: "A", DestinationWarehouseID: "B", Items: []entity.TransferLine{line}}},
		{"producto repetido", transfer.InitiateInput{SourceWarehouseID: "A", DestinationWarehouseID: "B", Items: []entity.TransferLine{line, line}, PerformedBy: "u"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.orch.Initiate(context.Background(), tt.in)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Complete
// ──────────────────────────────────────────────────────────────────────────────

// Caso 2: un traslado exitoso mueve el stock y registra dos piernas con la misma referencia.
func TestComplete_Exitoso(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)

	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})
	done, err := f.orch.Complete(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	assert.Equal(t, int64(6), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(4), f.qty(t, "P1", "B"))

	legs, err := f.orch.Legs(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	var net int64
	for _, leg := range legs {
		assert.Equal(t, entity.TransactionTypeTransfer, leg.Type)
		assert.Equal(t, tr.Reference(), *leg.Reference)
		net += leg.ChangeAmount
	}
	assert.Zero(t, net, "las piernas de un traslado se anulan entre sí")

	completed := f.notifier.ofType(entity.NotificationTransferCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "user:alice", completed[0].RecipientID)
	assert.Equal(t, 1, f.metrics.count("finished:"+entity.TransferStatusCompleted))
}

// Caso 3: repetir Complete sobre un traslado completado no vuelve a mover stock.
func TestComplete_Idempotente(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})

	_, err := f.orch.Complete(ctx, tr.ID)
	require.NoError(t, err)
	before := f.ledger.Len()

	again, err := f.orch.Complete(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusCompleted, again.Status)
	assert.Equal(t, before, f.ledger.Len())
	assert.Equal(t, int64(6), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(4), f.qty(t, "P1", "B"))
}

// Caso 4: si el crédito en destino falla, el débito se compensa; el origen vuelve a 10,
// el destino queda en 0 y el traslado termina CANCELLED con el motivo.
func TestComplete_FalloEnCreditoCompensa(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	dest := f.seed(t, "P1", "B", 0)

	f.submitter.fail = func(in inventory.SubmitInput) error {
		if in.ItemID == dest && in.Delta > 0 && in.Reference.Type == entity.ReferenceTypeTransfer {
			return domain.ErrStorageUnavailable
		}
		return nil
	}

	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})
	got, err := f.orch.Complete(ctx, tr.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable, "la causa se conserva en la cadena")
	assert.Equal(t, entity.TransferStatusCancelled, got.Status)
	assert.NotEmpty(t, got.FailureReason)

	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(0), f.qty(t, "P1", "B"))

	stored, err := f.orch.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)

	legs, err := f.orch.Legs(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, legs, 2, "débito original y su compensación")
	assert.Equal(t, tr.CompensationReference(), *legs[1].Reference)
	assert.Equal(t, 1, f.metrics.count("compensation:transfer_leg"))
	assert.Len(t, f.notifier.ofType(entity.NotificationTransferCancelled), 1)
}

// Caso 5: con varias líneas, un fallo en la segunda revierte la primera completa.
func TestComplete_FalloEnSegundaLineaRevierteLaPrimera(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	f.seed(t, "P2", "A", 1) // insuficiente para la segunda línea

	tr := f.initiate(t,
		entity.TransferLine{ProductID: "P1", Quantity: 5},
		entity.TransferLine{ProductID: "P2", Quantity: 3},
	)
	got, err := f.orch.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, entity.TransferStatusCancelled, got.Status)

	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(0), f.qty(t, "P1", "B"))
	assert.Equal(t, int64(1), f.qty(t, "P2", "A"))
	assert.Equal(t, int64(0), f.qty(t, "P2", "B"))
	assert.Equal(t, 2, f.metrics.count("compensation:transfer_leg"))
	assert.Zero(t, f.metrics.count("alarm"))
}

// Caso 6: un traslado cancelado no se puede completar.
func TestComplete_TrasladoCancelado(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})

	_, err := f.orch.Cancel(ctx, tr.ID, "pedido anulado")
	require.NoError(t, err)

	_, err = f.orch.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))
}

// Caso 7: una cancelación concurrente que gana la carrera revierte las piernas ya aplicadas.
func TestComplete_CancelacionConcurrenteRevierte(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})

	var once sync.Once
	f.submitter.fail = func(in inventory.SubmitInput) error {
		if in.Delta > 0 && in.Reference.Type == entity.ReferenceTypeTransfer {
			once.Do(func() {
				_, err := f.orch.Cancel(ctx, tr.ID, "cancelado por el usuario")
				require.NoError(t, err)
			})
		}
		return nil
	}

	got, err := f.orch.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, entity.TransferStatusCancelled, got.Status)
	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(0), f.qty(t, "P1", "B"))
}

// Caso 8: reintentar un traslado cuyo intento previo ya compensó no reaplica piernas.
func TestComplete_IntentoPrevioCompensado(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	source := f.seed(t, "P1", "A", 10)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})

	// Rastro de un intento anterior interrumpido: débito y su compensación.
	for _, delta := range []int64{-4, 4} {
		ref := tr.Reference()
		if delta > 0 {
			ref = tr.CompensationReference()
		}
		_, err := f.coord.Submit(ctx, inventory.SubmitInput{
			ItemID: source, Type: entity.TransactionTypeTransfer, Delta: delta, Reference: &ref, PerformedBy: "alice",
		})
		require.NoError(t, err)
	}
	before := f.ledger.Len()

	got, err := f.orch.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, entity.TransferStatusCancelled, got.Status)
	assert.Equal(t, before, f.ledger.Len())
	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))
}

// other construye un segundo orquestador sobre los mismos almacenes, como otra instancia del
// servicio que recibe el reintento.
func (f *fixture) other() *transfer.Orchestrator {
	return transfer.NewOrchestrator(f.transfers, f.ledger, f.coord, nil, nil, zerolog.Nop())
}

// Caso 10: un Complete concurrente sobre el mismo traslado no aplica piernas mientras otra
// llamada tiene la reserva; el fallo de la primera se compensa y el stock total se conserva.
func TestComplete_ConcurrenteEsperaLaReserva(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	dest := f.seed(t, "P1", "B", 0)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 5})
	retry := f.other()

	var retryErr error
	f.submitter.fail = func(in inventory.SubmitInput) error {
		if in.ItemID == dest && in.Reference.Type == entity.ReferenceTypeTransfer {
			_, retryErr = retry.Complete(ctx, tr.ID)
			return domain.ErrStorageUnavailable
		}
		return nil
	}

	got, err := f.orch.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, retryErr, domain.ErrTransferInProgress)

	stored, err := f.orch.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, stored.Status, got.Status, "el estado devuelto es el persistido")
	assert.Equal(t, entity.TransferStatusCancelled, stored.Status)
	assert.Equal(t, int64(10), f.qty(t, "P1", "A")+f.qty(t, "P1", "B"), "el traslado no crea stock")
	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))

	// Terminado el intento, el reintento ve el traslado cancelado y no mueve stock.
	_, err = retry.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Equal(t, int64(10), f.qty(t, "P1", "A"))
}

// Caso 11: si la reserva venció y otra llamada completó el traslado, un crédito fallido que
// ya figura en el ledger no se compensa y se devuelve el traslado completado.
func TestComplete_CreditoRegistradoPorOtraLlamada(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	dest := f.seed(t, "P1", "B", 0)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 5})
	f.orch.WithClaimTTL(time.Nanosecond)
	retry := f.other()

	var once sync.Once
	f.submitter.fail = func(in inventory.SubmitInput) error {
		if in.ItemID == dest && in.Reference.Type == entity.ReferenceTypeTransfer {
			once.Do(func() {
				time.Sleep(time.Millisecond)
				done, err := retry.Complete(ctx, tr.ID)
				require.NoError(t, err)
				require.Equal(t, entity.TransferStatusCompleted, done.Status)
			})
			return domain.ErrStorageUnavailable
		}
		return nil
	}

	got, err := f.orch.Complete(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusCompleted, got.Status)
	assert.Equal(t, int64(5), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(5), f.qty(t, "P1", "B"))
	assert.Zero(t, f.metrics.count("compensation:transfer_leg"))
	assert.Empty(t, f.notifier.ofType(entity.NotificationTransferCancelled))

	legs, err := f.orch.Legs(ctx, tr.ID)
	require.NoError(t, err)
	assert.Len(t, legs, 2, "sin piernas de compensación")
}

// Caso 12: si no se puede confirmar en el ledger si el crédito quedó registrado, el traslado
// queda pendiente sin compensar y un reintento lo completa.
func TestComplete_CreditoSinConfirmarQuedaPendiente(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	dest := f.seed(t, "P1", "B", 0)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 4})

	ledger := &blindLedger{LedgerRepository: f.ledger}
	orch := transfer.NewOrchestrator(f.transfers, ledger, f.submitter, f.notifier, f.metrics, zerolog.Nop())
	f.submitter.fail = func(in inventory.SubmitInput) error {
		if in.ItemID == dest && in.Reference.Type == entity.ReferenceTypeTransfer {
			ledger.blind.Store(true)
			return domain.ErrStorageUnavailable
		}
		return nil
	}

	got, err := orch.Complete(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrStorageUnavailable)
	assert.NotErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, entity.TransferStatusPending, got.Status)
	assert.Equal(t, int64(6), f.qty(t, "P1", "A"))
	assert.Zero(t, f.metrics.count("compensation:transfer_leg"))

	ledger.blind.Store(false)
	f.submitter.fail = nil
	done, err := orch.Complete(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusCompleted, done.Status)
	assert.Equal(t, int64(6), f.qty(t, "P1", "A"))
	assert.Equal(t, int64(4), f.qty(t, "P1", "B"))
}

// ──────────────────────────────────────────────────────────────────────────────
// Transiciones
// ──────────────────────────────────────────────────────────────────────────────

// Caso 13: PENDING → IN_TRANSIT → COMPLETED; los estados terminales no admiten cambios.
func TestTransiciones(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.seed(t, "P1", "A", 10)
	tr := f.initiate(t, entity.TransferLine{ProductID: "P1", Quantity: 2})

	dispatched, err := f.orch.Dispatch(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.TransferStatusInTransit, dispatched.Status)

	_, err = f.orch.Dispatch(ctx, tr.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.orch.Complete(ctx, tr.ID)
	require.NoError(t, err)

	_, err = f.orch.Cancel(ctx, tr.ID, "tarde")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.orch.Get(ctx, "no-existe")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
