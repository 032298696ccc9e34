package inventory_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dobles de prueba
// ──────────────────────────────────────────────────────────────────────────────

// recordingNotifier guarda las notificaciones emitidas.
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

// recordingMetrics cuenta las llamadas a cada métrica.
type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: map[string]int{}}
}

func (m *recordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *recordingMetrics) count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *recordingMetrics) TransactionApplied(string)            { m.inc("applied") }
func (m *recordingMetrics) TransactionRejected(_, reason string) { m.inc("rejected:" + reason) }
func (m *recordingMetrics) CASRetry()                            { m.inc("cas_retry") }
func (m *recordingMetrics) Compensation(kind string)             { m.inc("compensation:" + kind) }
func (m *recordingMetrics) IntegrityAlarm()                      { m.inc("alarm") }
func (m *recordingMetrics) ReconciliationRun(int, int, time.Duration) {
	m.inc("reconciliation")
}

// flakyLedger falla los primeros `failures` Append con ErrStorageUnavailable.
type flakyLedger struct {
	repository.LedgerRepository
	failures int32
	calls    atomic.Int32
}

func (f *flakyLedger) Append(ctx context.Context, tx *entity.InventoryTransaction) (string, error) {
	f.calls.Add(1)
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return "", fmt.Errorf("%w: conexión perdida (simulada)", domain.ErrStorageUnavailable)
	}
	return f.LedgerRepository.Append(ctx, tx)
}

// gatedLedger retiene las primeras n consultas por referencia hasta que llegan todas, de modo
// que n envíos con la misma referencia pasan juntos la verificación previa de idempotencia.
type gatedLedger struct {
	repository.LedgerRepository
	n       int32
	calls   atomic.Int32
	arrived sync.WaitGroup
}

func newGatedLedger(base repository.LedgerRepository, n int) *gatedLedger {
	g := &gatedLedger{LedgerRepository: base, n: int32(n)}
	g.arrived.Add(n)
	return g
}

func (g *gatedLedger) FindByReference(ctx context.Context, itemID string, ref entity.Reference, txType string) (*entity.InventoryTransaction, error) {
	if g.calls.Add(1) <= g.n {
		g.arrived.Done()
		g.arrived.Wait()
	}
	return g.LedgerRepository.FindByReference(ctx, itemID, ref, txType)
}

// staleProjection simula un escritor concurrente que siempre gana el compare-and-swap.
type staleProjection struct {
	repository.ProjectionRepository
}

func (staleProjection) ApplyDelta(context.Context, string, int64, int64) (repository.AppliedDelta, error) {
	return repository.AppliedDelta{}, domain.ErrStaleQuantity
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────────────────────────────────

func fastConfig() inventory.Config {
	return inventory.Config{MaxCASRetries: 3, AppendRetries: 3, AppendBackoff: time.Millisecond}
}

// stock crea el ítem del par producto/bodega y, si qty > 0, registra una compra inicial.
func stock(t *testing.T, c *inventory.Coordinator, productID, warehouseID string, qty int64) *entity.InventoryItem {
	t.Helper()
	item, err := c.ResolveItem(context.Background(), productID, warehouseID)
	require.NoError(t, err)
	if qty > 0 {
		_, err = c.Submit(context.Background(), inventory.SubmitInput{
			ItemID:      item.ID,
			Type:        entity.TransactionTypePurchase,
			Delta:       qty,
			Reference:   &entity.Reference{ID: "seed-" + item.ID, Type: entity.ReferenceTypeOrder},
			PerformedBy: "tester",
		})
		require.NoError(t, err, "la compra inicial debe aplicarse")
	}
	return item
}

func sale(itemID string, qty int64, orderID string) inventory.SubmitInput {
	in := inventory.SubmitInput{
		ItemID:      itemID,
		Type:        entity.TransactionTypeSale,
		Delta:       -qty,
		PerformedBy: "tester",
	}
	if orderID != "" {
		in.Reference = &entity.Reference{ID: orderID, Type: entity.ReferenceTypeOrder}
	}
	return in
}
