package inventory

import (
	"context"
	"time"

	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
)

// Notifier colaborador externo de notificaciones. La entrega y sus reintentos son su
// responsabilidad; un error aquí nunca revierte una transacción ya aplicada.
type Notifier interface {
	Notify(ctx context.Context, n entity.Notification) error
}

// Metrics puerto de métricas del motor de inventario.
type Metrics interface {
	TransactionApplied(txType string)
	TransactionRejected(txType, reason string)
	CASRetry()
	Compensation(kind string)
	IntegrityAlarm()
	ReconciliationRun(items, diverged int, elapsed time.Duration)
}

// NopNotifier descarta las notificaciones.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, entity.Notification) error { return nil }

// NopMetrics no registra nada.
type NopMetrics struct{}

func (NopMetrics) TransactionApplied(string)                 {}
func (NopMetrics) TransactionRejected(string, string)        {}
func (NopMetrics) CASRetry()                                 {}
func (NopMetrics) Compensation(string)                       {}
func (NopMetrics) IntegrityAlarm()                           {}
func (NopMetrics) ReconciliationRun(int, int, time.Duration) {}
