// Package metrics expone contadores e histogramas Prometheus del ledger.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/application/transfer"
)

var (
	_ inventory.Metrics = (*Collector)(nil)
	_ transfer.Metrics  = (*Collector)(nil)
)

const namespace = "inventory_ledger"

// Collector implementa los puertos de métricas del coordinador, el reconciliador y los traslados.
type Collector struct {
	applied         *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	casRetries      prometheus.Counter
	compensations   *prometheus.CounterVec
	alarms          prometheus.Counter
	transfers       *prometheus.CounterVec
	reconcileItems  prometheus.Gauge
	reconcileDiverg prometheus.Gauge
	reconcileTime   prometheus.Histogram
}

// NewCollector registra las métricas en reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		applied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_applied_total",
			Help:      "Transacciones aplicadas y registradas en el ledger, por tipo.",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_rejected_total",
			Help:      "Transacciones rechazadas, por tipo y motivo.",
		}, []string{"type", "reason"}),
		casRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cas_retries_total",
			Help:      "Reintentos de compare-and-swap por cantidad desactualizada.",
		}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compensations_total",
			Help:      "Compensaciones aplicadas, por tipo.",
		}, []string{"kind"}),
		alarms: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_alarms_total",
			Help:      "Alarmas de integridad entre ledger y proyección.",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_finished_total",
			Help:      "Traslados terminados, por estado final.",
		}, []string{"status"}),
		reconcileItems: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_items",
			Help:      "Ítems revisados en la última reconciliación.",
		}),
		reconcileDiverg: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reconcile_diverged_items",
			Help:      "Ítems divergentes en la última reconciliación.",
		}),
		reconcileTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_duration_seconds",
			Help:      "Duración de cada pasada de reconciliación.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	reg.MustRegister(
		c.applied, c.rejected, c.casRetries, c.compensations, c.alarms,
		c.transfers, c.reconcileItems, c.reconcileDiverg, c.reconcileTime,
	)
	return c
}

func (c *Collector) TransactionApplied(txType string) {
	c.applied.WithLabelValues(txType).Inc()
}

func (c *Collector) TransactionRejected(txType, reason string) {
	c.rejected.WithLabelValues(txType, reason).Inc()
}

func (c *Collector) CASRetry() { c.casRetries.Inc() }

func (c *Collector) Compensation(kind string) {
	c.compensations.WithLabelValues(kind).Inc()
}

func (c *Collector) IntegrityAlarm() { c.alarms.Inc() }

func (c *Collector) TransferFinished(status string) {
	c.transfers.WithLabelValues(status).Inc()
}

func (c *Collector) ReconciliationRun(items, diverged int, elapsed time.Duration) {
	c.reconcileItems.Set(float64(items))
	c.reconcileDiverg.Set(float64(diverged))
	c.reconcileTime.Observe(elapsed.Seconds())
}
