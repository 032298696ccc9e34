package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	domaininv "github.com/jhoicas/inventario-ledger/internal/domain/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
)

// ReconcilerConfig parámetros de la reconciliación.
type ReconcilerConfig struct {
	Settle         time.Duration // espera antes de confirmar una divergencia (envíos en vuelo)
	Concurrency    int
	PageSize       int
	AlarmRecipient string
}

// Report resultado de reconciliar un ítem.
type Report struct {
	ItemID            string    `json:"item_id"`
	Projected         int64     `json:"projected"`
	Replayed          int64     `json:"replayed"`
	Entries           int       `json:"entries"`
	ChainBreaks       int       `json:"chain_breaks"`
	InvalidEntries    int       `json:"invalid_entries"`
	ProjectionMissing bool      `json:"projection_missing"` // hay historial pero no proyección
	Diverged          bool      `json:"diverged"`
	CheckedAt         time.Time `json:"checked_at"`
}

// Summary resultado de una pasada completa.
type Summary struct {
	Items    int           `json:"items"`
	Diverged []Report      `json:"diverged"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Reconciler recalcula la cantidad de cada ítem reproduciendo su ledger y la compara con la
// proyección. Una divergencia persistente se reporta como alarma; nunca se corrige sola.
type Reconciler struct {
	ledger     repository.LedgerRepository
	projection repository.ProjectionRepository
	notifier   Notifier
	metrics    Metrics
	log        zerolog.Logger
	cfg        ReconcilerConfig
}

// NewReconciler construye el reconciliador. notifier y metrics pueden ser nil.
func NewReconciler(
	ledger repository.LedgerRepository,
	projection repository.ProjectionRepository,
	notifier Notifier,
	metrics Metrics,
	log zerolog.Logger,
	cfg ReconcilerConfig,
) *Reconciler {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 200
	}
	return &Reconciler{
		ledger:     ledger,
		projection: projection,
		notifier:   notifier,
		metrics:    metrics,
		log:        log,
		cfg:        cfg,
	}
}

// ReconcileItem reproduce el ledger del ítem y lo compara con la cantidad proyectada.
func (r *Reconciler) ReconcileItem(ctx context.Context, itemID string) (Report, error) {
	ctx, span := tracer.Start(ctx, "inventory.ReconcileItem", trace.WithAttributes(
		attribute.String("inventory.item_id", itemID),
	))
	defer span.End()

	report, err := r.check(ctx, itemID)
	if err != nil || !report.Diverged {
		return report, err
	}
	if r.cfg.Settle > 0 {
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(r.cfg.Settle):
		}
		if report, err = r.check(ctx, itemID); err != nil || !report.Diverged {
			return report, err
		}
	}
	span.SetAttributes(attribute.Bool("inventory.diverged", true))
	r.alarm(ctx, report)
	return report, nil
}

// check compara una vez. Un ítem sin proyección pero con historial diverge; sin ninguno de
// los dos no existe.
func (r *Reconciler) check(ctx context.Context, itemID string) (Report, error) {
	projected, err := r.projection.CurrentQuantity(ctx, itemID)
	missing := errors.Is(err, domain.ErrNotFound)
	if err != nil && !missing {
		return Report{}, fmt.Errorf("current quantity: %w", err)
	}
	txs, err := r.ledger.ListFor(ctx, itemID, nil)
	if err != nil {
		return Report{}, fmt.Errorf("list ledger: %w", err)
	}
	if missing && len(txs) == 0 {
		return Report{}, fmt.Errorf("ítem %s: %w", itemID, domain.ErrNotFound)
	}
	replay := domaininv.Replay(txs)
	return Report{
		ItemID:            itemID,
		Projected:         projected,
		Replayed:          replay.Quantity,
		Entries:           replay.Entries,
		ChainBreaks:       replay.ChainBreaks,
		InvalidEntries:    replay.InvalidEntries,
		ProjectionMissing: missing,
		Diverged:          missing || projected != replay.Quantity || replay.InvalidEntries > 0,
		CheckedAt:         time.Now().UTC(),
	}, nil
}

func (r *Reconciler) alarm(ctx context.Context, report Report) {
	r.metrics.IntegrityAlarm()
	r.log.Error().
		Str("item_id", report.ItemID).
		Int64("projected", report.Projected).
		Int64("replayed", report.Replayed).
		Int("entries", report.Entries).
		Int("invalid_entries", report.InvalidEntries).
		Bool("projection_missing", report.ProjectionMissing).
		Msg("alarma de integridad: ledger y proyección divergen")
	msg := fmt.Sprintf("ítem %s: proyección %d, ledger %d; requiere intervención",
		report.ItemID, report.Projected, report.Replayed)
	if report.ProjectionMissing {
		msg = fmt.Sprintf("ítem %s: sin proyección, ledger %d; requiere intervención",
			report.ItemID, report.Replayed)
	}
	n := entity.Notification{
		Type:        entity.NotificationIntegrityAlarm,
		RecipientID: r.cfg.AlarmRecipient,
		Message:     msg,
		Payload: map[string]any{
			"item_id":            report.ItemID,
			"projected":          report.Projected,
			"replayed":           report.Replayed,
			"invalid_entries":    report.InvalidEntries,
			"projection_missing": report.ProjectionMissing,
		},
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.log.Warn().Err(err).Str("item_id", report.ItemID).Msg("no se pudo emitir alarma de integridad")
	}
}

// ReconcileAll recorre por páginas los ítems de la proyección y luego los del ledger que
// la proyección no listó (p. ej. tras perder Redis), con concurrencia acotada.
func (r *Reconciler) ReconcileAll(ctx context.Context) (Summary, error) {
	start := time.Now()
	var (
		mu      sync.Mutex
		summary Summary
		seen    = make(map[string]struct{})
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	reconcile := func(itemID string) {
		g.Go(func() error {
			report, err := r.ReconcileItem(gctx, itemID)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.Items++
			if report.Diverged {
				summary.Diverged = append(summary.Diverged, report)
			}
			mu.Unlock()
			return nil
		})
	}
	fail := func(op string, err error) (Summary, error) {
		_ = g.Wait()
		return summary, fmt.Errorf("%s: %w", op, err)
	}

	for offset := 0; ; offset += r.cfg.PageSize {
		items, err := r.projection.List(gctx, r.cfg.PageSize, offset)
		if err != nil {
			return fail("list items", err)
		}
		for _, item := range items {
			seen[item.ID] = struct{}{}
			reconcile(item.ID)
		}
		if len(items) < r.cfg.PageSize {
			break
		}
	}
	for offset := 0; ; offset += r.cfg.PageSize {
		ids, err := r.ledger.ListItemIDs(gctx, r.cfg.PageSize, offset)
		if err != nil {
			return fail("list ledger items", err)
		}
		for _, id := range ids {
			if _, ok := seen[id]; !ok {
				reconcile(id)
			}
		}
		if len(ids) < r.cfg.PageSize {
			break
		}
	}

	err := g.Wait()
	summary.Elapsed = time.Since(start)
	r.metrics.ReconciliationRun(summary.Items, len(summary.Diverged), summary.Elapsed)
	return summary, err
}

// Run ejecuta ReconcileAll cada interval hasta que ctx se cancele.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		summary, err := r.ReconcileAll(ctx)
		if err != nil && ctx.Err() == nil {
			r.log.Error().Err(err).Msg("pasada de reconciliación fallida")
		} else if err == nil {
			r.log.Info().
				Int("items", summary.Items).
				Int("diverged", len(summary.Diverged)).
				Dur("elapsed", summary.Elapsed).
				Msg("pasada de reconciliación completada")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
