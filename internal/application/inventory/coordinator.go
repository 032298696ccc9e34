package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/inventario-ledger/pkg/validator"
)

var tracer = otel.Tracer("github.com/jhoicas/inventario-ledger/internal/application/inventory")

// Config parámetros del coordinador.
type Config struct {
	MaxCASRetries int           // reintentos ante ErrStaleQuantity (por defecto 3)
	AppendRetries uint64        // reintentos del append ante ErrStorageUnavailable
	AppendBackoff time.Duration // base del backoff exponencial del append
}

// DefaultConfig valores por defecto del coordinador.
func DefaultConfig() Config {
	return Config{MaxCASRetries: 3, AppendRetries: 3, AppendBackoff: 50 * time.Millisecond}
}

// Coordinator valida y aplica transacciones de inventario: lee la cantidad proyectada,
// aplica el delta con compare-and-swap y registra la transacción en el ledger.
// Si el append falla tras actualizar la proyección, revierte con el delta inverso.
type Coordinator struct {
	ledger     repository.LedgerRepository
	projection repository.ProjectionRepository
	notifier   Notifier
	metrics    Metrics
	log        zerolog.Logger
	cfg        Config
}

// Option configura dependencias opcionales del coordinador.
type Option func(*Coordinator)

func WithNotifier(n Notifier) Option     { return func(c *Coordinator) { c.notifier = n } }
func WithMetrics(m Metrics) Option       { return func(c *Coordinator) { c.metrics = m } }
func WithLogger(l zerolog.Logger) Option { return func(c *Coordinator) { c.log = l } }

// NewCoordinator construye el coordinador de transacciones.
func NewCoordinator(
	ledger repository.LedgerRepository,
	projection repository.ProjectionRepository,
	cfg Config,
	opts ...Option,
) *Coordinator {
	if cfg.MaxCASRetries < 0 {
		cfg.MaxCASRetries = 0
	}
	if cfg.AppendBackoff <= 0 {
		cfg.AppendBackoff = DefaultConfig().AppendBackoff
	}
	c := &Coordinator{
		ledger:     ledger,
		projection: projection,
		notifier:   NopNotifier{},
		metrics:    NopMetrics{},
		log:        zerolog.Nop(),
		cfg:        cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitInput intención de transacción sobre un ítem.
type SubmitInput struct {
	ItemID      string            `json:"item_id" validate:"required"`
	Type        string            `json:"type" validate:"required,oneof=PURCHASE SALE ADJUSTMENT TRANSFER RETURN DAMAGED EXPIRED"`
	Delta       int64             `json:"delta" validate:"ne=0"`
	Reference   *entity.Reference `json:"reference,omitempty"`
	PerformedBy string            `json:"performed_by" validate:"required"`
	UnitCost    *decimal.Decimal  `json:"unit_cost,omitempty"`
	Notes       string            `json:"notes,omitempty"`
}

// validateSubmit valida campos y el signo del delta según el tipo.
// ADJUSTMENT y TRANSFER admiten ambos signos.
func validateSubmit(in SubmitInput) error {
	if err := validator.Validate(in); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, validator.Describe(err))
	}
	switch in.Type {
	case entity.TransactionTypePurchase, entity.TransactionTypeReturn:
		if in.Delta < 0 {
			return fmt.Errorf("%w: %s requiere delta positivo", domain.ErrInvalidInput, in.Type)
		}
	case entity.TransactionTypeSale, entity.TransactionTypeDamaged, entity.TransactionTypeExpired:
		if in.Delta > 0 {
			return fmt.Errorf("%w: %s requiere delta negativo", domain.ErrInvalidInput, in.Type)
		}
	}
	if in.UnitCost != nil && in.UnitCost.IsNegative() {
		return fmt.Errorf("%w: costo unitario negativo", domain.ErrInvalidInput)
	}
	return nil
}

// Submit aplica una transacción y la registra en el ledger.
// Si la referencia ya fue registrada devuelve la transacción original junto con
// domain.ErrDuplicateReference y la cantidad no cambia.
func (c *Coordinator) Submit(ctx context.Context, in SubmitInput) (*entity.InventoryTransaction, error) {
	ctx, span := tracer.Start(ctx, "inventory.Submit", trace.WithAttributes(
		attribute.String("inventory.item_id", in.ItemID),
		attribute.String("inventory.type", in.Type),
		attribute.Int64("inventory.delta", in.Delta),
	))
	defer span.End()

	tx, err := c.submit(ctx, in)
	if err != nil {
		c.metrics.TransactionRejected(in.Type, rejectionReason(err))
		if !errors.Is(err, domain.ErrDuplicateReference) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return tx, err
	}
	c.metrics.TransactionApplied(in.Type)
	span.SetAttributes(attribute.Int64("inventory.new_quantity", tx.NewQuantity))
	return tx, nil
}

func (c *Coordinator) submit(ctx context.Context, in SubmitInput) (*entity.InventoryTransaction, error) {
	if err := validateSubmit(in); err != nil {
		return nil, err
	}
	item, err := c.projection.Get(ctx, in.ItemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if item.Status == entity.ItemStatusDiscontinued && in.Type == entity.TransactionTypePurchase {
		return nil, domain.ErrItemDiscontinued
	}

	// Idempotencia: un envío reintentado con la misma referencia no vuelve a aplicarse.
	if in.Reference != nil {
		existing, err := c.ledger.FindByReference(ctx, in.ItemID, *in.Reference, in.Type)
		if err != nil {
			return nil, fmt.Errorf("find by reference: %w", err)
		}
		if existing != nil {
			return existing, domain.ErrDuplicateReference
		}
	}

	applied, err := c.applyWithRetry(ctx, in.ItemID, in.Delta)
	if err != nil {
		return nil, err
	}

	tx := &entity.InventoryTransaction{
		ID:               uuid.New().String(),
		InventoryItemID:  item.ID,
		ProductID:        item.ProductID,
		WarehouseID:      item.WarehouseID,
		Sequence:         applied.Sequence,
		PreviousQuantity: applied.PreviousQuantity,
		NewQuantity:      applied.NewQuantity,
		ChangeAmount:     in.Delta,
		Type:             in.Type,
		Reference:        in.Reference,
		UnitCost:         in.UnitCost,
		PerformedBy:      in.PerformedBy,
		Notes:            in.Notes,
		CreatedAt:        time.Now().UTC(),
	}
	if err := c.appendWithRetry(ctx, tx); err != nil {
		c.compensate(ctx, tx, err)
		if errors.Is(err, domain.ErrDuplicateReference) && in.Reference != nil {
			// Un envío concurrente con la misma referencia ganó la carrera.
			existing, ferr := c.ledger.FindByReference(context.WithoutCancel(ctx), in.ItemID, *in.Reference, in.Type)
			if ferr == nil && existing != nil {
				return existing, domain.ErrDuplicateReference
			}
		}
		return nil, err
	}

	c.log.Debug().
		Str("item_id", tx.InventoryItemID).
		Str("type", tx.Type).
		Int64("delta", tx.ChangeAmount).
		Int64("new_quantity", tx.NewQuantity).
		Int64("sequence", tx.Sequence).
		Msg("transacción registrada")

	if applied.NewQuantity <= item.ReorderPoint {
		c.notifyLowStock(ctx, item, tx)
	}
	return tx, nil
}

// applyWithRetry lee la cantidad actual, valida el resultado y aplica el delta con CAS.
// Ante ErrStaleQuantity vuelve a leer, hasta MaxCASRetries reintentos.
func (c *Coordinator) applyWithRetry(ctx context.Context, itemID string, delta int64) (repository.AppliedDelta, error) {
	for attempt := 0; attempt <= c.cfg.MaxCASRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return repository.AppliedDelta{}, err
		}
		current, err := c.projection.CurrentQuantity(ctx, itemID)
		if err != nil {
			return repository.AppliedDelta{}, fmt.Errorf("current quantity: %w", err)
		}
		if current+delta < 0 {
			return repository.AppliedDelta{}, fmt.Errorf("%w: disponible %d, solicitado %d", domain.ErrInsufficientStock, current, -delta)
		}
		applied, err := c.projection.ApplyDelta(ctx, itemID, delta, current)
		if err == nil {
			return applied, nil
		}
		if !errors.Is(err, domain.ErrStaleQuantity) {
			return repository.AppliedDelta{}, err
		}
		c.metrics.CASRetry()
	}
	return repository.AppliedDelta{}, domain.ErrConcurrentUpdateConflict
}

// appendWithRetry registra la transacción reintentando con backoff exponencial los errores
// transitorios. Un duplicado en un reintento puede ser nuestra propia escritura previa.
func (c *Coordinator) appendWithRetry(ctx context.Context, tx *entity.InventoryTransaction) error {
	backoff := retry.WithMaxRetries(c.cfg.AppendRetries, retry.NewExponential(c.cfg.AppendBackoff))
	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		_, err := c.ledger.Append(ctx, tx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrStorageUnavailable):
			c.log.Warn().Err(err).Int("attempt", attempt).Str("tx_id", tx.ID).Msg("append no disponible, reintentando")
			return retry.RetryableError(err)
		case errors.Is(err, domain.ErrDuplicateReference) && attempt > 1:
			if stored, gerr := c.ledger.GetByID(ctx, tx.ID); gerr == nil && stored != nil {
				return nil
			}
			return err
		default:
			return err
		}
	})
}

// compensate revierte en la proyección un delta cuyo append falló. Si no es posible
// se reporta como alarma de integridad; la reconciliación periódica es el respaldo.
func (c *Coordinator) compensate(ctx context.Context, tx *entity.InventoryTransaction, cause error) {
	cctx := context.WithoutCancel(ctx)
	_, err := c.applyWithRetry(cctx, tx.InventoryItemID, -tx.ChangeAmount)
	if err != nil {
		c.metrics.IntegrityAlarm()
		c.log.Error().
			Err(err).
			AnErr("cause", cause).
			Str("item_id", tx.InventoryItemID).
			Int64("delta", tx.ChangeAmount).
			Msg("alarma de integridad: no se pudo compensar la proyección tras fallo del ledger")
		return
	}
	c.metrics.Compensation("projection_rollback")
	c.log.Warn().
		AnErr("cause", cause).
		Str("item_id", tx.InventoryItemID).
		Int64("delta", tx.ChangeAmount).
		Msg("append fallido, proyección compensada")
}

func (c *Coordinator) notifyLowStock(ctx context.Context, item *entity.InventoryItem, tx *entity.InventoryTransaction) {
	n := entity.Notification{
		Type:        entity.NotificationLowStock,
		RecipientID: "warehouse:" + item.WarehouseID,
		Message: fmt.Sprintf("stock bajo: producto %s en bodega %s con %d unidades (punto de reorden %d)",
			item.ProductID, item.WarehouseID, tx.NewQuantity, item.ReorderPoint),
		Payload: map[string]any{
			"item_id":        item.ID,
			"product_id":     item.ProductID,
			"warehouse_id":   item.WarehouseID,
			"quantity":       tx.NewQuantity,
			"reorder_point":  item.ReorderPoint,
			"transaction_id": tx.ID,
		},
	}
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.log.Warn().Err(err).Str("item_id", item.ID).Msg("no se pudo emitir evento de stock bajo")
	}
}

// ResolveItem obtiene (o crea en cero) el ítem del par producto/bodega.
func (c *Coordinator) ResolveItem(ctx context.Context, productID, warehouseID string) (*entity.InventoryItem, error) {
	if productID == "" || warehouseID == "" {
		return nil, domain.ErrInvalidInput
	}
	return c.projection.Resolve(ctx, productID, warehouseID)
}

// ConfigureItem actualiza umbrales y estado de un ítem.
func (c *Coordinator) ConfigureItem(ctx context.Context, itemID string, settings entity.ItemSettings) (*entity.InventoryItem, error) {
	if err := validator.Validate(settings); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, validator.Describe(err))
	}
	if settings.MaxStockLevel != nil && *settings.MaxStockLevel < settings.MinStockLevel {
		return nil, fmt.Errorf("%w: max_stock_level menor que min_stock_level", domain.ErrInvalidInput)
	}
	return c.projection.Configure(ctx, itemID, settings)
}

// CurrentQuantity cantidad proyectada de un ítem.
func (c *Coordinator) CurrentQuantity(ctx context.Context, itemID string) (int64, error) {
	return c.projection.CurrentQuantity(ctx, itemID)
}

// History transacciones del ítem ordenadas por secuencia.
func (c *Coordinator) History(ctx context.Context, itemID string, since *time.Time) ([]*entity.InventoryTransaction, error) {
	return c.ledger.ListFor(ctx, itemID, since)
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, domain.ErrConcurrentUpdateConflict):
		return "concurrent_conflict"
	case errors.Is(err, domain.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, domain.ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, domain.ErrItemDiscontinued):
		return "discontinued"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
