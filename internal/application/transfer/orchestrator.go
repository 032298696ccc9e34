package transfer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jhoicas/inventario-ledger/internal/application/inventory"
	"github.com/jhoicas/inventario-ledger/internal/domain"
	"github.com/jhoicas/inventario-ledger/internal/domain/entity"
	"github.com/jhoicas/inventario-ledger/internal/domain/repository"
	"github.com/jhoicas/inventario-ledger/pkg/validator"
)

var tracer = otel.Tracer("github.com/jhoicas/inventario-ledger/internal/application/transfer")

// DefaultClaimTTL vigencia de la reserva que toma Complete si no se configura otra.
const DefaultClaimTTL = 30 * time.Second

// errLegUnconfirmed la pierna falló y no se pudo consultar el ledger para saber si quedó registrada.
var errLegUnconfirmed = errors.New("pierna sin confirmar")

// Submitter parte del coordinador de transacciones que usa el orquestador.
type Submitter interface {
	Submit(ctx context.Context, in inventory.SubmitInput) (*entity.InventoryTransaction, error)
	ResolveItem(ctx context.Context, productID, warehouseID string) (*entity.InventoryItem, error)
}

// Metrics puerto de métricas de traslados.
type Metrics interface {
	TransferFinished(status string)
	Compensation(kind string)
	IntegrityAlarm()
}

// Orchestrator secuencia un traslado (débito en origen, crédito en destino) como una unidad
// lógica. Un fallo a mitad de camino se compensa (saga) y el traslado queda CANCELLED;
// nunca se reporta COMPLETED con piernas parciales.
type Orchestrator struct {
	transfers repository.TransferRepository
	ledger    repository.LedgerRepository
	inv       Submitter
	notifier  inventory.Notifier
	metrics   Metrics
	log       zerolog.Logger
	claimTTL  time.Duration
}

// NewOrchestrator construye el orquestador. notifier y metrics pueden ser nil.
func NewOrchestrator(
	transfers repository.TransferRepository,
	ledger repository.LedgerRepository,
	inv Submitter,
	notifier inventory.Notifier,
	metrics Metrics,
	log zerolog.Logger,
) *Orchestrator {
	if notifier == nil {
		notifier = inventory.NopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Orchestrator{
		transfers: transfers,
		ledger:    ledger,
		inv:       inv,
		notifier:  notifier,
		metrics:   metrics,
		log:       log,
		claimTTL:  DefaultClaimTTL,
	}
}

// WithClaimTTL cambia la vigencia de la reserva. Debe superar la duración esperada de Complete.
func (o *Orchestrator) WithClaimTTL(ttl time.Duration) *Orchestrator {
	if ttl > 0 {
		o.claimTTL = ttl
	}
	return o
}

// InitiateInput datos para crear un traslado.
type InitiateInput struct {
	SourceWarehouseID      string                `json:"source_warehouse_id" validate:"required"`
	DestinationWarehouseID string                `json:"destination_warehouse_id" validate:"required,nefield=SourceWarehouseID"`
	Items                  []entity.TransferLine `json:"items" validate:"required,min=1,dive"`
	PerformedBy            string                `json:"performed_by" validate:"required"`
	Notes                  string                `json:"notes,omitempty"`
}

// Initiate valida y persiste un traslado en estado PENDING. No mueve stock.
func (o *Orchestrator) Initiate(ctx context.Context, in InitiateInput) (*entity.InventoryTransfer, error) {
	if err := validator.Validate(in); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrInvalidInput, validator.Describe(err))
	}
	seen := make(map[string]struct{}, len(in.Items))
	for _, line := range in.Items {
		if _, dup := seen[line.ProductID]; dup {
			return nil, fmt.Errorf("%w: producto %s repetido", domain.ErrInvalidInput, line.ProductID)
		}
		seen[line.ProductID] = struct{}{}
	}

	now := time.Now().UTC()
	t := &entity.InventoryTransfer{
		ID:                     uuid.New().String(),
		SourceWarehouseID:      in.SourceWarehouseID,
		DestinationWarehouseID: in.DestinationWarehouseID,
		Status:                 entity.TransferStatusPending,
		Items:                  append([]entity.TransferLine(nil), in.Items...),
		RequestedBy:            in.PerformedBy,
		Notes:                  in.Notes,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := o.transfers.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	o.log.Info().
		Str("transfer_id", t.ID).
		Str("source", t.SourceWarehouseID).
		Str("destination", t.DestinationWarehouseID).
		Int("lines", len(t.Items)).
		Msg("traslado creado")
	return t, nil
}

// Get obtiene un traslado por ID.
func (o *Orchestrator) Get(ctx context.Context, id string) (*entity.InventoryTransfer, error) {
	t, err := o.transfers.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get transfer: %w", err)
	}
	if t == nil {
		return nil, domain.ErrNotFound
	}
	return t, nil
}

// Dispatch marca el traslado como IN_TRANSIT.
func (o *Orchestrator) Dispatch(ctx context.Context, id string) (*entity.InventoryTransfer, error) {
	return o.transition(ctx, id, entity.TransferStatusInTransit, "")
}

// Cancel cancela un traslado que aún no se completó. No hay stock que revertir:
// las piernas solo se aplican en Complete.
func (o *Orchestrator) Cancel(ctx context.Context, id, reason string) (*entity.InventoryTransfer, error) {
	t, err := o.transition(ctx, id, entity.TransferStatusCancelled, reason)
	if err != nil {
		return nil, err
	}
	o.metrics.TransferFinished(t.Status)
	o.notifyStatus(ctx, t)
	return t, nil
}

func (o *Orchestrator) transition(ctx context.Context, id, to, reason string) (*entity.InventoryTransfer, error) {
	t, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entity.CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, t.Status, to)
	}
	from := t.Status
	now := time.Now().UTC()
	t.Status = to
	t.UpdatedAt = now
	if to == entity.TransferStatusCancelled {
		t.CancelledAt = &now
		t.FailureReason = reason
	}
	if err := o.transfers.UpdateStatus(ctx, t, from); err != nil {
		return nil, fmt.Errorf("update transfer status: %w", err)
	}
	return t, nil
}

// appliedLine línea cuyas dos piernas ya quedaron registradas.
type appliedLine struct {
	line       entity.TransferLine
	sourceItem string
	destItem   string
}

// Complete ejecuta, por cada línea, el débito en origen y el crédito en destino, ambos
// etiquetados con la referencia (transferID, TRANSFER). Es seguro reintentarlo: las piernas
// ya registradas se detectan por referencia duplicada. Mientras una llamada tiene la reserva
// del traslado, las demás reciben domain.ErrTransferInProgress.
func (o *Orchestrator) Complete(ctx context.Context, id string) (*entity.InventoryTransfer, error) {
	ctx, span := tracer.Start(ctx, "transfer.Complete", trace.WithAttributes(
		attribute.String("transfer.id", id),
	))
	defer span.End()

	t, err := o.complete(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return t, err
}

func (o *Orchestrator) complete(ctx context.Context, id string) (*entity.InventoryTransfer, error) {
	t, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.Terminal() {
		return settled(t)
	}

	token := uuid.New().String()
	if err := o.transfers.Claim(ctx, id, token, o.claimTTL); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTransferInProgress, id)
		}
		return nil, fmt.Errorf("claim transfer: %w", err)
	}
	defer o.release(ctx, id, token)

	// Otra llamada pudo terminarlo entre la lectura y la reserva.
	if t, err = o.Get(ctx, id); err != nil {
		return nil, err
	}
	if t.Terminal() {
		return settled(t)
	}

	// Un intento previo que ya compensó no debe reaplicar piernas.
	compensated, err := o.ledger.ListByReference(ctx, t.CompensationReference())
	if err != nil {
		return nil, fmt.Errorf("list compensations: %w", err)
	}
	if len(compensated) > 0 {
		return o.cancelAfterFailure(ctx, t, nil, errors.New("traslado compensado en un intento previo"))
	}

	ref := t.Reference()
	done := make([]appliedLine, 0, len(t.Items))
	for _, line := range t.Items {
		src, err := o.inv.ResolveItem(ctx, line.ProductID, t.SourceWarehouseID)
		if err != nil {
			return o.cancelAfterFailure(ctx, t, done, fmt.Errorf("ítem origen %s: %w", line.ProductID, err))
		}
		dst, err := o.inv.ResolveItem(ctx, line.ProductID, t.DestinationWarehouseID)
		if err != nil {
			return o.cancelAfterFailure(ctx, t, done, fmt.Errorf("ítem destino %s: %w", line.ProductID, err))
		}

		if err := o.leg(ctx, src.ID, -line.Quantity, ref, t.RequestedBy); err != nil {
			cause := fmt.Errorf("débito producto %s: %w", line.ProductID, err)
			if errors.Is(err, errLegUnconfirmed) {
				return o.leaveForRetry(t, cause)
			}
			return o.cancelAfterFailure(ctx, t, done, cause)
		}
		if err := o.leg(ctx, dst.ID, line.Quantity, ref, t.RequestedBy); err != nil {
			cause := fmt.Errorf("crédito producto %s: %w", line.ProductID, err)
			if errors.Is(err, errLegUnconfirmed) {
				return o.leaveForRetry(t, cause)
			}
			// El débito se aplicó y el crédito no está en el ledger: devolver el stock al origen.
			o.compensateLeg(ctx, t, src.ID, line.Quantity)
			return o.cancelAfterFailure(ctx, t, done, cause)
		}
		done = append(done, appliedLine{line: line, sourceItem: src.ID, destItem: dst.ID})
	}

	from := t.Status
	now := time.Now().UTC()
	t.Status = entity.TransferStatusCompleted
	t.UpdatedAt = now
	t.CompletedAt = &now
	if err := o.transfers.UpdateStatus(ctx, t, from); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("update transfer status: %w", err)
		}
		current, gerr := o.Get(ctx, id)
		if gerr != nil {
			return nil, gerr
		}
		if current.Status == entity.TransferStatusCompleted {
			return current, nil
		}
		// Cancelado en paralelo mientras se aplicaban las piernas: revertirlas.
		o.reverse(ctx, current, done)
		return current, fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
	}

	o.metrics.TransferFinished(t.Status)
	o.log.Info().Str("transfer_id", t.ID).Int("lines", len(done)).Msg("traslado completado")
	o.notifyStatus(ctx, t)
	return t, nil
}

// leg envía una pierna del traslado. Una referencia duplicada significa que la pierna ya se
// registró en un intento anterior. Ante un error se consulta el ledger: la pierna pudo quedar
// registrada aunque la respuesta se perdiera.
func (o *Orchestrator) leg(ctx context.Context, itemID string, delta int64, ref entity.Reference, performer string) error {
	_, err := o.inv.Submit(ctx, inventory.SubmitInput{
		ItemID:      itemID,
		Type:        entity.TransactionTypeTransfer,
		Delta:       delta,
		Reference:   &ref,
		PerformedBy: performer,
	})
	if err == nil || errors.Is(err, domain.ErrDuplicateReference) {
		return nil
	}
	recorded, ferr := o.ledger.FindByReference(context.WithoutCancel(ctx), itemID, ref, entity.TransactionTypeTransfer)
	switch {
	case ferr != nil:
		return fmt.Errorf("%w: %w", errLegUnconfirmed, errors.Join(err, ferr))
	case recorded != nil:
		return nil
	}
	return err
}

// leaveForRetry deja el traslado en su estado actual: sin saber si la pierna quedó registrada,
// compensar podría crear stock. Un Complete posterior lo termina.
func (o *Orchestrator) leaveForRetry(t *entity.InventoryTransfer, cause error) (*entity.InventoryTransfer, error) {
	o.log.Error().Err(cause).Str("transfer_id", t.ID).Msg("pierna de traslado sin confirmar; queda pendiente de reintento")
	return t, cause
}

func (o *Orchestrator) release(ctx context.Context, id, token string) {
	if err := o.transfers.Release(context.WithoutCancel(ctx), id, token); err != nil {
		o.log.Warn().Err(err).Str("transfer_id", id).Msg("no se pudo liberar la reserva del traslado")
	}
}

func settled(t *entity.InventoryTransfer) (*entity.InventoryTransfer, error) {
	if t.Status == entity.TransferStatusCancelled {
		return t, fmt.Errorf("%w: traslado %s cancelado", domain.ErrInvalidTransition, t.ID)
	}
	return t, nil
}

// compensateLeg aplica una pierna de compensación etiquetada con TRANSFER_COMPENSATION.
func (o *Orchestrator) compensateLeg(ctx context.Context, t *entity.InventoryTransfer, itemID string, delta int64) bool {
	cctx := context.WithoutCancel(ctx)
	if err := o.leg(cctx, itemID, delta, t.CompensationReference(), t.RequestedBy); err != nil {
		o.metrics.IntegrityAlarm()
		o.log.Error().
			Err(err).
			Str("transfer_id", t.ID).
			Str("item_id", itemID).
			Int64("delta", delta).
			Msg("alarma de integridad: compensación de traslado fallida")
		return false
	}
	o.metrics.Compensation("transfer_leg")
	return true
}

// reverse deshace las líneas ya completadas: débito en destino y crédito en origen.
// Si el destino ya no tiene stock no se acredita el origen (el stock no se duplica).
func (o *Orchestrator) reverse(ctx context.Context, t *entity.InventoryTransfer, done []appliedLine) {
	for i := len(done) - 1; i >= 0; i-- {
		applied := done[i]
		if !o.compensateLeg(ctx, t, applied.destItem, -applied.line.Quantity) {
			continue
		}
		o.compensateLeg(ctx, t, applied.sourceItem, applied.line.Quantity)
	}
}

// cancelAfterFailure revierte las líneas completadas y deja el traslado en CANCELLED. Si el
// estado cambió en paralelo devuelve el traslado persistido, no la copia cancelada.
func (o *Orchestrator) cancelAfterFailure(ctx context.Context, t *entity.InventoryTransfer, done []appliedLine, cause error) (*entity.InventoryTransfer, error) {
	cctx := context.WithoutCancel(ctx)
	o.reverse(cctx, t, done)

	cancelled := *t
	now := time.Now().UTC()
	cancelled.Status = entity.TransferStatusCancelled
	cancelled.FailureReason = cause.Error()
	cancelled.UpdatedAt = now
	cancelled.CancelledAt = &now
	if err := o.transfers.UpdateStatus(cctx, &cancelled, t.Status); err != nil {
		if !errors.Is(err, domain.ErrConflict) {
			o.log.Error().Err(err).Str("transfer_id", t.ID).Msg("no se pudo marcar el traslado como cancelado")
			return t, fmt.Errorf("%w: %w", domain.ErrTransferFailed, errors.Join(cause, err))
		}
		current, gerr := o.Get(cctx, t.ID)
		if gerr != nil {
			return t, fmt.Errorf("%w: %w", domain.ErrTransferFailed, errors.Join(cause, gerr))
		}
		if current.Status == entity.TransferStatusCompleted {
			o.metrics.IntegrityAlarm()
			o.log.Error().
				Err(cause).
				Str("transfer_id", t.ID).
				Msg("alarma de integridad: traslado completado por otra llamada después de compensar")
		}
		return current, fmt.Errorf("%w: %w", domain.ErrTransferFailed, cause)
	}

	o.metrics.TransferFinished(cancelled.Status)
	o.log.Warn().Err(cause).Str("transfer_id", t.ID).Msg("traslado cancelado y compensado")
	o.notifyStatus(cctx, &cancelled)
	return &cancelled, fmt.Errorf("%w: %w", domain.ErrTransferFailed, cause)
}

// Legs devuelve las transacciones registradas para el traslado, incluidas las compensaciones.
func (o *Orchestrator) Legs(ctx context.Context, id string) ([]*entity.InventoryTransaction, error) {
	t, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	legs, err := o.ledger.ListByReference(ctx, t.Reference())
	if err != nil {
		return nil, err
	}
	comp, err := o.ledger.ListByReference(ctx, t.CompensationReference())
	if err != nil {
		return nil, err
	}
	return append(legs, comp...), nil
}

func (o *Orchestrator) notifyStatus(ctx context.Context, t *entity.InventoryTransfer) {
	kind := entity.NotificationTransferCompleted
	msg := fmt.Sprintf("traslado %s completado", t.ID)
	if t.Status == entity.TransferStatusCancelled {
		kind = entity.NotificationTransferCancelled
		msg = fmt.Sprintf("traslado %s cancelado: %s", t.ID, t.FailureReason)
	}
	n := entity.Notification{
		Type:        kind,
		RecipientID: "user:" + t.RequestedBy,
		Message:     msg,
		Payload: map[string]any{
			"transfer_id":              t.ID,
			"status":                   t.Status,
			"source_warehouse_id":      t.SourceWarehouseID,
			"destination_warehouse_id": t.DestinationWarehouseID,
		},
	}
	if err := o.notifier.Notify(ctx, n); err != nil {
		o.log.Warn().Err(err).Str("transfer_id", t.ID).Msg("no se pudo emitir evento de traslado")
	}
}

type nopMetrics struct{}

func (nopMetrics) TransferFinished(string) {}
func (nopMetrics) Compensation(string)     {}
func (nopMetrics) IntegrityAlarm()         {}
