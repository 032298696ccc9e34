package domain

import "errors"

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrConflict     = errors.New("conflicto con el estado actual")

	// Regla de negocio: el stock nunca puede quedar negativo. No se reintenta automáticamente.
	ErrInsufficientStock = errors.New("stock insuficiente")
	// La cantidad leída ya no coincide con la almacenada (compare-and-swap fallido).
	ErrStaleQuantity = errors.New("cantidad desactualizada")
	// Se agotaron los reintentos por escrituras concurrentes; el llamador puede reintentar todo el envío.
	ErrConcurrentUpdateConflict = errors.New("conflicto por actualización concurrente")
	// Almacenamiento no disponible (transitorio, reintentable con backoff).
	ErrStorageUnavailable = errors.New("almacenamiento no disponible")
	// Misma referencia + tipo ya registrada: el envío original ya se aplicó.
	ErrDuplicateReference = errors.New("referencia duplicada")

	ErrItemDiscontinued   = errors.New("ítem descontinuado")
	ErrInvalidTransition  = errors.New("transición de estado inválida")
	ErrTransferFailed     = errors.New("traslado fallido y compensado")
	// Otra llamada está completando el mismo traslado; reintentar más tarde.
	ErrTransferInProgress = errors.New("traslado en proceso")
	ErrIntegrityViolation = errors.New("divergencia entre ledger y proyección")
)

// IsRetryable indica si el error es transitorio y el envío completo puede reintentarse.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrConcurrentUpdateConflict)
}
