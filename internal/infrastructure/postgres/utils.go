package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jhoicas/inventario-ledger/internal/domain"
)

// isUniqueViolation verifica si un error es una violación de constraint único (23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// isCheckViolation verifica si un error es una violación de CHECK (23514), p. ej. quantity >= 0.
func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23514"
	}
	return false
}

// isInvalidID verifica si el parámetro no es un UUID válido (22P02, invalid_text_representation).
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "22P02"
	}
	return false
}

// isTransient clasifica errores reintentables: conexión (08xxx), apagado del servidor (57Pxx),
// serialización (40001), deadlock (40P01), contexto vencido o errores de red sin PgError.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		code := pgErr.Code
		return strings.HasPrefix(code, "08") || strings.HasPrefix(code, "57P") ||
			code == "40001" || code == "40P01"
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

// mapError traduce errores de PostgreSQL a errores de dominio conservando la causa.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, domain.ErrDuplicateReference)
	case isCheckViolation(err):
		return fmt.Errorf("%s: %w", op, domain.ErrInsufficientStock)
	case isTransient(err):
		return fmt.Errorf("%s: %w: %v", op, domain.ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// mapLookupError como mapError, pero un ID que no es UUID no puede existir: domain.ErrNotFound.
func mapLookupError(op string, err error) error {
	if isInvalidID(err) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	return mapError(op, err)
}
