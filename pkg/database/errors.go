package database

import (
	stderrors "errors"
	"strings"

	"github.com/lib/pq"

	"github.com/bjyoucef/inaya-project-sub001/pkg/errors"
)

// Constraint names referenced from Go code.
const (
	ConstraintLotIdentity  = "stock_lots_product_location_expiry_key"
	ConstraintLotNumber    = "stock_lots_product_location_lot_key"
	ConstraintLotQuantity  = "stock_lots_quantity_nonneg"
	ConstraintStatusValid  = "service_deliveries_status_valid"
	ConstraintTariff       = "line_items_tariff_nonneg"
	ConstraintHonorarium   = "line_items_honorarium_range"
	ConstraintActualQty    = "consumption_records_actual_nonneg"
	ConstraintMovementQty  = "stock_movements_quantity_positive"
	ConstraintMovementKind = "stock_movements_kind_valid"
)

// Postgres error codes treated as transient lock conflicts.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

func asPQ(err error) (*pq.Error, bool) {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) {
		return pqErr, true
	}
	return nil, false
}

// IsRetryable reports whether a transaction failing with err can simply be
// replayed. Two receipts racing to create the same lot also count: on replay
// the loser finds and increments the winner's lot, or picks a free number.
func IsRetryable(err error) bool {
	pqErr, ok := asPQ(err)
	if !ok {
		return false
	}

	switch pqErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return true
	case codeUniqueViolation:
		return pqErr.Constraint == ConstraintLotIdentity || pqErr.Constraint == ConstraintLotNumber
	default:
		return false
	}
}

// IsUniqueViolation reports whether err is a unique violation on constraint.
func IsUniqueViolation(err error, constraint string) bool {
	pqErr, ok := asPQ(err)
	return ok && pqErr.Code == codeUniqueViolation && pqErr.Constraint == constraint
}

// MapError converts a PostgreSQL error into an AppError when it has a
// client-facing meaning, and returns err unchanged otherwise.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if appErr := MapPQError(err); appErr != nil {
		return appErr
	}
	return err
}

// MapPQError converts a PostgreSQL error to an AppError with meaningful messages.
// Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := asPQ(err)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case codeUniqueViolation:
		return errors.Conflict(formatConstraintMessage(pqErr))

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps specific CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	switch pqErr.Constraint {
	case ConstraintLotQuantity:
		return errors.Validation(map[string]string{"quantity": "stock quantity cannot become negative"})
	case ConstraintStatusValid:
		return errors.Validation(map[string]string{"status": "must be one of: PLANNED, PERFORMED, PAID, CANCELLED"})
	case ConstraintTariff:
		return errors.Validation(map[string]string{"tariff": "must not be negative"})
	case ConstraintHonorarium:
		return errors.Validation(map[string]string{"honorarium": "must be between 0 and 99999999.99"})
	case ConstraintActualQty:
		return errors.Validation(map[string]string{"actual_quantity": "must not be negative"})
	case ConstraintMovementQty:
		return errors.Validation(map[string]string{"quantity": "must be greater than zero"})
	case ConstraintMovementKind:
		return errors.Validation(map[string]string{"kind": "must be one of: IN, OUT"})
	default:
		return errors.BadRequest("data validation failed: " + pqErr.Constraint)
	}
}

// formatConstraintMessage creates a user-friendly message for unique constraint violations.
func formatConstraintMessage(pqErr *pq.Error) string {
	switch {
	case pqErr.Constraint == ConstraintLotNumber:
		return "a lot with this number already exists for the product at this location"
	case pqErr.Constraint == ConstraintLotIdentity:
		return "a lot with this expiry date already exists for the product at this location"
	case strings.HasSuffix(pqErr.Constraint, "_pkey"):
		return "a record with this identifier already exists"
	default:
		return "a record with these values already exists"
	}
}
