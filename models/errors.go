package models

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Core error taxonomy. All four are terminal to the current operation and are
// surfaced to the caller verbatim; the API layer decides status mapping.

// ValidationError reports malformed input: non-positive price or quantity,
// selling price below purchase price, duplicate batch number, bad SKU.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + e.Reason
}

// InsufficientStockError reports an allocation that cannot be fully
// satisfied. Remainder is the unsatisfied quantity; no partial result is
// ever applied when it is returned.
type InsufficientStockError struct {
	ProductId int
	Remainder decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: short by %s", e.ProductId, e.Remainder.String())
}

// ConflictError reports a mutation blocked by existing references, e.g.
// deleting a batch that sale consumptions still point at.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// InvalidArgumentError reports a structurally impossible request, e.g. a
// non-positive requested quantity.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}
