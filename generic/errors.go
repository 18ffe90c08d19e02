/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Idempotency errors - A billing period was already invoiced
  2. Validation errors  - Structurally invalid contracts, illegal status moves
  3. Store errors       - Missing entities

USAGE:
  if errors.Is(err, generic.ErrPeriodAlreadyInvoiced) {
      // a concurrent run got there first, safe to ignore
  }

SEE ALSO:
  - store/memory, store/sqlite: Return these errors
  - billing/batch.go: Wraps creation failures per item
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrPeriodAlreadyInvoiced is returned when an invoice with the same
	// (contract, period start) idempotency key already exists.
	ErrPeriodAlreadyInvoiced = errors.New("billing period already invoiced")

	// ErrEntityNotFound is returned when a referenced entity doesn't exist.
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidContract is returned when a contract is structurally invalid
	// (end before start, monthly table not summing to 100).
	ErrInvalidContract = errors.New("invalid contract")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrInvalidTransition is returned for a forbidden invoice status change.
	ErrInvalidTransition = errors.New("invalid invoice status transition")

	// ErrInvoiceFinalized is returned when mutating a finalized invoice.
	ErrInvoiceFinalized = errors.New("invoice is finalized")

	// ErrMixedClients is returned when a credit note spans several clients.
	ErrMixedClients = errors.New("invoices belong to different clients")

	// ErrInvalidDefinition is returned when a JSON definition fails validation.
	ErrInvalidDefinition = errors.New("invalid definition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvoiceCreationError records which billable period failed to materialize.
type InvoiceCreationError struct {
	ContractID ContractID
	Period     Period
	Err        error
}

func (e *InvoiceCreationError) Error() string {
	return fmt.Sprintf("contract %s period %s: %v", e.ContractID, e.Period, e.Err)
}

func (e *InvoiceCreationError) Unwrap() error {
	return e.Err
}

// ContractValidationError lists every rule a contract breaks.
type ContractValidationError struct {
	ContractID ContractID
	Problems   []string
}

func (e *ContractValidationError) Error() string {
	return fmt.Sprintf("contract %s: %v", e.ContractID, e.Problems)
}

func (e *ContractValidationError) Unwrap() error {
	return ErrInvalidContract
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidContract) ||
		errors.Is(err, ErrInvalidPeriod) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvoiceFinalized) ||
		errors.Is(err, ErrMixedClients) ||
		errors.Is(err, ErrInvalidDefinition)
}

// IsConflict returns true if the error signals a duplicate write.
func IsConflict(err error) bool {
	return errors.Is(err, ErrPeriodAlreadyInvoiced)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntityNotFound)
}
