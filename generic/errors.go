/*
errors.go - Centralized error types for the performance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context; callers
  classify them with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Definition errors - Malformed targets or records
  2. Event errors - Rejected achievement events
  3. Policy errors - Unsupported or invalid settings
  4. Store errors - Durable write failures

PROPAGATION:
  Validation errors are returned before any state is touched. Store
  failures abort the whole operation and surface wrapped in
  ErrStorageWriteFailed; the caller retries the whole call, which is safe
  because event IDs are idempotency keys (ErrDuplicateEvent).

SEE ALSO:
  - ledger.go: Uses these errors
  - performance/engine.go: Wraps these errors with record context
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
	// ErrInvalidTargetDefinition is returned for a non-positive target value,
	// a negative incentive base, or a missing kind.
	ErrInvalidTargetDefinition = errors.New("invalid target definition")

	// ErrDuplicateTargetKind is returned when a record would hold two targets
	// of the same kind.
	ErrDuplicateTargetKind = errors.New("duplicate target kind")

	// ErrNoValidTargets is returned when a record is created without any
	// target whose value is positive.
	ErrNoValidTargets = errors.New("no valid targets")

	// ErrUnknownTargetKind is returned when an event names a kind the record
	// does not track. Targets are never auto-created by events.
	ErrUnknownTargetKind = errors.New("unknown target kind")

	// ErrNoActiveRecord is returned when no open record exists for the
	// employee and period.
	ErrNoActiveRecord = errors.New("no active performance record")

	// ErrNegativeAccumulation is returned when an event would drive the
	// accumulated value below zero.
	ErrNegativeAccumulation = errors.New("negative accumulation rejected")

	// ErrUnsupportedCalculationMethod is returned for calculation methods
	// that have no implementation yet.
	ErrUnsupportedCalculationMethod = errors.New("unsupported calculation method")

	// ErrStorageWriteFailed is returned when the durable store could not
	// persist a mutation. Nothing was written.
	ErrStorageWriteFailed = errors.New("storage write failed")

	// ErrDuplicateEvent is returned when an event ID was already applied.
	// This is expected behavior for retries.
	ErrDuplicateEvent = errors.New("duplicate event")

	// ErrRecordExists is returned when a record already exists for the
	// employee and period.
	ErrRecordExists = errors.New("performance record already exists")

	// ErrInvalidStatusTransition is returned for a lifecycle action not
	// allowed from the record's current status.
	ErrInvalidStatusTransition = errors.New("invalid record status transition")

	// ErrInvalidEvent is returned for an event missing required fields.
	ErrInvalidEvent = errors.New("invalid achievement event")

	// ErrInvalidPolicy is returned for settings that fail validation.
	ErrInvalidPolicy = errors.New("invalid policy settings")

	// ErrPolicyNotFound is returned when a referenced policy version doesn't exist.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrEntityNotFound is returned when the directory has no such employee.
	ErrEntityNotFound = errors.New("employee not found")

	// ErrTargetNotFound is returned when a target ID is unknown.
	ErrTargetNotFound = errors.New("target not found")

	// ErrInvalidPeriod is returned for a malformed month key.
	ErrInvalidPeriod = errors.New("invalid period")

	// ErrConcurrentModification is returned when the optimistic version check
	// detects that another writer updated the record first.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrReplayMismatch is returned when a materialised sum disagrees with
	// the ledger.
	ErrReplayMismatch = errors.New("ledger replay mismatch")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NegativeAccumulationError provides details about a rejected event.
type NegativeAccumulationError struct {
	TargetID TargetID
	Current  Amount
	Delta    Amount
}

func (e *NegativeAccumulationError) Error() string {
	return fmt.Sprintf("negative accumulation rejected: target %s at %v, delta %v would give %v",
		e.TargetID, e.Current.Value, e.Delta.Value, e.Current.Add(e.Delta).Value)
}

func (e *NegativeAccumulationError) Unwrap() error {
	return ErrNegativeAccumulation
}

// UnknownTargetKindError names the missing kind.
type UnknownTargetKindError struct {
	EntityID EntityID
	Period   string
	Kind     string
}

func (e *UnknownTargetKindError) Error() string {
	return fmt.Sprintf("unknown target kind %q for %s in %s", e.Kind, e.EntityID, e.Period)
}

func (e *UnknownTargetKindError) Unwrap() error {
	return ErrUnknownTargetKind
}

// ReplayMismatchError reports a target whose materialised value diverged
// from the sum of its ledger.
type ReplayMismatchError struct {
	TargetID     TargetID
	Materialised Amount
	Replayed     Amount
}

func (e *ReplayMismatchError) Error() string {
	return fmt.Sprintf("ledger replay mismatch for target %s: stored %v, ledger sum %v",
		e.TargetID, e.Materialised.Value, e.Replayed.Value)
}

func (e *ReplayMismatchError) Unwrap() error {
	return ErrReplayMismatch
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// StorageFailure wraps a store error so that it matches ErrStorageWriteFailed
// while keeping the cause inspectable.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorageWriteFailed, op, err)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStorageWriteFailed)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidTargetDefinition) ||
		errors.Is(err, ErrNoValidTargets) ||
		errors.Is(err, ErrNegativeAccumulation) ||
		errors.Is(err, ErrUnsupportedCalculationMethod) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidPolicy) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateEvent) ||
		errors.Is(err, ErrDuplicateTargetKind) ||
		errors.Is(err, ErrRecordExists) ||
		errors.Is(err, ErrInvalidStatusTransition) ||
		errors.Is(err, ErrConcurrentModification)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNoActiveRecord) ||
		errors.Is(err, ErrUnknownTargetKind) ||
		errors.Is(err, ErrPolicyNotFound) ||
		errors.Is(err, ErrEntityNotFound) ||
		errors.Is(err, ErrTargetNotFound)
}
