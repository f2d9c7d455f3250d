package domain

import "fmt"

// The error taxonomy is fixed: every condition below is local and
// recoverable by the caller. Validation errors are raised before any
// mutation; state errors abort the transaction before commit.

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	Key    string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.Key)
}

// SequenceNotInitializedError is returned when values are reserved from a
// counter that was never initialized.
type SequenceNotInitializedError struct {
	Counter string
}

func (e SequenceNotInitializedError) Error() string {
	return fmt.Sprintf("sequence counter %q not initialized", e.Counter)
}

// MalformedRelationCodeError is returned when a relation code cannot be
// decoded into its child/linked/sex parts.
type MalformedRelationCodeError struct {
	Input string
}

func (e MalformedRelationCodeError) Error() string {
	return fmt.Sprintf("malformed relation code %q", e.Input)
}

// IllegalTransitionError is returned when a workflow transition is not an
// allowed edge from the specimen's current state.
type IllegalTransitionError struct {
	Code string
	From WorkflowState
	To   WorkflowState
}

func (e IllegalTransitionError) Error() string {
	return fmt.Sprintf("specimen %s: illegal transition %s -> %s", e.Code, e.From, e.To)
}

// CapacityExceededError is returned when a plate layout would exceed the
// 96-well capacity.
type CapacityExceededError struct {
	Specimens int
	Controls  int
}

func (e CapacityExceededError) Error() string {
	return fmt.Sprintf("plate capacity exceeded: %d specimens + %d controls > %d wells", e.Specimens, e.Controls, PlateCapacity)
}

// DuplicateSpecimenError is returned when a specimen code appears more than
// once in an allocation request.
type DuplicateSpecimenError struct {
	Code string
}

func (e DuplicateSpecimenError) Error() string {
	return fmt.Sprintf("specimen %s listed more than once", e.Code)
}

// NotEligibleError is returned when a specimen's workflow state does not
// permit entry into the requested batch type.
type NotEligibleError struct {
	Code  string
	State WorkflowState
	Batch BatchType
}

func (e NotEligibleError) Error() string {
	return fmt.Sprintf("specimen %s in state %s is not eligible for %s batch", e.Code, e.State, e.Batch)
}

// LineageMismatchError is returned when a derived batch's specimen set does
// not satisfy the lineage contract against its source batch.
type LineageMismatchError struct {
	Code        string
	SourceBatch string
	Reason      string
}

func (e LineageMismatchError) Error() string {
	return fmt.Sprintf("specimen %s violates lineage of batch %s: %s", e.Code, e.SourceBatch, e.Reason)
}
