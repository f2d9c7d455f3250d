// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by helixcore.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntitySpecimen identifies an individual specimen record.
	EntitySpecimen EntityType = "specimen"
	// EntityCase identifies a case (family group) record.
	EntityCase EntityType = "case"
	// EntityBatch identifies a processing batch record.
	EntityBatch EntityType = "batch"
	// EntityCounter identifies a named sequence counter record.
	EntityCounter EntityType = "sequence_counter"
)

// SpecimenRole identifies the family role of the person a specimen was taken from.
type SpecimenRole string

// Canonical specimen roles. Free-text relation labels from imports are
// normalized to these values by the relation codec.
const (
	RoleMother        SpecimenRole = "mother"
	RoleAllegedFather SpecimenRole = "alleged_father"
	RoleChild         SpecimenRole = "child"
)

// Sex is the single-letter sex marker embedded in child specimen codes.
type Sex string

const (
	SexMale   Sex = "M"
	SexFemale Sex = "F"
)

// WorkflowState represents the laboratory lifecycle state of a specimen.
type WorkflowState string

// Workflow states in forward order, plus the rerun and failure branches.
const (
	StateRegistered        WorkflowState = "registered"
	StateSampleCollected   WorkflowState = "sample_collected"
	StatePCRReady          WorkflowState = "pcr_ready"
	StatePCRBatched        WorkflowState = "pcr_batched"
	StatePCRCompleted      WorkflowState = "pcr_completed"
	StateElectroReady      WorkflowState = "electro_ready"
	StateElectroBatched    WorkflowState = "electro_batched"
	StateElectroCompleted  WorkflowState = "electro_completed"
	StateAnalysisReady     WorkflowState = "analysis_ready"
	StateInAnalysis        WorkflowState = "in_analysis"
	StateAnalysisCompleted WorkflowState = "analysis_completed"
	StateReportGenerated   WorkflowState = "report_generated"
	StateDelivered         WorkflowState = "delivered"
	StateRerunRequired     WorkflowState = "rerun_required"
	StateRerunBatched      WorkflowState = "rerun_batched"
	StateFailed            WorkflowState = "failed"
)

// BatchType enumerates the kinds of laboratory processing batches.
type BatchType string

const (
	BatchAmplification BatchType = "amplification"
	BatchSeparation    BatchType = "separation"
	BatchRerun         BatchType = "rerun"
)

// BatchStatus enumerates batch processing states.
type BatchStatus string

const (
	BatchStatusActive    BatchStatus = "active"
	BatchStatusCompleted BatchStatus = "completed"
	BatchStatusFailed    BatchStatus = "failed"
)

// ControlKind enumerates quality-control well contents.
type ControlKind string

const (
	ControlPositive      ControlKind = "positive_control"
	ControlNegative      ControlKind = "negative_control"
	ControlAllelicLadder ControlKind = "allelic_ladder"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Specimen represents one biological sample from one person in one case.
// The specimen code is the human-facing identifier and the persistence key.
type Specimen struct {
	Base
	Code         string        `json:"code"`
	CaseID       string        `json:"case_id"`
	Role         SpecimenRole  `json:"role"`
	Sex          Sex           `json:"sex"`
	LinkedCode   *string       `json:"linked_code,omitempty"`
	CollectedAt  *time.Time    `json:"collected_at"`
	State        WorkflowState `json:"state"`
	AmpBatchCode *string       `json:"amp_batch_code"`
	SepBatchCode *string       `json:"sep_batch_code"`
	RerunCount   int           `json:"rerun_count"`
}

// Case groups 1-3 specimens (mother/father/child) sharing one external kit code.
type Case struct {
	Base
	KitCode       string    `json:"kit_code"`
	SubmittedAt   time.Time `json:"submitted_at"`
	MotherPresent bool      `json:"mother_present"`
	Purpose       string    `json:"purpose"`
	SpecimenCodes []string  `json:"specimen_codes"`
}

// WellContent is the occupant of one plate well: exactly one of a specimen
// code or a control kind.
type WellContent struct {
	SpecimenCode string      `json:"specimen_code,omitempty"`
	Control      ControlKind `json:"control,omitempty"`
}

// IsControl reports whether the well holds quality-control material.
func (w WellContent) IsControl() bool { return w.Control != "" }

// Batch is a unit of laboratory processing with a fixed 96-well layout.
// The layout is immutable once the batch is created; corrections require a
// new batch (a rerun).
type Batch struct {
	Base
	Code            string                 `json:"code"`
	Type            BatchType              `json:"type"`
	Operator        string                 `json:"operator"`
	ProcessedAt     time.Time              `json:"processed_at"`
	Status          BatchStatus            `json:"status"`
	Wells           map[string]WellContent `json:"wells"`
	SpecimenCount   int                    `json:"specimen_count"`
	SourceBatchCode *string                `json:"source_batch_code,omitempty"`
}

// SpecimenCodes returns the specimen codes placed in the batch, ordered by
// well position row-major.
func (b Batch) SpecimenCodes() []string {
	codes := make([]string, 0, b.SpecimenCount)
	for _, pos := range WellPositions() {
		if w, ok := b.Wells[pos]; ok && !w.IsControl() {
			codes = append(codes, w.SpecimenCode)
		}
	}
	return codes
}

// HasSpecimen reports whether the batch layout contains the given code.
func (b Batch) HasSpecimen(code string) bool {
	for _, w := range b.Wells {
		if w.SpecimenCode == code {
			return true
		}
	}
	return false
}

// SequenceCounter holds the next value of a named, externally-continuable
// identifier sequence. Counters are never decremented.
type SequenceCounter struct {
	Base
	Name   string `json:"name"`
	Next   int64  `json:"next"`
	Prefix string `json:"prefix"`
	Width  int    `json:"width"`
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in the audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
