package core

import "helixcore/pkg/domain"

type (
	EntityType         = domain.EntityType
	WorkflowState      = domain.WorkflowState
	SpecimenRole       = domain.SpecimenRole
	Sex                = domain.Sex
	BatchType          = domain.BatchType
	BatchStatus        = domain.BatchStatus
	ControlKind        = domain.ControlKind
	Base               = domain.Base
	Specimen           = domain.Specimen
	Case               = domain.Case
	Batch              = domain.Batch
	WellContent        = domain.WellContent
	SequenceCounter    = domain.SequenceCounter
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	RuleView           = domain.RuleView
)

const (
	EntitySpecimen = domain.EntitySpecimen
	EntityCase     = domain.EntityCase
	EntityBatch    = domain.EntityBatch
	EntityCounter  = domain.EntityCounter
)

const (
	BatchAmplification = domain.BatchAmplification
	BatchSeparation    = domain.BatchSeparation
	BatchRerun         = domain.BatchRerun
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

// NewRulesEngine re-exports the domain constructor for callers wiring stores.
func NewRulesEngine() *RulesEngine { return domain.NewRulesEngine() }
