package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateSpecimen(Specimen) (Specimen, error)
	UpdateSpecimen(code string, mutator func(*Specimen) error) (Specimen, error)
	DeleteSpecimen(code string) error
	CreateCase(Case) (Case, error)
	UpdateCase(id string, mutator func(*Case) error) (Case, error)
	DeleteCase(id string) error
	CreateBatch(Batch) (Batch, error)
	UpdateBatch(code string, mutator func(*Batch) error) (Batch, error)
	PutCounter(SequenceCounter) (SequenceCounter, error)
	FindSpecimen(code string) (Specimen, bool)
	FindCase(id string) (Case, bool)
	FindBatch(code string) (Batch, bool)
	FindCounter(name string) (SequenceCounter, bool)
}

// TransactionView provides read-only access to snapshot data for rules and
// queries.
type TransactionView interface {
	ListSpecimens() []Specimen
	ListCases() []Case
	ListBatches() []Batch
	FindSpecimen(code string) (Specimen, bool)
	FindCase(id string) (Case, bool)
	FindBatch(code string) (Batch, bool)
	FindCounter(name string) (SequenceCounter, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetSpecimen(code string) (Specimen, bool)
	ListSpecimens() []Specimen
	GetCase(id string) (Case, bool)
	ListCases() []Case
	GetBatch(code string) (Batch, bool)
	ListBatches() []Batch
	GetCounter(name string) (SequenceCounter, bool)
}
