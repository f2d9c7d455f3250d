// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"helixcore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Specimen aliases domain.Specimen for in-memory persistence operations.
	Specimen = domain.Specimen
	// Case aliases domain.Case.
	Case = domain.Case
	// Batch aliases domain.Batch.
	Batch = domain.Batch
	// SequenceCounter aliases domain.SequenceCounter.
	SequenceCounter = domain.SequenceCounter
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	specimens map[string]Specimen
	cases     map[string]Case
	batches   map[string]Batch
	counters  map[string]SequenceCounter
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Specimens map[string]Specimen        `json:"specimens"`
	Cases     map[string]Case            `json:"cases"`
	Batches   map[string]Batch           `json:"batches"`
	Counters  map[string]SequenceCounter `json:"counters"`
}

func newMemoryState() memoryState {
	return memoryState{
		specimens: make(map[string]Specimen),
		cases:     make(map[string]Case),
		batches:   make(map[string]Batch),
		counters:  make(map[string]SequenceCounter),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Specimens: make(map[string]Specimen, len(state.specimens)),
		Cases:     make(map[string]Case, len(state.cases)),
		Batches:   make(map[string]Batch, len(state.batches)),
		Counters:  make(map[string]SequenceCounter, len(state.counters)),
	}
	for k, v := range state.specimens {
		s.Specimens[k] = cloneSpecimen(v)
	}
	for k, v := range state.cases {
		s.Cases[k] = cloneCase(v)
	}
	for k, v := range state.batches {
		s.Batches[k] = cloneBatch(v)
	}
	for k, v := range state.counters {
		s.Counters[k] = cloneCounter(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Specimens {
		state.specimens[k] = cloneSpecimen(v)
	}
	for k, v := range s.Cases {
		state.cases[k] = cloneCase(v)
	}
	for k, v := range s.Batches {
		state.batches[k] = cloneBatch(v)
	}
	for k, v := range s.Counters {
		state.counters[k] = cloneCounter(v)
	}
	return state
}

// migrateSnapshot normalizes snapshots produced by earlier deployments or
// mutated by external administrative edits: nil maps become empty, batch
// references to deleted batches are cleared, and well layouts referencing
// deleted specimens are dropped from the specimen count.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Specimens == nil {
		snapshot.Specimens = map[string]Specimen{}
	}
	if snapshot.Cases == nil {
		snapshot.Cases = map[string]Case{}
	}
	if snapshot.Batches == nil {
		snapshot.Batches = map[string]Batch{}
	}
	if snapshot.Counters == nil {
		snapshot.Counters = map[string]SequenceCounter{}
	}

	batchExists := func(code string) bool {
		_, ok := snapshot.Batches[code]
		return ok
	}
	specimenExists := func(code string) bool {
		_, ok := snapshot.Specimens[code]
		return ok
	}

	for code, specimen := range snapshot.Specimens {
		if specimen.AmpBatchCode != nil && !batchExists(*specimen.AmpBatchCode) {
			specimen.AmpBatchCode = nil
		}
		if specimen.SepBatchCode != nil && !batchExists(*specimen.SepBatchCode) {
			specimen.SepBatchCode = nil
		}
		if !domain.IsWorkflowState(specimen.State) {
			specimen.State = domain.StateRegistered
		}
		snapshot.Specimens[code] = specimen
	}

	for code, batch := range snapshot.Batches {
		count := 0
		for pos, well := range batch.Wells {
			if well.IsControl() {
				continue
			}
			if !specimenExists(well.SpecimenCode) {
				delete(batch.Wells, pos)
				continue
			}
			count++
		}
		batch.SpecimenCount = count
		if batch.SourceBatchCode != nil && !batchExists(*batch.SourceBatchCode) {
			batch.SourceBatchCode = nil
		}
		snapshot.Batches[code] = batch
	}

	for id, c := range snapshot.Cases {
		if filtered, changed := filterCodes(c.SpecimenCodes, specimenExists); changed {
			c.SpecimenCodes = filtered
		}
		snapshot.Cases[id] = c
	}

	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.specimens {
		cloned.specimens[k] = cloneSpecimen(v)
	}
	for k, v := range s.cases {
		cloned.cases[k] = cloneCase(v)
	}
	for k, v := range s.batches {
		cloned.batches[k] = cloneBatch(v)
	}
	for k, v := range s.counters {
		cloned.counters[k] = cloneCounter(v)
	}
	return cloned
}

func cloneSpecimen(sp Specimen) Specimen {
	cp := sp
	if sp.LinkedCode != nil {
		v := *sp.LinkedCode
		cp.LinkedCode = &v
	}
	if sp.CollectedAt != nil {
		t := *sp.CollectedAt
		cp.CollectedAt = &t
	}
	if sp.AmpBatchCode != nil {
		v := *sp.AmpBatchCode
		cp.AmpBatchCode = &v
	}
	if sp.SepBatchCode != nil {
		v := *sp.SepBatchCode
		cp.SepBatchCode = &v
	}
	return cp
}

func cloneCase(c Case) Case {
	cp := c
	cp.SpecimenCodes = append([]string(nil), c.SpecimenCodes...)
	return cp
}

func cloneBatch(b Batch) Batch {
	cp := b
	if b.Wells != nil {
		cp.Wells = make(map[string]domain.WellContent, len(b.Wells))
		for pos, well := range b.Wells {
			cp.Wells[pos] = well
		}
	}
	if b.SourceBatchCode != nil {
		v := *b.SourceBatchCode
		cp.SourceBatchCode = &v
	}
	return cp
}

func cloneCounter(c SequenceCounter) SequenceCounter { return c }

func filterCodes(values []string, exists func(string) bool) ([]string, bool) {
	if len(values) == 0 {
		return nil, false
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	changed := false
	for _, v := range values {
		if _, ok := seen[v]; ok {
			changed = true
			continue
		}
		seen[v] = struct{}{}
		if !exists(v) {
			changed = true
			continue
		}
		out = append(out, v)
	}
	if !changed && len(out) == len(values) {
		return values, false
	}
	return out, true
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// SetNowFunc overrides the time provider; intended for tests.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

// ListSpecimens returns all specimens within the transaction snapshot.
func (v transactionView) ListSpecimens() []Specimen {
	out := make([]Specimen, 0, len(v.state.specimens))
	for _, sp := range v.state.specimens {
		out = append(out, cloneSpecimen(sp))
	}
	return out
}

// ListCases returns all cases within the transaction snapshot.
func (v transactionView) ListCases() []Case {
	out := make([]Case, 0, len(v.state.cases))
	for _, c := range v.state.cases {
		out = append(out, cloneCase(c))
	}
	return out
}

// ListBatches returns all batches within the transaction snapshot.
func (v transactionView) ListBatches() []Batch {
	out := make([]Batch, 0, len(v.state.batches))
	for _, b := range v.state.batches {
		out = append(out, cloneBatch(b))
	}
	return out
}

// FindSpecimen retrieves a specimen by code from the snapshot.
func (v transactionView) FindSpecimen(code string) (Specimen, bool) {
	sp, ok := v.state.specimens[code]
	if !ok {
		return Specimen{}, false
	}
	return cloneSpecimen(sp), true
}

// FindCase retrieves a case by ID from the snapshot.
func (v transactionView) FindCase(id string) (Case, bool) {
	c, ok := v.state.cases[id]
	if !ok {
		return Case{}, false
	}
	return cloneCase(c), true
}

// FindBatch retrieves a batch by code from the snapshot.
func (v transactionView) FindBatch(code string) (Batch, bool) {
	b, ok := v.state.batches[code]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// FindCounter retrieves a sequence counter by name from the snapshot.
func (v transactionView) FindCounter(name string) (SequenceCounter, bool) {
	c, ok := v.state.counters[name]
	if !ok {
		return SequenceCounter{}, false
	}
	return cloneCounter(c), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := transactionView{state: &tx.state}
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindSpecimen exposes specimen lookup within the transaction scope.
func (tx *transaction) FindSpecimen(code string) (Specimen, bool) {
	sp, ok := tx.state.specimens[code]
	if !ok {
		return Specimen{}, false
	}
	return cloneSpecimen(sp), true
}

// FindCase exposes case lookup within the transaction scope.
func (tx *transaction) FindCase(id string) (Case, bool) {
	c, ok := tx.state.cases[id]
	if !ok {
		return Case{}, false
	}
	return cloneCase(c), true
}

// FindBatch exposes batch lookup within the transaction scope.
func (tx *transaction) FindBatch(code string) (Batch, bool) {
	b, ok := tx.state.batches[code]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// FindCounter exposes counter lookup within the transaction scope.
func (tx *transaction) FindCounter(name string) (SequenceCounter, bool) {
	c, ok := tx.state.counters[name]
	if !ok {
		return SequenceCounter{}, false
	}
	return cloneCounter(c), true
}

// CreateSpecimen stores a new specimen within the transaction. The specimen
// code is the persistence key and must be unique.
func (tx *transaction) CreateSpecimen(sp Specimen) (Specimen, error) {
	if sp.Code == "" {
		return Specimen{}, fmt.Errorf("specimen requires a code")
	}
	if _, exists := tx.state.specimens[sp.Code]; exists {
		return Specimen{}, fmt.Errorf("specimen %q already exists", sp.Code)
	}
	if sp.ID == "" {
		sp.ID = tx.store.newID()
	}
	if sp.State == "" {
		sp.State = domain.StateRegistered
	}
	if !domain.IsWorkflowState(sp.State) {
		return Specimen{}, fmt.Errorf("specimen %q has unknown state %q", sp.Code, sp.State)
	}
	sp.CreatedAt = tx.now
	sp.UpdatedAt = tx.now
	tx.state.specimens[sp.Code] = cloneSpecimen(sp)
	tx.recordChange(Change{Entity: domain.EntitySpecimen, Action: domain.ActionCreate, After: cloneSpecimen(sp)})
	return cloneSpecimen(sp), nil
}

// UpdateSpecimen mutates a specimen using the provided mutator function.
func (tx *transaction) UpdateSpecimen(code string, mutator func(*Specimen) error) (Specimen, error) {
	current, ok := tx.state.specimens[code]
	if !ok {
		return Specimen{}, domain.NotFoundError{Entity: domain.EntitySpecimen, Key: code}
	}
	before := cloneSpecimen(current)
	if err := mutator(&current); err != nil {
		return Specimen{}, err
	}
	current.Code = code
	current.UpdatedAt = tx.now
	tx.state.specimens[code] = cloneSpecimen(current)
	tx.recordChange(Change{Entity: domain.EntitySpecimen, Action: domain.ActionUpdate, Before: before, After: cloneSpecimen(current)})
	return cloneSpecimen(current), nil
}

// DeleteSpecimen removes a specimen from the transaction state. Deletion is
// an administrative action; specimens placed in a batch layout stay
// referenced by that layout's history and cannot be removed.
func (tx *transaction) DeleteSpecimen(code string) error {
	current, ok := tx.state.specimens[code]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntitySpecimen, Key: code}
	}
	for _, batch := range tx.state.batches {
		if batch.Status == domain.BatchStatusActive && batch.HasSpecimen(code) {
			return fmt.Errorf("specimen %q still referenced by active batch %q", code, batch.Code)
		}
	}
	delete(tx.state.specimens, code)
	if c, ok := tx.state.cases[current.CaseID]; ok {
		if filtered, changed := filterCodes(c.SpecimenCodes, func(v string) bool { return v != code }); changed {
			c.SpecimenCodes = filtered
			tx.state.cases[current.CaseID] = c
		}
	}
	tx.recordChange(Change{Entity: domain.EntitySpecimen, Action: domain.ActionDelete, Before: cloneSpecimen(current)})
	return nil
}

// CreateCase stores a new case record.
func (tx *transaction) CreateCase(c Case) (Case, error) {
	if c.ID == "" {
		c.ID = tx.store.newID()
	}
	if _, exists := tx.state.cases[c.ID]; exists {
		return Case{}, fmt.Errorf("case %q already exists", c.ID)
	}
	if c.KitCode == "" {
		return Case{}, fmt.Errorf("case requires a kit code")
	}
	c.CreatedAt = tx.now
	c.UpdatedAt = tx.now
	tx.state.cases[c.ID] = cloneCase(c)
	tx.recordChange(Change{Entity: domain.EntityCase, Action: domain.ActionCreate, After: cloneCase(c)})
	return cloneCase(c), nil
}

// UpdateCase mutates an existing case.
func (tx *transaction) UpdateCase(id string, mutator func(*Case) error) (Case, error) {
	current, ok := tx.state.cases[id]
	if !ok {
		return Case{}, domain.NotFoundError{Entity: domain.EntityCase, Key: id}
	}
	before := cloneCase(current)
	if err := mutator(&current); err != nil {
		return Case{}, err
	}
	current.ID = id
	current.UpdatedAt = tx.now
	tx.state.cases[id] = cloneCase(current)
	tx.recordChange(Change{Entity: domain.EntityCase, Action: domain.ActionUpdate, Before: before, After: cloneCase(current)})
	return cloneCase(current), nil
}

// DeleteCase removes a case that no longer owns specimens.
func (tx *transaction) DeleteCase(id string) error {
	current, ok := tx.state.cases[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityCase, Key: id}
	}
	for _, sp := range tx.state.specimens {
		if sp.CaseID == id {
			return fmt.Errorf("case %q still referenced by specimen %q", id, sp.Code)
		}
	}
	delete(tx.state.cases, id)
	tx.recordChange(Change{Entity: domain.EntityCase, Action: domain.ActionDelete, Before: cloneCase(current)})
	return nil
}

// CreateBatch stores a new batch. The well layout is immutable afterwards;
// only the status field may change through UpdateBatch.
func (tx *transaction) CreateBatch(b Batch) (Batch, error) {
	if b.Code == "" {
		return Batch{}, fmt.Errorf("batch requires a code")
	}
	if _, exists := tx.state.batches[b.Code]; exists {
		return Batch{}, fmt.Errorf("batch %q already exists", b.Code)
	}
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if b.Status == "" {
		b.Status = domain.BatchStatusActive
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.batches[b.Code] = cloneBatch(b)
	tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionCreate, After: cloneBatch(b)})
	return cloneBatch(b), nil
}

// UpdateBatch mutates an existing batch. The layout is frozen at creation:
// mutators touching Wells are rejected.
func (tx *transaction) UpdateBatch(code string, mutator func(*Batch) error) (Batch, error) {
	current, ok := tx.state.batches[code]
	if !ok {
		return Batch{}, domain.NotFoundError{Entity: domain.EntityBatch, Key: code}
	}
	before := cloneBatch(current)
	if err := mutator(&current); err != nil {
		return Batch{}, err
	}
	if !sameWells(before.Wells, current.Wells) {
		return Batch{}, fmt.Errorf("batch %q well layout is immutable", code)
	}
	current.Code = code
	current.UpdatedAt = tx.now
	tx.state.batches[code] = cloneBatch(current)
	tx.recordChange(Change{Entity: domain.EntityBatch, Action: domain.ActionUpdate, Before: before, After: cloneBatch(current)})
	return cloneBatch(current), nil
}

// PutCounter creates or replaces a named sequence counter.
func (tx *transaction) PutCounter(c SequenceCounter) (SequenceCounter, error) {
	if c.Name == "" {
		return SequenceCounter{}, fmt.Errorf("counter requires a name")
	}
	existing, exists := tx.state.counters[c.Name]
	if exists && c.Next < existing.Next {
		return SequenceCounter{}, fmt.Errorf("counter %q cannot move backwards (%d < %d)", c.Name, c.Next, existing.Next)
	}
	if c.ID == "" {
		if exists {
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
		} else {
			c.ID = tx.store.newID()
			c.CreatedAt = tx.now
		}
	}
	c.UpdatedAt = tx.now
	action := domain.ActionCreate
	var change Change
	if exists {
		action = domain.ActionUpdate
		change = Change{Entity: domain.EntityCounter, Action: action, Before: cloneCounter(existing), After: cloneCounter(c)}
	} else {
		change = Change{Entity: domain.EntityCounter, Action: action, After: cloneCounter(c)}
	}
	tx.state.counters[c.Name] = cloneCounter(c)
	tx.recordChange(change)
	return cloneCounter(c), nil
}

func sameWells(a, b map[string]domain.WellContent) bool {
	if len(a) != len(b) {
		return false
	}
	for pos, w := range a {
		if other, ok := b[pos]; !ok || other != w {
			return false
		}
	}
	return true
}

// GetSpecimen returns a specimen by code from committed state.
func (s *Store) GetSpecimen(code string) (Specimen, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sp, ok := s.state.specimens[code]
	if !ok {
		return Specimen{}, false
	}
	return cloneSpecimen(sp), true
}

// ListSpecimens returns all committed specimens.
func (s *Store) ListSpecimens() []Specimen {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Specimen, 0, len(s.state.specimens))
	for _, sp := range s.state.specimens {
		out = append(out, cloneSpecimen(sp))
	}
	return out
}

// GetCase returns a case by ID from committed state.
func (s *Store) GetCase(id string) (Case, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.cases[id]
	if !ok {
		return Case{}, false
	}
	return cloneCase(c), true
}

// ListCases returns all committed cases.
func (s *Store) ListCases() []Case {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Case, 0, len(s.state.cases))
	for _, c := range s.state.cases {
		out = append(out, cloneCase(c))
	}
	return out
}

// GetBatch returns a batch by code from committed state.
func (s *Store) GetBatch(code string) (Batch, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.batches[code]
	if !ok {
		return Batch{}, false
	}
	return cloneBatch(b), true
}

// ListBatches returns all committed batches.
func (s *Store) ListBatches() []Batch {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Batch, 0, len(s.state.batches))
	for _, b := range s.state.batches {
		out = append(out, cloneBatch(b))
	}
	return out
}

// GetCounter returns a named counter from committed state.
func (s *Store) GetCounter(name string) (SequenceCounter, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.state.counters[name]
	if !ok {
		return SequenceCounter{}, false
	}
	return cloneCounter(c), true
}
