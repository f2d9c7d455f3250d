package core

import (
	"context"
	"fmt"
	"time"

	"helixcore/pkg/domain"
	"helixcore/pkg/relation"
)

// Service exposes the transactional operations of the sample-tracking core:
// identifier sequencing, case registration, workflow transitions, plate
// allocation, and batch lineage.
type Service struct {
	store   PersistentStore
	logger  Logger
	metrics MetricsRecorder
	tracer  Tracer
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewInMemoryService creates a service with an in-memory store and the
// default rules engine; intended for tests and ephemeral environments.
func NewInMemoryService(opts ...Option) (*Service, PersistentStore) {
	store := newMemoryStore(NewDefaultRulesEngine())
	return NewService(store, opts...), store
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// CaseMemberDraft describes one family member submitted with a case.
type CaseMemberDraft struct {
	Role        SpecimenRole
	Sex         Sex
	Collected   bool
	CollectedAt *time.Time
}

// CaseDraft describes a case registration request. Specimen and kit codes
// are assigned from the sequence counters, never supplied by the caller.
type CaseDraft struct {
	SubmittedAt time.Time
	Purpose     string
	Members     []CaseMemberDraft
}

// RegisterCase creates a case and its 1-3 specimens in one transaction.
// The kit code comes from the case counter and each specimen code from the
// specimen counter, in member order. A child member is linked to the alleged
// father's code when one is present in the same draft.
func (s *Service) RegisterCase(ctx context.Context, draft CaseDraft) (Case, []Specimen, Result, error) {
	if len(draft.Members) == 0 || len(draft.Members) > 3 {
		return Case{}, nil, Result{}, fmt.Errorf("case requires between 1 and 3 members, got %d", len(draft.Members))
	}
	seen := map[SpecimenRole]struct{}{}
	for _, m := range draft.Members {
		if _, dup := seen[m.Role]; dup {
			return Case{}, nil, Result{}, fmt.Errorf("duplicate role %s in case draft", m.Role)
		}
		seen[m.Role] = struct{}{}
	}

	var created Case
	var specimens []Specimen
	var res Result
	err := s.instrument(ctx, "register_case", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			kitCodes, err := reserveSequence(tx, CounterCase, 1)
			if err != nil {
				return err
			}
			codes, err := reserveSequence(tx, CounterSpecimen, len(draft.Members))
			if err != nil {
				return err
			}
			_, motherPresent := seen[domain.RoleMother]
			c, err := tx.CreateCase(Case{
				KitCode:       kitCodes[0],
				SubmittedAt:   draft.SubmittedAt,
				MotherPresent: motherPresent,
				Purpose:       draft.Purpose,
				SpecimenCodes: codes,
			})
			if err != nil {
				return err
			}

			var fatherCode string
			for i, m := range draft.Members {
				if m.Role == domain.RoleAllegedFather {
					fatherCode = codes[i]
				}
			}
			specimens = specimens[:0]
			for i, m := range draft.Members {
				sp := Specimen{
					Code:        codes[i],
					CaseID:      c.ID,
					Role:        m.Role,
					Sex:         m.Sex,
					CollectedAt: m.CollectedAt,
					State:       domain.StateRegistered,
				}
				if m.Collected {
					sp.State = domain.StateSampleCollected
				}
				if m.Role == domain.RoleChild && fatherCode != "" {
					linked := fatherCode
					sp.LinkedCode = &linked
				}
				stored, err := tx.CreateSpecimen(sp)
				if err != nil {
					return err
				}
				specimens = append(specimens, stored)
			}
			created = c
			return nil
		})
		return err
	})
	if err != nil {
		return Case{}, nil, res, err
	}
	return created, specimens, res, nil
}

// PublicSpecimenCode renders the external display form of a specimen code:
// child specimens linked to an alleged father carry the compact relation
// notation, everything else is the plain code.
func PublicSpecimenCode(sp Specimen) string {
	if sp.Role == domain.RoleChild && sp.LinkedCode != nil {
		return relation.Encode(sp.Code, *sp.LinkedCode, sp.Sex)
	}
	return sp.Code
}
