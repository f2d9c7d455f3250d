package core

import (
	"context"

	"helixcore/pkg/domain"
)

// Transition moves one specimen along a legal workflow edge. The target must
// be exactly one hop from the current state; skipping stages is rejected with
// IllegalTransitionError even when the states are ordered correctly.
func (s *Service) Transition(ctx context.Context, code string, target WorkflowState) (Specimen, Result, error) {
	var updated Specimen
	var res Result
	err := s.instrument(ctx, "transition", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			updated, err = transitionSpecimen(tx, code, target)
			return err
		})
		return err
	})
	if err != nil {
		return Specimen{}, res, err
	}
	return updated, res, nil
}

// TransitionOutcome reports the result of one code in a bulk transition.
type TransitionOutcome struct {
	Code     string
	Specimen Specimen
	Err      error
}

// TransitionMany applies the same target state to many specimens, one
// transaction per code. Failures are reported per code and do not roll back
// the transitions that succeeded.
func (s *Service) TransitionMany(ctx context.Context, codes []string, target WorkflowState) ([]TransitionOutcome, error) {
	outcomes := make([]TransitionOutcome, 0, len(codes))
	err := s.instrument(ctx, "transition_many", func(ctx context.Context) error {
		for _, code := range codes {
			var sp Specimen
			_, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
				var err error
				sp, err = transitionSpecimen(tx, code, target)
				return err
			})
			outcomes = append(outcomes, TransitionOutcome{Code: code, Specimen: sp, Err: err})
		}
		return nil
	})
	return outcomes, err
}

func transitionSpecimen(tx Transaction, code string, target WorkflowState) (Specimen, error) {
	current, ok := tx.FindSpecimen(code)
	if !ok {
		return Specimen{}, domain.NotFoundError{Entity: EntitySpecimen, Key: code}
	}
	if !domain.CanTransition(current.State, target) {
		return Specimen{}, domain.IllegalTransitionError{Code: code, From: current.State, To: target}
	}
	return tx.UpdateSpecimen(code, func(sp *Specimen) error {
		sp.State = target
		return nil
	})
}
