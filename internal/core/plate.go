package core

import (
	"context"
	"fmt"
	"time"

	"helixcore/pkg/domain"
)

// ControlPolicy fixes the plate positions reserved for quality-control
// material. Positions are row-major well indices (0 = A1, 95 = H12).
type ControlPolicy struct {
	Positions map[ControlKind]int
}

// DefaultControlPolicy reserves the plate corners the instruments expect:
// allelic ladder in A1, positive control in A2, negative control in H12.
func DefaultControlPolicy() ControlPolicy {
	return ControlPolicy{Positions: map[ControlKind]int{
		domain.ControlAllelicLadder: 0,
		domain.ControlPositive:      1,
		domain.ControlNegative:      domain.PlateCapacity - 1,
	}}
}

// AllocateRequest describes a batch to be laid out on a plate. Controls
// defaults to DefaultControlPolicy when its position map is nil.
// SourceBatchCode is required for separation and rerun batches and must be
// empty for amplification.
type AllocateRequest struct {
	Type            BatchType
	Operator        string
	ProcessedAt     time.Time
	SpecimenCodes   []string
	Controls        ControlPolicy
	SourceBatchCode string
}

// AllocateBatch validates a plate layout and creates the batch, assigning it
// a code from the batch counters and moving every specimen into the batched
// state, all in one transaction. The well layout is fixed at creation:
// controls occupy their policy positions and specimens fill the remaining
// wells row-major in request order.
func (s *Service) AllocateBatch(ctx context.Context, req AllocateRequest) (Batch, Result, error) {
	if req.Type != BatchAmplification && req.Type != BatchSeparation && req.Type != BatchRerun {
		return Batch{}, Result{}, fmt.Errorf("unknown batch type %q", req.Type)
	}
	if len(req.SpecimenCodes) == 0 {
		return Batch{}, Result{}, fmt.Errorf("batch requires at least one specimen")
	}
	if req.Type == BatchAmplification && req.SourceBatchCode != "" {
		return Batch{}, Result{}, fmt.Errorf("amplification batch cannot declare a source batch")
	}
	if req.Type != BatchAmplification && req.SourceBatchCode == "" {
		return Batch{}, Result{}, fmt.Errorf("%s batch requires a source batch", req.Type)
	}
	policy := req.Controls
	if policy.Positions == nil {
		policy = DefaultControlPolicy()
	}

	seen := make(map[string]struct{}, len(req.SpecimenCodes))
	for _, code := range req.SpecimenCodes {
		if _, dup := seen[code]; dup {
			return Batch{}, Result{}, domain.DuplicateSpecimenError{Code: code}
		}
		seen[code] = struct{}{}
	}
	if len(req.SpecimenCodes)+len(policy.Positions) > domain.PlateCapacity {
		return Batch{}, Result{}, domain.CapacityExceededError{
			Specimens: len(req.SpecimenCodes),
			Controls:  len(policy.Positions),
		}
	}

	var created Batch
	var res Result
	err := s.instrument(ctx, "allocate_batch", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			entry := domain.BatchEntryState(req.Type)
			for _, code := range req.SpecimenCodes {
				sp, ok := tx.FindSpecimen(code)
				if !ok {
					return domain.NotFoundError{Entity: EntitySpecimen, Key: code}
				}
				if sp.State != entry {
					return domain.NotEligibleError{Code: code, State: sp.State, Batch: req.Type}
				}
			}
			if req.Type != BatchAmplification {
				if err := validateLineage(tx, req.Type, req.SourceBatchCode, req.SpecimenCodes); err != nil {
					return err
				}
			}

			code, err := reserveBatchCode(tx, req.Type)
			if err != nil {
				return err
			}
			wells, err := layoutWells(req.SpecimenCodes, policy)
			if err != nil {
				return err
			}
			batch := Batch{
				Code:          code,
				Type:          req.Type,
				Operator:      req.Operator,
				ProcessedAt:   req.ProcessedAt,
				Status:        domain.BatchStatusActive,
				Wells:         wells,
				SpecimenCount: len(req.SpecimenCodes),
			}
			if req.SourceBatchCode != "" {
				src := req.SourceBatchCode
				batch.SourceBatchCode = &src
			}
			created, err = tx.CreateBatch(batch)
			if err != nil {
				return err
			}

			batched := domain.BatchedState(req.Type)
			for _, specimenCode := range req.SpecimenCodes {
				if _, err := tx.UpdateSpecimen(specimenCode, func(sp *Specimen) error {
					sp.State = batched
					switch req.Type {
					case BatchSeparation:
						sp.SepBatchCode = &created.Code
					case BatchRerun:
						sp.AmpBatchCode = &created.Code
						sp.RerunCount++
					default:
						sp.AmpBatchCode = &created.Code
					}
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return Batch{}, res, err
	}
	return created, res, nil
}

// CompleteBatch marks an active batch completed and advances its specimens
// past the batched state: amplification and rerun specimens reach
// pcr_completed, separation specimens reach electro_completed.
func (s *Service) CompleteBatch(ctx context.Context, code string) (Batch, Result, error) {
	return s.closeBatch(ctx, "complete_batch", code, domain.BatchStatusCompleted, func(t BatchType) WorkflowState {
		if t == BatchSeparation {
			return domain.StateElectroCompleted
		}
		return domain.StatePCRCompleted
	})
}

// FailBatch marks an active batch failed and sends its specimens to
// rerun_required so they can be reallocated.
func (s *Service) FailBatch(ctx context.Context, code string) (Batch, Result, error) {
	return s.closeBatch(ctx, "fail_batch", code, domain.BatchStatusFailed, func(BatchType) WorkflowState {
		return domain.StateRerunRequired
	})
}

func (s *Service) closeBatch(ctx context.Context, op, code string, status BatchStatus, next func(BatchType) WorkflowState) (Batch, Result, error) {
	var updated Batch
	var res Result
	err := s.instrument(ctx, op, func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			batch, ok := tx.FindBatch(code)
			if !ok {
				return domain.NotFoundError{Entity: EntityBatch, Key: code}
			}
			if batch.Status != domain.BatchStatusActive {
				return fmt.Errorf("batch %s is %s, not active", code, batch.Status)
			}
			updated, err = tx.UpdateBatch(code, func(b *Batch) error {
				b.Status = status
				return nil
			})
			if err != nil {
				return err
			}
			target := next(batch.Type)
			for _, specimenCode := range batch.SpecimenCodes() {
				sp, ok := tx.FindSpecimen(specimenCode)
				if !ok {
					return domain.NotFoundError{Entity: EntitySpecimen, Key: specimenCode}
				}
				// Specimens that already left the batched state (for
				// example individually failed) are left alone.
				if sp.State != domain.BatchedState(batch.Type) {
					continue
				}
				if _, err := tx.UpdateSpecimen(specimenCode, func(sp *Specimen) error {
					sp.State = target
					return nil
				}); err != nil {
					return err
				}
			}
			return nil
		})
		return err
	})
	if err != nil {
		return Batch{}, res, err
	}
	return updated, res, nil
}

// reserveBatchCode draws one code from the counter family of the batch type.
// Rerun batches share the amplification counter and carry an R suffix so the
// plate identifier space stays ordered across reruns.
func reserveBatchCode(tx Transaction, t BatchType) (string, error) {
	name := CounterAmplification
	if t == BatchSeparation {
		name = CounterSeparation
	}
	codes, err := reserveSequence(tx, name, 1)
	if err != nil {
		return "", err
	}
	if t == BatchRerun {
		return codes[0] + "R", nil
	}
	return codes[0], nil
}

// layoutWells builds the immutable plate layout: controls at their policy
// indices, specimens filling the remaining positions row-major.
func layoutWells(codes []string, policy ControlPolicy) (map[string]domain.WellContent, error) {
	positions := domain.WellPositions()
	wells := make(map[string]domain.WellContent, len(codes)+len(policy.Positions))
	reserved := make(map[int]struct{}, len(policy.Positions))
	for kind, idx := range policy.Positions {
		if idx < 0 || idx >= domain.PlateCapacity {
			return nil, fmt.Errorf("control %s position %d outside plate", kind, idx)
		}
		if _, taken := reserved[idx]; taken {
			return nil, fmt.Errorf("control position %d assigned twice", idx)
		}
		reserved[idx] = struct{}{}
		wells[positions[idx]] = domain.WellContent{Control: kind}
	}
	next := 0
	for _, code := range codes {
		for {
			if _, taken := reserved[next]; !taken {
				break
			}
			next++
		}
		if next >= domain.PlateCapacity {
			return nil, domain.CapacityExceededError{Specimens: len(codes), Controls: len(policy.Positions)}
		}
		wells[positions[next]] = domain.WellContent{SpecimenCode: code}
		next++
	}
	return wells, nil
}
