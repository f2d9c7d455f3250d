package core

import (
	"context"
	"fmt"
	"sort"

	"helixcore/pkg/domain"
)

// validateLineage enforces the derivation contract between a new batch and
// its source. A separation batch may only carry specimens that were present
// on its completed source amplification plate. A rerun batch carries exactly
// the specimens that failed out of the source batch, which must be closed.
func validateLineage(tx Transaction, t BatchType, sourceCode string, codes []string) error {
	source, ok := tx.FindBatch(sourceCode)
	if !ok {
		return domain.NotFoundError{Entity: EntityBatch, Key: sourceCode}
	}
	switch t {
	case BatchSeparation:
		if source.Type != BatchAmplification && source.Type != BatchRerun {
			return domain.LineageMismatchError{
				SourceBatch: sourceCode,
				Reason:      fmt.Sprintf("separation cannot derive from a %s batch", source.Type),
			}
		}
		if source.Status != domain.BatchStatusCompleted {
			return domain.LineageMismatchError{
				SourceBatch: sourceCode,
				Reason:      fmt.Sprintf("source batch is %s, not completed", source.Status),
			}
		}
		for _, code := range codes {
			if !source.HasSpecimen(code) {
				return domain.LineageMismatchError{
					Code:        code,
					SourceBatch: sourceCode,
					Reason:      "specimen was not on the source plate",
				}
			}
		}
	case BatchRerun:
		if source.Status == domain.BatchStatusActive {
			return domain.LineageMismatchError{
				SourceBatch: sourceCode,
				Reason:      "source batch is still active",
			}
		}
		carried := make(map[string]struct{}, len(codes))
		for _, code := range codes {
			if !source.HasSpecimen(code) {
				return domain.LineageMismatchError{
					Code:        code,
					SourceBatch: sourceCode,
					Reason:      "specimen was not on the source plate",
				}
			}
			if sp, ok := tx.FindSpecimen(code); ok && !linkedToBatch(sp, sourceCode) {
				return domain.LineageMismatchError{
					Code:        code,
					SourceBatch: sourceCode,
					Reason:      "specimen's rerun obligation belongs to a later batch",
				}
			}
			carried[code] = struct{}{}
		}
		// A rerun carries exactly the specimens that failed out of the
		// source batch, not a selection of them.
		for _, code := range source.SpecimenCodes() {
			if _, ok := carried[code]; ok {
				continue
			}
			sp, ok := tx.FindSpecimen(code)
			if !ok || sp.State != domain.StateRerunRequired {
				continue
			}
			if !linkedToBatch(sp, sourceCode) {
				continue
			}
			return domain.LineageMismatchError{
				Code:        code,
				SourceBatch: sourceCode,
				Reason:      "specimen awaiting rerun was left out of the batch",
			}
		}
	}
	return nil
}

// linkedToBatch reports whether the specimen's current batch-linkage field
// still points at the given batch code.
func linkedToBatch(sp Specimen, code string) bool {
	if sp.AmpBatchCode != nil && *sp.AmpBatchCode == code {
		return true
	}
	return sp.SepBatchCode != nil && *sp.SepBatchCode == code
}

// BatchLineage walks a batch's derivation chain back to its root
// amplification batch. The returned slice starts at the requested batch and
// ends at the root.
func (s *Service) BatchLineage(ctx context.Context, code string) ([]Batch, error) {
	var chain []Batch
	err := s.instrument(ctx, "batch_lineage", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			seen := map[string]struct{}{}
			current := code
			for current != "" {
				if _, looped := seen[current]; looped {
					return fmt.Errorf("lineage cycle at batch %s", current)
				}
				seen[current] = struct{}{}
				batch, ok := view.FindBatch(current)
				if !ok {
					return domain.NotFoundError{Entity: EntityBatch, Key: current}
				}
				chain = append(chain, batch)
				current = ""
				if batch.SourceBatchCode != nil {
					current = *batch.SourceBatchCode
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chain, nil
}

// SpecimenBatches returns every batch whose plate holds the specimen,
// ordered oldest first by creation time.
func (s *Service) SpecimenBatches(ctx context.Context, code string) ([]Batch, error) {
	var out []Batch
	err := s.instrument(ctx, "specimen_batches", func(ctx context.Context) error {
		return s.store.View(ctx, func(view TransactionView) error {
			if _, ok := view.FindSpecimen(code); !ok {
				return domain.NotFoundError{Entity: EntitySpecimen, Key: code}
			}
			for _, batch := range view.ListBatches() {
				if batch.HasSpecimen(code) {
					out = append(out, batch)
				}
			}
			sort.Slice(out, func(i, j int) bool {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
