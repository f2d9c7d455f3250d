package core

import (
	"context"
	"fmt"

	"helixcore/pkg/domain"
)

// NewBatchLineageRule returns the in-transaction rule checking derived
// batches against their source plates: the source must exist and every
// specimen on a separation or rerun plate must have been on the source.
func NewBatchLineageRule() domain.Rule {
	return batchLineageRule{}
}

type batchLineageRule struct{}

func (batchLineageRule) Name() string { return "batch_lineage" }

func (batchLineageRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, batch := range view.ListBatches() {
		if batch.Type == domain.BatchAmplification || batch.SourceBatchCode == nil {
			continue
		}
		source, ok := view.FindBatch(*batch.SourceBatchCode)
		if !ok {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "batch_lineage",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s derives from unknown batch %s", batch.Code, *batch.SourceBatchCode),
				Entity:   domain.EntityBatch,
				EntityID: batch.ID,
			})
			continue
		}
		for _, code := range batch.SpecimenCodes() {
			if !source.HasSpecimen(code) {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "batch_lineage",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("batch %s carries specimen %s absent from source %s", batch.Code, code, source.Code),
					Entity:   domain.EntityBatch,
					EntityID: batch.ID,
				})
			}
		}
	}
	return res, nil
}
