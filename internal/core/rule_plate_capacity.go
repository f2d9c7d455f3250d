package core

import (
	"context"
	"fmt"

	"helixcore/pkg/domain"
)

// NewPlateCapacityRule returns the in-transaction rule enforcing the 96-well
// plate limit and well exclusivity on every batch in view.
func NewPlateCapacityRule() domain.Rule {
	return plateCapacityRule{}
}

type plateCapacityRule struct{}

func (plateCapacityRule) Name() string { return "plate_capacity" }

func (plateCapacityRule) Evaluate(_ context.Context, view domain.RuleView, _ []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, batch := range view.ListBatches() {
		if len(batch.Wells) > domain.PlateCapacity {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "plate_capacity",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("batch %s occupies %d wells, plate holds %d", batch.Code, len(batch.Wells), domain.PlateCapacity),
				Entity:   domain.EntityBatch,
				EntityID: batch.ID,
			})
		}
		seen := make(map[string]string, len(batch.Wells))
		for _, pos := range domain.WellPositions() {
			w, ok := batch.Wells[pos]
			if !ok || w.IsControl() {
				continue
			}
			if prev, dup := seen[w.SpecimenCode]; dup {
				res.Violations = append(res.Violations, domain.Violation{
					Rule:     "plate_capacity",
					Severity: domain.SeverityBlock,
					Message:  fmt.Sprintf("batch %s places specimen %s in both %s and %s", batch.Code, w.SpecimenCode, prev, pos),
					Entity:   domain.EntityBatch,
					EntityID: batch.ID,
				})
				continue
			}
			seen[w.SpecimenCode] = pos
		}
	}
	return res, nil
}
