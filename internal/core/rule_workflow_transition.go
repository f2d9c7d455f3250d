package core

import (
	"context"
	"fmt"

	"helixcore/pkg/domain"
)

// NewWorkflowTransitionRule returns the in-transaction rule rejecting
// specimen state changes that are not legal workflow edges. Operations go
// through the edge table before writing; this rule backstops direct store
// usage and imports.
func NewWorkflowTransitionRule() domain.Rule {
	return workflowTransitionRule{}
}

type workflowTransitionRule struct{}

func (workflowTransitionRule) Name() string { return "workflow_transition" }

func (workflowTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySpecimen || change.Action != domain.ActionUpdate {
			continue
		}
		before, ok := change.Before.(domain.Specimen)
		if !ok {
			continue
		}
		after, ok := change.After.(domain.Specimen)
		if !ok {
			continue
		}
		if before.State == after.State {
			continue
		}
		if !domain.CanTransition(before.State, after.State) {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "workflow_transition",
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("specimen %s: %s -> %s is not a legal transition", after.Code, before.State, after.State),
				Entity:   domain.EntitySpecimen,
				EntityID: after.ID,
			})
		}
	}
	return res, nil
}
