package core

import (
	"context"
	"errors"
	"testing"

	"helixcore/pkg/domain"
)

func registerTrio(t *testing.T, svc *Service, collected bool) []string {
	t.Helper()
	_, specimens, _, err := svc.RegisterCase(context.Background(), familyDraft(collected))
	if err != nil {
		t.Fatalf("register case: %v", err)
	}
	codes := make([]string, 0, len(specimens))
	for _, sp := range specimens {
		codes = append(codes, sp.Code)
	}
	return codes
}

func TestTransitionAdvancesOneHop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := registerTrio(t, svc, false)

	sp, _, err := svc.Transition(ctx, codes[0], domain.StateSampleCollected)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if sp.State != domain.StateSampleCollected {
		t.Fatalf("state %s", sp.State)
	}

	stored, _ := svc.Store().GetSpecimen(codes[0])
	if stored.State != domain.StateSampleCollected {
		t.Fatalf("committed state %s", stored.State)
	}
}

func TestTransitionUnknownSpecimen(t *testing.T) {
	svc := newTestService(t)
	_, _, err := svc.Transition(context.Background(), "26_001", domain.StateSampleCollected)
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestTransitionIntoFailureBranch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := registerTrio(t, svc, true)

	if _, _, err := svc.Transition(ctx, codes[0], domain.StateFailed); err != nil {
		t.Fatalf("fail transition: %v", err)
	}
	if _, _, err := svc.Transition(ctx, codes[0], domain.StatePCRReady); err == nil {
		t.Fatal("failed specimen must not transition further")
	}
}

func TestTransitionManyReportsPerCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := registerTrio(t, svc, true)

	// One code is already past sample_collected, so only it can advance.
	mixed := append([]string{"26_404"}, codes...)
	outcomes, err := svc.TransitionMany(ctx, mixed, domain.StatePCRReady)
	if err != nil {
		t.Fatalf("transition many: %v", err)
	}
	if len(outcomes) != 4 {
		t.Fatalf("expected 4 outcomes, got %d", len(outcomes))
	}
	var notFound domain.NotFoundError
	if !errors.As(outcomes[0].Err, &notFound) {
		t.Fatalf("unknown code outcome: %v", outcomes[0].Err)
	}
	for _, outcome := range outcomes[1:] {
		if outcome.Err != nil {
			t.Fatalf("outcome %s: %v", outcome.Code, outcome.Err)
		}
		if outcome.Specimen.State != domain.StatePCRReady {
			t.Fatalf("outcome %s state %s", outcome.Code, outcome.Specimen.State)
		}
	}

	// The successful transitions stick even though one code failed.
	for _, code := range codes {
		sp, _ := svc.Store().GetSpecimen(code)
		if sp.State != domain.StatePCRReady {
			t.Fatalf("specimen %s state %s", code, sp.State)
		}
	}
}
