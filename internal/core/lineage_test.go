package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"helixcore/pkg/domain"
)

func completedAmpBatch(t *testing.T, svc *Service) (Batch, []string) {
	t.Helper()
	codes := readyTrio(t, svc)
	batch := allocateAmp(t, svc, codes)
	if _, _, err := svc.CompleteBatch(context.Background(), batch.Code); err != nil {
		t.Fatalf("complete amp batch: %v", err)
	}
	return batch, codes
}

func TestSeparationBatchDerivesFromAmplification(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	amp, codes := completedAmpBatch(t, svc)

	for _, code := range codes {
		if _, _, err := svc.Transition(ctx, code, domain.StateElectroReady); err != nil {
			t.Fatalf("transition %s: %v", code, err)
		}
	}

	sep, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchSeparation,
		Operator:        "lab-tech-2",
		ProcessedAt:     time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC),
		SpecimenCodes:   codes[:2], // a subset is allowed
		SourceBatchCode: amp.Code,
	})
	if err != nil {
		t.Fatalf("allocate separation: %v", err)
	}
	if sep.Code != "S25_003" {
		t.Fatalf("separation code %q", sep.Code)
	}
	if sep.SourceBatchCode == nil || *sep.SourceBatchCode != amp.Code {
		t.Fatalf("source link %+v", sep.SourceBatchCode)
	}
	for _, code := range codes[:2] {
		sp, _ := svc.Store().GetSpecimen(code)
		if sp.State != domain.StateElectroBatched {
			t.Fatalf("specimen %s state %s", code, sp.State)
		}
		if sp.SepBatchCode == nil || *sp.SepBatchCode != sep.Code {
			t.Fatalf("specimen %s sep link %+v", code, sp.SepBatchCode)
		}
		// The amplification link survives separation.
		if sp.AmpBatchCode == nil || *sp.AmpBatchCode != amp.Code {
			t.Fatalf("specimen %s amp link %+v", code, sp.AmpBatchCode)
		}
	}
}

func TestSeparationRequiresElectroReady(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	amp, codes := completedAmpBatch(t, svc)

	// Specimens fresh out of amplification are pcr_completed; they must be
	// promoted to electro_ready before a separation plate will take them.
	_, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchSeparation,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	var notEligible domain.NotEligibleError
	if !errors.As(err, &notEligible) {
		t.Fatalf("expected NotEligibleError, got %v", err)
	}
	if notEligible.State != domain.StatePCRCompleted || notEligible.Batch != BatchSeparation {
		t.Fatalf("error detail %+v", notEligible)
	}

	outcomes, err := svc.TransitionMany(ctx, codes, domain.StateElectroReady)
	if err != nil {
		t.Fatalf("promote queue: %v", err)
	}
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			t.Fatalf("promote %s: %v", outcome.Code, outcome.Err)
		}
	}
	if _, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchSeparation,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	}); err != nil {
		t.Fatalf("allocate after promotion: %v", err)
	}
}

func TestSeparationRequiresSourceBatch(t *testing.T) {
	svc := newTestService(t)
	codes := readyTrio(t, svc)
	_, _, err := svc.AllocateBatch(context.Background(), AllocateRequest{
		Type:          BatchSeparation,
		SpecimenCodes: codes,
	})
	if err == nil {
		t.Fatal("expected error for separation without source batch")
	}
}

func TestSeparationRejectsSpecimenOffSourcePlate(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	amp, codes := completedAmpBatch(t, svc)

	// A specimen that never went through this amplification plate.
	stray := "26_700"
	if _, err := svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.CreateSpecimen(Specimen{Code: stray, State: domain.StateElectroReady})
		return err
	}); err != nil {
		t.Fatalf("seed stray specimen: %v", err)
	}
	for _, code := range codes {
		if _, _, err := svc.Transition(ctx, code, domain.StateElectroReady); err != nil {
			t.Fatalf("transition %s: %v", code, err)
		}
	}

	_, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchSeparation,
		SpecimenCodes:   append(codes, stray),
		SourceBatchCode: amp.Code,
	})
	var mismatch domain.LineageMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LineageMismatchError, got %v", err)
	}
	if mismatch.Code != stray || mismatch.SourceBatch != amp.Code {
		t.Fatalf("error detail %+v", mismatch)
	}
}

func TestSeparationRequiresCompletedSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := readyTrio(t, svc)
	amp := allocateAmp(t, svc, codes) // still active

	_, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchSeparation,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	var mismatch domain.LineageMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LineageMismatchError, got %v", err)
	}
}

func TestRerunBatchFromFailedSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := readyTrio(t, svc)
	amp := allocateAmp(t, svc, codes)
	if _, _, err := svc.FailBatch(ctx, amp.Code); err != nil {
		t.Fatalf("fail amp batch: %v", err)
	}

	rerun, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		Operator:        "lab-tech-1",
		ProcessedAt:     time.Date(2025, 6, 15, 8, 0, 0, 0, time.UTC),
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	if err != nil {
		t.Fatalf("allocate rerun: %v", err)
	}
	// Rerun shares the amplification counter and carries the R suffix.
	if rerun.Code != "A25_008R" {
		t.Fatalf("rerun code %q", rerun.Code)
	}
	for _, code := range codes {
		sp, _ := svc.Store().GetSpecimen(code)
		if sp.State != domain.StateRerunBatched {
			t.Fatalf("specimen %s state %s", code, sp.State)
		}
		if sp.AmpBatchCode == nil || *sp.AmpBatchCode != rerun.Code {
			t.Fatalf("specimen %s amp link %+v", code, sp.AmpBatchCode)
		}
		if sp.RerunCount != 1 {
			t.Fatalf("specimen %s rerun count %d", code, sp.RerunCount)
		}
	}

	// The rerun re-enters the main path at pcr_completed.
	if _, _, err := svc.CompleteBatch(ctx, rerun.Code); err != nil {
		t.Fatalf("complete rerun: %v", err)
	}
	sp, _ := svc.Store().GetSpecimen(codes[0])
	if sp.State != domain.StatePCRCompleted {
		t.Fatalf("specimen state after rerun completion: %s", sp.State)
	}
}

func TestRerunRejectsActiveSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := readyTrio(t, svc)
	amp := allocateAmp(t, svc, codes)

	// Force the specimens into rerun_required without closing the batch.
	for _, code := range codes {
		if _, _, err := svc.Transition(ctx, code, domain.StateRerunRequired); err != nil {
			t.Fatalf("transition %s: %v", code, err)
		}
	}
	_, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	var mismatch domain.LineageMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LineageMismatchError, got %v", err)
	}
}

func TestRerunMustCarryEveryFailedSpecimen(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := readyTrio(t, svc)
	amp := allocateAmp(t, svc, codes)
	if _, _, err := svc.FailBatch(ctx, amp.Code); err != nil {
		t.Fatalf("fail amp batch: %v", err)
	}

	_, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		SpecimenCodes:   codes[:2],
		SourceBatchCode: amp.Code,
	})
	var mismatch domain.LineageMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LineageMismatchError, got %v", err)
	}
	if mismatch.Code != codes[2] {
		t.Fatalf("expected the left-out specimen in the error, got %+v", mismatch)
	}
}

func TestRerunRejectsSpecimenOwedToLaterBatch(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := readyTrio(t, svc)
	amp := allocateAmp(t, svc, codes)
	if _, _, err := svc.FailBatch(ctx, amp.Code); err != nil {
		t.Fatalf("fail amp batch: %v", err)
	}
	rerun, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	if err != nil {
		t.Fatalf("allocate rerun: %v", err)
	}
	if _, _, err := svc.FailBatch(ctx, rerun.Code); err != nil {
		t.Fatalf("fail rerun batch: %v", err)
	}

	// The specimens sat on the first plate, but their rerun obligation now
	// belongs to the failed rerun batch, not the original amplification.
	_, _, err = svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	var mismatch domain.LineageMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected LineageMismatchError, got %v", err)
	}
	if mismatch.SourceBatch != amp.Code {
		t.Fatalf("error detail %+v", mismatch)
	}

	// Against the correct source the rerun goes through.
	second, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		SpecimenCodes:   codes,
		SourceBatchCode: rerun.Code,
	})
	if err != nil {
		t.Fatalf("allocate second rerun: %v", err)
	}
	if second.Code != "A25_009R" {
		t.Fatalf("second rerun code %q", second.Code)
	}
	sp, _ := svc.Store().GetSpecimen(codes[0])
	if sp.RerunCount != 2 {
		t.Fatalf("rerun count %d", sp.RerunCount)
	}
}

func TestBatchLineageChain(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	codes := readyTrio(t, svc)
	amp := allocateAmp(t, svc, codes)
	if _, _, err := svc.FailBatch(ctx, amp.Code); err != nil {
		t.Fatalf("fail amp: %v", err)
	}
	rerun, _, err := svc.AllocateBatch(ctx, AllocateRequest{
		Type:            BatchRerun,
		SpecimenCodes:   codes,
		SourceBatchCode: amp.Code,
	})
	if err != nil {
		t.Fatalf("allocate rerun: %v", err)
	}

	chain, err := svc.BatchLineage(ctx, rerun.Code)
	if err != nil {
		t.Fatalf("lineage: %v", err)
	}
	if len(chain) != 2 || chain[0].Code != rerun.Code || chain[1].Code != amp.Code {
		t.Fatalf("unexpected chain %v", batchCodes(chain))
	}

	batches, err := svc.SpecimenBatches(ctx, codes[0])
	if err != nil {
		t.Fatalf("specimen batches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches for specimen, got %d", len(batches))
	}
}

func TestBatchLineageUnknownBatch(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.BatchLineage(context.Background(), "A25_404")
	var notFound domain.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func batchCodes(batches []Batch) []string {
	out := make([]string, 0, len(batches))
	for _, b := range batches {
		out = append(out, b.Code)
	}
	return out
}
