package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"helixcore/pkg/domain"
)

func TestRenderSequence(t *testing.T) {
	cases := []struct {
		prefix string
		value  int64
		width  int
		want   string
	}{
		{"25", 7, 3, "25_007"},
		{"25", 420, 3, "25_420"},
		{"25", 1234, 3, "25_1234"},
		{"A25", 1, 3, "A25_001"},
		{"25", 5, 0, "25_005"},
	}
	for _, tc := range cases {
		if got := RenderSequence(tc.prefix, tc.value, tc.width); got != tc.want {
			t.Fatalf("render(%q, %d, %d) = %q, want %q", tc.prefix, tc.value, tc.width, got, tc.want)
		}
	}
}

func TestInitializeSequenceIdempotent(t *testing.T) {
	svc, _ := NewInMemoryService()
	ctx := context.Background()

	counter, _, err := svc.InitializeSequence(ctx, CounterSpecimen, 420, "25")
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if counter.Next != 420 || counter.Prefix != "25" || counter.Width != DefaultSequenceWidth {
		t.Fatalf("unexpected counter %+v", counter)
	}

	again, _, err := svc.InitializeSequence(ctx, CounterSpecimen, 999, "99")
	if err != nil {
		t.Fatalf("re-initialize: %v", err)
	}
	if again.Next != 420 || again.Prefix != "25" {
		t.Fatalf("re-initialization must not alter the counter: %+v", again)
	}
}

func TestReserveSequenceContiguous(t *testing.T) {
	svc, _ := NewInMemoryService()
	ctx := context.Background()
	if _, _, err := svc.InitializeSequence(ctx, CounterSpecimen, 420, "25"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	codes, _, err := svc.ReserveSequence(ctx, CounterSpecimen, 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	want := []string{"25_420", "25_421", "25_422"}
	for i, code := range want {
		if codes[i] != code {
			t.Fatalf("reserved codes %v, want %v", codes, want)
		}
	}

	next, _, err := svc.ReserveSequence(ctx, CounterSpecimen, 1)
	if err != nil {
		t.Fatalf("reserve next: %v", err)
	}
	if next[0] != "25_423" {
		t.Fatalf("expected 25_423 after block reservation, got %s", next[0])
	}
}

func TestConcurrentReservationsNeverOverlap(t *testing.T) {
	svc, _ := NewInMemoryService()
	ctx := context.Background()
	if _, _, err := svc.InitializeSequence(ctx, CounterSpecimen, 420, "25"); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	const reservers = 8
	const perBlock = 5
	blocks := make([][]string, reservers)
	var wg sync.WaitGroup
	for i := 0; i < reservers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			codes, _, err := svc.ReserveSequence(ctx, CounterSpecimen, perBlock)
			if err != nil {
				t.Errorf("reserve block %d: %v", i, err)
				return
			}
			blocks[i] = codes
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, reservers*perBlock)
	for _, codes := range blocks {
		for _, code := range codes {
			if _, dup := seen[code]; dup {
				t.Fatalf("code %s handed out twice", code)
			}
			seen[code] = struct{}{}
		}
	}
	if len(seen) != reservers*perBlock {
		t.Fatalf("expected %d distinct codes, got %d", reservers*perBlock, len(seen))
	}
	counter, ok := svc.Store().GetCounter(CounterSpecimen)
	if !ok || counter.Next != 420+reservers*perBlock {
		t.Fatalf("counter advanced to %d, want %d", counter.Next, 420+reservers*perBlock)
	}
}

func TestReserveSequenceNotInitialized(t *testing.T) {
	svc, _ := NewInMemoryService()
	_, _, err := svc.ReserveSequence(context.Background(), CounterCase, 1)
	var notInit domain.SequenceNotInitializedError
	if !errors.As(err, &notInit) {
		t.Fatalf("expected SequenceNotInitializedError, got %v", err)
	}
	if notInit.Counter != CounterCase {
		t.Fatalf("error names counter %q", notInit.Counter)
	}
}

func TestReserveSequenceRejectsNonPositiveCount(t *testing.T) {
	svc, _ := NewInMemoryService()
	ctx := context.Background()
	if _, _, err := svc.InitializeSequence(ctx, CounterCase, 1, "K"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if _, _, err := svc.ReserveSequence(ctx, CounterCase, 0); err == nil {
		t.Fatal("expected error for zero count")
	}
}

func TestCounterNeverMovesBackwards(t *testing.T) {
	svc, store := NewInMemoryService()
	ctx := context.Background()
	if _, _, err := svc.InitializeSequence(ctx, CounterCase, 50, "K"); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	_, err := store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.PutCounter(SequenceCounter{Name: CounterCase, Next: 10, Prefix: "K", Width: 3})
		return err
	})
	if err == nil {
		t.Fatal("expected backwards counter write to fail")
	}
}
