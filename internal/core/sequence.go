package core

import (
	"context"
	"fmt"

	"helixcore/pkg/domain"
)

// Named counters owned by the core. The case and specimen counters number
// registrations; the batch counters number plates. Amplification and rerun
// batches share one monotonic family (a rerun code carries an R suffix), so
// plate identifiers stay collision-free across the thermocycler queue.
const (
	CounterCase          = "case_counter"
	CounterSpecimen      = "specimen_counter"
	CounterAmplification = "amplification_counter"
	CounterSeparation    = "separation_counter"
)

// DefaultSequenceWidth is the zero-padding width of rendered sequence values.
// Values wider than the padding render unpadded.
const DefaultSequenceWidth = 3

// RenderSequence renders one counter value as {prefix}_{zero-padded value}.
func RenderSequence(prefix string, value int64, width int) string {
	if width <= 0 {
		width = DefaultSequenceWidth
	}
	return fmt.Sprintf("%s_%0*d", prefix, width, value)
}

// InitializeSequence aligns a named counter with an externally-assigned
// starting value. It is idempotent: an already-initialized counter is
// returned unchanged, so migrations can be re-run safely. Counters never
// move backwards.
func (s *Service) InitializeSequence(ctx context.Context, name string, start int64, prefix string) (SequenceCounter, Result, error) {
	var counter SequenceCounter
	var res Result
	err := s.instrument(ctx, "initialize_sequence", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if existing, ok := tx.FindCounter(name); ok {
				counter = existing
				return nil
			}
			created, err := tx.PutCounter(SequenceCounter{
				Name:   name,
				Next:   start,
				Prefix: prefix,
				Width:  DefaultSequenceWidth,
			})
			if err != nil {
				return err
			}
			counter = created
			return nil
		})
		return err
	})
	return counter, res, err
}

// ReserveSequence atomically reserves count values from a named counter and
// returns their rendered codes in order. The store's transaction lock
// serializes concurrent reservations, so two callers never receive
// overlapping values.
func (s *Service) ReserveSequence(ctx context.Context, name string, count int) ([]string, Result, error) {
	var codes []string
	var res Result
	err := s.instrument(ctx, "reserve_sequence", func(ctx context.Context) error {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			codes, err = reserveSequence(tx, name, count)
			return err
		})
		return err
	})
	if err != nil {
		return nil, res, err
	}
	return codes, res, nil
}

// reserveSequence performs a reservation inside an open transaction so batch
// allocation and case registration can draw codes atomically with their
// record writes.
func reserveSequence(tx Transaction, name string, count int) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("reserve count must be positive, got %d", count)
	}
	counter, ok := tx.FindCounter(name)
	if !ok {
		return nil, domain.SequenceNotInitializedError{Counter: name}
	}
	codes := make([]string, 0, count)
	for i := int64(0); i < int64(count); i++ {
		codes = append(codes, RenderSequence(counter.Prefix, counter.Next+i, counter.Width))
	}
	counter.Next += int64(count)
	if _, err := tx.PutCounter(counter); err != nil {
		return nil, err
	}
	return codes, nil
}
