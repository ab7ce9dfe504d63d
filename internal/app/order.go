package app

import (
	"context"

	"github.com/hylla/boardflow/internal/domain"
)

// Order allocation constants.
const (
	// firstOrder seeds an empty stage.
	firstOrder = 100
	// headOrderStep is subtracted from the stage minimum for head inserts.
	headOrderStep = 1
	// tailOrderStep is added after the last item when nothing sorts below.
	tailOrderStep = 1
)

// computeOrder allocates a position value for an insert into a stage.
//
// With no reference item the result sorts before everything currently in the
// stage. With a valid reference the result lands strictly between the
// referenced item and the next active order below it (midpoint), or one step
// past it at the tail. An unknown reference or one from a different stage
// falls back to a head insert; inserts never fail on a bad reference.
func (s *Service) computeOrder(ctx context.Context, kind domain.Kind, stageID, aboveItemID string) (float64, error) {
	if aboveItemID != "" {
		above, err := s.items.Get(ctx, kind, aboveItemID)
		if err == nil && above.StageID == stageID {
			return s.orderAfter(ctx, kind, stageID, above.Order)
		}
		if err != nil {
			s.logger.Debug("order reference not resolvable, inserting at head",
				"kind", kind, "stageId", stageID, "aboveItemId", aboveItemID)
		}
	}
	return s.headOrder(ctx, kind, stageID)
}

// headOrder returns a value sorting before every active item in the stage.
func (s *Service) headOrder(ctx context.Context, kind domain.Kind, stageID string) (float64, error) {
	min, ok, err := s.items.MinOrder(ctx, kind, stageID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return firstOrder, nil
	}
	return min - headOrderStep, nil
}

// orderAfter returns a value strictly between above and its next neighbor.
func (s *Service) orderAfter(ctx context.Context, kind domain.Kind, stageID string, above float64) (float64, error) {
	below, ok, err := s.items.NextOrder(ctx, kind, stageID, above)
	if err != nil {
		return 0, err
	}
	if !ok {
		return above + tailOrderStep, nil
	}
	return above + (below-above)/2, nil
}
