package repository

import (
	"context"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// RatingsRepository maintains each spot's rating ledger and aggregate.
type RatingsRepository struct {
	docs *documentStore
}

// RatingSnapshot is a spot's aggregate plus, optionally, one user's stored value.
type RatingSnapshot struct {
	Aggregate domain.RatingAggregate
	UserValue *float64
}

// Submit records userID's rating for the spot, replacing any previous value, and returns
// the aggregate recomputed from the full ledger. Ledger and aggregate are written together.
func (r *RatingsRepository) Submit(ctx context.Context, spotID, userID string, value float64) (domain.RatingAggregate, error) {
	if err := domain.ValidateRating(userID, value); err != nil {
		return domain.RatingAggregate{}, err
	}

	spot, err := r.docs.mutate(ctx, "submit rating", spotID, func(spot *domain.Spot) error {
		ledger, err := spot.Ratings.Upsert(userID, value)
		if err != nil {
			return err
		}
		spot.Ratings = ledger
		spot.Rating = domain.ComputeAggregate(ledger)
		return nil
	})
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	return spot.Rating, nil
}

// Get returns the current aggregate and, when userID is non-empty, that user's value if any.
func (r *RatingsRepository) Get(ctx context.Context, spotID, userID string) (RatingSnapshot, error) {
	spot, err := r.docs.get(ctx, "get rating", spotID)
	if err != nil {
		return RatingSnapshot{}, err
	}

	snapshot := RatingSnapshot{Aggregate: spot.Rating}
	if userID != "" {
		if value, ok := spot.Ratings.Lookup(userID); ok {
			snapshot.UserValue = &value
		}
	}
	return snapshot, nil
}
