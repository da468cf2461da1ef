package domain

import (
	"math"
	"strings"
)

// Bounds for a single rating value.
const (
	MinRating = 1.0
	MaxRating = 5.0
)

// RatingEntry is one user's rating for a spot.
type RatingEntry struct {
	UserID string
	Value  float64
}

// Ledger is the authoritative list of per-user ratings for a spot, at most one entry per user.
type Ledger []RatingEntry

// RatingAggregate is the derived count and mean of a ledger.
type RatingAggregate struct {
	Count int64
	Mean  float64
}

// ValidateRating checks a single submission before it touches a ledger.
func ValidateRating(userID string, value float64) error {
	var verr ValidationError
	if strings.TrimSpace(userID) == "" {
		verr.Add("userId", "is required")
	}
	if math.IsNaN(value) || math.IsInf(value, 0) || value < MinRating || value > MaxRating {
		verr.Add("value", "must be a number between 1 and 5")
	}
	return verr.OrNil()
}

// Upsert returns a new ledger with the user's value replacing any existing entry in place,
// or appended when the user has not rated yet. The receiver is left untouched.
func (l Ledger) Upsert(userID string, value float64) (Ledger, error) {
	if err := ValidateRating(userID, value); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)

	next := make(Ledger, len(l), len(l)+1)
	copy(next, l)
	for i := range next {
		if next[i].UserID == userID {
			next[i].Value = value
			return next, nil
		}
	}
	return append(next, RatingEntry{UserID: userID, Value: value}), nil
}

// Lookup returns the user's stored value.
func (l Ledger) Lookup(userID string) (float64, bool) {
	userID = strings.TrimSpace(userID)
	for _, entry := range l {
		if entry.UserID == userID {
			return entry.Value, true
		}
	}
	return 0, false
}

// ComputeAggregate derives count and mean from the full ledger.
func ComputeAggregate(l Ledger) RatingAggregate {
	if len(l) == 0 {
		return RatingAggregate{}
	}
	var sum float64
	for _, entry := range l {
		sum += entry.Value
	}
	return RatingAggregate{
		Count: int64(len(l)),
		Mean:  sum / float64(len(l)),
	}
}
