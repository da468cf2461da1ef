package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

func TestMemoryBackend(t *testing.T) {
	runBackendContract(t, func(_ *testing.T, opts Options) *Repository {
		return NewMemory(opts)
	})
}

// conflictingBackend fails the first n replace calls with ErrConflict.
type conflictingBackend struct {
	*memoryBackend
	mu        sync.Mutex
	remaining int
	replaces  int
}

func (c *conflictingBackend) replace(ctx context.Context, doc spotDocument, expectedVersion int64) error {
	c.mu.Lock()
	c.replaces++
	if c.remaining > 0 {
		c.remaining--
		c.mu.Unlock()
		return ErrConflict
	}
	c.mu.Unlock()
	return c.memoryBackend.replace(ctx, doc, expectedVersion)
}

func TestSubmit_RetriesOnConflict(t *testing.T) {
	b := &conflictingBackend{memoryBackend: newMemoryBackend(), remaining: 2}
	repo := newRepository(b, Options{})
	spot := mustCreateSpot(t, repo, "Contested", "lake", 1, 1)

	agg, err := repo.Ratings.Submit(context.Background(), spot.ID, "u1", 5)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingAggregate{Count: 1, Mean: 5}, agg)
	assert.Equal(t, 3, b.replaces)
}

func TestSubmit_ConflictRetriesExhausted(t *testing.T) {
	b := &conflictingBackend{memoryBackend: newMemoryBackend(), remaining: 10}
	repo := newRepository(b, Options{MaxAttempts: 3})
	spot := mustCreateSpot(t, repo, "Hopeless", "lake", 1, 1)

	_, err := repo.Ratings.Submit(context.Background(), spot.ID, "u1", 5)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "submit rating", perr.Op)
	assert.Equal(t, 3, b.replaces)

	stored, err := repo.Spots.Get(context.Background(), spot.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Ratings, "no partial write may be visible")
}

func TestSubmit_BacksOffBetweenAttempts(t *testing.T) {
	b := &conflictingBackend{memoryBackend: newMemoryBackend(), remaining: 2}
	repo := newRepository(b, Options{})
	var waits []int
	repo.Ratings.docs.backoff = func(attempt int) time.Duration {
		waits = append(waits, attempt)
		return time.Millisecond
	}
	spot := mustCreateSpot(t, repo, "Patient", "lake", 1, 1)

	_, err := repo.Ratings.Submit(context.Background(), spot.ID, "u1", 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, waits)
}

func TestSubmit_BackoffHonoursContext(t *testing.T) {
	b := &conflictingBackend{memoryBackend: newMemoryBackend(), remaining: 10}
	repo := newRepository(b, Options{})
	repo.Ratings.docs.backoff = func(int) time.Duration { return time.Hour }
	spot := mustCreateSpot(t, repo, "Stuck", "lake", 1, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := repo.Ratings.Submit(ctx, spot.ID, "u1", 4)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, b.replaces)
}

func TestJitteredBackoff(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		base := retryBaseDelay << (min(attempt, 6) - 1)
		got := jitteredBackoff(attempt)
		assert.GreaterOrEqual(t, got, base)
		assert.LessOrEqual(t, got, 2*base)
	}
}

// failingBackend reports a storage outage on every call.
type failingBackend struct {
	*memoryBackend
}

var errStorageDown = errors.New("storage unavailable")

func (failingBackend) load(context.Context, string) (spotDocument, error) {
	return spotDocument{}, errStorageDown
}

func TestSubmit_StorageFailureIsPersistenceError(t *testing.T) {
	repo := newRepository(failingBackend{newMemoryBackend()}, Options{})

	_, err := repo.Ratings.Submit(context.Background(), "any", "u1", 3)
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, errStorageDown)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestCreate_ListsMissingFields(t *testing.T) {
	repo := NewMemory(Options{})
	lat, lng := 10.0, 20.0

	_, err := repo.Spots.Create(context.Background(), SpotCreateParams{
		Title:       "Secret Garden",
		Description: "Behind the library",
		Latitude:    &lat,
		Longitude:   &lng,
		Image:       "https://img.example/garden.jpg",
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"type"}, verr.Fields())

	_, err = repo.Spots.Create(context.Background(), SpotCreateParams{Type: "cafe"})
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"title", "description", "latitude", "longitude", "image"}, verr.Fields())
}

func TestCreate_NormalisesInput(t *testing.T) {
	repo := NewMemory(Options{})
	lat, lng := -33.86, 151.2

	spot, err := repo.Spots.Create(context.Background(), SpotCreateParams{
		Title:       "  Harbour Steps ",
		Description: " Sunset view ",
		Latitude:    &lat,
		Longitude:   &lng,
		Type:        " Nature ",
		Image:       "https://img.example/steps.jpg",
	})
	require.NoError(t, err)
	assert.Equal(t, "Harbour Steps", spot.Title)
	assert.Equal(t, domain.SpotTypeNature, spot.Type)
	assert.NotEmpty(t, spot.ID)
	assert.Equal(t, spot.CreatedAt, spot.UpdatedAt)
}

func TestNearby_Validation(t *testing.T) {
	repo := NewMemory(Options{})
	lat := 95.0

	_, err := repo.Spots.Nearby(context.Background(), NearbyQuery{Latitude: &lat, RadiusKm: 500})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.ElementsMatch(t, []string{"lat", "lng", "radiusKm"}, verr.Fields())
}

func TestDecodeCursor(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.Nil(t, cursor)

	_, err = DecodeCursor("%%%")
	assert.Error(t, err)

	_, err = DecodeCursor("e30") // "{}"
	assert.Error(t, err)

	repo := NewMemory(Options{})
	for _, title := range []string{"a", "b"} {
		mustCreateSpot(t, repo, title, "art", 0, 0)
	}
	page, err := repo.Spots.List(context.Background(), SpotListFilters{Limit: 1})
	require.NoError(t, err)
	require.NotNil(t, page.NextCursor)

	cursor, err = DecodeCursor(*page.NextCursor)
	require.NoError(t, err)
	assert.Equal(t, page.Items[0].ID, cursor.ID)
	assert.True(t, page.Items[0].CreatedAt.Equal(cursor.CreatedAt))
}

func TestMemoryBackend_IsolatesStoredDocuments(t *testing.T) {
	repo := NewMemory(Options{})
	spot := mustCreateSpot(t, repo, "Isolated", "hidden", 0, 0)

	got, err := repo.Spots.Get(context.Background(), spot.ID)
	require.NoError(t, err)
	got.Gallery[0] = "mutated"

	again, err := repo.Spots.Get(context.Background(), spot.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://img.example/extra.jpg", again.Gallery[0])
}
