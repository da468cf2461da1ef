package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// runBackendContract exercises behaviour every backend must share. newRepo must return
// a repository over an empty store.
func runBackendContract(t *testing.T, newRepo func(t *testing.T, opts Options) *Repository) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()

		created := mustCreateSpot(t, repo, "Blue Lagoon", "lake", 64.0, -22.0)
		assert.Equal(t, int64(1), created.Version)
		assert.Equal(t, domain.RatingAggregate{}, created.Rating)
		assert.Empty(t, created.Ratings)

		got, err := repo.Spots.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, created.Title, got.Title)
		assert.Equal(t, domain.SpotTypeLake, got.Type)
		assert.Equal(t, created.Location, got.Location)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, []string{"https://img.example/extra.jpg"}, got.Gallery)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		repo := newRepo(t, Options{})
		_, err := repo.Spots.Get(context.Background(), "does-not-exist")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("SubmitRatingScenario", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Rated", "cafe", 48.85, 2.35)

		agg, err := repo.Ratings.Submit(ctx, spot.ID, "u1", 4)
		require.NoError(t, err)
		assert.Equal(t, domain.RatingAggregate{Count: 1, Mean: 4}, agg)

		agg, err = repo.Ratings.Submit(ctx, spot.ID, "u1", 2)
		require.NoError(t, err)
		assert.Equal(t, domain.RatingAggregate{Count: 1, Mean: 2}, agg)

		agg, err = repo.Ratings.Submit(ctx, spot.ID, "u2", 5)
		require.NoError(t, err)
		assert.Equal(t, int64(2), agg.Count)
		assert.InDelta(t, 3.5, agg.Mean, 1e-9)

		snap, err := repo.Ratings.Get(ctx, spot.ID, "u1")
		require.NoError(t, err)
		require.NotNil(t, snap.UserValue)
		assert.Equal(t, 2.0, *snap.UserValue)
		assert.Equal(t, agg, snap.Aggregate)

		stored, err := repo.Spots.Get(ctx, spot.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Ratings, 2)
		assert.Equal(t, domain.ComputeAggregate(stored.Ratings), stored.Rating)
		assert.Equal(t, int64(4), stored.Version)
	})

	t.Run("SubmitRatingErrors", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Strict", "art", 10, 10)

		_, err := repo.Ratings.Submit(ctx, "missing", "u1", 3)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.Ratings.Submit(ctx, spot.ID, "u1", 6)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields(), "value")

		_, err = repo.Ratings.Submit(ctx, spot.ID, "  ", 3)
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Fields(), "userId")

		stored, err := repo.Spots.Get(ctx, spot.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), stored.Rating.Count)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("ConcurrentDifferentUsers", func(t *testing.T) {
		const workers = 8
		repo := newRepo(t, Options{MaxAttempts: workers + 1})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Busy", "park", 1, 1)

		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				if _, err := repo.Ratings.Submit(ctx, spot.ID, user, 4); err != nil {
					t.Errorf("submit for %s: %v", user, err)
				}
			}(fmt.Sprintf("user-%d", i))
		}
		wg.Wait()

		snap, err := repo.Ratings.Get(ctx, spot.ID, "")
		require.NoError(t, err)
		assert.Equal(t, int64(workers), snap.Aggregate.Count)
		assert.InDelta(t, 4.0, snap.Aggregate.Mean, 1e-9)
	})

	t.Run("ContentionWithDefaultBudget", func(t *testing.T) {
		const workers = 12
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Crowded", "cafe", 2, 2)

		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded []string
		)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := repo.Ratings.Submit(ctx, spot.ID, user, 3)
				if err != nil {
					var perr *PersistenceError
					if !errors.As(err, &perr) || !errors.Is(err, ErrConflict) {
						t.Errorf("submit for %s: unexpected error %v", user, err)
					}
					return
				}
				mu.Lock()
				succeeded = append(succeeded, user)
				mu.Unlock()
			}(fmt.Sprintf("user-%d", i))
		}
		wg.Wait()

		require.NotEmpty(t, succeeded)
		stored, err := repo.Spots.Get(ctx, spot.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(len(succeeded)), stored.Rating.Count)
		assert.Len(t, stored.Ratings, len(succeeded))
		for _, user := range succeeded {
			_, ok := stored.Ratings.Lookup(user)
			assert.True(t, ok, "acknowledged rating for %s was lost", user)
		}
		assert.Equal(t, int64(len(succeeded))+1, stored.Version)
	})

	t.Run("ConcurrentRatingAndComment", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Mixed", "nature", 5, 5)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := repo.Ratings.Submit(ctx, spot.ID, "u1", 5); err != nil {
				t.Errorf("submit: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := repo.Spots.AddComment(ctx, spot.ID, CommentParams{Text: "lovely"}); err != nil {
				t.Errorf("comment: %v", err)
			}
		}()
		wg.Wait()

		stored, err := repo.Spots.Get(ctx, spot.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stored.Rating.Count)
		assert.Len(t, stored.Comments, 1)
	})

	t.Run("ListFiltersAndCursor", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		mustCreateSpot(t, repo, "Quiet Lake", "lake", 1, 1)
		mustCreateSpot(t, repo, "Corner Cafe", "cafe", 1, 1)
		mustCreateSpot(t, repo, "Mirror Lake", "lake", 1, 1)

		lake := "LAKE"
		lakes, err := repo.Spots.List(ctx, SpotListFilters{Type: &lake})
		require.NoError(t, err)
		assert.Len(t, lakes.Items, 2)
		assert.Nil(t, lakes.NextCursor)

		q := "corner"
		found, err := repo.Spots.List(ctx, SpotListFilters{Query: &q})
		require.NoError(t, err)
		require.Len(t, found.Items, 1)
		assert.Equal(t, "Corner Cafe", found.Items[0].Title)

		wild := "100%"
		none, err := repo.Spots.List(ctx, SpotListFilters{Query: &wild})
		require.NoError(t, err)
		assert.Empty(t, none.Items)

		seen := map[string]bool{}
		filters := SpotListFilters{Limit: 2}
		first, err := repo.Spots.List(ctx, filters)
		require.NoError(t, err)
		require.Len(t, first.Items, 2)
		require.NotNil(t, first.NextCursor)
		for _, s := range first.Items {
			seen[s.ID] = true
		}

		filters.Cursor, err = DecodeCursor(*first.NextCursor)
		require.NoError(t, err)
		second, err := repo.Spots.List(ctx, filters)
		require.NoError(t, err)
		require.Len(t, second.Items, 1)
		assert.False(t, seen[second.Items[0].ID], "pagination returned a duplicate spot")
		assert.Nil(t, second.NextCursor)
	})

	t.Run("Nearby", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		near := mustCreateSpot(t, repo, "Near", "park", 48.8566, 2.3522)
		closer := mustCreateSpot(t, repo, "Closer", "park", 48.8570, 2.3525)
		mustCreateSpot(t, repo, "Far", "park", 51.5074, -0.1278)

		lat, lng := 48.8571, 2.3526
		results, err := repo.Spots.Nearby(ctx, NearbyQuery{Latitude: &lat, Longitude: &lng})
		require.NoError(t, err)
		require.Len(t, results, 2)
		assert.Equal(t, closer.ID, results[0].Spot.ID)
		assert.Equal(t, near.ID, results[1].Spot.ID)
		assert.LessOrEqual(t, results[1].DistanceKm, DefaultRadiusKm)

		wide, err := repo.Spots.Nearby(ctx, NearbyQuery{Latitude: &lat, Longitude: &lng, RadiusKm: MaxRadiusKm})
		require.NoError(t, err)
		assert.Len(t, wide, 2)
	})

	t.Run("NearbyHighLatitudeEdge", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		edge := mustCreateSpot(t, repo, "Edge", "nature", 80.04003, 5.18065)

		lat, lng := 80.0, 0.0
		results, err := repo.Spots.Nearby(ctx, NearbyQuery{Latitude: &lat, Longitude: &lng, RadiusKm: 100})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, edge.ID, results[0].Spot.ID)
		assert.Less(t, results[0].DistanceKm, 100.0)
	})

	t.Run("UpdateKeepsLedger", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Before", "hidden", 3, 3)
		_, err := repo.Ratings.Submit(ctx, spot.ID, "u1", 3)
		require.NoError(t, err)

		title := "  After  "
		updated, err := repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Title: &title})
		require.NoError(t, err)
		assert.Equal(t, "After", updated.Title)
		assert.Equal(t, int64(1), updated.Rating.Count)
		assert.Equal(t, int64(3), updated.Version)

		bad := "volcano"
		_, err = repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Type: &bad})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"type"}, verr.Fields())

		_, err = repo.Spots.Update(ctx, "missing", SpotUpdateParams{Title: &title})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("UpdateRejectsBlankFields", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Keep me", "lake", 4, 4)

		blank, spaces := "", "   "
		_, err := repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Type: &blank, Title: &spaces})
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.ElementsMatch(t, []string{"title", "type"}, verr.Fields())

		gallery := []string{"https://img.example/a.jpg", " "}
		_, err = repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Gallery: &gallery})
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"gallery[1]"}, verr.Fields())

		stored, err := repo.Spots.Get(ctx, spot.ID)
		require.NoError(t, err)
		assert.Equal(t, "Keep me", stored.Title)
		assert.Equal(t, domain.SpotType("lake"), stored.Type)
		assert.Equal(t, int64(1), stored.Version)
	})

	t.Run("UpdateReplacesGallery", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Gallery", "art", 2, 2)

		gallery := []string{" https://img.example/new.jpg "}
		updated, err := repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Gallery: &gallery})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://img.example/new.jpg"}, updated.Gallery)

		empty := []string{}
		updated, err = repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Gallery: &empty})
		require.NoError(t, err)
		assert.Empty(t, updated.Gallery)

		title := "Untouched gallery"
		updated, err = repo.Spots.Update(ctx, spot.ID, SpotUpdateParams{Title: &title})
		require.NoError(t, err)
		assert.Empty(t, updated.Gallery)
	})

	t.Run("CommentsGalleryStories", func(t *testing.T) {
		repo := newRepo(t, Options{})
		ctx := context.Background()
		spot := mustCreateSpot(t, repo, "Storied", "art", 7, 7)

		comments, err := repo.Spots.AddComment(ctx, spot.ID, CommentParams{Text: " hello "})
		require.NoError(t, err)
		require.Len(t, comments, 1)
		assert.Equal(t, "hello", comments[0].Text)
		assert.Equal(t, AnonymousAuthor, comments[0].User)

		listed, err := repo.Spots.Comments(ctx, spot.ID)
		require.NoError(t, err)
		assert.Equal(t, comments, listed)

		gallery, err := repo.Spots.AddGalleryImages(ctx, spot.ID, []string{"https://img.example/2.jpg"})
		require.NoError(t, err)
		assert.Equal(t, []string{"https://img.example/extra.jpg", "https://img.example/2.jpg"}, gallery)

		_, err = repo.Spots.AddGalleryImages(ctx, spot.ID, nil)
		var verr *domain.ValidationError
		require.ErrorAs(t, err, &verr)

		story, err := repo.Spots.AddStory(ctx, spot.ID, StoryParams{Title: "Night", Content: "Stars", Author: "ana"})
		require.NoError(t, err)
		assert.Empty(t, story.Images)

		content := "Stars and owls"
		edited, err := repo.Spots.UpdateStory(ctx, spot.ID, story.ID, StoryUpdateParams{
			Content: &content,
			Images:  []string{"https://img.example/owl.jpg"},
		})
		require.NoError(t, err)
		assert.Equal(t, content, edited.Content)
		assert.Equal(t, "ana", edited.Author)
		assert.Equal(t, []string{"https://img.example/owl.jpg"}, edited.Images)

		stories, err := repo.Spots.Stories(ctx, spot.ID)
		require.NoError(t, err)
		require.Len(t, stories, 1)
		assert.Equal(t, edited.Content, stories[0].Content)

		_, err = repo.Spots.UpdateStory(ctx, spot.ID, "nope", StoryUpdateParams{Content: &content})
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.Spots.AddComment(ctx, "missing", CommentParams{Text: "x"})
		assert.True(t, errors.Is(err, ErrNotFound))
	})
}

func mustCreateSpot(t testing.TB, repo *Repository, title, spotType string, lat, lng float64) domain.Spot {
	t.Helper()
	spot, err := repo.Spots.Create(context.Background(), SpotCreateParams{
		Title:       title,
		Description: "A place called " + title,
		Latitude:    &lat,
		Longitude:   &lng,
		Type:        spotType,
		Image:       "https://img.example/main.jpg",
		Gallery:     []string{"https://img.example/extra.jpg"},
	})
	if err != nil {
		t.Fatalf("create spot %q: %v", title, err)
	}
	return spot
}
