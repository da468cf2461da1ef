package repository

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// SpotsRepository provides persistence helpers for spot entities and their child records.
type SpotsRepository struct {
	docs *documentStore
}

// Defaults and limits for listing and nearby search.
const (
	DefaultListLimit   = 20
	MaxListLimit       = 100
	DefaultRadiusKm    = 5.0
	MaxRadiusKm        = 100.0
	AnonymousAuthor    = "Anonymous"
	MaxImagesPerUpload = 10
)

// SpotCreateParams bundles the fields required to create a spot.
type SpotCreateParams struct {
	Title       string   `json:"title" validate:"required"`
	Description string   `json:"description" validate:"required"`
	Latitude    *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude   *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	Type        string   `json:"type" validate:"required,oneof=lake cafe art nature park hidden"`
	Image       string   `json:"image" validate:"required"`
	Gallery     []string `json:"gallery" validate:"dive,required"`
}

// SpotUpdateParams carries a partial edit. Nil fields are left untouched.
type SpotUpdateParams struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Latitude    *float64  `json:"latitude" validate:"omitempty,gte=-90,lte=90"`
	Longitude   *float64  `json:"longitude" validate:"omitempty,gte=-180,lte=180"`
	Type        *string   `json:"type" validate:"omitempty,oneof=lake cafe art nature park hidden"`
	Image       *string   `json:"image"`
	Gallery     *[]string `json:"gallery"`
}

// CommentParams is a new comment.
type CommentParams struct {
	Text string `json:"text" validate:"required"`
	User string `json:"user"`
}

// StoryParams is a new story.
type StoryParams struct {
	Title   string   `json:"title" validate:"required"`
	Content string   `json:"content" validate:"required"`
	Author  string   `json:"author"`
	Images  []string `json:"images" validate:"max=10,dive,required"`
}

// StoryUpdateParams edits a story; Images are appended to the existing list.
type StoryUpdateParams struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Author  *string  `json:"author"`
	Images  []string `json:"images" validate:"max=10,dive,required"`
}

// SpotListFilters encapsulates search and pagination options.
type SpotListFilters struct {
	Type   *string
	Query  *string
	Limit  int
	Cursor *SpotCursor
}

// SpotCursor allows stable pagination by createdAt/id.
type SpotCursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// SpotListResult returns the paginated payload.
type SpotListResult struct {
	Items      []domain.Spot
	NextCursor *string
}

// NearbyQuery searches around a point.
type NearbyQuery struct {
	Latitude  *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	RadiusKm  float64  `json:"radiusKm" validate:"gte=0,lte=100"`
	Limit     int      `json:"limit" validate:"gte=0"`
}

// SpotDistance pairs a spot with its distance from the search center.
type SpotDistance struct {
	Spot       domain.Spot
	DistanceKm float64
}

// Create validates params and inserts a new spot with an empty ledger.
func (r *SpotsRepository) Create(ctx context.Context, params SpotCreateParams) (domain.Spot, error) {
	params, err := r.prepareCreate(params)
	if err != nil {
		return domain.Spot{}, err
	}

	now := r.docs.now()
	spot := domain.Spot{
		ID:          r.docs.newID(),
		Title:       params.Title,
		Description: params.Description,
		Type:        domain.SpotType(params.Type),
		Location:    domain.Coordinate{Latitude: *params.Latitude, Longitude: *params.Longitude},
		Image:       params.Image,
		Gallery:     params.Gallery,
		Ratings:     domain.Ledger{},
		Rating:      domain.ComputeAggregate(nil),
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := r.docs.backend.insert(ctx, newSpotDocument(spot)); err != nil {
		return domain.Spot{}, r.docs.wrap("create spot", err)
	}
	return spot, nil
}

// Get fetches a spot by its identifier.
func (r *SpotsRepository) Get(ctx context.Context, id string) (domain.Spot, error) {
	return r.docs.get(ctx, "get spot", id)
}

// List returns spots that match the provided filters, newest first.
func (r *SpotsRepository) List(ctx context.Context, filters SpotListFilters) (SpotListResult, error) {
	if filters.Limit <= 0 {
		filters.Limit = DefaultListLimit
	} else if filters.Limit > MaxListLimit {
		filters.Limit = MaxListLimit
	}

	q := listQuery{Limit: filters.Limit, Cursor: filters.Cursor}
	if filters.Type != nil && strings.TrimSpace(*filters.Type) != "" {
		t := strings.ToLower(strings.TrimSpace(*filters.Type))
		q.Type = &t
	}
	if filters.Query != nil && strings.TrimSpace(*filters.Query) != "" {
		text := strings.TrimSpace(*filters.Query)
		q.Query = &text
	}

	docs, err := r.docs.backend.list(ctx, q)
	if err != nil {
		return SpotListResult{}, r.docs.wrap("list spots", err)
	}

	items := make([]domain.Spot, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}

	var nextCursor *string
	if len(items) == filters.Limit {
		last := items[len(items)-1]
		token, err := encodeCursor(SpotCursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return SpotListResult{}, err
		}
		nextCursor = &token
	}
	return SpotListResult{Items: items, NextCursor: nextCursor}, nil
}

// Nearby returns spots within the query radius ordered by distance.
func (r *SpotsRepository) Nearby(ctx context.Context, query NearbyQuery) ([]SpotDistance, error) {
	if err := r.docs.validator.Struct(query); err != nil {
		return nil, err
	}
	if query.RadiusKm == 0 {
		query.RadiusKm = DefaultRadiusKm
	}
	if query.Limit <= 0 {
		query.Limit = DefaultListLimit
	} else if query.Limit > MaxListLimit {
		query.Limit = MaxListLimit
	}

	center := domain.Coordinate{Latitude: *query.Latitude, Longitude: *query.Longitude}
	docs, err := r.docs.backend.within(ctx, domain.BoundingBoxAround(center, query.RadiusKm))
	if err != nil {
		return nil, r.docs.wrap("nearby spots", err)
	}

	results := make([]SpotDistance, 0, len(docs))
	for _, doc := range docs {
		spot := doc.toDomain()
		distance := domain.DistanceKm(center, spot.Location)
		if distance <= query.RadiusKm {
			results = append(results, SpotDistance{Spot: spot, DistanceKm: distance})
		}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].DistanceKm < results[j].DistanceKm
	})
	if len(results) > query.Limit {
		results = results[:query.Limit]
	}
	return results, nil
}

// ValidateCreate reports what Create would reject without writing anything.
func (r *SpotsRepository) ValidateCreate(params SpotCreateParams) error {
	_, err := r.prepareCreate(params)
	return err
}

func (r *SpotsRepository) prepareCreate(params SpotCreateParams) (SpotCreateParams, error) {
	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)
	params.Type = strings.ToLower(strings.TrimSpace(params.Type))
	params.Image = strings.TrimSpace(params.Image)
	params.Gallery = trimAll(params.Gallery)
	if err := r.docs.validator.Struct(params); err != nil {
		return params, err
	}
	return params, nil
}

// ValidateUpdate reports what Update would reject without touching the spot.
func (r *SpotsRepository) ValidateUpdate(params SpotUpdateParams) error {
	_, err := r.prepareUpdate(params)
	return err
}

// prepareUpdate trims every provided field. A provided field that is blank is an
// error rather than "no change": nil is how callers leave a field alone.
func (r *SpotsRepository) prepareUpdate(params SpotUpdateParams) (SpotUpdateParams, error) {
	verr := &domain.ValidationError{}
	params.Title = trimmedRequired("title", params.Title, verr)
	params.Description = trimmedRequired("description", params.Description, verr)
	params.Image = trimmedRequired("image", params.Image, verr)
	if t := trimmedRequired("type", params.Type, verr); t != nil {
		lower := strings.ToLower(*t)
		params.Type = &lower
	}
	if params.Gallery != nil {
		gallery := make([]string, 0, len(*params.Gallery))
		for i, img := range *params.Gallery {
			img = strings.TrimSpace(img)
			if img == "" {
				verr.Add(fmt.Sprintf("gallery[%d]", i), "cannot be blank")
			}
			gallery = append(gallery, img)
		}
		params.Gallery = &gallery
	}
	if err := verr.OrNil(); err != nil {
		return params, err
	}
	if err := r.docs.validator.Struct(params); err != nil {
		return params, err
	}
	return params, nil
}

// Update applies a partial edit. The rating ledger cannot be changed here; a provided
// gallery replaces the stored one.
func (r *SpotsRepository) Update(ctx context.Context, id string, params SpotUpdateParams) (domain.Spot, error) {
	params, err := r.prepareUpdate(params)
	if err != nil {
		return domain.Spot{}, err
	}
	if params == (SpotUpdateParams{}) {
		return r.Get(ctx, id)
	}

	return r.docs.mutate(ctx, "update spot", id, func(spot *domain.Spot) error {
		if params.Title != nil {
			spot.Title = *params.Title
		}
		if params.Description != nil {
			spot.Description = *params.Description
		}
		if params.Type != nil {
			spot.Type = domain.SpotType(*params.Type)
		}
		if params.Latitude != nil {
			spot.Location.Latitude = *params.Latitude
		}
		if params.Longitude != nil {
			spot.Location.Longitude = *params.Longitude
		}
		if params.Image != nil {
			spot.Image = *params.Image
		}
		if params.Gallery != nil {
			spot.Gallery = append([]string{}, (*params.Gallery)...)
		}
		return nil
	})
}

// AddComment appends a comment and returns the spot's comments.
func (r *SpotsRepository) AddComment(ctx context.Context, spotID string, params CommentParams) ([]domain.Comment, error) {
	params.Text = strings.TrimSpace(params.Text)
	params.User = strings.TrimSpace(params.User)
	if err := r.docs.validator.Struct(params); err != nil {
		return nil, err
	}
	if params.User == "" {
		params.User = AnonymousAuthor
	}

	spot, err := r.docs.mutate(ctx, "add comment", spotID, func(spot *domain.Spot) error {
		spot.Comments = append(spot.Comments, domain.Comment{
			ID:        r.docs.newID(),
			Text:      params.Text,
			User:      params.User,
			CreatedAt: r.docs.now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spot.Comments, nil
}

// Comments lists a spot's comments in insertion order.
func (r *SpotsRepository) Comments(ctx context.Context, spotID string) ([]domain.Comment, error) {
	spot, err := r.docs.get(ctx, "list comments", spotID)
	if err != nil {
		return nil, err
	}
	return spot.Comments, nil
}

// AddGalleryImages appends image references and returns the full gallery.
func (r *SpotsRepository) AddGalleryImages(ctx context.Context, spotID string, images []string) ([]string, error) {
	images = trimAll(images)
	verr := &domain.ValidationError{}
	if len(images) == 0 {
		verr.Add("imageUrl", "is required")
	}
	for i, img := range images {
		if img == "" {
			verr.Add(fmt.Sprintf("images[%d]", i), "is required")
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	spot, err := r.docs.mutate(ctx, "add gallery images", spotID, func(spot *domain.Spot) error {
		spot.Gallery = append(spot.Gallery, images...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return spot.Gallery, nil
}

// ValidateStory reports what AddStory would reject without writing anything.
func (r *SpotsRepository) ValidateStory(params StoryParams) error {
	_, err := r.prepareStory(params)
	return err
}

func (r *SpotsRepository) prepareStory(params StoryParams) (StoryParams, error) {
	params.Title = strings.TrimSpace(params.Title)
	params.Content = strings.TrimSpace(params.Content)
	params.Author = strings.TrimSpace(params.Author)
	params.Images = trimAll(params.Images)
	if err := r.docs.validator.Struct(params); err != nil {
		return params, err
	}
	return params, nil
}

// AddStory appends a story and returns it.
func (r *SpotsRepository) AddStory(ctx context.Context, spotID string, params StoryParams) (domain.Story, error) {
	params, err := r.prepareStory(params)
	if err != nil {
		return domain.Story{}, err
	}
	if params.Author == "" {
		params.Author = AnonymousAuthor
	}

	now := r.docs.now()
	story := domain.Story{
		ID:        r.docs.newID(),
		Title:     params.Title,
		Content:   params.Content,
		Author:    params.Author,
		Images:    params.Images,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if story.Images == nil {
		story.Images = []string{}
	}

	_, err = r.docs.mutate(ctx, "add story", spotID, func(spot *domain.Spot) error {
		spot.Stories = append(spot.Stories, story)
		return nil
	})
	if err != nil {
		return domain.Story{}, err
	}
	return story, nil
}

// Stories lists a spot's stories in insertion order.
func (r *SpotsRepository) Stories(ctx context.Context, spotID string) ([]domain.Story, error) {
	spot, err := r.docs.get(ctx, "list stories", spotID)
	if err != nil {
		return nil, err
	}
	return spot.Stories, nil
}

// Story fetches one story of a spot. Unknown spot or story ids return ErrNotFound.
func (r *SpotsRepository) Story(ctx context.Context, spotID, storyID string) (domain.Story, error) {
	spot, err := r.docs.get(ctx, "get story", spotID)
	if err != nil {
		return domain.Story{}, err
	}
	idx := spot.StoryByID(storyID)
	if idx < 0 {
		return domain.Story{}, ErrNotFound
	}
	return spot.Stories[idx], nil
}

// ValidateStoryUpdate reports what UpdateStory would reject without writing anything.
func (r *SpotsRepository) ValidateStoryUpdate(params StoryUpdateParams) error {
	_, err := r.prepareStoryUpdate(params)
	return err
}

func (r *SpotsRepository) prepareStoryUpdate(params StoryUpdateParams) (StoryUpdateParams, error) {
	verr := &domain.ValidationError{}
	params.Title = trimmedRequired("title", params.Title, verr)
	params.Content = trimmedRequired("content", params.Content, verr)
	params.Author = trimmedRequired("author", params.Author, verr)
	params.Images = trimAll(params.Images)
	if err := verr.OrNil(); err != nil {
		return params, err
	}
	if err := r.docs.validator.Struct(params); err != nil {
		return params, err
	}
	return params, nil
}

// UpdateStory edits one story. Unknown story ids return ErrNotFound.
func (r *SpotsRepository) UpdateStory(ctx context.Context, spotID, storyID string, params StoryUpdateParams) (domain.Story, error) {
	params, err := r.prepareStoryUpdate(params)
	if err != nil {
		return domain.Story{}, err
	}

	var updated domain.Story
	_, err = r.docs.mutate(ctx, "update story", spotID, func(spot *domain.Spot) error {
		idx := spot.StoryByID(storyID)
		if idx < 0 {
			return fmt.Errorf("story %s: %w", storyID, ErrNotFound)
		}
		story := &spot.Stories[idx]
		if params.Title != nil {
			story.Title = *params.Title
		}
		if params.Content != nil {
			story.Content = *params.Content
		}
		if params.Author != nil {
			story.Author = *params.Author
		}
		story.Images = append(story.Images, params.Images...)
		story.UpdatedAt = r.docs.now()
		updated = *story
		return nil
	})
	if err != nil {
		return domain.Story{}, err
	}
	return updated, nil
}

// trimmedRequired trims a provided value and records a violation when nothing is left.
func trimmedRequired(field string, ptr *string, verr *domain.ValidationError) *string {
	if ptr == nil {
		return nil
	}
	val := strings.TrimSpace(*ptr)
	if val == "" {
		verr.Add(field, "cannot be blank")
	}
	return &val
}

func trimAll(values []string) []string {
	if values == nil {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.TrimSpace(v))
	}
	return out
}

func encodeCursor(c SpotCursor) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeCursor parses a cursor token into a SpotCursor.
func DecodeCursor(token string) (*SpotCursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor: %w", err)
	}
	var cursor SpotCursor
	if err := json.Unmarshal(data, &cursor); err != nil {
		return nil, fmt.Errorf("invalid cursor payload: %w", err)
	}
	if cursor.ID == "" || cursor.CreatedAt.IsZero() {
		return nil, fmt.Errorf("invalid cursor payload")
	}
	return &cursor, nil
}
