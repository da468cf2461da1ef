package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
	"github.com/Clark-Hu/hidden-spots/internal/events"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
)

type spotCreateRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	Type        string   `json:"type"`
	Image       string   `json:"image"`
	Gallery     []string `json:"gallery"`
}

type spotUpdateRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
	Type        *string   `json:"type"`
	Image       *string   `json:"image"`
	Gallery     *[]string `json:"gallery"`
}

type spotResponse struct {
	ID          string                  `json:"id"`
	Title       string                  `json:"title"`
	Description string                  `json:"description"`
	Type        string                  `json:"type"`
	Latitude    float64                 `json:"latitude"`
	Longitude   float64                 `json:"longitude"`
	Image       string                  `json:"image"`
	Gallery     []string                `json:"gallery"`
	Rating      ratingAggregateResponse `json:"rating"`
	Comments    []commentResponse       `json:"comments"`
	Stories     []storyResponse         `json:"stories"`
	CreatedAt   time.Time               `json:"createdAt"`
	UpdatedAt   time.Time               `json:"updatedAt"`
}

type spotListResponse struct {
	Items      []spotResponse `json:"items"`
	NextCursor *string        `json:"nextCursor,omitempty"`
}

type nearbySpotResponse struct {
	spotResponse
	DistanceKm float64 `json:"distanceKm"`
}

type nearbyListResponse struct {
	Items []nearbySpotResponse `json:"items"`
}

func (s *Server) handleCreateSpot(w http.ResponseWriter, r *http.Request) {
	var (
		params repository.SpotCreateParams
		ok     bool
	)
	if isMultipart(r) {
		params, ok = s.createParamsFromForm(w, r)
	} else {
		params, ok = s.createParamsFromJSON(w, r)
	}
	if !ok {
		return
	}

	spot, err := s.repo.Spots.Create(r.Context(), params)
	if err != nil {
		s.respondServiceError(w, r, "create spot", err)
		return
	}

	resp := toSpotResponse(spot)
	s.publish(r.Context(), events.SubjectSpotCreated, spot.ID, resp)

	w.Header().Set("Location", fmt.Sprintf("/spots/%s", url.PathEscape(spot.ID)))
	s.respondJSON(w, http.StatusCreated, resp)
}

func (s *Server) createParamsFromJSON(w http.ResponseWriter, r *http.Request) (repository.SpotCreateParams, bool) {
	var req spotCreateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, r, err)
		return repository.SpotCreateParams{}, false
	}
	return repository.SpotCreateParams{
		Title:       req.Title,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Type:        req.Type,
		Image:       req.Image,
		Gallery:     req.Gallery,
	}, true
}

func (s *Server) createParamsFromForm(w http.ResponseWriter, r *http.Request) (repository.SpotCreateParams, bool) {
	if !s.parseMultipart(w, r) {
		return repository.SpotCreateParams{}, false
	}

	verr := &domain.ValidationError{}
	params := repository.SpotCreateParams{
		Title:       deref(formString(r, "title")),
		Description: deref(formString(r, "description")),
		Latitude:    formFloat(r, "latitude", verr),
		Longitude:   formFloat(r, "longitude", verr),
		Type:        deref(formString(r, "type")),
		Image:       deref(formString(r, "image")),
		Gallery:     r.MultipartForm.Value["gallery"],
	}
	if err := verr.OrNil(); err != nil {
		s.respondServiceError(w, r, "create spot", err)
		return repository.SpotCreateParams{}, false
	}

	files := formFiles(r, "image")
	check := params
	if len(files) > 0 {
		check.Image = files[0].Filename
	}
	if err := s.repo.Spots.ValidateCreate(check); err != nil {
		s.respondServiceError(w, r, "create spot", err)
		return repository.SpotCreateParams{}, false
	}

	if len(files) > 0 {
		urls, err := s.uploadImages(r.Context(), "image", files[:1])
		if err != nil {
			s.respondServiceError(w, r, "upload spot image", err)
			return repository.SpotCreateParams{}, false
		}
		params.Image = urls[0]
	}
	return params, true
}

func (s *Server) handleGetSpot(w http.ResponseWriter, r *http.Request) {
	spot, err := s.repo.Spots.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, r, "fetch spot", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSpotResponse(spot))
}

func (s *Server) handleListSpots(w http.ResponseWriter, r *http.Request) {
	filters, err := buildSpotFilters(r.URL.Query())
	if err != nil {
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
		return
	}

	result, err := s.repo.Spots.List(r.Context(), filters)
	if err != nil {
		s.respondServiceError(w, r, "list spots", err)
		return
	}

	items := make([]spotResponse, 0, len(result.Items))
	for _, spot := range result.Items {
		items = append(items, toSpotResponse(spot))
	}
	s.respondJSON(w, http.StatusOK, spotListResponse{Items: items, NextCursor: result.NextCursor})
}

func buildSpotFilters(query url.Values) (repository.SpotListFilters, error) {
	var filters repository.SpotListFilters

	if q := strings.TrimSpace(query.Get("q")); q != "" {
		filters.Query = &q
	}
	if val := strings.TrimSpace(query.Get("type")); val != "" {
		spotType, ok := domain.ParseSpotType(val)
		if !ok {
			return filters, fmt.Errorf("invalid type value")
		}
		t := string(spotType)
		filters.Type = &t
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil || limit < 0 {
			return filters, fmt.Errorf("invalid limit value")
		}
		filters.Limit = limit
	}
	if val := strings.TrimSpace(query.Get("cursor")); val != "" {
		cursor, err := repository.DecodeCursor(val)
		if err != nil {
			return filters, fmt.Errorf("invalid cursor")
		}
		filters.Cursor = cursor
	}
	return filters, nil
}

func (s *Server) handleNearbySpots(w http.ResponseWriter, r *http.Request) {
	query, err := buildNearbyQuery(r.URL.Query())
	if err != nil {
		s.respondServiceError(w, r, "search nearby spots", err)
		return
	}

	results, err := s.repo.Spots.Nearby(r.Context(), query)
	if err != nil {
		s.respondServiceError(w, r, "search nearby spots", err)
		return
	}

	items := make([]nearbySpotResponse, 0, len(results))
	for _, res := range results {
		items = append(items, nearbySpotResponse{spotResponse: toSpotResponse(res.Spot), DistanceKm: res.DistanceKm})
	}
	s.respondJSON(w, http.StatusOK, nearbyListResponse{Items: items})
}

// buildNearbyQuery parses query parameters. Missing values are left for the repository
// to report; unparsable ones fail here.
func buildNearbyQuery(query url.Values) (repository.NearbyQuery, error) {
	var (
		q    repository.NearbyQuery
		verr domain.ValidationError
	)
	parse := func(field string) *float64 {
		raw := strings.TrimSpace(query.Get(field))
		if raw == "" {
			return nil
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			verr.Add(field, "must be a number")
			return nil
		}
		return &v
	}

	q.Latitude = parse("lat")
	q.Longitude = parse("lng")
	if radius := parse("radiusKm"); radius != nil {
		q.RadiusKm = *radius
	}
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			verr.Add("limit", "must be an integer")
		} else {
			q.Limit = limit
		}
	}
	return q, verr.OrNil()
}

// handleUpdateSpot serves PATCH and PUT. Both accept JSON or multipart; only fields
// that are sent change, and a sent gallery replaces the stored one.
func (s *Server) handleUpdateSpot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var (
		params repository.SpotUpdateParams
		ok     bool
	)
	if isMultipart(r) {
		params, ok = s.updateParamsFromForm(w, r, id)
	} else {
		params, ok = s.updateParamsFromJSON(w, r)
	}
	if !ok {
		return
	}

	spot, err := s.repo.Spots.Update(r.Context(), id, params)
	if err != nil {
		s.respondServiceError(w, r, "update spot", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toSpotResponse(spot))
}

func (s *Server) updateParamsFromJSON(w http.ResponseWriter, r *http.Request) (repository.SpotUpdateParams, bool) {
	var req spotUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, r, err)
		return repository.SpotUpdateParams{}, false
	}
	return repository.SpotUpdateParams{
		Title:       req.Title,
		Description: req.Description,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		Type:        req.Type,
		Image:       req.Image,
		Gallery:     req.Gallery,
	}, true
}

// updateParamsFromForm reads a multipart edit. An "image" file replaces the cover;
// "gallery" values and files together replace the gallery, kept URLs first. Files are
// only uploaded once the fields are valid and the spot exists.
func (s *Server) updateParamsFromForm(w http.ResponseWriter, r *http.Request, id string) (repository.SpotUpdateParams, bool) {
	if !s.parseMultipart(w, r) {
		return repository.SpotUpdateParams{}, false
	}

	verr := &domain.ValidationError{}
	params := repository.SpotUpdateParams{
		Title:       formString(r, "title"),
		Description: formString(r, "description"),
		Latitude:    formFloat(r, "latitude", verr),
		Longitude:   formFloat(r, "longitude", verr),
		Type:        formString(r, "type"),
		Image:       formString(r, "image"),
	}
	coverFiles := formFiles(r, "image")
	galleryFiles := formFiles(r, "gallery")
	if len(coverFiles) > 0 {
		params.Image = nil
	}
	if keptURLs, sent := r.MultipartForm.Value["gallery"]; sent || len(galleryFiles) > 0 {
		gallery := make([]string, 0, len(keptURLs)+len(galleryFiles))
		for _, u := range keptURLs {
			if u = strings.TrimSpace(u); u != "" {
				gallery = append(gallery, u)
			}
		}
		params.Gallery = &gallery
	}
	if err := verr.OrNil(); err != nil {
		s.respondServiceError(w, r, "update spot", err)
		return repository.SpotUpdateParams{}, false
	}
	if err := s.repo.Spots.ValidateUpdate(params); err != nil {
		s.respondServiceError(w, r, "update spot", err)
		return repository.SpotUpdateParams{}, false
	}
	if len(coverFiles) == 0 && len(galleryFiles) == 0 {
		return params, true
	}
	if _, err := s.repo.Spots.Get(r.Context(), id); err != nil {
		s.respondServiceError(w, r, "update spot", err)
		return repository.SpotUpdateParams{}, false
	}

	if len(coverFiles) > 0 {
		urls, err := s.uploadImages(r.Context(), "image", coverFiles[:1])
		if err != nil {
			s.respondServiceError(w, r, "upload spot image", err)
			return repository.SpotUpdateParams{}, false
		}
		params.Image = &urls[0]
	}
	if len(galleryFiles) > 0 {
		urls, err := s.uploadImages(r.Context(), "gallery", galleryFiles)
		if err != nil {
			s.respondServiceError(w, r, "upload gallery images", err)
			return repository.SpotUpdateParams{}, false
		}
		gallery := append(*params.Gallery, urls...)
		params.Gallery = &gallery
	}
	return params, true
}

// publish emits an event; failures are logged and never reach the client.
func (s *Server) publish(ctx context.Context, subject, spotID string, data interface{}) {
	if s.events == nil {
		return
	}
	evt, err := events.NewEvent(subject, spotID, data)
	if err == nil {
		err = s.events.Publish(ctx, subject, evt)
	}
	if err != nil {
		s.logger.Warn("publish event failed",
			zap.String("subject", subject),
			zap.String("spot_id", spotID),
			zap.Error(err),
		)
	}
}

func toSpotResponse(spot domain.Spot) spotResponse {
	resp := spotResponse{
		ID:          spot.ID,
		Title:       spot.Title,
		Description: spot.Description,
		Type:        string(spot.Type),
		Latitude:    spot.Location.Latitude,
		Longitude:   spot.Location.Longitude,
		Image:       spot.Image,
		Gallery:     nonNil(spot.Gallery),
		Rating:      toAggregateResponse(spot.Rating),
		Comments:    make([]commentResponse, 0, len(spot.Comments)),
		Stories:     make([]storyResponse, 0, len(spot.Stories)),
		CreatedAt:   spot.CreatedAt,
		UpdatedAt:   spot.UpdatedAt,
	}
	for _, c := range spot.Comments {
		resp.Comments = append(resp.Comments, toCommentResponse(c))
	}
	for _, st := range spot.Stories {
		resp.Stories = append(resp.Stories, toStoryResponse(st))
	}
	return resp
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func deref(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
