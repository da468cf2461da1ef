package httpserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
	"github.com/Clark-Hu/hidden-spots/internal/events"
)

type ratingRequest struct {
	UserID string   `json:"userId" validate:"required"`
	Value  *float64 `json:"value" validate:"required"`
}

type ratingAggregateResponse struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
}

type ratingResponse struct {
	Count     int64    `json:"count"`
	Mean      float64  `json:"mean"`
	UserValue *float64 `json:"userValue"`
}

type ratingEventPayload struct {
	UserID string  `json:"userId"`
	Value  float64 `json:"value"`
	Count  int64   `json:"count"`
	Mean   float64 `json:"mean"`
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	spotID := chi.URLParam(r, "id")

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, r, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondServiceError(w, r, "submit rating", err)
		return
	}

	userID := strings.TrimSpace(req.UserID)
	agg, err := s.repo.Ratings.Submit(r.Context(), spotID, userID, *req.Value)
	if err != nil {
		s.respondServiceError(w, r, "submit rating", err)
		return
	}

	s.publish(r.Context(), events.SubjectSpotRatingUpdated, spotID, ratingEventPayload{
		UserID: userID,
		Value:  *req.Value,
		Count:  agg.Count,
		Mean:   agg.Mean,
	})

	value := *req.Value
	s.respondJSON(w, http.StatusOK, ratingResponse{
		Count:     agg.Count,
		Mean:      agg.Mean,
		UserValue: &value,
	})
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	snapshot, err := s.repo.Ratings.Get(r.Context(), chi.URLParam(r, "id"), userID)
	if err != nil {
		s.respondServiceError(w, r, "fetch rating", err)
		return
	}

	s.respondJSON(w, http.StatusOK, ratingResponse{
		Count:     snapshot.Aggregate.Count,
		Mean:      snapshot.Aggregate.Mean,
		UserValue: snapshot.UserValue,
	})
}

func toAggregateResponse(agg domain.RatingAggregate) ratingAggregateResponse {
	return ratingAggregateResponse{Count: agg.Count, Mean: agg.Mean}
}
