package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
	"github.com/Clark-Hu/hidden-spots/internal/imagehost"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
)

const maxRequestBody = 1 << 20 // 1 MiB

// Error codes carried in every error envelope.
const (
	codeValidation  = "VALIDATION_ERROR"
	codeNotFound    = "NOT_FOUND"
	codePersistence = "PERSISTENCE_ERROR"
	codeInternal    = "INTERNAL_ERROR"
	codeBadRequest  = "BAD_REQUEST"
)

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
	RequestID string      `json:"requestId,omitempty"`
}

type fieldErrorDetails struct {
	Fields     []string            `json:"fields"`
	Violations []violationResponse `json:"violations"`
}

type violationResponse struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func validationDetails(verr *domain.ValidationError) fieldErrorDetails {
	details := fieldErrorDetails{
		Fields:     verr.Fields(),
		Violations: make([]violationResponse, 0, len(verr.Violations)),
	}
	for _, v := range verr.Violations {
		details.Violations = append(details.Violations, violationResponse{Field: v.Field, Reason: v.Reason})
	}
	return details
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Warn("failed to encode response", zap.Error(err))
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details interface{}) {
	s.respondJSON(w, status, errorEnvelope{Error: errorBody{
		Code:      code,
		Message:   message,
		Details:   details,
		RequestID: middleware.GetReqID(r.Context()),
	}})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	var maxBytesError *http.MaxBytesError
	switch {
	case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, "Malformed JSON payload", nil)
	case errors.As(err, &typeError):
		s.respondError(w, r, http.StatusBadRequest, codeValidation, fmt.Sprintf("Invalid value for field %s", typeError.Field),
			validationDetails(domain.NewValidationError(typeError.Field, "has the wrong type")))
	case errors.Is(err, io.EOF):
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, "Request body cannot be empty", nil)
	case errors.As(err, &maxBytesError):
		s.respondError(w, r, http.StatusRequestEntityTooLarge, codeBadRequest, "Request body too large", nil)
	case strings.HasPrefix(err.Error(), "json: unknown field"):
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, strings.TrimPrefix(err.Error(), "json: "), nil)
	default:
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, "Unable to parse request body", nil)
	}
}

// respondServiceError maps repository and upload errors onto the error envelope.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *domain.ValidationError
	var perr *repository.PersistenceError
	switch {
	case errors.As(err, &verr):
		s.respondError(w, r, http.StatusBadRequest, codeValidation, verr.Error(), validationDetails(verr))
	case errors.Is(err, repository.ErrNotFound):
		s.respondError(w, r, http.StatusNotFound, codeNotFound, "Resource not found", nil)
	case errors.Is(err, imagehost.ErrUnsupportedType):
		s.respondError(w, r, http.StatusBadRequest, codeValidation, err.Error(),
			validationDetails(domain.NewValidationError("image", "must be a jpeg or png file")))
	case errors.Is(err, imagehost.ErrImageTooLarge):
		s.respondError(w, r, http.StatusRequestEntityTooLarge, codeValidation, err.Error(),
			validationDetails(domain.NewValidationError("image", fmt.Sprintf("must not exceed %d bytes", imagehost.MaxImageBytes))))
	case errors.Is(err, imagehost.ErrUpstream):
		s.logger.Warn(op+" failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		s.respondError(w, r, http.StatusBadGateway, codeInternal, "Image host unavailable", nil)
	case errors.Is(err, errUploadsDisabled):
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, err.Error(), nil)
	case errors.As(err, &perr):
		s.logger.Error(op+" failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		s.respondError(w, r, http.StatusInternalServerError, codePersistence, "Failed to "+op, nil)
	default:
		s.logger.Error(op+" failed", zap.Error(err), zap.String("request_id", middleware.GetReqID(r.Context())))
		s.respondError(w, r, http.StatusInternalServerError, codeInternal, "Failed to "+op, nil)
	}
}
