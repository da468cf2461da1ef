package httpserver

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
	"github.com/Clark-Hu/hidden-spots/internal/imagehost"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
)

const (
	maxMultipartMemory = 32 << 20
	maxMultipartBody   = repository.MaxImagesPerUpload*imagehost.MaxImageBytes + maxRequestBody
)

var errUploadsDisabled = errors.New("image uploads are not configured; send an image URL instead")

func isMultipart(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mediaType == "multipart/form-data"
}

// parseMultipart reads a multipart body, answering the client itself on failure.
func (s *Server) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxMultipartBody)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		var maxBytesError *http.MaxBytesError
		if errors.As(err, &maxBytesError) {
			s.respondError(w, r, http.StatusRequestEntityTooLarge, codeBadRequest, "Request body too large", nil)
			return false
		}
		s.respondError(w, r, http.StatusBadRequest, codeBadRequest, "Malformed multipart payload", nil)
		return false
	}
	return true
}

func formFiles(r *http.Request, field string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	return r.MultipartForm.File[field]
}

// formString returns the trimmed value of field, or nil when it is absent.
func formString(r *http.Request, field string) *string {
	values, ok := r.MultipartForm.Value[field]
	if !ok || len(values) == 0 {
		return nil
	}
	v := strings.TrimSpace(values[0])
	return &v
}

func formFloat(r *http.Request, field string, verr *domain.ValidationError) *float64 {
	raw := formString(r, field)
	if raw == nil || *raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(*raw, 64)
	if err != nil {
		verr.Add(field, "must be a number")
		return nil
	}
	return &v
}

// uploadImages stores every file on the image host and returns their URLs in order.
func (s *Server) uploadImages(ctx context.Context, field string, files []*multipart.FileHeader) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}
	if s.images == nil {
		return nil, errUploadsDisabled
	}
	if len(files) > repository.MaxImagesPerUpload {
		return nil, domain.NewValidationError(field, fmt.Sprintf("accepts at most %d files", repository.MaxImagesPerUpload))
	}

	urls := make([]string, 0, len(files))
	for _, fh := range files {
		url, err := s.uploadImage(ctx, fh)
		if err != nil {
			return nil, err
		}
		urls = append(urls, url)
	}
	return urls, nil
}

func (s *Server) uploadImage(ctx context.Context, fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload %s: %w", fh.Filename, err)
	}
	defer f.Close()

	url, err := s.images.Upload(ctx, imagehost.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Body:        f,
	})
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", fh.Filename, err)
	}
	return url, nil
}
