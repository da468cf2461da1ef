package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
	"github.com/Clark-Hu/hidden-spots/internal/repository"
)

type commentRequest struct {
	Text string `json:"text"`
	User string `json:"user"`
}

type commentResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	User      string    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
}

type commentListResponse struct {
	Items []commentResponse `json:"items"`
}

type galleryRequest struct {
	ImageURL string `json:"imageUrl"`
}

type galleryResponse struct {
	Gallery []string `json:"gallery"`
}

type storyRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Author  string   `json:"author"`
	Images  []string `json:"images"`
}

type storyUpdateRequest struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Author  *string  `json:"author"`
	Images  []string `json:"images"`
}

type storyResponse struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Author    string    `json:"author"`
	Images    []string  `json:"images"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type storyListResponse struct {
	Items []storyResponse `json:"items"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, r, err)
		return
	}

	comments, err := s.repo.Spots.AddComment(r.Context(), chi.URLParam(r, "id"), repository.CommentParams{
		Text: req.Text,
		User: req.User,
	})
	if err != nil {
		s.respondServiceError(w, r, "add comment", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toCommentList(comments))
}

func (s *Server) handleListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.repo.Spots.Comments(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, r, "list comments", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toCommentList(comments))
}

func (s *Server) handleAddGallery(w http.ResponseWriter, r *http.Request) {
	var images []string
	if isMultipart(r) {
		if !s.parseMultipart(w, r) {
			return
		}
		files := formFiles(r, "image")
		if len(files) > 0 {
			if _, err := s.repo.Spots.Get(r.Context(), chi.URLParam(r, "id")); err != nil {
				s.respondServiceError(w, r, "add gallery images", err)
				return
			}
		}
		urls, err := s.uploadImages(r.Context(), "image", files)
		if err != nil {
			s.respondServiceError(w, r, "upload gallery images", err)
			return
		}
		images = urls
		if imageURL := formString(r, "imageUrl"); imageURL != nil && *imageURL != "" {
			images = append(images, *imageURL)
		}
	} else {
		var req galleryRequest
		if err := decodeJSONBody(w, r, &req); err != nil {
			s.respondDecodeError(w, r, err)
			return
		}
		images = []string{req.ImageURL}
	}

	gallery, err := s.repo.Spots.AddGalleryImages(r.Context(), chi.URLParam(r, "id"), images)
	if err != nil {
		s.respondServiceError(w, r, "add gallery images", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, galleryResponse{Gallery: nonNil(gallery)})
}

func (s *Server) handleAddStory(w http.ResponseWriter, r *http.Request) {
	var req storyRequest
	if isMultipart(r) {
		if !s.parseMultipart(w, r) {
			return
		}
		req = storyRequest{
			Title:   deref(formString(r, "title")),
			Content: deref(formString(r, "content")),
			Author:  deref(formString(r, "author")),
		}
		files := formFiles(r, "images")
		if len(files) > 0 {
			err := s.repo.Spots.ValidateStory(repository.StoryParams{Title: req.Title, Content: req.Content, Author: req.Author})
			if err == nil {
				_, err = s.repo.Spots.Get(r.Context(), chi.URLParam(r, "id"))
			}
			if err != nil {
				s.respondServiceError(w, r, "add story", err)
				return
			}
		}
		urls, err := s.uploadImages(r.Context(), "images", files)
		if err != nil {
			s.respondServiceError(w, r, "upload story images", err)
			return
		}
		req.Images = urls
	} else if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, r, err)
		return
	}

	story, err := s.repo.Spots.AddStory(r.Context(), chi.URLParam(r, "id"), repository.StoryParams{
		Title:   req.Title,
		Content: req.Content,
		Author:  req.Author,
		Images:  req.Images,
	})
	if err != nil {
		s.respondServiceError(w, r, "add story", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toStoryResponse(story))
}

func (s *Server) handleListStories(w http.ResponseWriter, r *http.Request) {
	stories, err := s.repo.Spots.Stories(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, r, "list stories", err)
		return
	}
	items := make([]storyResponse, 0, len(stories))
	for _, st := range stories {
		items = append(items, toStoryResponse(st))
	}
	s.respondJSON(w, http.StatusOK, storyListResponse{Items: items})
}

func (s *Server) handleUpdateStory(w http.ResponseWriter, r *http.Request) {
	var req storyUpdateRequest
	if isMultipart(r) {
		if !s.parseMultipart(w, r) {
			return
		}
		req = storyUpdateRequest{
			Title:   formString(r, "title"),
			Content: formString(r, "content"),
			Author:  formString(r, "author"),
		}
		files := formFiles(r, "images")
		if len(files) > 0 {
			err := s.repo.Spots.ValidateStoryUpdate(repository.StoryUpdateParams{Title: req.Title, Content: req.Content, Author: req.Author})
			if err == nil {
				_, err = s.repo.Spots.Story(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "storyId"))
			}
			if err != nil {
				s.respondServiceError(w, r, "update story", err)
				return
			}
		}
		urls, err := s.uploadImages(r.Context(), "images", files)
		if err != nil {
			s.respondServiceError(w, r, "upload story images", err)
			return
		}
		req.Images = urls
	} else if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, r, err)
		return
	}

	story, err := s.repo.Spots.UpdateStory(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "storyId"), repository.StoryUpdateParams{
		Title:   req.Title,
		Content: req.Content,
		Author:  req.Author,
		Images:  req.Images,
	})
	if err != nil {
		s.respondServiceError(w, r, "update story", err)
		return
	}
	s.respondJSON(w, http.StatusOK, toStoryResponse(story))
}

func toCommentList(comments []domain.Comment) commentListResponse {
	items := make([]commentResponse, 0, len(comments))
	for _, c := range comments {
		items = append(items, toCommentResponse(c))
	}
	return commentListResponse{Items: items}
}

func toCommentResponse(c domain.Comment) commentResponse {
	return commentResponse{ID: c.ID, Text: c.Text, User: c.User, CreatedAt: c.CreatedAt}
}

func toStoryResponse(st domain.Story) storyResponse {
	return storyResponse{
		ID:        st.ID,
		Title:     st.Title,
		Content:   st.Content,
		Author:    st.Author,
		Images:    nonNil(st.Images),
		CreatedAt: st.CreatedAt,
		UpdatedAt: st.UpdatedAt,
	}
}
