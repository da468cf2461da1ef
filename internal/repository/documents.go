package repository

import (
	"time"

	"github.com/Clark-Hu/hidden-spots/internal/domain"
)

// spotDocument is the stored shape of a spot, shared by every backend. The ledger,
// aggregate and child lists live inside the document so one write covers them all.
type spotDocument struct {
	ID            string            `json:"id" bson:"_id"`
	Version       int64             `json:"version" bson:"version"`
	Title         string            `json:"title" bson:"title"`
	Description   string            `json:"description" bson:"description"`
	Type          string            `json:"type" bson:"type"`
	Location      locationDocument  `json:"location" bson:"location"`
	Image         string            `json:"image" bson:"image"`
	Gallery       []string          `json:"gallery" bson:"gallery"`
	Ratings       []ratingDocument  `json:"ratings" bson:"ratings"`
	AverageRating float64           `json:"averageRating" bson:"averageRating"`
	RatingCount   int64             `json:"ratingCount" bson:"ratingCount"`
	Comments      []commentDocument `json:"comments" bson:"comments"`
	Stories       []storyDocument   `json:"stories" bson:"stories"`
	CreatedAt     time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt" bson:"updatedAt"`
}

type locationDocument struct {
	Latitude  float64 `json:"latitude" bson:"latitude"`
	Longitude float64 `json:"longitude" bson:"longitude"`
}

type ratingDocument struct {
	UserID string  `json:"userId" bson:"userId"`
	Value  float64 `json:"value" bson:"value"`
}

type commentDocument struct {
	ID        string    `json:"id" bson:"id"`
	Text      string    `json:"text" bson:"text"`
	User      string    `json:"user" bson:"user"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
}

type storyDocument struct {
	ID        string    `json:"id" bson:"id"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content" bson:"content"`
	Author    string    `json:"author" bson:"author"`
	Images    []string  `json:"images" bson:"images"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

func newSpotDocument(spot domain.Spot) spotDocument {
	doc := spotDocument{
		ID:            spot.ID,
		Version:       spot.Version,
		Title:         spot.Title,
		Description:   spot.Description,
		Type:          string(spot.Type),
		Location:      locationDocument{Latitude: spot.Location.Latitude, Longitude: spot.Location.Longitude},
		Image:         spot.Image,
		Gallery:       append([]string{}, spot.Gallery...),
		Ratings:       make([]ratingDocument, 0, len(spot.Ratings)),
		AverageRating: spot.Rating.Mean,
		RatingCount:   spot.Rating.Count,
		Comments:      make([]commentDocument, 0, len(spot.Comments)),
		Stories:       make([]storyDocument, 0, len(spot.Stories)),
		CreatedAt:     spot.CreatedAt,
		UpdatedAt:     spot.UpdatedAt,
	}
	for _, entry := range spot.Ratings {
		doc.Ratings = append(doc.Ratings, ratingDocument{UserID: entry.UserID, Value: entry.Value})
	}
	for _, c := range spot.Comments {
		doc.Comments = append(doc.Comments, commentDocument{ID: c.ID, Text: c.Text, User: c.User, CreatedAt: c.CreatedAt})
	}
	for _, s := range spot.Stories {
		doc.Stories = append(doc.Stories, storyDocument{
			ID:        s.ID,
			Title:     s.Title,
			Content:   s.Content,
			Author:    s.Author,
			Images:    append([]string{}, s.Images...),
			CreatedAt: s.CreatedAt,
			UpdatedAt: s.UpdatedAt,
		})
	}
	return doc
}

func (doc spotDocument) toDomain() domain.Spot {
	spot := domain.Spot{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		Type:        domain.SpotType(doc.Type),
		Location:    domain.Coordinate{Latitude: doc.Location.Latitude, Longitude: doc.Location.Longitude},
		Image:       doc.Image,
		Gallery:     append([]string{}, doc.Gallery...),
		Ratings:     make(domain.Ledger, 0, len(doc.Ratings)),
		Rating:      domain.RatingAggregate{Count: doc.RatingCount, Mean: doc.AverageRating},
		Comments:    make([]domain.Comment, 0, len(doc.Comments)),
		Stories:     make([]domain.Story, 0, len(doc.Stories)),
		Version:     doc.Version,
		CreatedAt:   doc.CreatedAt.UTC(),
		UpdatedAt:   doc.UpdatedAt.UTC(),
	}
	for _, r := range doc.Ratings {
		spot.Ratings = append(spot.Ratings, domain.RatingEntry{UserID: r.UserID, Value: r.Value})
	}
	for _, c := range doc.Comments {
		spot.Comments = append(spot.Comments, domain.Comment{ID: c.ID, Text: c.Text, User: c.User, CreatedAt: c.CreatedAt.UTC()})
	}
	for _, s := range doc.Stories {
		spot.Stories = append(spot.Stories, domain.Story{
			ID:        s.ID,
			Title:     s.Title,
			Content:   s.Content,
			Author:    s.Author,
			Images:    append([]string{}, s.Images...),
			CreatedAt: s.CreatedAt.UTC(),
			UpdatedAt: s.UpdatedAt.UTC(),
		})
	}
	return spot
}
