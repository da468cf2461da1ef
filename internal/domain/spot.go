package domain

import (
	"strings"
	"time"
)

// SpotType classifies a spot on the map.
type SpotType string

const (
	SpotTypeLake   SpotType = "lake"
	SpotTypeCafe   SpotType = "cafe"
	SpotTypeArt    SpotType = "art"
	SpotTypeNature SpotType = "nature"
	SpotTypePark   SpotType = "park"
	SpotTypeHidden SpotType = "hidden"
)

// SpotTypes lists every accepted spot type.
var SpotTypes = []SpotType{SpotTypeLake, SpotTypeCafe, SpotTypeArt, SpotTypeNature, SpotTypePark, SpotTypeHidden}

// ParseSpotType normalizes raw input and reports whether it is a known type.
func ParseSpotType(raw string) (SpotType, bool) {
	candidate := SpotType(strings.ToLower(strings.TrimSpace(raw)))
	for _, t := range SpotTypes {
		if t == candidate {
			return t, true
		}
	}
	return candidate, false
}

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Latitude  float64
	Longitude float64
}

// Comment is a short note left on a spot.
type Comment struct {
	ID        string
	Text      string
	User      string
	CreatedAt time.Time
}

// Story is a longer write-up about a visit, with optional images.
type Story struct {
	ID        string
	Title     string
	Content   string
	Author    string
	Images    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Spot is a user-submitted point of interest. Rating is always ComputeAggregate(Ratings).
type Spot struct {
	ID          string
	Title       string
	Description string
	Type        SpotType
	Location    Coordinate
	Image       string
	Gallery     []string
	Ratings     Ledger
	Rating      RatingAggregate
	Comments    []Comment
	Stories     []Story
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StoryByID returns the index of the story with the given id, or -1.
func (s *Spot) StoryByID(id string) int {
	for i := range s.Stories {
		if s.Stories[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (s Spot) Clone() Spot {
	out := s
	out.Gallery = append([]string(nil), s.Gallery...)
	out.Ratings = append(Ledger(nil), s.Ratings...)
	out.Comments = append([]Comment(nil), s.Comments...)
	out.Stories = make([]Story, len(s.Stories))
	for i, story := range s.Stories {
		story.Images = append([]string(nil), story.Images...)
		out.Stories[i] = story
	}
	return out
}
