package plex

import (
	"time"

	"telecast/internal/identity"
)

// Show is a series-level library item with every identifier the server
// exposed for it.
type Show struct {
	RatingKey string
	GUID      string
	External  identity.ExternalIDs
	Title     string
	Year      int
	Thumb     string
}

// Ref converts the show into an identity reference.
func (s Show) Ref() identity.Ref {
	return identity.Ref{
		LibraryKey: s.RatingKey,
		GUID:       s.GUID,
		External:   s.External,
		Title:      s.Title,
		Year:       s.Year,
	}
}

// Episode is a recently added episode together with its parent show's
// identifiers.
type Episode struct {
	RatingKey    string
	Show         Show
	Season       int
	Episode      int
	Title        string
	Summary      string
	Thumb        string
	AiredAt      time.Time
	AddedAt      time.Time
	DurationMins int
}

// AvailableAt returns the best ordering timestamp the server offered: the
// original air date when present, otherwise the library added time. The zero
// time means the caller must fall back to its own first-seen record.
func (e Episode) AvailableAt() time.Time {
	if !e.AiredAt.IsZero() {
		return e.AiredAt
	}
	return e.AddedAt
}

// User is a server account entry used for notification user discovery.
type User struct {
	ID       int64
	Username string
	Email    string
}

type mediaContainerResponse struct {
	MediaContainer struct {
		Size     int                `json:"size"`
		Metadata []metadataResponse `json:"Metadata"`
	} `json:"MediaContainer"`
}

type metadataResponse struct {
	RatingKey             string         `json:"ratingKey"`
	Type                  string         `json:"type"`
	Title                 string         `json:"title"`
	GUID                  string         `json:"guid"`
	GUIDs                 []guidResponse `json:"Guid"`
	Year                  int            `json:"year"`
	Index                 int            `json:"index"`
	ParentIndex           int            `json:"parentIndex"`
	Summary               string         `json:"summary"`
	Thumb                 string         `json:"thumb"`
	Duration              int64          `json:"duration"`
	AddedAt               int64          `json:"addedAt"`
	OriginallyAvailableAt string         `json:"originallyAvailableAt"`
	GrandparentRatingKey  string         `json:"grandparentRatingKey"`
	GrandparentGUID       string         `json:"grandparentGuid"`
	GrandparentTitle      string         `json:"grandparentTitle"`
	GrandparentThumb      string         `json:"grandparentThumb"`
}

type guidResponse struct {
	ID string `json:"id"`
}
