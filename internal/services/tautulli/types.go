package tautulli

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// User is a history account as Tautulli reports it.
type User struct {
	UserID   int64
	Username string
	Email    string
	Active   bool
}

// HistoryRecord is one playback entry. Tautulli mixes strings and numbers for
// the same field across versions, so the decoder is deliberately forgiving.
type HistoryRecord struct {
	UserID          int64
	User            string
	ShowTitle       string
	ShowRatingKey   string
	Season          int
	Episode         int
	EpisodeTitle    string
	WatchedStatus   string
	PercentComplete float64
}

// Watched reports whether this record counts as a completed view. An
// affirmative watched status wins outright; otherwise the completion percent
// is compared against the threshold, inclusive. Threshold is a fraction in
// (0, 1].
func (r HistoryRecord) Watched(threshold float64) bool {
	switch strings.ToLower(strings.TrimSpace(r.WatchedStatus)) {
	case "played", "watched", "1", "true":
		return true
	}
	if threshold <= 0 {
		threshold = 0.8
	}
	return r.PercentComplete >= threshold*100
}

// flexString decodes a JSON value that may arrive as a string, number, or
// null into its string form.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(data)
	return nil
}

func (f flexString) String() string { return string(f) }

func (f flexString) Int() int {
	n, _ := strconv.Atoi(strings.TrimSpace(string(f)))
	return n
}

func (f flexString) Int64() int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(string(f)), 10, 64)
	return n
}

func (f flexString) Float() float64 {
	n, _ := strconv.ParseFloat(strings.TrimSpace(string(f)), 64)
	return n
}

func (f flexString) Bool() bool {
	switch strings.ToLower(strings.TrimSpace(string(f))) {
	case "1", "true", "yes":
		return true
	}
	return false
}

type apiResponse struct {
	Response struct {
		Result  string          `json:"result"`
		Message flexString      `json:"message"`
		Data    json.RawMessage `json:"data"`
	} `json:"response"`
}

type historyData struct {
	RecordsFiltered flexString     `json:"recordsFiltered"`
	RecordsTotal    flexString     `json:"recordsTotal"`
	Data            []historyEntry `json:"data"`
}

type historyEntry struct {
	UserID               flexString `json:"user_id"`
	User                 flexString `json:"user"`
	GrandparentTitle     flexString `json:"grandparent_title"`
	GrandparentRatingKey flexString `json:"grandparent_rating_key"`
	ParentMediaIndex     flexString `json:"parent_media_index"`
	MediaIndex           flexString `json:"media_index"`
	Title                flexString `json:"title"`
	WatchedStatus        flexString `json:"watched_status"`
	PercentComplete      flexString `json:"percent_complete"`
	ProgressPercent      flexString `json:"progress_percent"`
}

func (e historyEntry) record() HistoryRecord {
	// Older Tautulli releases report progress_percent instead of
	// percent_complete; take whichever is populated.
	percent := e.PercentComplete.Float()
	if e.PercentComplete.String() == "" {
		percent = e.ProgressPercent.Float()
	}
	return HistoryRecord{
		UserID:          e.UserID.Int64(),
		User:            e.User.String(),
		ShowTitle:       e.GrandparentTitle.String(),
		ShowRatingKey:   e.GrandparentRatingKey.String(),
		Season:          e.ParentMediaIndex.Int(),
		Episode:         e.MediaIndex.Int(),
		EpisodeTitle:    e.Title.String(),
		WatchedStatus:   e.WatchedStatus.String(),
		PercentComplete: percent,
	}
}

type userEntry struct {
	UserID   flexString `json:"user_id"`
	Username flexString `json:"username"`
	Email    flexString `json:"email"`
	IsActive flexString `json:"is_active"`
}
