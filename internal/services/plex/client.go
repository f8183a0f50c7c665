package plex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"telecast/internal/config"
	"telecast/internal/identity"
)

// Client defines the media server operations the notifier depends on.
type Client interface {
	RecentEpisodes(ctx context.Context, since time.Time) ([]Episode, error)
	Shows(ctx context.Context) ([]Show, error)
	ShowByKey(ctx context.Context, ratingKey string) (*Show, error)
	ShowByGUID(ctx context.Context, guid string) (*Show, error)
	SearchShows(ctx context.Context, title string) ([]Show, error)
	AccountUsers(ctx context.Context) ([]User, error)
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// httpClient implements Client against a Plex Media Server's JSON API.
type httpClient struct {
	baseURL    string
	accountURL string
	token      string
	section    string
	client     HTTPDoer
}

var _ Client = (*httpClient)(nil)

// Option configures the HTTP client.
type Option func(*httpClient)

// WithHTTPDoer overrides the HTTP backend.
func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *httpClient) {
		if doer != nil {
			c.client = doer
		}
	}
}

// WithAccountURL overrides the plex.tv account endpoint, for tests.
func WithAccountURL(accountURL string) Option {
	return func(c *httpClient) {
		c.accountURL = strings.TrimRight(accountURL, "/")
	}
}

// New creates a media server client from configuration.
func New(cfg config.Plex, opts ...Option) (Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("plex url required")
	}
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("plex token required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		accountURL: "https://plex.tv",
		token:      token,
		section:    strings.TrimSpace(cfg.LibrarySection),
		client:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// RecentEpisodes lists episodes added to the configured library section,
// newest first, stopping once items fall behind the cutoff. A zero cutoff
// returns the server's full recently-added window.
func (c *httpClient) RecentEpisodes(ctx context.Context, since time.Time) ([]Episode, error) {
	if c.section == "" {
		return nil, errors.New("library section not configured")
	}
	params := url.Values{}
	params.Set("type", "4") // episodes
	var payload mediaContainerResponse
	path := fmt.Sprintf("/library/sections/%s/recentlyAdded", url.PathEscape(c.section))
	if err := c.getJSON(ctx, c.baseURL, path, params, &payload); err != nil {
		return nil, err
	}

	var episodes []Episode
	for _, item := range payload.MediaContainer.Metadata {
		if item.Type != "episode" {
			continue
		}
		episode := decodeEpisode(item)
		if !since.IsZero() && !episode.AvailableAt().IsZero() && episode.AvailableAt().Before(since) {
			continue
		}
		episodes = append(episodes, episode)
	}
	return episodes, nil
}

// Shows lists every series in the configured library section.
func (c *httpClient) Shows(ctx context.Context) ([]Show, error) {
	return c.listShows(ctx, nil)
}

// ShowByKey fetches a series by its library rating key. Returns (nil, nil)
// when the server no longer knows the key.
func (c *httpClient) ShowByKey(ctx context.Context, ratingKey string) (*Show, error) {
	if strings.TrimSpace(ratingKey) == "" {
		return nil, errors.New("rating key required")
	}
	var payload mediaContainerResponse
	path := "/library/metadata/" + url.PathEscape(ratingKey)
	err := c.getJSON(ctx, c.baseURL, path, nil, &payload)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	for _, item := range payload.MediaContainer.Metadata {
		if item.Type == "show" {
			show := decodeShow(item)
			return &show, nil
		}
	}
	return nil, nil
}

// ShowByGUID scans the configured section for a series carrying the GUID.
// Returns (nil, nil) when no series matches.
func (c *httpClient) ShowByGUID(ctx context.Context, guid string) (*Show, error) {
	if strings.TrimSpace(guid) == "" {
		return nil, errors.New("guid required")
	}
	shows, err := c.listShows(ctx, url.Values{"guid": []string{guid}})
	if err != nil {
		return nil, err
	}
	for i := range shows {
		if shows[i].GUID == guid {
			return &shows[i], nil
		}
	}
	// Some server versions ignore the guid filter; fall back to a full
	// section scan before concluding absence.
	shows, err = c.listShows(ctx, nil)
	if err != nil {
		return nil, err
	}
	for i := range shows {
		if shows[i].GUID == guid {
			return &shows[i], nil
		}
	}
	return nil, nil
}

// SearchShows lists series in the section whose title matches the query.
func (c *httpClient) SearchShows(ctx context.Context, title string) ([]Show, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, errors.New("title required")
	}
	return c.listShows(ctx, url.Values{"title": []string{title}})
}

func (c *httpClient) listShows(ctx context.Context, extra url.Values) ([]Show, error) {
	if c.section == "" {
		return nil, errors.New("library section not configured")
	}
	params := url.Values{}
	params.Set("type", "2") // series
	for key, values := range extra {
		for _, value := range values {
			params.Add(key, value)
		}
	}
	var payload mediaContainerResponse
	path := fmt.Sprintf("/library/sections/%s/all", url.PathEscape(c.section))
	if err := c.getJSON(ctx, c.baseURL, path, params, &payload); err != nil {
		return nil, err
	}
	var shows []Show
	for _, item := range payload.MediaContainer.Metadata {
		if item.Type != "show" {
			continue
		}
		shows = append(shows, decodeShow(item))
	}
	return shows, nil
}

type accountUsersResponse struct {
	Users []struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Title    string `json:"title"`
		Email    string `json:"email"`
	} `json:"users"`
}

// AccountUsers lists the accounts on the server owner's home, used to
// whitelist which watch-history users may receive notifications.
func (c *httpClient) AccountUsers(ctx context.Context) ([]User, error) {
	var payload accountUsersResponse
	if err := c.getJSON(ctx, c.accountURL, "/api/v2/home/users", nil, &payload); err != nil {
		return nil, err
	}
	users := make([]User, 0, len(payload.Users))
	for _, entry := range payload.Users {
		username := entry.Username
		if username == "" {
			username = entry.Title
		}
		users = append(users, User{ID: entry.ID, Username: username, Email: entry.Email})
	}
	return users, nil
}

func (c *httpClient) getJSON(ctx context.Context, base, path string, params url.Values, out any) error {
	endpoint, err := url.Parse(base + path)
	if err != nil {
		return fmt.Errorf("parse plex url: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Plex-Token", c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("plex returned %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode plex response: %w", err)
	}
	return nil
}

var errNotFound = errors.New("plex: not found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

func decodeShow(item metadataResponse) Show {
	raw := make([]string, 0, len(item.GUIDs)+1)
	if item.GUID != "" {
		raw = append(raw, item.GUID)
	}
	for _, g := range item.GUIDs {
		raw = append(raw, g.ID)
	}
	primary, external := identity.ParseGUIDs(raw)
	return Show{
		RatingKey: item.RatingKey,
		GUID:      primary,
		External:  external,
		Title:     item.Title,
		Year:      item.Year,
		Thumb:     item.Thumb,
	}
}

func decodeEpisode(item metadataResponse) Episode {
	primary, external := identity.ParseGUIDs([]string{item.GrandparentGUID})
	episode := Episode{
		RatingKey: item.RatingKey,
		Show: Show{
			RatingKey: item.GrandparentRatingKey,
			GUID:      primary,
			External:  external,
			Title:     item.GrandparentTitle,
			Thumb:     item.GrandparentThumb,
		},
		Season:  item.ParentIndex,
		Episode: item.Index,
		Title:   item.Title,
		Summary: item.Summary,
		Thumb:   item.Thumb,
	}
	if item.Thumb == "" {
		episode.Thumb = item.GrandparentThumb
	}
	if item.Duration > 0 {
		episode.DurationMins = int(item.Duration / 60000)
	}
	if item.AddedAt > 0 {
		episode.AddedAt = time.Unix(item.AddedAt, 0)
	}
	if item.OriginallyAvailableAt != "" {
		if aired, err := time.Parse("2006-01-02", item.OriginallyAvailableAt); err == nil {
			episode.AiredAt = aired
		}
	}
	return episode
}
