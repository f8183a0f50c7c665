package tautulli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"telecast/internal/config"
)

// maxHistoryPages bounds pagination against a server that keeps reporting
// more records than it returns.
const maxHistoryPages = 1000

// Client defines the watch-history operations the notifier depends on.
type Client interface {
	Users(ctx context.Context) ([]User, error)
	History(ctx context.Context, query HistoryQuery) ([]HistoryRecord, error)
}

// HistoryQuery filters a history fetch. UserID is required; ShowRatingKey
// narrows results to one series.
type HistoryQuery struct {
	UserID        int64
	ShowRatingKey string
}

// HTTPDoer abstracts http.Client.Do for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

type httpClient struct {
	baseURL    string
	apiKey     string
	pageLength int
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

// New creates a Tautulli client from configuration.
func New(cfg config.Tautulli, pageLength int, opts ...Option) (Client, error) {
	baseURL := strings.TrimSpace(cfg.URL)
	if baseURL == "" {
		return nil, errors.New("tautulli url required")
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("tautulli api key required")
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if pageLength <= 0 {
		pageLength = 100
	}
	client := &httpClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		pageLength: pageLength,
		client:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Users lists the accounts Tautulli tracks.
func (c *httpClient) Users(ctx context.Context) ([]User, error) {
	raw, err := c.call(ctx, "get_users", nil)
	if err != nil {
		return nil, err
	}
	var entries []userEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	users := make([]User, 0, len(entries))
	for _, entry := range entries {
		users = append(users, User{
			UserID:   entry.UserID.Int64(),
			Username: entry.Username.String(),
			Email:    entry.Email.String(),
			Active:   entry.IsActive.Bool(),
		})
	}
	return users, nil
}

// History fetches every playback record matching the query, walking the
// paginated endpoint until recordsFiltered is exhausted.
func (c *httpClient) History(ctx context.Context, query HistoryQuery) ([]HistoryRecord, error) {
	if query.UserID == 0 {
		return nil, errors.New("user id required")
	}

	var records []HistoryRecord
	start := 0
	for page := 0; page < maxHistoryPages; page++ {
		params := url.Values{}
		params.Set("user_id", strconv.FormatInt(query.UserID, 10))
		params.Set("media_type", "episode")
		params.Set("start", strconv.Itoa(start))
		params.Set("length", strconv.Itoa(c.pageLength))
		if query.ShowRatingKey != "" {
			params.Set("grandparent_rating_key", query.ShowRatingKey)
		}

		raw, err := c.call(ctx, "get_history", params)
		if err != nil {
			return nil, err
		}
		var data historyData
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode history page at %d: %w", start, err)
		}
		for _, entry := range data.Data {
			records = append(records, entry.record())
		}

		total := data.RecordsFiltered.Int()
		start += len(data.Data)
		if len(data.Data) == 0 || start >= total {
			return records, nil
		}
	}
	return records, nil
}

func (c *httpClient) call(ctx context.Context, cmd string, params url.Values) (json.RawMessage, error) {
	endpoint, err := url.Parse(c.baseURL + "/api/v2")
	if err != nil {
		return nil, fmt.Errorf("parse tautulli url: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("apikey", c.apiKey)
	params.Set("cmd", cmd)
	endpoint.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tautulli %s returned %d", cmd, resp.StatusCode)
	}
	var payload apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tautulli response: %w", err)
	}
	if payload.Response.Result != "success" {
		return nil, fmt.Errorf("tautulli %s failed: %s", cmd, payload.Response.Message)
	}
	return payload.Response.Data, nil
}
