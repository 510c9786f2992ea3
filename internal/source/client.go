// Package source talks to the upstream listings provider: paged property
// search, full-detail fetches, the person directory, and the vocabulary
// tables the dictionary resolver consumes.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/immoflow/propsync/internal/config"
	"github.com/immoflow/propsync/internal/httpx"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/retry"
)

var (
	// ErrMissingConfig is returned when the client cannot be constructed.
	ErrMissingConfig = errors.New("source client configuration incomplete")
)

// VocabEntry is one row of an id->label vocabulary table.
type VocabEntry struct {
	ID     int            `json:"id"`
	Name   LocalizedLabel `json:"name"`
	Active *bool          `json:"active,omitempty"`
	Zip    string         `json:"zip,omitempty"`
}

// LocalizedLabel carries the upstream's localized names.
type LocalizedLabel struct {
	NL string `json:"nl"`
	EN string `json:"en"`
}

// Label picks the Dutch name, falling back to English, then "Unknown".
func (e VocabEntry) Label() string {
	if e.Name.NL != "" {
		return e.Name.NL
	}
	if e.Name.EN != "" {
		return e.Name.EN
	}
	return "Unknown"
}

// Client is the authenticated listings-provider client.
type Client struct {
	baseURL  string
	clientID string
	serverID string
	apiKey   string
	language string
	client   *http.Client
	logger   logger.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg config.SourceConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.APIKey == "" {
		return nil, ErrMissingConfig
	}

	return &Client{
		baseURL:  cfg.BaseURL,
		clientID: cfg.ClientID,
		serverID: cfg.ServerID,
		apiKey:   cfg.APIKey,
		language: cfg.Language,
		client:   httpx.NewClient(cfg.Timeout),
		logger:   log,
	}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("client_id", c.clientID)
	req.Header.Set("server_id", c.serverID)
	req.Header.Set("api_key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Language", c.language)
	req.Header.Set("Content-Type", "application/json")
}

func (c *Client) doJSON(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("source API status %d: %s", resp.StatusCode, string(raw))
	}

	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}

// SearchPage requests one page of the listings feed. The search is not
// filtered on publish flags: a listing whose flags flipped off must still
// arrive so the eligibility gate can remove its staged and published rows.
// A non-2xx response is an error; pagination must not continue past a
// failed page.
func (c *Client) SearchPage(ctx context.Context, page, pageSize int) (Page, error) {
	body := map[string]any{
		"paging": map[string]any{
			"page":      page,
			"page_size": pageSize,
		},
		"sorting": []map[string]any{
			{"field": "id", "direction": "asc"},
		},
	}

	var raw any
	err := retry.DoWithDefaults(ctx, func() error {
		raw = nil
		return c.doJSON(ctx, http.MethodPost, c.baseURL+"/property/search", body, &raw)
	})
	if err != nil {
		return Page{}, fmt.Errorf("fetch page %d: %w", page, err)
	}

	parsed, err := ParsePage(raw)
	if err != nil {
		return Page{}, fmt.Errorf("page %d: %w", page, err)
	}
	return parsed, nil
}

// PropertyByID fetches the full detail record for one listing. The search
// feed returns summaries only.
func (c *Client) PropertyByID(ctx context.Context, id int) (Record, error) {
	var rec Record
	err := retry.DoWithDefaults(ctx, func() error {
		rec = nil
		return c.doJSON(ctx, http.MethodGet, fmt.Sprintf("%s/property/%d", c.baseURL, id), nil, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch property %d: %w", id, err)
	}
	return rec, nil
}

// Agents fetches the person directory.
func (c *Client) Agents(ctx context.Context) ([]Record, error) {
	var raw any
	err := retry.DoWithDefaults(ctx, func() error {
		raw = nil
		return c.doJSON(ctx, http.MethodGet, c.baseURL+"/person", nil, &raw)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch agents: %w", err)
	}

	page, parseErr := ParsePage(raw)
	if parseErr != nil {
		return nil, fmt.Errorf("agents: %w", parseErr)
	}
	return page.Items, nil
}

// Vocabulary fetches an id->label table by endpoint path, for example
// "property/facilities" or "property/layouts".
func (c *Client) Vocabulary(ctx context.Context, path string) ([]VocabEntry, error) {
	var entries []VocabEntry
	err := retry.DoWithDefaults(ctx, func() error {
		entries = nil
		return c.doJSON(ctx, http.MethodGet, c.baseURL+"/"+path, nil, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch vocabulary %s: %w", path, err)
	}
	return entries, nil
}

// Cities fetches the city table for one country.
func (c *Client) Cities(ctx context.Context, countryID int) ([]VocabEntry, error) {
	endpoint := fmt.Sprintf("%s/geo/cities?%s", c.baseURL,
		url.Values{"country_id": {fmt.Sprint(countryID)}}.Encode())

	var entries []VocabEntry
	err := retry.DoWithDefaults(ctx, func() error {
		entries = nil
		return c.doJSON(ctx, http.MethodGet, endpoint, nil, &entries)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch cities for country %d: %w", countryID, err)
	}
	return entries, nil
}
