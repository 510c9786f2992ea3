// Package staging talks to the tabular staging store that sits between the
// listings provider and the publishing target: flattened property rows keyed
// by external_id and agent rows keyed by person_id.
package staging

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

// Actions reported by upsert operations.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

// ErrMissingConfig is returned when the client cannot be constructed.
var ErrMissingConfig = errors.New("staging client configuration incomplete")

// Record is one staging-store row.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Int reads an integer column.
func (r Record) Int(field string) (int, bool) {
	switch v := r.Fields[field].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

// Text reads a string column.
func (r Record) Text(field string) string {
	s, _ := r.Fields[field].(string)
	return s
}

// Strings reads a string-list column. Columns arrive as []any after a JSON
// round trip and as []string when set in-process.
func (r Record) Strings(field string) []string {
	switch raw := r.Fields[field].(type) {
	case []string:
		return raw
	case []any:
		out := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

type listResponse struct {
	Records []Record `json:"records"`
	Offset  string   `json:"offset,omitempty"`
}

// Client is the staging-store REST client.
type Client struct {
	baseURL         string
	baseID          string
	token           string
	propertiesTable string
	agentsTable     string
	client          *http.Client
	logger          logger.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg config.StagingConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, ErrMissingConfig
	}

	return &Client{
		baseURL:         cfg.BaseURL,
		baseID:          cfg.BaseID,
		token:           cfg.Token,
		propertiesTable: cfg.PropertiesTable,
		agentsTable:     cfg.AgentsTable,
		client:          httpx.NewClient(cfg.Timeout),
		logger:          log,
	}, nil
}

func (c *Client) tableURL(table string) string {
	return fmt.Sprintf("%s/%s/%s", c.baseURL, c.baseID, url.PathEscape(table))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
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
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("staging store status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}

// listTable drains one table through offset pagination. Reads are retried.
func (c *Client) listTable(ctx context.Context, table string) ([]Record, error) {
	var records []Record
	offset := ""

	for {
		endpoint := c.tableURL(table)
		if offset != "" {
			endpoint += "?offset=" + url.QueryEscape(offset)
		}

		var page listResponse
		err := retry.DoWithDefaults(ctx, func() error {
			page = listResponse{}
			return c.do(ctx, http.MethodGet, endpoint, nil, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", table, err)
		}

		records = append(records, page.Records...)
		if page.Offset == "" {
			return records, nil
		}
		offset = page.Offset
	}
}

// ListProperties returns every staged property row.
func (c *Client) ListProperties(ctx context.Context) ([]Record, error) {
	return c.listTable(ctx, c.propertiesTable)
}

// ListAgents returns every staged agent row.
func (c *Client) ListAgents(ctx context.Context) ([]Record, error) {
	return c.listTable(ctx, c.agentsTable)
}

// findByField looks up at most one row where an integer column equals value.
func (c *Client) findByField(ctx context.Context, table, field string, value int) (*Record, error) {
	query := url.Values{
		"filterByFormula": {fmt.Sprintf("{%s}=%d", field, value)},
		"maxRecords":      {"1"},
	}
	endpoint := c.tableURL(table) + "?" + query.Encode()

	var page listResponse
	err := retry.DoWithDefaults(ctx, func() error {
		page = listResponse{}
		return c.do(ctx, http.MethodGet, endpoint, nil, &page)
	})
	if err != nil {
		return nil, fmt.Errorf("find %s by %s=%d: %w", table, field, value, err)
	}

	if len(page.Records) == 0 {
		return nil, nil
	}
	return &page.Records[0], nil
}

func (c *Client) upsert(ctx context.Context, table, keyField string, keyValue int, fields map[string]any) (string, error) {
	existing, err := c.findByField(ctx, table, keyField, keyValue)
	if err != nil {
		return "", err
	}

	body := map[string]any{"fields": fields}

	if existing != nil {
		endpoint := c.tableURL(table) + "/" + url.PathEscape(existing.ID)
		if writeErr := c.do(ctx, http.MethodPatch, endpoint, body, nil); writeErr != nil {
			return "", fmt.Errorf("update %s %s=%d: %w", table, keyField, keyValue, writeErr)
		}
		return ActionUpdated, nil
	}

	if writeErr := c.do(ctx, http.MethodPost, c.tableURL(table), body, nil); writeErr != nil {
		return "", fmt.Errorf("create %s %s=%d: %w", table, keyField, keyValue, writeErr)
	}
	return ActionCreated, nil
}

// UpsertProperty writes a property row keyed by external_id.
func (c *Client) UpsertProperty(ctx context.Context, externalID int, fields map[string]any) (string, error) {
	return c.upsert(ctx, c.propertiesTable, "external_id", externalID, fields)
}

// UpsertAgent writes an agent row keyed by person_id.
func (c *Client) UpsertAgent(ctx context.Context, personID int, fields map[string]any) (string, error) {
	return c.upsert(ctx, c.agentsTable, "person_id", personID, fields)
}

// DeleteProperty removes the row for an external id. A missing row is not an
// error; the desired end state already holds.
func (c *Client) DeleteProperty(ctx context.Context, externalID int) (bool, error) {
	existing, err := c.findByField(ctx, c.propertiesTable, "external_id", externalID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	endpoint := c.tableURL(c.propertiesTable) + "/" + url.PathEscape(existing.ID)
	if delErr := c.do(ctx, http.MethodDelete, endpoint, nil, nil); delErr != nil {
		return false, fmt.Errorf("delete property %d: %w", externalID, delErr)
	}

	c.logger.Info("Removed staged property",
		logger.Int("external_id", externalID),
		logger.String("record_id", existing.ID),
	)
	return true, nil
}
