// Package cms is the Publishing Target client: a collection-based CMS where
// every entity type lives in its own collection and items carry a slug plus
// a free-form field-data payload.
package cms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/immoflow/propsync/internal/config"
	"github.com/immoflow/propsync/internal/httpx"
	"github.com/immoflow/propsync/internal/logger"
	"github.com/immoflow/propsync/internal/retry"
)

// listLimit is the page size used when draining a collection.
const listLimit = 100

// ErrMissingConfig is returned when the client cannot be constructed.
var ErrMissingConfig = errors.New("cms client configuration incomplete")

// Item is one collection item.
type Item struct {
	ID        string         `json:"id"`
	FieldData map[string]any `json:"fieldData"`
}

// Slug returns the item's natural key field, empty when absent.
func (i Item) Slug() string {
	s, _ := i.FieldData["slug"].(string)
	return s
}

// Field describes one collection field.
type Field struct {
	Slug string `json:"slug"`
	Type string `json:"type"`
}

type itemsResponse struct {
	Items []Item `json:"items"`
	Total int    `json:"total"`
}

type collectionResponse struct {
	Fields []Field `json:"fields"`
}

// Client is the CMS REST client.
type Client struct {
	baseURL string
	token   string
	siteID  string
	client  *http.Client
	logger  logger.Logger
}

// NewClient validates the configuration and builds a client.
func NewClient(cfg config.CMSConfig, log logger.Logger) (*Client, error) {
	if cfg.BaseURL == "" || cfg.Token == "" {
		return nil, ErrMissingConfig
	}

	return &Client{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		siteID:  cfg.SiteID,
		client:  httpx.NewClient(cfg.Timeout),
		logger:  log,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("cms status %d: %s", resp.StatusCode, string(raw))
	}

	if out == nil {
		return nil
	}
	if decodeErr := json.NewDecoder(resp.Body).Decode(out); decodeErr != nil {
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	return nil
}

// CollectionFields returns the field slugs a collection accepts, used to
// warn about payload keys the collection would silently drop.
func (c *Client) CollectionFields(ctx context.Context, collectionID string) (map[string]Field, error) {
	var out collectionResponse
	err := retry.DoWithDefaults(ctx, func() error {
		out = collectionResponse{}
		return c.do(ctx, http.MethodGet, "/collections/"+url.PathEscape(collectionID), nil, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("collection fields %s: %w", collectionID, err)
	}

	fields := make(map[string]Field, len(out.Fields))
	for _, f := range out.Fields {
		fields[f.Slug] = f
	}
	return fields, nil
}

// ListItems drains a collection through limit/offset pagination. Reads are
// retried.
func (c *Client) ListItems(ctx context.Context, collectionID string) ([]Item, error) {
	var items []Item

	for offset := 0; ; offset += listLimit {
		path := fmt.Sprintf("/collections/%s/items?limit=%d&offset=%d",
			url.PathEscape(collectionID), listLimit, offset)

		var page itemsResponse
		err := retry.DoWithDefaults(ctx, func() error {
			page = itemsResponse{}
			return c.do(ctx, http.MethodGet, path, nil, &page)
		})
		if err != nil {
			return nil, fmt.Errorf("list collection %s: %w", collectionID, err)
		}

		items = append(items, page.Items...)
		if len(page.Items) < listLimit {
			return items, nil
		}
		if page.Total > 0 && len(items) >= page.Total {
			return items, nil
		}
	}
}

// CreateItem creates a collection item and returns it with its assigned id.
func (c *Client) CreateItem(ctx context.Context, collectionID string, fieldData map[string]any) (Item, error) {
	var out Item
	path := "/collections/" + url.PathEscape(collectionID) + "/items"
	if err := c.do(ctx, http.MethodPost, path, map[string]any{"fieldData": fieldData}, &out); err != nil {
		return Item{}, fmt.Errorf("create item in %s: %w", collectionID, err)
	}
	return out, nil
}

// UpdateItem patches an existing item's field data.
func (c *Client) UpdateItem(ctx context.Context, collectionID, itemID string, fieldData map[string]any) error {
	path := "/collections/" + url.PathEscape(collectionID) + "/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodPatch, path, map[string]any{"fieldData": fieldData}, nil); err != nil {
		return fmt.Errorf("update item %s in %s: %w", itemID, collectionID, err)
	}
	return nil
}

// DeleteItem removes an item from a collection.
func (c *Client) DeleteItem(ctx context.Context, collectionID, itemID string) error {
	path := "/collections/" + url.PathEscape(collectionID) + "/items/" + url.PathEscape(itemID)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("delete item %s from %s: %w", itemID, collectionID, err)
	}
	return nil
}

// PublishSite triggers a site publish scoped to the given collections. The
// primary route takes the collection ids; older deployments reject that
// body, so a 400/404 falls back to a bare publish of the whole site. Best
// effort either way.
func (c *Client) PublishSite(ctx context.Context, collectionIDs []string) error {
	if c.siteID == "" {
		return nil
	}
	path := "/sites/" + url.PathEscape(c.siteID) + "/publish"

	err := c.do(ctx, http.MethodPost, path, map[string]any{"collectionIds": collectionIDs}, nil)
	if err == nil {
		return nil
	}

	if !isClientRejection(err) {
		return fmt.Errorf("publish site: %w", err)
	}

	c.logger.Warn("Scoped site publish rejected, falling back to full publish",
		logger.Error(err),
	)
	if fallbackErr := c.do(ctx, http.MethodPost, path, nil, nil); fallbackErr != nil {
		return fmt.Errorf("publish site (fallback): %w", fallbackErr)
	}
	return nil
}

func isClientRejection(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "status 400") || strings.Contains(msg, "status 404")
}
