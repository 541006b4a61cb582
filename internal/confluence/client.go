// Package confluence provides a lightweight Confluence REST API client
// plus helpers to turn storage-format markup into hashable plain text.
package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kbsync/kbsync/internal/log"
)

const (
	// pageLimit is the page size used for paginated listing requests.
	pageLimit = 50

	// contentExpand requests everything change detection and Q&A
	// generation need in a single fetch.
	contentExpand = "body.storage,version,space,history.lastUpdated"
)

// Config holds the connection settings for a Confluence instance.
type Config struct {
	// BaseURL is the wiki root, e.g. "https://wiki.example.com".
	BaseURL string
	// Username and APIToken are used for basic auth.
	Username string
	APIToken string
	// SpaceKeys restricts Spaces() to the listed keys. Empty means all.
	SpaceKeys []string
}

// Client is a lightweight Confluence REST API client.
type Client struct {
	baseURL    string
	username   string
	token      string
	spaceKeys  []string
	httpClient *http.Client
	logger     log.Logger
}

// New creates a new Confluence API client.
func New(cfg Config, logger log.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("confluence base URL is required")
	}
	if cfg.Username == "" || cfg.APIToken == "" {
		return nil, fmt.Errorf("confluence credentials are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		username:  cfg.Username,
		token:     cfg.APIToken,
		spaceKeys: cfg.SpaceKeys,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}, nil
}

// Spaces lists wiki spaces, restricted to the configured space keys when set.
// Pagination is handled automatically.
func (c *Client) Spaces(ctx context.Context) ([]Space, error) {
	var all []Space
	start := 0

	for {
		reqURL := fmt.Sprintf("%s/rest/api/space?limit=%d&start=%d", c.baseURL, pageLimit, start)

		var resp spaceListResponse
		if err := c.makeRequest(ctx, http.MethodGet, reqURL, &resp); err != nil {
			return nil, fmt.Errorf("listing spaces: %w", err)
		}

		for _, s := range resp.Results {
			if c.spaceAllowed(s.Key) {
				all = append(all, Space{Key: s.Key, Name: s.Name})
			}
		}

		if len(resp.Results) < pageLimit {
			break
		}
		start += pageLimit
	}

	c.logger.Debug("confluence spaces listed", "count", len(all))
	return all, nil
}

// Pages lists all current pages of a space with body, version, space and
// last-updated expanded. Pagination is handled automatically.
func (c *Client) Pages(ctx context.Context, spaceKey string) ([]Page, error) {
	var all []Page
	start := 0

	for {
		reqURL := fmt.Sprintf("%s/rest/api/content?spaceKey=%s&type=page&status=current&expand=%s&limit=%d&start=%d",
			c.baseURL, url.QueryEscape(spaceKey), url.QueryEscape(contentExpand), pageLimit, start)

		var resp contentListResponse
		if err := c.makeRequest(ctx, http.MethodGet, reqURL, &resp); err != nil {
			return nil, fmt.Errorf("listing pages of space %s: %w", spaceKey, err)
		}

		for _, r := range resp.Results {
			all = append(all, r.toPage())
		}

		if len(resp.Results) < pageLimit {
			break
		}
		start += pageLimit
	}

	c.logger.Debug("confluence pages listed", "space", spaceKey, "count", len(all))
	return all, nil
}

// Page fetches a single page by ID with the same expansions as Pages.
// Used by the webhook path where only the page ID is known.
func (c *Client) Page(ctx context.Context, pageID string) (*Page, error) {
	reqURL := fmt.Sprintf("%s/rest/api/content/%s?expand=%s",
		c.baseURL, url.PathEscape(pageID), url.QueryEscape(contentExpand))

	var r contentResult
	if err := c.makeRequest(ctx, http.MethodGet, reqURL, &r); err != nil {
		return nil, fmt.Errorf("fetching page %s: %w", pageID, err)
	}

	page := r.toPage()
	return &page, nil
}

// PageURL returns the canonical view URL for a page, used in citations.
func (c *Client) PageURL(pageID string) string {
	return fmt.Sprintf("%s/pages/viewpage.action?pageId=%s", c.baseURL, pageID)
}

// spaceAllowed reports whether a space key passes the configured filter.
func (c *Client) spaceAllowed(key string) bool {
	if len(c.spaceKeys) == 0 {
		return true
	}
	for _, k := range c.spaceKeys {
		if k == key {
			return true
		}
	}
	return false
}

// makeRequest is a helper method to make HTTP requests to the Confluence API.
// Non-2xx responses are surfaced as errors with the response body included.
func (c *Client) makeRequest(ctx context.Context, method, reqURL string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(c.username, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("confluence API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
