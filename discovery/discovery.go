// Package discovery implements the endpoint discovery HTTP client (C2): a
// small client that resolves the transport endpoint URL and enumerates
// targets over the remote debugging HTTP surface.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/use-agent/pilot/models"
)

// VersionInfo is the document returned by GET /json/version.
type VersionInfo struct {
	Browser          string `json:"Browser"`
	ProtocolVersion  string `json:"Protocol-Version"`
	WebSocketDebugURL string `json:"webSocketDebuggerUrl"`
}

// TargetInfo is one entry returned by GET /json/list.
type TargetInfo struct {
	ID                   string `json:"id"`
	Type                 string `json:"type"`
	Title                string `json:"title"`
	URL                  string `json:"url"`
	WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
}

// Client is the discovery HTTP client for one remote debugging endpoint.
// Target listings are cached briefly (see Cache) so a burst of concurrent
// attach/resolve calls does not each hit the discovery HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *Cache
}

// New creates a Client for the given host:port. Target listings are cached
// for up to 2 seconds, invalidated by any call to InvalidateTargets.
func New(host string, port int) *Client {
	return &Client{
		baseURL: fmt.Sprintf("http://%s:%d", host, port),
		http:    &http.Client{},
		cache:   NewCache(2 * time.Second),
	}
}

// InvalidateTargets drops the cached target listing, forcing the next
// GetTargets call to hit the discovery HTTP surface.
func (c *Client) InvalidateTargets() {
	c.cache.Invalidate()
}

// GetVersion reads /json/version.
func (c *Client) GetVersion(ctx context.Context) (*VersionInfo, error) {
	var v VersionInfo
	if err := c.getJSON(ctx, "/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// GetTargets reads /json/list, serving a cached listing when one is still
// fresh.
func (c *Client) GetTargets(ctx context.Context) ([]TargetInfo, error) {
	if targets, ok := c.cache.Get(); ok {
		return targets, nil
	}
	var targets []TargetInfo
	if err := c.getJSON(ctx, "/json/list", &targets); err != nil {
		return nil, err
	}
	c.cache.Set(targets)
	return targets, nil
}

// FindPageByURL filters targets of type "page" whose URL matches pattern,
// first as a regular expression, falling back to a substring match if the
// pattern does not compile.
func (c *Client) FindPageByURL(ctx context.Context, pattern string) (*TargetInfo, error) {
	targets, err := c.GetTargets(ctx)
	if err != nil {
		return nil, err
	}

	re, reErr := regexp.Compile(pattern)
	for i := range targets {
		t := &targets[i]
		if t.Type != "page" {
			continue
		}
		matched := false
		if reErr == nil {
			matched = re.MatchString(t.URL)
		} else {
			matched = strings.Contains(t.URL, pattern)
		}
		if matched {
			return t, nil
		}
	}
	return nil, models.NewDriverError(models.ErrDiscovery, fmt.Sprintf("no page target matching %q", pattern), nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return models.NewDriverError(models.ErrDiscovery, "build request", err).WithOp(path)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return models.NewDriverError(models.ErrDiscovery, "discovery request timed out", ctx.Err()).WithOp(path)
		}
		return models.NewDriverError(models.ErrDiscovery, "request failed", err).WithOp(path)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.NewDriverError(models.ErrDiscovery, fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).WithOp(path)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return models.NewDriverError(models.ErrDiscovery, "decode response", err).WithOp(path)
	}
	return nil
}
