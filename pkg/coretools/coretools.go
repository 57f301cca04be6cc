// Package coretools bundles the built-in tools shipped with the process:
// a clock, an id generator and a small HTTP fetcher. They register into the
// dispatch registry and surface through the tool catalog.
package coretools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/mirelabs/conductor/pkg/dispatch"
	"github.com/mirelabs/conductor/pkg/toolset"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultFetchMaxBytes = 256 * 1024
	defaultIdentSize     = 21
)

// Factories returns the name→factory map for the built-in tools, ready to
// merge into a dispatch registry.
func Factories() map[string]dispatch.Factory {
	return map[string]dispatch.Factory{
		"clock":      func(config map[string]interface{}) (dispatch.Tool, error) { return &clockTool{config: config}, nil },
		"ident":      func(map[string]interface{}) (dispatch.Tool, error) { return &identTool{}, nil },
		"http_fetch": newFetchTool,
	}
}

// Catalog exposes the built-in tools as catalog definitions for the
// resolver.
type Catalog struct{}

// CatalogTool returns the definition for a built-in tool id, or nil when
// the id is unknown.
func (Catalog) CatalogTool(_ context.Context, id string) (*toolset.Definition, error) {
	defs := map[string]*toolset.Definition{
		"clock": {
			Name:        "clock",
			Description: "Returns the current date and time.",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"timezone": map[string]interface{}{
						"type":        "string",
						"description": "IANA timezone name, e.g. Europe/Paris. Defaults to UTC.",
					},
				},
			},
		},
		"ident": {
			Name:        "ident",
			Description: "Generates short unique identifiers.",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"count": map[string]interface{}{
						"type":        "number",
						"description": "How many ids to generate (1-100). Defaults to 1.",
					},
					"size": map[string]interface{}{
						"type":        "number",
						"description": "Length of each id. Defaults to 21.",
					},
				},
			},
		},
		"http_fetch": {
			Name:        "http_fetch",
			Description: "Fetches a URL over HTTP GET and returns status and body text.",
			Guidance:    "Only fetch URLs the user provided or clearly implied.",
			Schema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"url": map[string]interface{}{
						"type":        "string",
						"description": "Absolute http(s) URL to fetch.",
					},
				},
				"required": []interface{}{"url"},
			},
		},
	}

	return defs[id], nil
}

type clockTool struct {
	config map[string]interface{}
}

func (c *clockTool) Execute(_ context.Context, _ string, params map[string]interface{}) (interface{}, error) {
	loc := time.UTC

	tz, _ := params["timezone"].(string)
	if tz == "" {
		tz, _ = c.config["timezone"].(string)
	}
	if tz != "" {
		parsed, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q", tz)
		}
		loc = parsed
	}

	now := time.Now().In(loc)
	return map[string]interface{}{
		"iso":      now.Format(time.RFC3339),
		"readable": now.Format(time.RFC1123),
		"timezone": loc.String(),
		"unix_ms":  now.UnixMilli(),
	}, nil
}

type identTool struct{}

func (identTool) Execute(_ context.Context, _ string, params map[string]interface{}) (interface{}, error) {
	count := 1
	if n, ok := params["count"].(float64); ok {
		count = int(n)
	}
	if count < 1 || count > 100 {
		return nil, fmt.Errorf("count must be between 1 and 100")
	}

	size := defaultIdentSize
	if n, ok := params["size"].(float64); ok {
		size = int(n)
	}
	if size < 2 || size > 64 {
		return nil, fmt.Errorf("size must be between 2 and 64")
	}

	ids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		id, err := gonanoid.New(size)
		if err != nil {
			return nil, fmt.Errorf("failed to generate id: %w", err)
		}
		ids = append(ids, id)
	}

	return map[string]interface{}{"ids": ids}, nil
}

type fetchTool struct {
	client   *http.Client
	headers  map[string]string
	maxBytes int64
}

func newFetchTool(config map[string]interface{}) (dispatch.Tool, error) {
	timeout := defaultFetchTimeout
	if secs, ok := config["timeout_seconds"].(float64); ok && secs > 0 {
		timeout = time.Duration(secs * float64(time.Second))
	}

	maxBytes := int64(defaultFetchMaxBytes)
	if n, ok := config["max_bytes"].(float64); ok && n > 0 {
		maxBytes = int64(n)
	}

	headers := map[string]string{}
	if raw, ok := config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}
	// Refreshed credentials from the config merge become a bearer header.
	if token, ok := config["access_token"].(string); ok && token != "" {
		headers["Authorization"] = "Bearer " + token
	}

	return &fetchTool{
		client:   &http.Client{Timeout: timeout},
		headers:  headers,
		maxBytes: maxBytes,
	}, nil
}

func (f *fetchTool) Execute(ctx context.Context, _ string, params map[string]interface{}) (interface{}, error) {
	url, _ := params["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("url is required")
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("url must be http or https")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}
	for k, v := range f.headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return map[string]interface{}{
		"status":       resp.StatusCode,
		"content_type": resp.Header.Get("Content-Type"),
		"body":         string(body),
		"truncated":    int64(len(body)) == f.maxBytes,
	}, nil
}
