// Package opensearch is a minimal REST client covering what the ingest
// gateway and the alert daemon need: bulk indexing, search, node fs
// stats and index settings.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Susbonk/SusBonk-V1/internal/domain"
	"github.com/Susbonk/SusBonk-V1/internal/pkg/httpretry"
)

const requestTimeout = 30 * time.Second

// Client talks to one OpenSearch cluster. Transient 5xx and 429
// responses are retried with backoff before an error is reported.
type Client struct {
	baseURL string
	hc      httpretry.Doer
}

// NewClient creates a client for the cluster at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      httpretry.New(&http.Client{Timeout: requestTimeout}, 2),
	}
}

// IndexName renders the daily index for a service, UTC-dated.
func IndexName(service string, t time.Time) string {
	return fmt.Sprintf("logs-%s-%s", service, t.UTC().Format("2006.01.02"))
}

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		Status int `json:"status"`
		Error  any `json:"error,omitempty"`
	} `json:"items"`
}

// BulkIndex writes events via the _bulk API, routing each event to the
// daily index of its service. Returns the number of documents indexed;
// any rejected item fails the whole call.
func (c *Client) BulkIndex(ctx context.Context, events []domain.LogEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	now := time.Now()
	var buf bytes.Buffer
	for _, ev := range events {
		ts := now
		if ev.Timestamp != nil {
			ts = *ev.Timestamp
		}
		action := map[string]map[string]string{
			"index": {"_index": IndexName(ev.ServiceName(), ts)},
		}
		actionLine, err := json.Marshal(action)
		if err != nil {
			return 0, fmt.Errorf("marshal bulk action: %w", err)
		}
		docLine, err := json.Marshal(ev)
		if err != nil {
			return 0, fmt.Errorf("marshal event: %w", err)
		}
		buf.Write(actionLine)
		buf.WriteByte('\n')
		buf.Write(docLine)
		buf.WriteByte('\n')
	}

	body, err := c.do(ctx, http.MethodPost, "/_bulk", "application/x-ndjson", buf.Bytes())
	if err != nil {
		return 0, err
	}

	var resp bulkResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("parse bulk response: %w", err)
	}
	if resp.Errors {
		failed := 0
		for _, item := range resp.Items {
			for _, op := range item {
				if op.Status >= 400 {
					failed++
				}
			}
		}
		return 0, fmt.Errorf("bulk indexing rejected %d of %d documents", failed, len(events))
	}
	return len(events), nil
}

// Hit is one search result document.
type Hit struct {
	Source json.RawMessage `json:"_source"`
}

// SearchResult is the subset of the search response the alert checks use.
type SearchResult struct {
	Hits struct {
		Total struct {
			Value int `json:"value"`
		} `json:"total"`
		Hits []Hit `json:"hits"`
	} `json:"hits"`
}

// Search runs a query against an index pattern.
func (c *Client) Search(ctx context.Context, index string, query map[string]interface{}) (*SearchResult, error) {
	payload, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, "/"+index+"/_search", "application/json", payload)
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("parse search response: %w", err)
	}
	return &result, nil
}

// NodeFS holds one node's filesystem totals.
type NodeFS struct {
	Name           string
	TotalBytes     int64
	FreeBytes      int64
	AvailableBytes int64
}

// FreeGB returns the space available to allocations, in gigabytes.
func (n NodeFS) FreeGB() float64 {
	return float64(n.AvailableBytes) / (1024 * 1024 * 1024)
}

// FreePct returns the available space percentage, 0 when total is unknown.
func (n NodeFS) FreePct() float64 {
	if n.TotalBytes == 0 {
		return 0
	}
	return float64(n.AvailableBytes) / float64(n.TotalBytes) * 100
}

type nodesStatsResponse struct {
	Nodes map[string]struct {
		Name string `json:"name"`
		FS   struct {
			Total struct {
				TotalInBytes     int64 `json:"total_in_bytes"`
				FreeInBytes      int64 `json:"free_in_bytes"`
				AvailableInBytes int64 `json:"available_in_bytes"`
			} `json:"total"`
		} `json:"fs"`
	} `json:"nodes"`
}

// NodesFSStats returns per-node filesystem totals from _nodes/stats/fs.
func (c *Client) NodesFSStats(ctx context.Context) ([]NodeFS, error) {
	body, err := c.do(ctx, http.MethodGet, "/_nodes/stats/fs", "", nil)
	if err != nil {
		return nil, err
	}

	var resp nodesStatsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse nodes stats: %w", err)
	}

	var nodes []NodeFS
	for _, n := range resp.Nodes {
		nodes = append(nodes, NodeFS{
			Name:           n.Name,
			TotalBytes:     n.FS.Total.TotalInBytes,
			FreeBytes:      n.FS.Total.FreeInBytes,
			AvailableBytes: n.FS.Total.AvailableInBytes,
		})
	}
	return nodes, nil
}

// IndexSettings returns the raw settings document per matching index.
func (c *Client) IndexSettings(ctx context.Context, pattern string) (map[string]json.RawMessage, error) {
	body, err := c.do(ctx, http.MethodGet, "/"+pattern+"/_settings", "", nil)
	if err != nil {
		return nil, err
	}

	var settings map[string]json.RawMessage
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, fmt.Errorf("parse index settings: %w", err)
	}
	return settings, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opensearch %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("opensearch %s %s: HTTP %d: %s", method, path, resp.StatusCode, truncate(body, 500))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
