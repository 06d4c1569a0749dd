package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	v1 "github.com/aevon-lab/event-aggregator/internal/api/v1"
)

const maxErrorBodySize = 512

// BatchResult is the subset of the /publish/batch response the publisher reads.
type BatchResult struct {
	Count      int    `json:"count"`
	Processed  int    `json:"processed"`
	Duplicates int    `json:"duplicates"`
	Mode       string `json:"mode"`
}

// StatsResult is the subset of the /stats response the publisher reports.
type StatsResult struct {
	ReceivedCount         int64   `json:"received_count"`
	UniqueProcessedCount  int64   `json:"unique_processed_count"`
	DuplicateDroppedCount int64   `json:"duplicate_dropped_count"`
	TopicsCount           int64   `json:"topics_count"`
	DuplicateRatio        string  `json:"duplicate_ratio"`
	QueueLength           int64   `json:"queue_length"`
	UptimeSeconds         float64 `json:"uptime_seconds"`
}

// Client talks to the aggregator's HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Healthy reports whether /health answered 200.
func (c *Client) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

// PublishBatch posts events to /publish/batch. Both 200 (direct) and 202
// (queued) count as success.
func (c *Client) PublishBatch(ctx context.Context, events []v1.RawEvent) (*BatchResult, error) {
	body, err := json.Marshal(struct {
		Events []v1.RawEvent `json:"events"`
	}{Events: events})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/publish/batch", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var result BatchResult
	if err := c.do(req, &result, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Stats(ctx context.Context) (*StatsResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}

	var result StatsResult
	if err := c.do(req, &result, http.StatusOK); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) do(req *http.Request, dst interface{}, okCodes ...int) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	for _, code := range okCodes {
		if resp.StatusCode == code {
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return fmt.Errorf("failed to decode %s response: %w", req.URL.Path, err)
			}
			return nil
		}
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, bytes.TrimSpace(snippet))
}
