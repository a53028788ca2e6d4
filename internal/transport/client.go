// Package transport implements the HTTP wire protocol between a replica and
// the authoritative sync server.
//
// Push:  POST {server}/sync/{table} with {client_id, items}.
// Pull:  GET  {server}/sync/{table}?since=<unix-seconds>&clientId=<id>.
//
// Any non-2xx response is a transport failure; the caller's local state must
// be left untouched so the operation is safely retryable.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang/snappy"

	"github.com/outpostdb/outpost/internal/record"
)

// PushRequest is the body of a push call.
type PushRequest struct {
	ClientID string              `json:"client_id"`
	Items    []record.SyncRecord `json:"items"`
}

// PullResponse is the body of a pull call. ServerTime is the authoritative
// clock reading the caller should adopt as its next watermark; zero means
// the server omitted it.
type PullResponse struct {
	Items      []record.SyncRecord `json:"items"`
	ServerTime int64               `json:"server_time"`
}

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, strings.TrimSpace(e.Body))
}

// Config holds client configuration.
type Config struct {
	// ServerURL is the base URL of the sync server, without trailing slash.
	ServerURL string

	// Timeout bounds each request. Zero means 30 seconds.
	Timeout time.Duration

	// Compress enables snappy compression of push bodies
	// (Content-Encoding: snappy).
	Compress bool

	// HTTPClient overrides the underlying client. Nil builds one from
	// Timeout.
	HTTPClient *http.Client

	// Logger for request activity. Nil means a stderr default.
	Logger *log.Logger
}

// Client speaks the sync wire protocol.
type Client struct {
	baseURL  string
	http     *http.Client
	compress bool
	logger   *log.Logger
}

// NewClient builds a client for the given configuration.
func NewClient(config Config) (*Client, error) {
	base := strings.TrimRight(config.ServerURL, "/")
	if base == "" {
		return nil, fmt.Errorf("server URL cannot be empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", config.ServerURL, err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		timeout := config.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[transport] ", log.LstdFlags)
	}

	return &Client{
		baseURL:  base,
		http:     httpClient,
		compress: config.Compress,
		logger:   logger,
	}, nil
}

// Push sends queued records for table to the server. The 2xx response body
// is opaque to this layer and returned to the caller as-is.
func (c *Client) Push(ctx context.Context, table string, push PushRequest) ([]byte, error) {
	body, err := json.Marshal(push)
	if err != nil {
		return nil, fmt.Errorf("failed to encode push request: %w", err)
	}

	encoding := ""
	if c.compress {
		body = snappy.Encode(nil, body)
		encoding = "snappy"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/sync/"+url.PathEscape(table), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if encoding != "" {
		req.Header.Set("Content-Encoding", encoding)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push to %s failed: %w", table, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read push response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
	}

	c.logger.Printf("Pushed %d records to %s", len(push.Items), table)
	return respBody, nil
}

// Pull fetches records for table updated since the given unix time.
func (c *Client) Pull(ctx context.Context, table string, since int64, clientID string) (PullResponse, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("clientId", clientID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/sync/"+url.PathEscape(table)+"?"+q.Encode(), nil)
	if err != nil {
		return PullResponse{}, fmt.Errorf("failed to build pull request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return PullResponse{}, fmt.Errorf("pull from %s failed: %w", table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		return PullResponse{}, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var pull PullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pull); err != nil {
		return PullResponse{}, fmt.Errorf("failed to decode pull response: %w", err)
	}

	c.logger.Printf("Pulled %d records from %s (since=%d)", len(pull.Items), table, since)
	return pull, nil
}
