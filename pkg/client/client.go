// Package client talks to a running searchlog worker over HTTP.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"

	"github.com/thebtf/searchlog/internal/config"
	"github.com/thebtf/searchlog/pkg/models"
)

// DefaultTimeout bounds every request made by a Client.
const DefaultTimeout = 2 * time.Second

// StatusError is returned when the worker answers with an unexpected status.
type StatusError struct {
	Message string
	Code    int
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("worker returned %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("worker returned %d", e.Code)
}

// Client is a thin HTTP client for the worker API.
type Client struct {
	http    *http.Client
	baseURL string
}

// New creates a client for baseURL, e.g. "http://127.0.0.1:37790".
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// ForPort creates a client for a worker on the loopback interface.
func ForPort(port int) *Client {
	return New(fmt.Sprintf("http://%s:%d", config.DefaultWorkerHost, port), DefaultTimeout)
}

// Default creates a client for the configured worker port.
func Default() *Client {
	return ForPort(config.GetWorkerPort())
}

// IsRunning reports whether the worker answers its health check.
func (c *Client) IsRunning(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/api/health", nil)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// Version returns the worker version, or "" if it cannot be determined.
func (c *Client) Version(ctx context.Context) string {
	var body struct {
		Version string `json:"version"`
	}
	if err := c.getJSON(ctx, "/api/version", &body); err != nil {
		return ""
	}
	return body.Version
}

// Record schedules a debounced history write for userID.
func (c *Client) Record(ctx context.Context, userID, query string, filters models.Filters, resultCount *int) error {
	payload, err := json.Marshal(struct {
		Filters     models.Filters `json:"filters,omitempty"`
		ResultCount *int           `json:"result_count,omitempty"`
		Query       string         `json:"query"`
	}{Filters: filters, ResultCount: resultCount, Query: query})
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, historyPath(userID), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expect(resp, http.StatusAccepted)
}

// Recent returns up to limit of the user's newest entries. A limit of zero
// uses the worker default.
func (c *Client) Recent(ctx context.Context, userID string, limit int) ([]models.HistoryEntry, error) {
	var entries []models.HistoryEntry
	if err := c.getJSON(ctx, withLimit(historyPath(userID), limit), &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Suggestions returns the user's past queries starting with prefix.
func (c *Client) Suggestions(ctx context.Context, userID, prefix string) ([]string, error) {
	var out []string
	path := historyPath(userID) + "/suggestions?prefix=" + url.QueryEscape(prefix)
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Popular returns the most searched queries across all users.
func (c *Client) Popular(ctx context.Context, limit int) ([]models.PopularQuery, error) {
	var out []models.PopularQuery
	if err := c.getJSON(ctx, withLimit("/api/popular", limit), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one entry. It returns false if the entry did not exist.
func (c *Client) Delete(ctx context.Context, userID string, id int64) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, historyPath(userID)+"/"+strconv.FormatInt(id, 10), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := expect(resp, http.StatusNoContent); err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes all of the user's entries.
func (c *Client) Clear(ctx context.Context, userID string) error {
	resp, err := c.do(ctx, http.MethodDelete, historyPath(userID), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return expect(resp, http.StatusNoContent)
}

func (c *Client) getJSON(ctx context.Context, path string, out interface{}) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := expect(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}

// expect drains resp and converts any status other than want into a StatusError.
func expect(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

func historyPath(userID string) string {
	return "/api/history/" + url.PathEscape(userID)
}

func withLimit(path string, limit int) string {
	if limit <= 0 {
		return path
	}
	return path + "?limit=" + strconv.Itoa(limit)
}
