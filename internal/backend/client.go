package backend

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
	"time"
)

// ============================================================================
// Attendance backend HTTP client
// ============================================================================

const maxErrorBody = 512

// Client talks to the school backend. Every call is bounded by the client timeout.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClient creates a backend client. A zero timeout falls back to 5 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// LookupStudent resolves a roll number to a student record
// GET /students/roll/{roll}
func (c *Client) LookupStudent(ctx context.Context, roll string) (*Student, error) {
	path := "/students/roll/" + url.PathEscape(roll)

	var student Student
	if err := c.do(ctx, http.MethodGet, path, nil, &student); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: roll number %s", ErrNotFound, roll)
		}
		return nil, err
	}
	if student.ID == 0 {
		return nil, fmt.Errorf("lookup %s: response has no student id", roll)
	}
	return &student, nil
}

// MarkAttendance submits a presence event
// POST /attendance/mark
func (c *Client) MarkAttendance(ctx context.Context, mark AttendanceMark) error {
	return c.do(ctx, http.MethodPost, "/attendance/mark", mark, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(respBody)
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return &APIError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: text}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
