package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cleanops/fieldsync/internal/models"
)

// JobSnapshot is one assigned job as returned by the preload endpoint
type JobSnapshot struct {
	ServerID    string     `json:"id"`
	Address     string     `json:"address"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
	Checklist   []struct {
		ItemID string `json:"itemId"`
		Label  string `json:"label"`
	} `json:"checklist"`
}

// API is the server surface the engine replays operations against.
// Each queued operation type maps to exactly one call.
type API interface {
	// CheckAuth verifies the stored credential is still usable
	CheckAuth() error

	// FetchUpcomingJobs returns the worker's near-term assigned jobs
	FetchUpcomingJobs(ctx context.Context) ([]JobSnapshot, error)

	// StartJob records the start of a job on the server
	StartJob(ctx context.Context, serverID string, payload []byte) error

	// RecordAccuracy records location accuracy captured at job start
	RecordAccuracy(ctx context.Context, serverID string, payload []byte) error

	// UploadPhoto uploads a before/after photo with its metadata
	UploadPhoto(ctx context.Context, serverID string, photoType models.PhotoType, payload []byte, filePath string) error

	// UpdateChecklist marks a checklist item completed on the server
	UpdateChecklist(ctx context.Context, serverID string, payload []byte) error

	// CompleteJob records job completion and hours worked
	CompleteJob(ctx context.Context, serverID string, payload []byte) error
}

// Client is the HTTP implementation of API
type Client struct {
	baseURL  string
	token    string
	deviceID string
	http     *http.Client
	now      func() time.Time
}

// NewClient creates a client against the field-work server
func NewClient(baseURL, token, deviceID string) *Client {
	return &Client{
		baseURL:  baseURL,
		token:    token,
		deviceID: deviceID,
		now:      time.Now,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckAuth inspects the bearer token's exp claim locally. The server
// signature is not verified here; an expired token is simply guaranteed
// to be rejected, so the pass fails fast without a round trip.
func (c *Client) CheckAuth() error {
	if c.token == "" {
		return &AuthError{Reason: "no token configured"}
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(c.token, claims); err != nil {
		return &AuthError{Reason: fmt.Sprintf("malformed token: %v", err)}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil // no exp claim, let the server decide
	}
	if exp.Before(c.now()) {
		return &AuthError{Reason: "token expired, re-login required"}
	}
	return nil
}

// FetchUpcomingJobs calls the job-listing endpoint used by preload
func (c *Client) FetchUpcomingJobs(ctx context.Context) ([]JobSnapshot, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/upcoming", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp); err != nil {
		return nil, err
	}

	var out struct {
		Jobs []JobSnapshot `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode jobs response: %w", err)}
	}
	return out.Jobs, nil
}

// StartJob implements API
func (c *Client) StartJob(ctx context.Context, serverID string, payload []byte) error {
	return c.post(ctx, fmt.Sprintf("/api/jobs/%s/start", serverID), payload)
}

// RecordAccuracy implements API
func (c *Client) RecordAccuracy(ctx context.Context, serverID string, payload []byte) error {
	return c.post(ctx, fmt.Sprintf("/api/jobs/%s/accuracy", serverID), payload)
}

// UpdateChecklist implements API
func (c *Client) UpdateChecklist(ctx context.Context, serverID string, payload []byte) error {
	return c.post(ctx, fmt.Sprintf("/api/jobs/%s/checklist", serverID), payload)
}

// CompleteJob implements API
func (c *Client) CompleteJob(ctx context.Context, serverID string, payload []byte) error {
	return c.post(ctx, fmt.Sprintf("/api/jobs/%s/complete", serverID), payload)
}

// UploadPhoto sends the image file and its metadata as multipart form data
func (c *Client) UploadPhoto(ctx context.Context, serverID string, photoType models.PhotoType, payload []byte, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		// Missing file is not retryable; the photo row was deleted or
		// the storage is gone. Surface as conflict so the row parks.
		return &ConflictError{Reason: fmt.Sprintf("photo file unavailable: %v", err)}
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("photo", filepath.Base(filePath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy photo into request: %w", err)
	}
	if err := writer.WriteField("type", string(photoType)); err != nil {
		return fmt.Errorf("write type field: %w", err)
	}
	if err := writer.WriteField("metadata", string(payload)); err != nil {
		return fmt.Errorf("write metadata field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	url := fmt.Sprintf("%s/api/jobs/%s/photos", c.baseURL, serverID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Device-ID", c.deviceID)

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	return classifyStatus(resp)
}

// post sends a JSON payload to a job action endpoint
func (c *Client) post(ctx context.Context, path string, payload []byte) error {
	req, err := c.newRequest(ctx, http.MethodPost, path, payload)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()

	return classifyStatus(resp)
}

// newRequest creates an authenticated JSON request
func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", c.deviceID)
	return req, nil
}

// classifyStatus sorts a server response into the error taxonomy:
// 2xx ok, 401/403 auth, 409/410/422 conflict, everything else transient.
func classifyStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	reason := parseErrorReason(body)
	if reason == "" {
		reason = fmt.Sprintf("HTTP %d", resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return &AuthError{Reason: reason}
	case http.StatusConflict, http.StatusGone, http.StatusUnprocessableEntity:
		return &ConflictError{Reason: reason}
	default:
		return &TransientError{Err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, reason)}
	}
}

// parseErrorReason pulls a human-readable reason out of an error body
func parseErrorReason(body []byte) string {
	var parsed struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	if parsed.Reason != "" {
		return parsed.Reason
	}
	return parsed.Error
}
