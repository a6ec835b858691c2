package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobrelay/pkg/api"
)

// JobClient handles API calls to the jobrelay controller.
type JobClient struct {
	BaseURL    string
	Token      string
	OwnerID    string
	HTTPClient *http.Client
}

// NewJobClient creates a new client with the given base URL, service token and owner.
func NewJobClient(baseURL, token, ownerID string) *JobClient {
	return &JobClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		OwnerID: ownerID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

// do sends one request and decodes a 2xx JSON body into out.
func (c *JobClient) do(method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Add("Content-Type", "application/json")
	if c.OwnerID != "" {
		req.Header.Add(api.OwnerHeader, c.OwnerID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(respBody)}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// errorMessage extracts the error field of a JSON error body.
func errorMessage(body []byte) string {
	var e api.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// SubmitJob sends POST /jobs.
func (c *JobClient) SubmitJob(req api.CreateJobRequest) (*api.CreateJobResponse, error) {
	var result api.CreateJobResponse
	if err := c.do(http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetJob sends GET /jobs/{id}.
func (c *JobClient) GetJob(jobID string) (*api.JobResponse, error) {
	var result api.JobResponse
	if err := c.do(http.MethodGet, "/jobs/"+url.PathEscape(jobID), nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListJobs sends GET /jobs, optionally filtered by status.
func (c *JobClient) ListJobs(statuses []string, limit int) ([]api.JobSummary, error) {
	q := url.Values{}
	if len(statuses) > 0 {
		q.Set("status", strings.Join(statuses, ","))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var result []api.JobSummary
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ListEvents sends GET /jobs/{id}/events to fetch entries after afterID.
func (c *JobClient) ListEvents(jobID string, afterID int64) ([]api.EventEntry, error) {
	path := fmt.Sprintf("/jobs/%s/events?after_id=%d", url.PathEscape(jobID), afterID)
	var result api.ListEventsResponse
	if err := c.do(http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// QueueDepth sends GET /queue/depth.
func (c *JobClient) QueueDepth() (*api.QueueDepthResponse, error) {
	var result api.QueueDepthResponse
	if err := c.do(http.MethodGet, "/queue/depth", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Credits sends GET /credits.
func (c *JobClient) Credits() (*api.BalanceResponse, error) {
	var result api.BalanceResponse
	if err := c.do(http.MethodGet, "/credits", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
