package storepulsesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal StorePulse HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Report represents a report's lifecycle state.
type Report struct {
	ReportID    string  `json:"report_id"`
	Status      string  `json:"status"`
	Error       *string `json:"error,omitempty"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

// Store represents a known store and its resolved timezone.
type Store struct {
	StoreID         string `json:"store_id"`
	Timezone        string `json:"timezone"`
	DefaultTimezone bool   `json:"default_timezone,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// ImportResult counts an import's accepted and skipped rows.
type ImportResult struct {
	Observations int   `json:"observations"`
	Hours        int   `json:"hours"`
	Timezones    int   `json:"timezones"`
	Skipped      int   `json:"skipped"`
	DataVersion  int64 `json:"data_version"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrReportRunning is returned by FetchReport while the report computes.
var ErrReportRunning = fmt.Errorf("report still running")

// TriggerReport starts report generation and returns the token.
func (c *Client) TriggerReport(ctx context.Context) (string, error) {
	var resp struct {
		ReportID string `json:"report_id"`
	}
	err := c.do(ctx, http.MethodPost, "trigger_report", nil, &resp)
	return resp.ReportID, err
}

// ReportStatus polls a report's lifecycle state.
func (c *Client) ReportStatus(ctx context.Context, reportID string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, "report_status?report_id="+url.QueryEscape(reportID), nil, &resp)
	return resp, err
}

// FetchReport downloads the CSV payload of a Complete report. While the
// report is still Running it returns ErrReportRunning.
func (c *Client) FetchReport(ctx context.Context, reportID string) ([]byte, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	u := c.base() + "/get_report?report_id=" + url.QueryEscape(reportID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var status struct {
			Status string `json:"status"`
		}
		if err := json.Unmarshal(b, &status); err == nil && status.Status == "Running" {
			return nil, ErrReportRunning
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	return b, nil
}

// WaitForReport polls until the report leaves Running, then fetches the
// payload. The interval bounds poll frequency; ctx bounds total wait.
func (c *Client) WaitForReport(ctx context.Context, reportID string, interval time.Duration) ([]byte, error) {
	if interval <= 0 {
		interval = time.Second
	}
	for {
		rep, err := c.ReportStatus(ctx, reportID)
		if err != nil {
			return nil, err
		}
		switch rep.Status {
		case "Complete":
			return c.FetchReport(ctx, reportID)
		case "Failed":
			detail := "report failed"
			if rep.Error != nil {
				detail = *rep.Error
			}
			return nil, fmt.Errorf("report %s failed: %s", reportID, detail)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// Stores lists known stores.
func (c *Client) Stores(ctx context.Context) ([]Store, error) {
	var resp []Store
	err := c.do(ctx, http.MethodGet, "stores", nil, &resp)
	return resp, err
}

// Events lists recent log entries.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	var resp []Event
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("events?limit=%d", limit), nil, &resp)
	return resp, err
}

// ImportDataset asks the server to reload CSVs from dir (server-side path).
// An empty dir uses the server's configured dataset directory.
func (c *Client) ImportDataset(ctx context.Context, dir string) (ImportResult, error) {
	var resp ImportResult
	body := map[string]any{}
	if dir != "" {
		body["dir"] = dir
	}
	err := c.do(ctx, http.MethodPost, "import", body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
