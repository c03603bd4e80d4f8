package auditlinesdk

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

// Client is a minimal Auditline HTTP API client. The tenant is implied by
// the credential: JWT claims or the API key's tenant binding.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Engagement represents the API engagement model (partial).
type Engagement struct {
	ID            string   `json:"id"`
	TenantID      string   `json:"tenant_id"`
	Code          string   `json:"code"`
	Title         string   `json:"title"`
	Status        string   `json:"status"`
	CurrentPhase  string   `json:"current_phase"`
	VisitedPhases []string `json:"visited_phases"`
	LeadAuditor   string   `json:"lead_auditor,omitempty"`
}

// Finding represents an audit finding (partial).
type Finding struct {
	ID           string `json:"id"`
	EngagementID string `json:"engagement_id"`
	Code         string `json:"code"`
	Title        string `json:"title"`
	Criticality  string `json:"criticality"`
	Status       string `json:"status"`
}

// ActionPlan represents a remediation plan (partial).
type ActionPlan struct {
	ID        string `json:"id"`
	FindingID string `json:"finding_id"`
	Title     string `json:"title"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	Deadline  string `json:"deadline,omitempty"`
}

// Report represents a report draft or published version (partial).
type Report struct {
	ID           string `json:"id"`
	EngagementID string `json:"engagement_id"`
	Type         string `json:"type"`
	Title        string `json:"title"`
	Status       string `json:"status"`
	Version      string `json:"version"`
}

// Event represents a log entry.
type Event struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Type         string         `json:"type"`
	TenantID     string         `json:"tenant_id"`
	EngagementID string         `json:"engagement_id"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id"`
	Payload      map[string]any `json:"payload"`
}

// Progress holds the engagement plus its effective per-phase completeness.
type Progress struct {
	Engagement Engagement     `json:"engagement"`
	Progress   map[string]int `json:"progress"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}


// CreateEngagement registers an engagement.
func (c *Client) CreateEngagement(ctx context.Context, title, auditType string) (Engagement, error) {
	body := map[string]any{
		"title":      title,
		"audit_type": auditType,
	}
	var resp Engagement
	err := c.do(ctx, http.MethodPost, "engagements", body, &resp)
	return resp, err
}

// GetEngagement fetches an engagement by id.
func (c *Client) GetEngagement(ctx context.Context, id string) (Engagement, error) {
	var resp Engagement
	err := c.do(ctx, http.MethodGet, "engagements/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ChangePhase navigates to a workflow phase. Rapid repeats may be rejected
// with 409 while the debounce window is open.
func (c *Client) ChangePhase(ctx context.Context, engagementID, phase string) (Engagement, error) {
	var resp Engagement
	endpoint := fmt.Sprintf("engagements/%s/phase", url.PathEscape(engagementID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"phase": phase}, &resp)
	return resp, err
}

// EngagementProgress returns the effective per-phase completeness.
func (c *Client) EngagementProgress(ctx context.Context, engagementID string) (Progress, error) {
	var resp Progress
	endpoint := fmt.Sprintf("engagements/%s/progress", url.PathEscape(engagementID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddFinding records a finding against an engagement.
func (c *Client) AddFinding(ctx context.Context, engagementID, title, criticality string) (Finding, error) {
	body := map[string]any{
		"title":       title,
		"criticality": criticality,
	}
	var resp Finding
	endpoint := fmt.Sprintf("engagements/%s/findings", url.PathEscape(engagementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetFindingStatus moves a finding through its lifecycle.
func (c *Client) SetFindingStatus(ctx context.Context, findingID, status string) (Finding, error) {
	var resp Finding
	endpoint := fmt.Sprintf("findings/%s/status", url.PathEscape(findingID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// AddActionPlan commits a remediation plan to a finding.
func (c *Client) AddActionPlan(ctx context.Context, findingID, title, responsible, deadline string) (ActionPlan, error) {
	body := map[string]any{
		"finding_id":  findingID,
		"title":       title,
		"responsible": responsible,
		"deadline":    deadline,
	}
	var resp ActionPlan
	err := c.do(ctx, http.MethodPost, "action-plans", body, &resp)
	return resp, err
}

// SetPlanProgress records progress on an action plan.
func (c *Client) SetPlanProgress(ctx context.Context, planID string, progress int) (ActionPlan, error) {
	var resp ActionPlan
	endpoint := fmt.Sprintf("action-plans/%s/progress", url.PathEscape(planID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"progress": progress}, &resp)
	return resp, err
}

// CreateReport generates a report draft.
func (c *Client) CreateReport(ctx context.Context, engagementID, reportType, title string) (Report, error) {
	body := map[string]any{
		"type":  reportType,
		"title": title,
	}
	var resp Report
	endpoint := fmt.Sprintf("engagements/%s/reports", url.PathEscape(engagementID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// SetReportStatus advances a report through its lifecycle.
func (c *Client) SetReportStatus(ctx context.Context, reportID, status string) (Report, error) {
	var resp Report
	endpoint := fmt.Sprintf("reports/%s/status", url.PathEscape(reportID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// NewReportVersion clones a published report into a fresh draft.
func (c *Client) NewReportVersion(ctx context.Context, reportID string) (Report, error) {
	var resp Report
	endpoint := fmt.Sprintf("reports/%s/versions", url.PathEscape(reportID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events, newest first. A non-zero cursor restricts
// the page to events older than that id.
func (c *Client) Events(ctx context.Context, limit int, cursor int64) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor > 0 {
		q.Set("cursor", fmt.Sprintf("%d", cursor))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
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
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
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
