package unrsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal client of the national reporting HTTP API.
type Client struct {
	// BaseURL includes the API base path, e.g. https://unr.example.org/api/v1.
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
		Timeout: 30 * time.Second,
	}
}

type User struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Email     string  `json:"email"`
	Role      string  `json:"role"`
	CountryID *string `json:"country_id,omitempty"`
}

type Principal struct {
	UserID      string   `json:"user_id"`
	Role        string   `json:"role"`
	CountryID   string   `json:"country_id,omitempty"`
	Permissions []string `json:"permissions"`
	Source      string   `json:"source"`
}

type Report struct {
	ID                       string            `json:"id"`
	CountryID                string            `json:"country_id"`
	Year                     int               `json:"year"`
	Status                   string            `json:"status"`
	Comments                 map[string]string `json:"comments,omitempty"`
	OperationalCost          *int64            `json:"operational_cost,omitempty"`
	OperationalCostThreshold *int64            `json:"operational_cost_threshold,omitempty"`
}

// Calculation is the operational cost of a report with its breakdown.
type Calculation struct {
	Count                    map[string]int   `json:"count"`
	ServicesBySize           map[string]int   `json:"services_by_size"`
	Costs                    map[string]int64 `json:"costs"`
	OperationalCost          int64            `json:"operational_cost"`
	OperationalCostThreshold *int64           `json:"operational_cost_threshold,omitempty"`
}

// ActionResult is the outcome of a wizard step submission.
type ActionResult struct {
	Status      string              `json:"status"`
	Message     string              `json:"message,omitempty"`
	FieldErrors map[string][]string `json:"fieldErrors,omitempty"`
	FormErrors  []string            `json:"formErrors,omitempty"`
}

func (r ActionResult) OK() bool { return r.Status == "success" }

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	CountryID  string         `json:"country_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body has one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		Token     string `json:"token"`
		ExpiresAt string `json:"expires_at"`
		User      User   `json:"user"`
	}
	body := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Me returns the authenticated principal.
func (c *Client) Me(ctx context.Context) (Principal, error) {
	var resp Principal
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Reports lists reports, optionally restricted to a country and a year.
func (c *Client) Reports(ctx context.Context, countryID string, year int) ([]Report, error) {
	q := url.Values{}
	if countryID != "" {
		q.Set("country_id", countryID)
	}
	if year > 0 {
		q.Set("year", strconv.Itoa(year))
	}
	var resp []Report
	err := c.do(ctx, http.MethodGet, withQuery("reports", q), nil, &resp)
	return resp, err
}

func (c *Client) Report(ctx context.Context, id string) (Report, error) {
	var resp Report
	err := c.do(ctx, http.MethodGet, reportPath(id, ""), nil, &resp)
	return resp, err
}

// Calculation computes the operational cost of a report.
func (c *Client) Calculation(ctx context.Context, reportID string) (Calculation, error) {
	var resp Calculation
	err := c.do(ctx, http.MethodGet, reportPath(reportID, "calculation"), nil, &resp)
	return resp, err
}

// Summary returns the report summary as a generic document.
func (c *Client) Summary(ctx context.Context, reportID string) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodGet, reportPath(reportID, "summary"), nil, &resp)
	return resp, err
}

// SubmitStep submits one wizard step. Validation failures come back as a
// failed ActionResult, not as an error.
func (c *Client) SubmitStep(ctx context.Context, reportID, step string, input any) (ActionResult, error) {
	var resp ActionResult
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "steps/"+url.PathEscape(step)), input, &resp)
	return resp, err
}

// Confirm finalizes a report and returns it with the stored calculation.
func (c *Client) Confirm(ctx context.Context, reportID string) (Report, Calculation, error) {
	var resp struct {
		Report      Report      `json:"report"`
		Calculation Calculation `json:"calculation"`
	}
	err := c.do(ctx, http.MethodPost, reportPath(reportID, "confirm"), nil, &resp)
	return resp.Report, resp.Calculation, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", q), nil, &resp)
	return resp, err
}

// ExportXLSX downloads the operational cost workbook of a year.
func (c *Client) ExportXLSX(ctx context.Context, year int) ([]byte, error) {
	res, err := c.send(ctx, http.MethodGet, fmt.Sprintf("export/%d?format=xlsx", year), nil)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	return io.ReadAll(res.Body)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	res, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out != nil && res.StatusCode != http.StatusNoContent {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, decodeError(res)
	}
	return res, nil
}

func decodeError(res *http.Response) error {
	b, _ := io.ReadAll(res.Body)
	apiErr := &APIError{StatusCode: res.StatusCode, Body: string(b)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func reportPath(id, sub string) string {
	p := "reports/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

func withQuery(p string, q url.Values) string {
	if len(q) == 0 {
		return p
	}
	return p + "?" + q.Encode()
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
