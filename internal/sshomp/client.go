// Package sshomp reads the services and software an actor contributes to the
// SSH Open Marketplace.
package sshomp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	CategoryToolOrService = "tool-or-service"

	resourceCategoryProperty = "resource-category"
	softwareConcept          = "software"
)

// Item is a marketplace entry linked to an actor.
type Item struct {
	PersistentID string     `json:"persistentId"`
	Category     string     `json:"category"`
	Label        string     `json:"label"`
	Status       string     `json:"status"`
	AccessibleAt []string   `json:"accessibleAt"`
	Properties   []Property `json:"properties"`
}

type Property struct {
	Type struct {
		Code string `json:"code"`
	} `json:"type"`
	Concept *struct {
		Code  string `json:"code"`
		Label string `json:"label"`
	} `json:"concept,omitempty"`
	Value string `json:"value,omitempty"`
}

// URL returns the first access URL or "".
func (i Item) URL() string {
	if len(i.AccessibleAt) == 0 {
		return ""
	}
	return i.AccessibleAt[0]
}

// IsSoftware reports whether the item is tagged as a software resource.
func (i Item) IsSoftware() bool {
	for _, p := range i.Properties {
		if p.Type.Code == resourceCategoryProperty && p.Concept != nil && strings.EqualFold(p.Concept.Code, softwareConcept) {
			return true
		}
	}
	return false
}

// Client fetches actor items.
type Client interface {
	ActorItems(ctx context.Context, actorID int64) ([]Item, error)
}

type Option func(*client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

func WithRateLimit(rps float64) Option {
	return func(c *client) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithLimiter(l *rate.Limiter) Option {
	return func(c *client) { c.limiter = l }
}

func WithMaxRetries(n uint64) Option {
	return func(c *client) { c.maxRetries = n }
}

func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *client) { c.newBackOff = fn }
}

type client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

func NewClient(baseURL string, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(5, 5),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff { return backoff.NewConstantBackOff(time.Second) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type actorResponse struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Items []Item `json:"items"`
}

// ActorItems returns every item the actor is linked to.
func (c *client) ActorItems(ctx context.Context, actorID int64) ([]Item, error) {
	reqURL := fmt.Sprintf("%s/api/actors/%d?items=true", c.baseURL, actorID)
	var body []byte
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(eris.Wrap(err, "sshomp: rate limit"))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(eris.Wrap(err, "sshomp: build request"))
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return eris.Wrap(err, "sshomp: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return eris.Errorf("sshomp: returned status %d", resp.StatusCode)
		default:
			return backoff.Permanent(eris.Errorf("sshomp: actor %d returned status %d", actorID, resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "sshomp: read body")
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		zap.L().Warn("sshomp: retrying request", zap.Error(err), zap.Duration("wait", wait), zap.Int64("actor", actorID))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}

	var actor actorResponse
	if err := json.Unmarshal(body, &actor); err != nil {
		return nil, eris.Wrap(err, "sshomp: parse response")
	}
	if actor.Items == nil {
		return []Item{}, nil
	}
	return actor.Items, nil
}
