// Package zotero reads country publications from a Zotero group library.
package zotero

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const pageSize = 100

// Publication is one bibliography entry.
type Publication struct {
	Key      string `json:"key"`
	Title    string `json:"title"`
	ItemType string `json:"item_type"`
	Date     string `json:"date,omitempty"`
	URL      string `json:"url,omitempty"`
	Citation string `json:"citation"`
}

// Client fetches the publications tagged with a country code.
type Client interface {
	Publications(ctx context.Context, countryCode string, year int) ([]Publication, error)
}

type Option func(*client)

func WithAPIKey(key string) Option {
	return func(c *client) { c.apiKey = key }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *client) { c.httpClient = hc }
}

// WithRateLimit sets the requests-per-second budget against the API host.
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

// WithBackOff replaces the retry schedule; the returned policy is wrapped
// with the retry cap and request context.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *client) { c.newBackOff = fn }
}

type client struct {
	baseURL    string
	groupID    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries uint64
	newBackOff func() backoff.BackOff
}

// NewClient creates a Zotero client for one group library.
func NewClient(baseURL, groupID string, opts ...Option) Client {
	c := &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		groupID:    groupID,
		httpClient: &http.Client{Timeout: 20 * time.Second},
		limiter:    rate.NewLimiter(2, 2),
		maxRetries: 3,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type item struct {
	Key  string `json:"key"`
	Bib  string `json:"bib"`
	Meta struct {
		ParsedDate string `json:"parsedDate"`
	} `json:"meta"`
	Data struct {
		Title    string `json:"title"`
		ItemType string `json:"itemType"`
		Date     string `json:"date"`
		URL      string `json:"url"`
	} `json:"data"`
}

// Publications returns the items tagged countryCode whose publication date
// falls in year. The API cannot filter by date, so every page is read and
// filtered here.
func (c *client) Publications(ctx context.Context, countryCode string, year int) ([]Publication, error) {
	if c.groupID == "" {
		return nil, eris.New("zotero: group id not configured")
	}
	prefix := strconv.Itoa(year)
	res := []Publication{}
	for start := 0; ; start += pageSize {
		items, total, err := c.page(ctx, countryCode, start)
		if err != nil {
			return nil, err
		}
		for _, it := range items {
			if !strings.HasPrefix(it.Meta.ParsedDate, prefix) {
				continue
			}
			citation, err := citationText(it.Bib)
			if err != nil {
				return nil, eris.Wrapf(err, "zotero: parse bib of %s", it.Key)
			}
			res = append(res, Publication{
				Key:      it.Key,
				Title:    it.Data.Title,
				ItemType: it.Data.ItemType,
				Date:     it.Meta.ParsedDate,
				URL:      it.Data.URL,
				Citation: citation,
			})
		}
		if len(items) < pageSize || (total >= 0 && start+pageSize >= total) {
			break
		}
	}
	return res, nil
}

// page fetches one page of items. total is -1 when the response does not
// report the result count.
func (c *client) page(ctx context.Context, tag string, start int) ([]item, int, error) {
	params := url.Values{
		"tag":     {tag},
		"include": {"bib,data"},
		"style":   {"apa"},
		"format":  {"json"},
		"limit":   {strconv.Itoa(pageSize)},
		"start":   {strconv.Itoa(start)},
	}
	reqURL := fmt.Sprintf("%s/groups/%s/items?%s", c.baseURL, url.PathEscape(c.groupID), params.Encode())

	var body []byte
	var total int
	op := func() error {
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(eris.Wrap(err, "zotero: rate limit"))
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return backoff.Permanent(eris.Wrap(err, "zotero: build request"))
		}
		req.Header.Set("Zotero-API-Version", "3")
		if c.apiKey != "" {
			req.Header.Set("Zotero-API-Key", c.apiKey)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return eris.Wrap(err, "zotero: request")
		}
		defer resp.Body.Close() //nolint:errcheck

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return eris.Errorf("zotero: returned status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(eris.Errorf("zotero: returned status %d", resp.StatusCode))
		}
		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return eris.Wrap(err, "zotero: read body")
		}
		total = -1
		if n, err := strconv.Atoi(resp.Header.Get("Total-Results")); err == nil {
			total = n
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		zap.L().Warn("zotero: retrying request", zap.Error(err), zap.Duration("wait", wait), zap.Int("start", start))
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), c.maxRetries), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, 0, err
	}

	var items []item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, 0, eris.Wrap(err, "zotero: parse response")
	}
	return items, total, nil
}

// citationText flattens the CSL HTML bibliography of one item.
func citationText(bib string) (string, error) {
	if strings.TrimSpace(bib) == "" {
		return "", nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(bib))
	if err != nil {
		return "", err
	}
	var parts []string
	doc.Find(".csl-entry").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		parts = append(parts, strings.Join(strings.Fields(s.Text()), " "))
		return true
	})
	if len(parts) == 0 {
		return strings.Join(strings.Fields(doc.Text()), " "), nil
	}
	return strings.Join(parts, " "), nil
}
