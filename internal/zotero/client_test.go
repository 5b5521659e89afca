package zotero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func testItem(key, date, title string) map[string]any {
	return map[string]any{
		"key":  key,
		"bib":  `<div class="csl-bib-body"><div class="csl-entry">Doe, J. (` + date + `). <i>` + title + `</i>.</div></div>`,
		"meta": map[string]any{"parsedDate": date},
		"data": map[string]any{"title": title, "itemType": "journalArticle", "url": "https://example.org/" + key},
	}
}

func newTestClient(srvURL string, opts ...Option) Client {
	base := []Option{
		WithLimiter(rate.NewLimiter(rate.Inf, 1)),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}
	return NewClient(srvURL, "123", append(base, opts...)...)
}

func TestPublicationsFiltersByYear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/groups/123/items", r.URL.Path)
		assert.Equal(t, "AT", r.URL.Query().Get("tag"))
		assert.Equal(t, "secret", r.Header.Get("Zotero-API-Key"))
		w.Header().Set("Total-Results", "3")
		_ = json.NewEncoder(w).Encode([]map[string]any{
			testItem("A", "2023-05-01", "Digital Editions"),
			testItem("B", "2022-12-31", "Older Work"),
			testItem("C", "2023", "Corpus   Linguistics"),
		})
	}))
	defer srv.Close()

	pubs, err := newTestClient(srv.URL, WithAPIKey("secret")).Publications(context.Background(), "AT", 2023)
	require.NoError(t, err)
	require.Len(t, pubs, 2)
	assert.Equal(t, "A", pubs[0].Key)
	assert.Equal(t, "Doe, J. (2023-05-01). Digital Editions.", pubs[0].Citation)
	assert.Equal(t, "Doe, J. (2023). Corpus Linguistics.", pubs[1].Citation)
}

func TestPublicationsPaginates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		w.Header().Set("Total-Results", strconv.Itoa(pageSize+1))
		items := []map[string]any{}
		if start == 0 {
			for i := 0; i < pageSize; i++ {
				items = append(items, testItem(strconv.Itoa(i), "2024-01-01", "t"))
			}
		} else {
			items = append(items, testItem("last", "2024-06-01", "t"))
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	pubs, err := newTestClient(srv.URL).Publications(context.Background(), "DE", 2024)
	require.NoError(t, err)
	assert.Len(t, pubs, pageSize+1)
}

func TestPublicationsPaginatesWithoutTotal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		items := []map[string]any{}
		switch start {
		case 0, pageSize:
			for i := 0; i < pageSize; i++ {
				items = append(items, testItem(strconv.Itoa(start+i), "2024-01-01", "t"))
			}
		default:
			items = append(items, testItem("last", "2024-06-01", "t"))
		}
		_ = json.NewEncoder(w).Encode(items)
	}))
	defer srv.Close()

	pubs, err := newTestClient(srv.URL).Publications(context.Background(), "DE", 2024)
	require.NoError(t, err)
	assert.Len(t, pubs, 2*pageSize+1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPublicationsRetriesTransientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{testItem("A", "2023-01-01", "x")})
	}))
	defer srv.Close()

	pubs, err := newTestClient(srv.URL).Publications(context.Background(), "AT", 2023)
	require.NoError(t, err)
	assert.Len(t, pubs, 1)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPublicationsGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, WithMaxRetries(2)).Publications(context.Background(), "AT", 2023)
	require.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestPublicationsClientErrorIsPermanent(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Publications(context.Background(), "AT", 2023)
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCitationText(t *testing.T) {
	text, err := citationText(`<div class="csl-entry">  A  <b>B</b>
	C </div>`)
	require.NoError(t, err)
	assert.Equal(t, "A B C", text)

	text, err = citationText("")
	require.NoError(t, err)
	assert.Equal(t, "", text)
}
