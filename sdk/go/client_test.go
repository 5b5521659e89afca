package unrsdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStub(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"invalid_credentials","message":"invalid credentials"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"token":"tok","expires_at":"2030-01-01T00:00:00Z","user":{"id":"u1","email":"office@dariah.eu","role":"admin"}}`))
	})
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user_id":"u1","role":"admin","permissions":["report.read"],"source":"jwt"}`))
	})
	mux.HandleFunc("GET /api/v1/reports", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AT", r.URL.Query().Get("country_id"))
		assert.Equal(t, "2024", r.URL.Query().Get("year"))
		_, _ = w.Write([]byte(`[{"id":"r1","country_id":"AT","year":2024,"status":"draft"}]`))
	})
	mux.HandleFunc("POST /api/v1/reports/r1/steps/events", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","fieldErrors":{"events.small_meetings":["Must be at least 0"]}}`))
	})
	mux.HandleFunc("POST /api/v1/reports/r1/confirm", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"report_final","message":"report is final"}}`))
	})
	mux.HandleFunc("GET /api/v1/events", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "9", r.URL.Query().Get("cursor"))
		_, _ = w.Write([]byte(`{"items":[{"id":8,"type":"report.created"},{"id":7,"type":"value.changed"}],"next_cursor":"7"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestLoginKeepsToken(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL + "/api/v1/")
	ctx := context.Background()

	_, err := c.Login(ctx, "office@dariah.eu", "wrong")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_credentials", apiErr.Code)

	u, err := c.Login(ctx, "office@dariah.eu", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "tok", c.BearerToken)

	me, err := c.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, "jwt", me.Source)
}

func TestReportCalls(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL + "/api/v1")
	c.APIKey = "unr_key"
	ctx := context.Background()

	reports, err := c.Reports(ctx, "AT", 2024)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "draft", reports[0].Status)

	res, err := c.SubmitStep(ctx, "r1", "events", map[string]any{"events": map[string]int{"small_meetings": -1}})
	require.NoError(t, err)
	assert.False(t, res.OK())
	assert.Contains(t, res.FieldErrors, "events.small_meetings")

	_, _, err = c.Confirm(ctx, "r1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "report_final", apiErr.Code)
}

func TestEventsPage(t *testing.T) {
	srv := newStub(t)
	c := New(srv.URL + "/api/v1")
	page, err := c.EventsPage(context.Background(), 2, "9")
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "7", page.NextCursor)
}
