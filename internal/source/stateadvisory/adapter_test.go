package stateadvisory

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

const feed = `[
  {"Title":"France - Level 2: Exercise Increased Caution","Link":"https://travel.example/france","Category":["FR"],"Summary":"<p>Terrorism <b>risk</b>.</p>","Updated":"2024-05-01T10:00:00-04:00"},
  {"Title":"Mali - Level 4: Do Not Travel","Link":"https://travel.example/mali","Category":["ML"],"Summary":"Crime, terrorism."}
]`

func newServer(t *testing.T, hits *int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		assert.Equal(t, "/api/TravelAdvisories", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetch_MatchesCountryAndLevel(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusOK, feed)
	a := NewAdapter(srv.URL+"/api", time.Second, time.Minute)

	res, err := a.Fetch(context.Background(), "mali")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, domain.SeverityHigh, res.Alerts[0].Severity)
	assert.Equal(t, "Level 4: Do Not Travel", res.Alerts[0].Level)
	assert.Equal(t, SourceID, res.Alerts[0].Source)
	assert.NotEmpty(t, res.Raw)

	res, err = a.Fetch(context.Background(), "france")
	require.NoError(t, err)
	assert.Equal(t, domain.SeverityLow, res.Alerts[0].Severity)
	assert.Equal(t, "Terrorism risk.", res.Alerts[0].Summary)
	require.NotNil(t, res.Alerts[0].PublishedAt)

	assert.EqualValues(t, 1, atomic.LoadInt32(&hits), "feed is cached between countries")
}

func TestFetch_NoData(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusOK, feed)
	_, err := NewAdapter(srv.URL+"/api", time.Second, 0).Fetch(context.Background(), "chile")
	assert.True(t, errors.Is(err, source.ErrNoData))
}

func TestFetch_UpstreamErrorIsTransient(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusServiceUnavailable, "busy")
	_, err := NewAdapter(srv.URL+"/api", time.Second, 0).Fetch(context.Background(), "france")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}

func TestFetch_MalformedPayload(t *testing.T) {
	var hits int32
	srv := newServer(t, &hits, http.StatusOK, "{not json")
	_, err := NewAdapter(srv.URL+"/api", time.Second, 0).Fetch(context.Background(), "france")
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}
