package crisis

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

func TestFetch_QueryAndMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/disasters", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "Democratic Republic of the Congo", q.Get("filter[value]"))
		assert.Equal(t, "safetrip", q.Get("appname"))
		_, _ = w.Write([]byte(`{"data":[
			{"id":"1","fields":{"name":"DR Congo: Floods - May 2024","status":"ongoing","url":"https://r.example/1","description":"<p>Heavy rains.</p>","date":{"created":"2024-05-02T00:00:00+00:00"},"type":[{"name":"Flood"}]}},
			{"id":"2","fields":{"name":"DR Congo: Cholera - 2023","status":"past","url":"https://r.example/2"}}
		]}`))
	}))
	defer srv.Close()

	res, err := NewAdapter(srv.URL+"/v1", time.Second).Fetch(context.Background(), "democratic republic of the congo")
	require.NoError(t, err)
	require.Len(t, res.Alerts, 2)

	assert.Equal(t, domain.SeverityMedium, res.Alerts[0].Severity)
	assert.Equal(t, domain.StringArray{"Flood"}, res.Alerts[0].KeyRisks)
	assert.Equal(t, "Heavy rains.", res.Alerts[0].Summary)
	assert.NotNil(t, res.Alerts[0].PublishedAt)
	assert.Equal(t, domain.SeverityLow, res.Alerts[1].Severity)
}

func TestFetch_EmptyIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	_, err := NewAdapter(srv.URL, time.Second).Fetch(context.Background(), "chile")
	assert.True(t, errors.Is(err, source.ErrNoData))
}

func TestFetch_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewAdapter(srv.URL, time.Second).Fetch(context.Background(), "chile")
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
}
