package background

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

func TestFetch_MapsFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3.1/name/New Zealand", r.URL.Path)
		assert.Equal(t, "true", r.URL.Query().Get("fullText"))
		_, _ = w.Write([]byte(`[{
			"name":{"common":"New Zealand"},"cca2":"nz","capital":["Wellington"],"population":5084300,
			"languages":{"eng":"English","mri":"Māori","nzs":"New Zealand Sign Language"},
			"currencies":{"NZD":{"name":"New Zealand dollar","symbol":"$"}},
			"flags":{"png":"https://flags.example/nz.png"},"maps":{"googleMaps":"https://maps.example/nz"}
		}]`))
	}))
	defer srv.Close()

	res, err := NewAdapter(srv.URL+"/v3.1", time.Second).Fetch(context.Background(), "new zealand")
	require.NoError(t, err)
	require.NotNil(t, res.Background)
	assert.Empty(t, res.Alerts)
	assert.Equal(t, "NZ", res.Code)
	assert.Equal(t, "https://flags.example/nz.png", res.FlagURL)
	assert.Equal(t, "Wellington", res.Background.Capital)
	assert.EqualValues(t, 5084300, res.Background.Population)
	assert.Equal(t, "New Zealand dollar (NZD)", res.Background.Currency)
	assert.Equal(t, domain.StringArray{"English", "Māori", "New Zealand Sign Language"}, res.Background.Languages)
}

func TestFetch_NotFoundIsNoData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"message":"Not Found"}`))
	}))
	defer srv.Close()

	_, err := NewAdapter(srv.URL, time.Second).Fetch(context.Background(), "kosovo")
	assert.True(t, errors.Is(err, source.ErrNoData))
}
