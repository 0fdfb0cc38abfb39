package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
	"github.com/timmy/safetrip/internal/source/stateadvisory"
	"github.com/timmy/safetrip/internal/storage"
)

type stubSource struct {
	id     string
	result *source.Result
	err    error
}

func (s *stubSource) GetSourceID() string { return s.id }

func (s *stubSource) Fetch(ctx context.Context, country string) (*source.Result, error) {
	return s.result, s.err
}

type memoryCountryStore struct {
	mu     sync.Mutex
	writes []*domain.CountryData
}

func (m *memoryCountryStore) ReplaceCountryData(ctx context.Context, data *domain.CountryData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, data)
	return nil
}

type stubEnhancer struct {
	delay time.Duration
	enh   *Enhancement
	err   error
	calls int
}

func (e *stubEnhancer) Model() string { return "stub" }

func (e *stubEnhancer) Enhance(ctx context.Context, country string, alert domain.Alert) (*Enhancement, error) {
	e.calls++
	if e.delay > 0 {
		// ignores ctx on purpose
		time.Sleep(e.delay)
	}
	return e.enh, e.err
}

func advisorySource() *stubSource {
	return &stubSource{
		id: stateadvisory.SourceID,
		result: &source.Result{
			Alerts: []domain.Alert{{
				Source:   stateadvisory.SourceID,
				Title:    "France - Level 2: Exercise Increased Caution",
				Severity: domain.SeverityLow,
				Level:    "Level 2",
				Summary:  "raw text",
			}},
			Raw: []byte(`{"items":[]}`),
		},
	}
}

func testCatalog() *catalog.Catalog {
	return catalog.NewWithEntries([]catalog.Entry{{Name: "france", Code: "FR"}, {Name: "kiribati", Code: "KI"}}, nil)
}

func TestFetchCountryData_MergesSources(t *testing.T) {
	store := &memoryCountryStore{}
	background := &stubSource{id: "background", result: &source.Result{
		Background: &domain.BackgroundInfo{Capital: "Paris", Population: 68000000},
		Code:       "XX",
	}}
	quiet := &stubSource{id: "seismic", err: source.ErrNoData}
	svc := NewAdvisoryService([]source.Source{advisorySource(), background, quiet}, store, testCatalog(), quietLogger(), nil)

	require.NoError(t, svc.FetchCountryData(context.Background(), "France"))

	require.Len(t, store.writes, 1)
	data := store.writes[0]
	assert.Equal(t, "france", data.Country.Name)
	assert.Equal(t, "FR", data.Country.Code, "catalog code wins")
	assert.Equal(t, "https://flagcdn.com/w320/fr.png", data.Country.FlagURL)
	assert.False(t, data.Country.LastUpdated.IsZero())
	require.Len(t, data.Alerts, 1)
	assert.Equal(t, "raw text", data.Alerts[0].Summary)
	assert.Nil(t, data.Alerts[0].AIEnhancedAt)
	require.NotNil(t, data.Background)
	assert.Equal(t, "Paris", data.Background.Capital)
}

func TestFetchCountryData_NoDataAnywhereStoresEmptySet(t *testing.T) {
	store := &memoryCountryStore{}
	svc := NewAdvisoryService([]source.Source{&stubSource{id: "crisis", err: source.ErrNoData}}, store, testCatalog(), quietLogger(), nil)

	require.NoError(t, svc.FetchCountryData(context.Background(), "kiribati"))
	require.Len(t, store.writes, 1)
	assert.Empty(t, store.writes[0].Alerts)
	assert.Nil(t, store.writes[0].Background)
}

func TestFetchCountryData_SourceFailureIsTransient(t *testing.T) {
	store := &memoryCountryStore{}
	broken := &stubSource{id: "crisis", err: domain.Ef(domain.KindTransient, "crisis", "HTTP 503")}
	svc := NewAdvisoryService([]source.Source{advisorySource(), broken}, store, testCatalog(), quietLogger(), nil)

	err := svc.FetchCountryData(context.Background(), "france")
	require.Error(t, err)
	assert.Equal(t, domain.KindTransient, domain.KindOf(err))
	assert.Contains(t, err.Error(), "crisis")
	assert.Empty(t, store.writes, "nothing is written when a source fails")
}

func TestFetchCountryData_UnknownCountry(t *testing.T) {
	svc := NewAdvisoryService(nil, &memoryCountryStore{}, testCatalog(), quietLogger(), nil)
	err := svc.FetchCountryData(context.Background(), "atlantis")
	assert.True(t, errors.Is(err, domain.ErrInvalidCountry))
	assert.Equal(t, domain.KindInvalid, domain.KindOf(err))
}

func TestFetchCountryData_EnhancesPrimaryAdvisory(t *testing.T) {
	store := &memoryCountryStore{}
	enhancer := &stubEnhancer{enh: &Enhancement{
		Summary:               "Use caution in Paris.",
		KeyRisks:              []string{"terrorism"},
		SafetyRecommendations: []string{"stay alert"},
		SpecificAreas:         []string{"Paris"},
	}}
	svc := NewAdvisoryService([]source.Source{advisorySource()}, store, testCatalog(), quietLogger(), &AdvisoryOptions{Enhancer: enhancer})

	require.NoError(t, svc.FetchCountryData(context.Background(), "france"))

	alert := store.writes[0].Alerts[0]
	assert.Equal(t, "Use caution in Paris.", alert.Summary)
	assert.Equal(t, domain.StringArray{"terrorism"}, alert.KeyRisks)
	assert.Equal(t, domain.StringArray{"Paris"}, alert.SpecificAreas)
	assert.NotNil(t, alert.AIEnhancedAt)
}

func TestFetchCountryData_EnhancementTimeoutIsIgnored(t *testing.T) {
	store := &memoryCountryStore{}
	enhancer := &stubEnhancer{delay: 200 * time.Millisecond, enh: &Enhancement{Summary: "late"}}
	svc := NewAdvisoryService([]source.Source{advisorySource()}, store, testCatalog(), quietLogger(), &AdvisoryOptions{
		Enhancer:       enhancer,
		EnhanceTimeout: 10 * time.Millisecond,
	})

	require.NoError(t, svc.FetchCountryData(context.Background(), "france"))
	alert := store.writes[0].Alerts[0]
	assert.Equal(t, "raw text", alert.Summary)
	assert.Nil(t, alert.AIEnhancedAt)
}

func TestFetchCountryData_ArchivesRawPayloads(t *testing.T) {
	archive, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	store := &memoryCountryStore{}
	svc := NewAdvisoryService([]source.Source{advisorySource()}, store, testCatalog(), quietLogger(), &AdvisoryOptions{Archive: archive})
	fixed := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.FetchCountryData(context.Background(), "france"))

	rc, err := archive.Download(context.Background(), "snapshots/france/2026-05-04/state_advisory.json")
	require.NoError(t, err)
	defer rc.Close()
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.JSONEq(t, `{"items":[]}`, string(body))
}
