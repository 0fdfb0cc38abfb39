// Package seismic reads a GeoJSON earthquake summary feed.
package seismic

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

const SourceID = "seismic"

const maxEvents = 5

type featureCollection struct {
	Features []feature `json:"features"`
}

type feature struct {
	ID         string `json:"id"`
	Properties struct {
		Mag   float64 `json:"mag"`
		Place string  `json:"place"`
		Time  int64   `json:"time"` // unix millis
		URL   string  `json:"url"`
		Title string  `json:"title"`
		Alert string  `json:"alert"`
	} `json:"properties"`
}

// Adapter implements source.Source for the earthquake feed.
type Adapter struct {
	client  *resty.Client
	feedURL string
	cache   *source.FeedCache
}

func NewAdapter(feedURL string, timeout, cacheTTL time.Duration) *Adapter {
	return &Adapter{
		client:  source.NewHTTPClient("", timeout),
		feedURL: feedURL,
		cache:   source.NewFeedCache(cacheTTL),
	}
}

func (a *Adapter) GetSourceID() string { return SourceID }

// SeverityForMagnitude maps magnitude onto severity.
func SeverityForMagnitude(mag float64) domain.Severity {
	switch {
	case mag >= 7:
		return domain.SeverityHigh
	case mag >= 6:
		return domain.SeverityMedium
	case mag >= 5:
		return domain.SeverityLow
	}
	return domain.SeverityInfo
}

// Fetch returns the most recent events whose place names the country.
func (a *Adapter) Fetch(ctx context.Context, country string) (*source.Result, error) {
	body, err := a.cache.Get(ctx, a.load)
	if err != nil {
		return nil, err
	}

	var fc featureCollection
	if err := json.Unmarshal(body, &fc); err != nil {
		return nil, source.DecodeError("seismic.Fetch", err)
	}

	var matched []feature
	for _, f := range fc.Features {
		if source.MentionsCountry(f.Properties.Place, country) {
			matched = append(matched, f)
		}
	}
	if len(matched) == 0 {
		return nil, source.ErrNoData
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Properties.Time > matched[j].Properties.Time
	})
	if len(matched) > maxEvents {
		matched = matched[:maxEvents]
	}

	alerts := make([]domain.Alert, 0, len(matched))
	for _, f := range matched {
		p := f.Properties
		at := time.UnixMilli(p.Time).UTC()
		title := p.Title
		if title == "" {
			title = fmt.Sprintf("M %.1f - %s", p.Mag, p.Place)
		}
		alerts = append(alerts, domain.Alert{
			Source:      SourceID,
			Title:       title,
			Severity:    SeverityForMagnitude(p.Mag),
			Level:       fmt.Sprintf("M%.1f", p.Mag),
			Summary:     fmt.Sprintf("Magnitude %.1f earthquake %s on %s.", p.Mag, p.Place, at.Format("2006-01-02 15:04 MST")),
			Link:        p.URL,
			PublishedAt: &at,
		})
	}

	raw, err := json.Marshal(matched)
	raw = source.KeepRaw(ctx, SourceID, raw, err)
	return &source.Result{Alerts: alerts, Raw: raw}, nil
}

func (a *Adapter) load(ctx context.Context) ([]byte, error) {
	resp, err := a.client.R().SetContext(ctx).Get(a.feedURL)
	if err := source.CheckResponse("seismic.load", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
