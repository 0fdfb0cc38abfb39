// Package stateadvisory reads the government travel advisory feed. It is the
// primary source: its alert is the one handed to the summarizer.
package stateadvisory

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

// SourceID is stored on every alert produced by this adapter.
const SourceID = "state_advisory"

const feedPath = "/TravelAdvisories"

type advisory struct {
	Title     string   `json:"Title"`
	Link      string   `json:"Link"`
	Category  []string `json:"Category"`
	Summary   string   `json:"Summary"`
	Published string   `json:"Published"`
	Updated   string   `json:"Updated"`
}

// Adapter implements source.Source for the advisory feed.
type Adapter struct {
	client *resty.Client
	cache  *source.FeedCache
}

// NewAdapter creates an adapter against baseURL. The whole feed is cached
// for cacheTTL because it covers every country at once.
func NewAdapter(baseURL string, timeout, cacheTTL time.Duration) *Adapter {
	return &Adapter{
		client: source.NewHTTPClient(baseURL, timeout),
		cache:  source.NewFeedCache(cacheTTL),
	}
}

func (a *Adapter) GetSourceID() string { return SourceID }

// Fetch returns the advisory whose title names the country.
func (a *Adapter) Fetch(ctx context.Context, country string) (*source.Result, error) {
	const op = "stateadvisory.Fetch"

	body, err := a.cache.Get(ctx, a.load)
	if err != nil {
		return nil, err
	}

	var feed []advisory
	if err := json.Unmarshal(body, &feed); err != nil {
		return nil, source.DecodeError(op, err)
	}

	for _, item := range feed {
		name, level, ok := splitTitle(item.Title)
		if !ok || !strings.EqualFold(name, country) {
			continue
		}
		alert := domain.Alert{
			Source:   SourceID,
			Title:    item.Title,
			Severity: domain.SeverityFromLevel(source.ParseLevel(level)),
			Level:    level,
			Summary:  source.StripHTML(item.Summary),
			Link:     item.Link,
		}
		if t, ok := parseTime(item.Updated, item.Published); ok {
			alert.PublishedAt = &t
		}
		raw, err := json.Marshal(item)
		raw = source.KeepRaw(ctx, SourceID, raw, err)
		return &source.Result{Alerts: []domain.Alert{alert}, Raw: raw}, nil
	}
	return nil, source.ErrNoData
}

func (a *Adapter) load(ctx context.Context) ([]byte, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(feedPath)
	if err := source.CheckResponse("stateadvisory.load", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// splitTitle splits "France - Level 2: Exercise Increased Caution".
func splitTitle(title string) (country, level string, ok bool) {
	idx := strings.LastIndex(title, " - ")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(title[:idx]), strings.TrimSpace(title[idx+3:]), true
}

func parseTime(values ...string) (time.Time, bool) {
	for _, v := range values {
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05-07:00"} {
			if t, err := time.Parse(layout, v); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
