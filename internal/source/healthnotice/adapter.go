// Package healthnotice reads the travel health notices RSS feed.
package healthnotice

import (
	"context"
	"encoding/xml"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

const SourceID = "health_notice"

// maxNotices caps how many notices are kept per country.
const maxNotices = 5

type rss struct {
	Channel struct {
		Items []item `xml:"item"`
	} `xml:"channel"`
}

type item struct {
	Title       string `xml:"title"`
	Link        string `xml:"link"`
	Description string `xml:"description"`
	PubDate     string `xml:"pubDate"`
}

// Adapter implements source.Source for the RSS feed.
type Adapter struct {
	client  *resty.Client
	feedURL string
	cache   *source.FeedCache
}

// NewAdapter creates an adapter for the feed at feedURL.
func NewAdapter(feedURL string, timeout, cacheTTL time.Duration) *Adapter {
	return &Adapter{
		client:  source.NewHTTPClient("", timeout),
		feedURL: feedURL,
		cache:   source.NewFeedCache(cacheTTL),
	}
}

func (a *Adapter) GetSourceID() string { return SourceID }

// Fetch returns the notices whose title or description names the country.
func (a *Adapter) Fetch(ctx context.Context, country string) (*source.Result, error) {
	body, err := a.cache.Get(ctx, a.load)
	if err != nil {
		return nil, err
	}

	var doc rss
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, source.DecodeError("healthnotice.Fetch", err)
	}

	var (
		alerts  []domain.Alert
		matched []item
	)
	for _, it := range doc.Channel.Items {
		if !source.MentionsCountry(it.Title, country) && !source.MentionsCountry(it.Description, country) {
			continue
		}
		level := source.ParseLevel(it.Title)
		alert := domain.Alert{
			Source:   SourceID,
			Title:    it.Title,
			Severity: domain.SeverityFromLevel(level),
			Summary:  source.StripHTML(it.Description),
			Link:     it.Link,
		}
		if level > 0 {
			alert.Level = "Level " + string(rune('0'+level))
		}
		if t, err := time.Parse(time.RFC1123, it.PubDate); err == nil {
			alert.PublishedAt = &t
		} else if t, err := time.Parse(time.RFC1123Z, it.PubDate); err == nil {
			alert.PublishedAt = &t
		}
		alerts = append(alerts, alert)
		matched = append(matched, it)
		if len(alerts) == maxNotices {
			break
		}
	}
	if len(alerts) == 0 {
		return nil, source.ErrNoData
	}

	raw, err := xml.Marshal(matched)
	raw = source.KeepRaw(ctx, SourceID, raw, err)
	return &source.Result{Alerts: alerts, Raw: raw}, nil
}

func (a *Adapter) load(ctx context.Context) ([]byte, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/rss+xml, application/xml").
		Get(a.feedURL)
	if err := source.CheckResponse("healthnotice.load", resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
