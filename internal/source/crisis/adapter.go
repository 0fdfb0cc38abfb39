// Package crisis queries a humanitarian disasters API for ongoing crises.
package crisis

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/source"
)

const SourceID = "crisis"

const appName = "safetrip"

type disastersResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Fields struct {
			Name        string `json:"name"`
			Status      string `json:"status"` // alert, ongoing, past
			URL         string `json:"url"`
			Description string `json:"description"`
			Date        struct {
				Created string `json:"created"`
			} `json:"date"`
			Type []struct {
				Name string `json:"name"`
			} `json:"type"`
		} `json:"fields"`
	} `json:"data"`
}

// Adapter implements source.Source for the disasters API.
type Adapter struct {
	client *resty.Client
	limit  int
}

func NewAdapter(baseURL string, timeout time.Duration) *Adapter {
	return &Adapter{client: source.NewHTTPClient(baseURL, timeout), limit: 5}
}

func (a *Adapter) GetSourceID() string { return SourceID }

// Fetch queries recent disasters filed against the country.
func (a *Adapter) Fetch(ctx context.Context, country string) (*source.Result, error) {
	const op = "crisis.Fetch"

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParamsFromValues(url.Values{
			"appname":           {appName},
			"filter[field]":     {"country"},
			"filter[value]":     {source.DisplayName(country)},
			"fields[include][]": {"name", "status", "url", "description", "date.created", "type.name"},
			"sort[]":            {"date.created:desc"},
			"limit":             {strconv.Itoa(a.limit)},
		}).
		Get("/disasters")
	if err := source.CheckResponse(op, resp, err); err != nil {
		return nil, err
	}

	var out disastersResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, source.DecodeError(op, err)
	}
	if len(out.Data) == 0 {
		return nil, source.ErrNoData
	}

	alerts := make([]domain.Alert, 0, len(out.Data))
	for _, d := range out.Data {
		f := d.Fields
		alert := domain.Alert{
			Source:   SourceID,
			Title:    f.Name,
			Severity: severityForStatus(f.Status),
			Level:    f.Status,
			Summary:  summarize(f.Description, 400),
			Link:     f.URL,
		}
		for _, t := range f.Type {
			alert.KeyRisks = append(alert.KeyRisks, t.Name)
		}
		if t, err := time.Parse(time.RFC3339, f.Date.Created); err == nil {
			alert.PublishedAt = &t
		}
		alerts = append(alerts, alert)
	}
	return &source.Result{Alerts: alerts, Raw: resp.Body()}, nil
}

func severityForStatus(status string) domain.Severity {
	switch strings.ToLower(status) {
	case "alert", "ongoing":
		return domain.SeverityMedium
	}
	return domain.SeverityLow
}

func summarize(s string, n int) string {
	s = source.StripHTML(s)
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
