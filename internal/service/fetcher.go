package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/logger"
	"github.com/timmy/safetrip/internal/metrics"
	"github.com/timmy/safetrip/internal/source"
	"github.com/timmy/safetrip/internal/source/background"
	"github.com/timmy/safetrip/internal/source/crisis"
	"github.com/timmy/safetrip/internal/source/healthnotice"
	"github.com/timmy/safetrip/internal/source/seismic"
	"github.com/timmy/safetrip/internal/source/stateadvisory"
	"github.com/timmy/safetrip/internal/storage"
)

// feedCacheTTL keeps whole-world feeds for the length of a typical bulk run.
const feedCacheTTL = 15 * time.Minute

const defaultEnhanceTimeout = 30 * time.Second

// Fetcher fetches and persists the data of one country. It does not retry;
// retrying is the caller's job.
type Fetcher interface {
	FetchCountryData(ctx context.Context, country string) error
}

// CountryStore is the write side AdvisoryService needs.
type CountryStore interface {
	ReplaceCountryData(ctx context.Context, data *domain.CountryData) error
}

// NewSources builds the enabled upstream adapters.
func NewSources(cfg *config.SourcesConfig) []source.Source {
	var sources []source.Source
	if cfg.StateAdvisory.Enabled {
		sources = append(sources, stateadvisory.NewAdapter(cfg.StateAdvisory.BaseURL, cfg.StateAdvisory.Timeout, feedCacheTTL))
	}
	if cfg.HealthNotice.Enabled {
		sources = append(sources, healthnotice.NewAdapter(cfg.HealthNotice.BaseURL, cfg.HealthNotice.Timeout, feedCacheTTL))
	}
	if cfg.Seismic.Enabled {
		sources = append(sources, seismic.NewAdapter(cfg.Seismic.BaseURL, cfg.Seismic.Timeout, feedCacheTTL))
	}
	if cfg.Crisis.Enabled {
		sources = append(sources, crisis.NewAdapter(cfg.Crisis.BaseURL, cfg.Crisis.Timeout))
	}
	if cfg.Background.Enabled {
		sources = append(sources, background.NewAdapter(cfg.Background.BaseURL, cfg.Background.Timeout))
	}
	return sources
}

// AdvisoryService implements Fetcher over a set of sources.
type AdvisoryService struct {
	sources        []source.Source
	store          CountryStore
	catalog        *catalog.Catalog
	enhancer       Enhancer
	enhanceTimeout time.Duration
	archive        storage.ObjectStorage
	metrics        *metrics.Metrics
	logger         *logger.Logger
	now            func() time.Time
}

// AdvisoryOptions holds the optional collaborators of AdvisoryService.
type AdvisoryOptions struct {
	Enhancer       Enhancer              // nil disables enhancement
	EnhanceTimeout time.Duration
	Archive        storage.ObjectStorage // nil disables raw snapshots
	Metrics        *metrics.Metrics
}

// NewAdvisoryService creates a new AdvisoryService.
// Parameters:
//   - sources: upstream adapters queried for every country.
//   - store: destination of the merged result.
//   - cat: country catalog, used for codes and flags.
//   - log: base logger.
//   - opts: optional enhancer, archive and metrics; may be nil.
// Returns:
//   - *AdvisoryService: ready to use.
func NewAdvisoryService(sources []source.Source, store CountryStore, cat *catalog.Catalog, log *logger.Logger, opts *AdvisoryOptions) *AdvisoryService {
	if opts == nil {
		opts = &AdvisoryOptions{}
	}
	timeout := opts.EnhanceTimeout
	if timeout <= 0 {
		timeout = defaultEnhanceTimeout
	}
	if log == nil {
		log = logger.GetDefault()
	}
	return &AdvisoryService{
		sources:        sources,
		store:          store,
		catalog:        cat,
		enhancer:       opts.Enhancer,
		enhanceTimeout: timeout,
		archive:        opts.Archive,
		metrics:        opts.Metrics,
		logger:         log.WithField(logger.FieldComponent, "fetcher"),
		now:            time.Now,
	}
}

func (s *AdvisoryService) log(ctx context.Context) *logger.Logger {
	return logger.FromContextOr(ctx, s.logger)
}

type sourceOutcome struct {
	id     string
	result *source.Result
	err    error
}

// FetchCountryData queries every source for country, merges the results and
// replaces the stored data. A country no source knows about is stored with an
// empty alert set.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - country: normalized catalog name.
// Returns:
//   - error: transient error if any source failed to answer or decode;
//     fatal error if the store write fails.
func (s *AdvisoryService) FetchCountryData(ctx context.Context, country string) error {
	const op = "FetchCountryData"

	entry, ok := s.catalog.Lookup(country)
	if !ok {
		return domain.E(domain.KindInvalid, op, domain.ErrInvalidCountry)
	}
	ctx = s.log(ctx).WithField(logger.FieldCountry, entry.Name).WithContext(ctx)

	outcomes := make([]sourceOutcome, len(s.sources))
	var wg sync.WaitGroup
	for i, src := range s.sources {
		wg.Add(1)
		go func(i int, src source.Source) {
			defer wg.Done()
			res, err := src.Fetch(ctx, entry.Name)
			outcomes[i] = sourceOutcome{id: src.GetSourceID(), result: res, err: err}
		}(i, src)
	}
	wg.Wait()

	var errs []error
	data := &domain.CountryData{
		Country: domain.Country{
			Name:        entry.Name,
			Code:        entry.Code,
			LastUpdated: s.now(),
		},
	}
	if entry.Code != "" {
		data.Country.FlagURL = entry.FlagURL()
	}
	raw := map[string][]byte{}

	for _, o := range outcomes {
		if o.err != nil {
			if errors.Is(o.err, source.ErrNoData) {
				continue
			}
			s.metrics.SourceError(o.id)
			errs = append(errs, fmt.Errorf("%s: %w", o.id, o.err))
			continue
		}
		if o.result == nil {
			continue
		}
		data.Alerts = append(data.Alerts, o.result.Alerts...)
		if o.result.Background != nil {
			data.Background = o.result.Background
		}
		if data.Country.Code == "" && o.result.Code != "" {
			data.Country.Code = o.result.Code
		}
		if data.Country.FlagURL == "" && o.result.FlagURL != "" {
			data.Country.FlagURL = o.result.FlagURL
		}
		if len(o.result.Raw) > 0 {
			raw[o.id] = o.result.Raw
		}
	}
	if len(errs) > 0 {
		return domain.E(domain.KindTransient, op, errors.Join(errs...))
	}

	s.enhance(ctx, entry.Name, data.Alerts)
	s.archiveRaw(ctx, entry.Name, raw)

	if err := s.store.ReplaceCountryData(ctx, data); err != nil {
		return err
	}

	s.log(ctx).WithField(logger.FieldCount, len(data.Alerts)).Debug("Country data stored")
	return nil
}

// enhance rewrites the primary advisory in place. Failures leave it untouched.
func (s *AdvisoryService) enhance(ctx context.Context, country string, alerts []domain.Alert) {
	if s.enhancer == nil {
		return
	}
	for i := range alerts {
		if alerts[i].Source != stateadvisory.SourceID {
			continue
		}
		enh, err := WithHardTimeout(ctx, s.enhancer, s.enhanceTimeout, country, alerts[i])
		if err != nil {
			s.log(ctx).WithError(err).WithField("model", s.enhancer.Model()).Warn("Advisory enhancement skipped")
			return
		}
		enh.Apply(&alerts[i], s.now())
		return
	}
}

// archiveRaw stores upstream payloads under snapshots/{country}/{date}/{source}.json.
func (s *AdvisoryService) archiveRaw(ctx context.Context, country string, raw map[string][]byte) {
	if s.archive == nil || len(raw) == 0 {
		return
	}
	date := s.now().UTC().Format(domain.DateLayout)
	slug := strings.ReplaceAll(country, " ", "-")
	for id, body := range raw {
		key := fmt.Sprintf("snapshots/%s/%s/%s.json", slug, date, id)
		if err := s.archive.Upload(ctx, key, bytes.NewReader(body), int64(len(body)), "application/json"); err != nil {
			s.log(ctx).WithError(err).WithField("key", key).Warn("Failed to archive raw payload")
		}
	}
}
