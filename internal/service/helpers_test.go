package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/timmy/safetrip/internal/catalog"
	"github.com/timmy/safetrip/internal/config"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/logger"
	"github.com/timmy/safetrip/internal/repository"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func quietLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard, ServiceName: "test"})
}

func newTestJobRepo(t *testing.T) *repository.JobRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, repository.Migrate(db))
	return repository.NewJobRepository(db)
}

// fakeFetcher counts calls per country. failFor[c] is the number of leading
// attempts that fail; a negative value fails forever.
type fakeFetcher struct {
	mu      sync.Mutex
	calls   map[string]int
	failFor map[string]int
	hook    func(ctx context.Context, country string) error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{calls: map[string]int{}, failFor: map[string]int{}}
}

func (f *fakeFetcher) FetchCountryData(ctx context.Context, country string) error {
	f.mu.Lock()
	f.calls[country]++
	n := f.calls[country]
	fails := f.failFor[country]
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, country); err != nil {
			return err
		}
	}
	if fails < 0 || n <= fails {
		return domain.Ef(domain.KindTransient, "fetch", "upstream unavailable for %s", country)
	}
	return nil
}

func (f *fakeFetcher) callsFor(country string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[country]
}

func (f *fakeFetcher) fetched() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.calls))
	for k, v := range f.calls {
		out[k] = v
	}
	return out
}

// sleepRecorder replaces real waits and remembers them.
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.waits...)
}

func testRefreshConfig() config.RefreshConfig {
	return config.RefreshConfig{
		BatchSize:  2,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   3 * time.Second,
		BatchDelay: 5 * time.Second,
	}
}

func newTestOrchestrator(t *testing.T, store JobStore, fetcher Fetcher, cfg config.RefreshConfig, countries ...string) (*Orchestrator, *sleepRecorder) {
	t.Helper()
	o := NewOrchestrator(store, fetcher, catalog.FromNames(countries...), cfg, quietLogger(), nil)
	rec := &sleepRecorder{}
	o.sleep = rec.sleep
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Shutdown(ctx)
	})
	return o, rec
}
