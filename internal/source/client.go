package source

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/timmy/safetrip/internal/domain"
	"github.com/timmy/safetrip/internal/logger"
	"golang.org/x/sync/singleflight"
)

// UserAgent is sent on every upstream request.
const UserAgent = "safetrip-advisory-refresher/1.0"

const defaultTimeout = 15 * time.Second

// NewHTTPClient returns a resty client for one upstream. Retries are left to
// the refresh orchestrator, so resty's own retry stays off.
func NewHTTPClient(baseURL string, timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", UserAgent)
	if baseURL != "" {
		c.SetBaseURL(strings.TrimRight(baseURL, "/"))
	}
	return c
}

// CheckResponse turns a resty outcome into a transient domain error.
func CheckResponse(op string, resp *resty.Response, err error) error {
	if err != nil {
		return domain.E(domain.KindTransient, op, err)
	}
	if resp.IsError() {
		return domain.Ef(domain.KindTransient, op, "HTTP %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return nil
}

// DecodeError wraps a payload parsing failure.
func DecodeError(op string, err error) error {
	return domain.Ef(domain.KindTransient, op, "decode response: %w", err)
}

// truncate caps s at n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// KeepRaw returns the encoded payload for archiving. An encoding failure is
// logged and the payload dropped; the fetch itself still succeeds.
func KeepRaw(ctx context.Context, sourceID string, raw []byte, err error) []byte {
	if err != nil {
		logger.FromContext(ctx).WithField(logger.FieldSource, sourceID).WithError(err).
			Warn("Failed to encode raw payload, snapshot skipped")
		return nil
	}
	return raw
}

var levelPattern = regexp.MustCompile(`(?i)level\s*([1-4])`)

// ParseLevel extracts "Level N" from text. It returns 0 when absent.
func ParseLevel(text string) int {
	m := levelPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	return int(m[1][0] - '0')
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)
var spacePattern = regexp.MustCompile(`\s+`)

// StripHTML removes markup and collapses whitespace.
func StripHTML(s string) string {
	s = tagPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("&nbsp;", " ", "&amp;", "&", "&quot;", `"`, "&#39;", "'", "&lt;", "<", "&gt;", ">").Replace(s)
	return strings.TrimSpace(spacePattern.ReplaceAllString(s, " "))
}

// MentionsCountry reports whether text names country as a whole word.
func MentionsCountry(text, country string) bool {
	if country == "" {
		return false
	}
	re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(country) + `\b`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

// DisplayName capitalizes a catalog name for upstream queries: "united states" -> "United States".
func DisplayName(country string) string {
	words := strings.Fields(country)
	for i, w := range words {
		if i > 0 && (w == "and" || w == "of" || w == "the") {
			continue
		}
		parts := strings.Split(w, "-")
		for j, p := range parts {
			if p != "" {
				parts[j] = strings.ToUpper(p[:1]) + p[1:]
			}
		}
		words[i] = strings.Join(parts, "-")
	}
	return strings.Join(words, " ")
}

// FeedCache holds one whole-world feed for a short time so a bulk run does
// not download it once per country. Concurrent misses share one load.
type FeedCache struct {
	ttl time.Duration
	now func() time.Time

	group singleflight.Group

	mu        sync.Mutex
	body      []byte
	fetchedAt time.Time
}

// NewFeedCache creates a cache. A non-positive ttl disables caching.
func NewFeedCache(ttl time.Duration) *FeedCache {
	return &FeedCache{ttl: ttl, now: time.Now}
}

// Get returns the cached body or calls load. Failed loads are not cached.
// A caller whose ctx ends stops waiting; the shared load keeps going for the
// others, bounded by the source's HTTP timeout.
func (c *FeedCache) Get(ctx context.Context, load func(context.Context) ([]byte, error)) ([]byte, error) {
	if body, ok := c.cached(); ok {
		return body, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan("feed", func() (interface{}, error) {
		if body, ok := c.cached(); ok {
			return body, nil
		}
		body, err := load(loadCtx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.body, c.fetchedAt = body, c.now()
		c.mu.Unlock()
		return body, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *FeedCache) cached() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ttl > 0 && c.body != nil && c.now().Sub(c.fetchedAt) < c.ttl {
		return c.body, true
	}
	return nil, false
}
