// Package advisory provides best-effort external opinions (sentiment scores)
// that strategies may use to scale order size. Advisory inputs never sit on
// the order path: a slow or failing advisor degrades to "no opinion".
package advisory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Advisor supplies a confidence score in [0,1] for a market. ok is false
// when no opinion is available; callers must treat that as neutral.
type Advisor interface {
	Confidence(ctx context.Context, marketID string) (score float64, ok bool)
}

// Noop is the disabled advisor.
type Noop struct{}

// Confidence always reports no opinion.
func (Noop) Confidence(context.Context, string) (float64, bool) { return 0, false }

// Sentiment queries an external sentiment endpoint and caches responses so
// at most one request per market per TTL leaves the process.
type Sentiment struct {
	baseURL    string
	httpClient *http.Client
	cacheTTL   time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedScore
}

type cachedScore struct {
	score   float64
	ok      bool
	expires time.Time
}

// NewSentiment creates a sentiment advisor. timeout bounds each request; the
// budget is deliberately small so a dead endpoint cannot stall a strategy.
func NewSentiment(baseURL string, timeout, cacheTTL time.Duration, logger *slog.Logger) *Sentiment {
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Sentiment{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		cacheTTL:   cacheTTL,
		logger:     logger.With(slog.String("component", "advisory")),
		cache:      make(map[string]cachedScore),
	}
}

// Confidence returns the cached or freshly fetched score for marketID.
// Failures are cached too, so a broken endpoint is retried at most once per
// TTL.
func (s *Sentiment) Confidence(ctx context.Context, marketID string) (float64, bool) {
	now := time.Now()

	s.mu.Lock()
	if c, hit := s.cache[marketID]; hit && now.Before(c.expires) {
		s.mu.Unlock()
		return c.score, c.ok
	}
	s.mu.Unlock()

	score, err := s.fetch(ctx, marketID)
	entry := cachedScore{score: score, ok: err == nil, expires: now.Add(s.cacheTTL)}
	if err != nil {
		s.logger.Debug("sentiment unavailable",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.cache[marketID] = entry
	s.mu.Unlock()

	return entry.score, entry.ok
}

func (s *Sentiment) fetch(ctx context.Context, marketID string) (float64, error) {
	u := s.baseURL + "/sentiment?market=" + url.QueryEscape(marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("advisory: create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("advisory: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("advisory: HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return 0, fmt.Errorf("advisory: read response: %w", err)
	}

	var out struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, fmt.Errorf("advisory: decode response: %w", err)
	}

	if out.Score < 0 {
		out.Score = 0
	}
	if out.Score > 1 {
		out.Score = 1
	}
	return out.Score, nil
}
