package advisory

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoopHasNoOpinion(t *testing.T) {
	score, ok := Noop{}.Confidence(context.Background(), "m1")
	assert.False(t, ok)
	assert.Zero(t, score)
}

func TestSentimentFetchesAndCaches(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "m1", r.URL.Query().Get("market"))
		w.Write([]byte(`{"score":0.8}`))
	}))
	defer srv.Close()

	s := NewSentiment(srv.URL, time.Second, time.Minute, testLogger())

	score, ok := s.Confidence(context.Background(), "m1")
	require.True(t, ok)
	assert.Equal(t, 0.8, score)

	// Second lookup within the TTL is served from cache.
	score, ok = s.Confidence(context.Background(), "m1")
	require.True(t, ok)
	assert.Equal(t, 0.8, score)
	assert.Equal(t, int64(1), calls.Load())
}

func TestSentimentClampsScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"score":3.5}`))
	}))
	defer srv.Close()

	s := NewSentiment(srv.URL, time.Second, time.Minute, testLogger())

	score, ok := s.Confidence(context.Background(), "m1")
	require.True(t, ok)
	assert.Equal(t, 1.0, score)
}

func TestSentimentCachesFailures(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSentiment(srv.URL, time.Second, time.Minute, testLogger())

	_, ok := s.Confidence(context.Background(), "m1")
	assert.False(t, ok)

	_, ok = s.Confidence(context.Background(), "m1")
	assert.False(t, ok)
	assert.Equal(t, int64(1), calls.Load(), "failure must be cached for the TTL")
}

func TestSentimentExpiredEntryRefetches(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"score":0.5}`))
	}))
	defer srv.Close()

	s := NewSentiment(srv.URL, time.Second, time.Nanosecond, testLogger())

	s.Confidence(context.Background(), "m1")
	time.Sleep(time.Millisecond)
	s.Confidence(context.Background(), "m1")

	assert.Equal(t, int64(2), calls.Load())
}

func TestSentimentDistinctMarketsAreCachedSeparately(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("market") {
		case "m1":
			w.Write([]byte(`{"score":0.2}`))
		default:
			w.Write([]byte(`{"score":0.9}`))
		}
	}))
	defer srv.Close()

	s := NewSentiment(srv.URL, time.Second, time.Minute, testLogger())

	s1, _ := s.Confidence(context.Background(), "m1")
	s2, _ := s.Confidence(context.Background(), "m2")
	assert.Equal(t, 0.2, s1)
	assert.Equal(t, 0.9, s2)
}
