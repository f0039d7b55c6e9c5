package poll

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultproxy/pkg/ingestor"
)

func newTestPoll(t *testing.T, cfg Config) *Poll {
	t.Helper()
	base := ingestor.NewBase("acme-poll", "", "poll", "", 20, 1000)
	return New(base, cfg)
}

func TestIntervalIsClampedToMinimum(t *testing.T) {
	p := newTestPoll(t, Config{URL: "http://example.com", IntervalMs: 100})
	assert.Equal(t, minInterval, p.interval)
}

func TestStartFiresInitialPollImmediatelyAndExtractsArray(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":[{"id":"1"},{"id":"2"}]}`))
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 100, ResponsePath: "items"})
	require.NoError(t, p.Start())
	defer p.Stop()

	require.Eventually(t, func() bool {
		return len(p.GetEvents(0)) == 2
	}, time.Second, 10*time.Millisecond)

	events := p.GetEvents(0)
	assert.Equal(t, "poll", events[0].EventType)
}

func TestDeduplicateBySkipsRepeatedKeyAcrossPolls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"dup"},{"id":"fresh"}]`))
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 5000, DeduplicateBy: "id"})

	items, err := p.fetch(context.Background())
	require.NoError(t, err)
	for _, item := range items {
		p.pushItem(item)
	}
	for _, item := range items {
		p.pushItem(item)
	}

	assert.Len(t, p.GetEvents(0), 2)
}

func TestMissingResponsePathFieldRecordsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"wrong":[]}`))
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 5000, ResponsePath: "items"})
	_, err := p.fetch(context.Background())
	assert.Error(t, err)
}

func TestNonArrayResponsePathRecordsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"items":{"not":"an array"}}`))
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 5000, ResponsePath: "items"})
	_, err := p.fetch(context.Background())
	assert.Error(t, err)
}

func TestNonTwoXXResponseIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 5000})
	_, err := p.fetch(context.Background())
	assert.Error(t, err)
}

func TestTenConsecutiveErrorsTransitionsToTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 5000})
	for i := 0; i < maxConsecutiveErrors; i++ {
		p.pollOnce(context.Background())
	}
	assert.Equal(t, ingestor.StateError, p.State())
}

func TestSuccessAfterErrorsResetsConsecutiveCounter(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{URL: srv.URL, IntervalMs: 5000})
	p.pollOnce(context.Background())
	p.pollOnce(context.Background())
	fail.Store(false)
	p.pollOnce(context.Background())

	assert.Equal(t, 0, p.consecutiveErrors)
	assert.Equal(t, ingestor.StateConnected, p.State())
}

func TestURLAndHeaderPlaceholdersAreSubstitutedFromSecrets(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	p := newTestPoll(t, Config{
		URL:        srv.URL,
		IntervalMs: 5000,
		Headers:    map[string]string{"Authorization": "Bearer ${TOKEN}"},
		Secrets:    map[string]string{"TOKEN": "secret-123"},
	})
	_, err := p.fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-123", gotAuth)
}
