package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
)

const omimSearchBody = `{"omim":{"searchResponse":{"search":"preeclampsia","entryList":[
	{"entry":{"prefix":"%","mimNumber":189800,"titles":{"preferredTitle":"PREECLAMPSIA/ECLAMPSIA 1; PEE1"}}},
	{"entry":{"prefix":"#","mimNumber":609402,"titles":{"preferredTitle":"PREECLAMPSIA/ECLAMPSIA 4; PEE4"}}}
]}}}`

const omimEntryBody = `{"omim":{"entryList":[{"entry":{"mimNumber":189800,
	"titles":{"preferredTitle":"PREECLAMPSIA/ECLAMPSIA 1; PEE1"},
	"textSectionList":[
		{"textSection":{"textSectionName":"description","textSectionTitle":"Description","textSectionContent":"Preeclampsia is a hypertensive disorder."}},
		{"textSection":{"textSectionName":"inheritance","textSectionTitle":"Inheritance","textSectionContent":"Multifactorial."}}
	]}}]}}`

func TestParseOMIMSearch(t *testing.T) {
	entries := ParseOMIMSearch([]byte(omimSearchBody))
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].MimNumber != 189800 || entries[0].Prefix != "%" || entries[0].Title != "PREECLAMPSIA/ECLAMPSIA 1; PEE1" {
		t.Errorf("entries[0] = %+v", entries[0])
	}

	if got := ParseOMIMSearch([]byte(`{"omim":{}}`)); got == nil || len(got) != 0 {
		t.Errorf("empty search = %#v, want empty slice", got)
	}
}

func TestParseOMIMEntry(t *testing.T) {
	detail := ParseOMIMEntry([]byte(omimEntryBody))
	if detail == nil {
		t.Fatal("expected detail")
	}
	if detail.MimNumber != 189800 || len(detail.Text) != 2 || detail.Text[1].Name != "inheritance" {
		t.Errorf("detail = %+v", detail)
	}

	if got := ParseOMIMEntry([]byte(`{"omim":{"entryList":[]}}`)); got != nil {
		t.Errorf("missing entry = %+v, want nil", got)
	}
}

func newFakeOMIM(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Query().Get("apiKey") != "key" || r.URL.Query().Get("format") != "json" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/entry/search":
			w.Write([]byte(omimSearchBody))
		case "/entry":
			if r.URL.Query().Get("mimNumber") == "189800" {
				w.Write([]byte(omimEntryBody))
				return
			}
			w.Write([]byte(`{"omim":{"entryList":[]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestOMIMServiceCachesResponses(t *testing.T) {
	srv, calls := newFakeOMIM(t)
	svc := NewOMIMService(srv.URL, "key", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		entries, err := svc.Search(ctx, "preeclampsia", 10)
		if err != nil {
			t.Fatalf("Search: %v", err)
		}
		if len(entries) != 2 {
			t.Fatalf("got %d entries", len(entries))
		}
	}
	if got := atomic.LoadInt32(calls); got != 1 {
		t.Errorf("upstream called %d times, want 1", got)
	}

	if _, err := svc.Search(ctx, "preeclampsia", 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if got := atomic.LoadInt32(calls); got != 2 {
		t.Errorf("different limit should miss the cache, calls = %d", got)
	}
}

func TestOMIMServiceNotConfigured(t *testing.T) {
	svc := NewOMIMService("http://127.0.0.1:1", "", nil)
	if _, err := svc.Search(context.Background(), "x", 1); err == nil {
		t.Error("expected error without api key")
	}
}

func TestOMIMEndpoints(t *testing.T) {
	srv, _ := newFakeOMIM(t)
	r := chi.NewRouter()
	NewOMIMEndpoints(NewOMIMService(srv.URL, "key", nil)).RegisterRoutes(r)

	tests := []struct {
		target string
		status int
	}{
		{"/omim/search?q=preeclampsia", http.StatusOK},
		{"/omim/search", http.StatusBadRequest},
		{"/omim/search?q=x&limit=0", http.StatusBadRequest},
		{"/omim/search?q=x&limit=101", http.StatusBadRequest},
		{"/omim/entry/189800", http.StatusOK},
		{"/omim/entry/1", http.StatusNotFound},
		{"/omim/entry/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest("GET", tt.target, nil))
		if rec.Code != tt.status {
			t.Errorf("GET %s = %d, want %d (%s)", tt.target, rec.Code, tt.status, rec.Body.String())
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/omim/search?q=preeclampsia", nil))
	var body struct {
		Entries []OMIMEntry `json:"entries"`
	}
	decodeBody(t, rec, &body)
	if len(body.Entries) != 2 {
		t.Errorf("entries = %+v", body.Entries)
	}
}

func TestOMIMSharedLookupSurvivesCancelledCaller(t *testing.T) {
	arrived := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case arrived <- struct{}{}:
		default:
		}
		<-release
		w.Write([]byte(omimEntryBody))
	}))
	t.Cleanup(srv.Close)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	svc := NewOMIMService(srv.URL, "key", nil)
	params := url.Values{"mimNumber": {"189800"}}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.fetch(first, "entry", params)
		firstErr <- err
	}()
	<-arrived

	type result struct {
		body []byte
		err  error
	}
	second := make(chan result, 1)
	go func() {
		body, err := svc.fetch(context.Background(), "entry", params)
		second <- result{body, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	unblock()
	res := <-second
	if res.err != nil {
		t.Fatalf("second caller err = %v", res.err)
	}
	if detail := ParseOMIMEntry(res.body); detail == nil || detail.MimNumber != 189800 {
		t.Errorf("detail = %+v", detail)
	}
	if svc.guard.State() != "closed" {
		t.Errorf("breaker state = %s", svc.guard.State())
	}

	// the finished shared call filled the cache
	if _, err := svc.fetch(context.Background(), "entry", params); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

func TestResponseCacheServesLocalBeforeRedis(t *testing.T) {
	// nothing listens here, so any redis round trip would fail
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { rdb.Close() })

	c := newResponseCache(rdb, time.Hour)
	ctx := context.Background()

	if _, ok := c.get(ctx, "omim:missing"); ok {
		t.Fatal("unexpected hit")
	}
	c.set(ctx, "omim:k", []byte("body"), time.Hour)
	got, ok := c.get(ctx, "omim:k")
	if !ok || string(got) != "body" {
		t.Errorf("get = %q, %v", got, ok)
	}
}
