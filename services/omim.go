package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/maternify/backend/resilience"
	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	omimCacheTTL       = 24 * time.Hour
	defaultOMIMLimit   = 10
	maxOMIMLimit       = 100
	omimRequestsPerSec = 4
	omimCallTimeout    = 45 * time.Second
)

type OMIMEntry struct {
	MimNumber int64  `json:"mim_number"`
	Title     string `json:"title"`
	Prefix    string `json:"prefix"`
}

type OMIMTextSection struct {
	Name    string `json:"name"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type OMIMDetail struct {
	MimNumber int64             `json:"mim_number"`
	Title     string            `json:"title"`
	Text      []OMIMTextSection `json:"text"`
}

// responseCache keeps raw upstream bodies in process memory in front of
// redis. Redis hits refill the local level.
type responseCache struct {
	rdb   *redis.Client
	local *cache.Cache
	ttl   time.Duration
}

func newResponseCache(rdb *redis.Client, ttl time.Duration) *responseCache {
	return &responseCache{rdb: rdb, local: cache.New(ttl, time.Hour), ttl: ttl}
}

func (c *responseCache) get(ctx context.Context, key string) ([]byte, bool) {
	if v, ok := c.local.Get(key); ok {
		return v.([]byte), true
	}
	if c.rdb == nil {
		return nil, false
	}

	val, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("Failed to read cache", "key", key, "error", err)
		}
		return nil, false
	}
	ttl := c.ttl
	if remaining, err := c.rdb.TTL(ctx, key).Result(); err == nil && remaining > 0 {
		ttl = remaining
	}
	c.local.Set(key, val, ttl)
	return val, true
}

func (c *responseCache) set(ctx context.Context, key string, val []byte, ttl time.Duration) {
	c.local.Set(key, val, ttl)
	if c.rdb == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		slog.Warn("Failed to write cache", "key", key, "error", err)
	}
}

// OMIMService queries the OMIM REST API. Identical concurrent lookups share
// one upstream call and answers are cached for a day.
type OMIMService struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *resilience.Guard
	limiter *rate.Limiter
	cache   *responseCache
	sf      singleflight.Group
}

func NewOMIMService(baseURL, apiKey string, rdb *redis.Client) *OMIMService {
	return &OMIMService{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
		guard:   resilience.NewGuard("omim", 30*time.Second),
		limiter: rate.NewLimiter(rate.Limit(omimRequestsPerSec), omimRequestsPerSec),
		cache:   newResponseCache(rdb, omimCacheTTL),
	}
}

func (s *OMIMService) Configured() bool {
	return s != nil && s.apiKey != ""
}

// fetch returns the body of GET {base}/{path}?params, from cache when
// possible.
func (s *OMIMService) fetch(ctx context.Context, path string, params url.Values) ([]byte, error) {
	if !s.Configured() {
		return nil, ErrNotConfigured
	}

	key := "omim:" + path + "?" + params.Encode()
	if data, ok := s.cache.get(ctx, key); ok {
		return data, nil
	}

	// the shared call outlives any single caller; each caller waits on its
	// own context
	ch := s.sf.DoChan(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), omimCallTimeout)
		defer cancel()
		return s.download(callCtx, key, path, params)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			slog.Debug("Shared omim lookup", "key", path)
		}
		return res.Val.([]byte), nil
	}
}

func (s *OMIMService) download(ctx context.Context, key, path string, params url.Values) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("format", "json")
	q.Set("apiKey", s.apiKey)

	data, err := s.guard.Do(ctx, func(ctx context.Context) (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/"+path+"?"+q.Encode(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, &resilience.StatusError{Service: "omim", StatusCode: resp.StatusCode}
		}
		if !gjson.ValidBytes(body) {
			return nil, fmt.Errorf("omim API returned invalid json")
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.set(ctx, key, data.([]byte), omimCacheTTL)
	return data.([]byte), nil
}

// ParseOMIMSearch reads the entry list of an entry/search response.
func ParseOMIMSearch(body []byte) []OMIMEntry {
	entries := []OMIMEntry{}
	gjson.GetBytes(body, "omim.searchResponse.entryList").ForEach(func(_, item gjson.Result) bool {
		entry := item.Get("entry")
		entries = append(entries, OMIMEntry{
			MimNumber: entry.Get("mimNumber").Int(),
			Title:     entry.Get("titles.preferredTitle").String(),
			Prefix:    entry.Get("prefix").String(),
		})
		return true
	})
	return entries
}

// ParseOMIMEntry reads the first entry of an entry response, nil when there
// is none.
func ParseOMIMEntry(body []byte) *OMIMDetail {
	entry := gjson.GetBytes(body, "omim.entryList.0.entry")
	if !entry.Exists() {
		return nil
	}

	detail := &OMIMDetail{
		MimNumber: entry.Get("mimNumber").Int(),
		Title:     entry.Get("titles.preferredTitle").String(),
		Text:      []OMIMTextSection{},
	}
	entry.Get("textSectionList").ForEach(func(_, item gjson.Result) bool {
		section := item.Get("textSection")
		detail.Text = append(detail.Text, OMIMTextSection{
			Name:    section.Get("textSectionName").String(),
			Title:   section.Get("textSectionTitle").String(),
			Content: section.Get("textSectionContent").String(),
		})
		return true
	})
	return detail
}

func (s *OMIMService) Search(ctx context.Context, query string, limit int) ([]OMIMEntry, error) {
	params := url.Values{}
	params.Set("search", query)
	params.Set("limit", strconv.Itoa(limit))

	body, err := s.fetch(ctx, "entry/search", params)
	if err != nil {
		return nil, fmt.Errorf("failed to search omim: %w", err)
	}
	return ParseOMIMSearch(body), nil
}

func (s *OMIMService) Entry(ctx context.Context, mimNumber int64) (*OMIMDetail, error) {
	params := url.Values{}
	params.Set("mimNumber", strconv.FormatInt(mimNumber, 10))
	params.Set("include", "text")

	body, err := s.fetch(ctx, "entry", params)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch omim entry: %w", err)
	}
	return ParseOMIMEntry(body), nil
}

type OMIMEndpoints struct {
	omim *OMIMService
}

func NewOMIMEndpoints(omim *OMIMService) *OMIMEndpoints {
	return &OMIMEndpoints{omim: omim}
}

func (e *OMIMEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/omim", func(r chi.Router) {
		r.Get("/search", e.SearchHandler)
		r.Get("/entry/{mim}", e.EntryHandler)
	})
}

func (e *OMIMEndpoints) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	limit := defaultOMIMLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxOMIMLimit {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	entries, err := e.omim.Search(r.Context(), query, limit)
	if err != nil {
		slog.Error("OMIM search failed", "error", err, "query", query)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (e *OMIMEndpoints) EntryHandler(w http.ResponseWriter, r *http.Request) {
	mim, err := strconv.ParseInt(chi.URLParam(r, "mim"), 10, 64)
	if err != nil || mim <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid MIM number")
		return
	}

	detail, err := e.omim.Entry(r.Context(), mim)
	if err != nil {
		slog.Error("OMIM entry lookup failed", "error", err, "mim_number", mim)
		writeServiceError(w, err)
		return
	}
	if detail == nil {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
