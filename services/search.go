package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ledongthuc/pdf"
	"github.com/robfig/cron/v3"
	"gonum.org/v1/gonum/floats"
)

const (
	searchTopK       = 5
	snippetLength    = 800
	embedBatchSize   = 64
	maxEmbeddedRunes = 6000
)

// ErrIndexNotReady is returned by searches issued before the first build.
var ErrIndexNotReady = errors.New("search index not loaded")

// Embedder turns texts into vectors with the named model.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

type SearchDocument struct {
	PDFName    string
	PageNumber int
	Content    string
}

type SearchResult struct {
	PDFName        string  `json:"pdf_name"`
	PageNumber     int     `json:"page_number"`
	ContentSnippet string  `json:"content_snippet"`
	Score          float64 `json:"score"`
}

// SearchIndex holds one embedding per pdf page for each model. Searches
// read a consistent snapshot while a rebuild runs.
type SearchIndex struct {
	embedder          Embedder
	dataDir           string
	englishModel      string
	multilingualModel string

	mu           sync.RWMutex
	docs         []SearchDocument
	english      [][]float64
	multilingual [][]float64

	loaded   atomic.Bool
	building atomic.Bool
}

func NewSearchIndex(embedder Embedder, dataDir, englishModel, multilingualModel string) *SearchIndex {
	return &SearchIndex{
		embedder:          embedder,
		dataDir:           dataDir,
		englishModel:      englishModel,
		multilingualModel: multilingualModel,
	}
}

func (idx *SearchIndex) Loaded() bool {
	return idx.loaded.Load()
}

func (idx *SearchIndex) Documents() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// ExtractPages reads the text of every page of every pdf in dir. Pages
// without text are skipped.
func ExtractPages(dir string) ([]SearchDocument, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read search data dir: %w", err)
	}

	var docs []SearchDocument
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".pdf") {
			continue
		}
		pages, err := extractPDF(filepath.Join(dir, entry.Name()))
		if err != nil {
			slog.Warn("Skipping unreadable pdf", "file", entry.Name(), "error", err)
			continue
		}
		docs = append(docs, pages...)
	}
	return docs, nil
}

func extractPDF(path string) ([]SearchDocument, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := filepath.Base(path)
	var docs []SearchDocument
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			slog.Warn("Failed to extract page text", "file", name, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, SearchDocument{PDFName: name, PageNumber: i, Content: text})
	}
	return docs, nil
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// normalized converts v to float64 scaled to unit length, so a dot product
// is the cosine similarity.
func normalized(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	if norm := floats.Norm(out, 2); norm > 0 {
		floats.Scale(1/norm, out)
	}
	return out
}

func (idx *SearchIndex) embedAll(ctx context.Context, model string, docs []SearchDocument) ([][]float64, error) {
	vectors := make([][]float64, 0, len(docs))
	for start := 0; start < len(docs); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(docs) {
			end = len(docs)
		}

		inputs := make([]string, 0, end-start)
		for _, d := range docs[start:end] {
			inputs = append(inputs, truncateRunes(d.Content, maxEmbeddedRunes))
		}
		batch, err := idx.embedder.Embed(ctx, model, inputs)
		if err != nil {
			return nil, err
		}
		for _, v := range batch {
			vectors = append(vectors, normalized(v))
		}
	}
	return vectors, nil
}

// Build extracts and embeds the corpus, then swaps it in. Concurrent calls
// return immediately while a build is running.
func (idx *SearchIndex) Build(ctx context.Context) error {
	if !idx.building.CompareAndSwap(false, true) {
		slog.Info("Search index build already running")
		return nil
	}
	defer idx.building.Store(false)

	started := time.Now()
	docs, err := ExtractPages(idx.dataDir)
	if err != nil {
		return err
	}

	english, err := idx.embedAll(ctx, idx.englishModel, docs)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}
	multilingual, err := idx.embedAll(ctx, idx.multilingualModel, docs)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}

	idx.mu.Lock()
	idx.docs = docs
	idx.english = english
	idx.multilingual = multilingual
	idx.mu.Unlock()
	idx.loaded.Store(true)

	slog.Info("Search index built", "documents", len(docs), "duration", time.Since(started))
	return nil
}

// Search returns the k pages closest to query. French queries use the
// multilingual model.
func (idx *SearchIndex) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if !idx.Loaded() {
		return nil, ErrIndexNotReady
	}

	model := idx.englishModel
	multilingual := DetectLanguage(query) == "fr"
	if multilingual {
		model = idx.multilingualModel
	}

	vecs, err := idx.embedder.Embed(ctx, model, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embedding returned no vector")
	}
	q := normalized(vecs[0])

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	matrix := idx.english
	if multilingual {
		matrix = idx.multilingual
	}

	results := make([]SearchResult, 0, len(idx.docs))
	for i, v := range matrix {
		if len(v) != len(q) {
			continue
		}
		doc := idx.docs[i]
		results = append(results, SearchResult{
			PDFName:        doc.PDFName,
			PageNumber:     doc.PageNumber,
			ContentSnippet: truncateRunes(doc.Content, snippetLength),
			Score:          floats.Dot(q, v),
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// Schedule rebuilds the index on the cron spec until ctx is done.
func (idx *SearchIndex) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		if err := idx.Build(ctx); err != nil {
			slog.Error("Scheduled search index rebuild failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to schedule search index rebuild: %w", err)
	}
	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return c, nil
}

type SearchRequest struct {
	Query string `json:"query"`
}

type SearchEndpoints struct {
	index *SearchIndex
}

func NewSearchEndpoints(index *SearchIndex) *SearchEndpoints {
	return &SearchEndpoints{index: index}
}

func (e *SearchEndpoints) RegisterRoutes(r chi.Router) {
	r.Get("/search/status", e.StatusHandler)
	r.Post("/search", e.SearchHandler)
}

func (e *SearchEndpoints) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"loaded":    e.index.Loaded(),
		"documents": e.index.Documents(),
	})
}

func (e *SearchEndpoints) SearchHandler(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "Query is required")
		return
	}

	results, err := e.index.Search(r.Context(), req.Query, searchTopK)
	if errors.Is(err, ErrIndexNotReady) {
		writeError(w, http.StatusServiceUnavailable, "Models are not yet loaded. Please wait and try again.")
		return
	}
	if err != nil {
		slog.Error("Search failed", "error", err)
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}
