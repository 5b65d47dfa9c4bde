package rag

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"zenocloud/internal/ai"
	"zenocloud/internal/model"
)

type fakeDocs struct {
	mu      sync.Mutex
	docs    map[uint]*model.Document
	history []model.DocumentStatus
}

func newFakeDocs(docs ...*model.Document) *fakeDocs {
	f := &fakeDocs{docs: map[uint]*model.Document{}}
	for _, d := range docs {
		f.docs[d.ID] = d
		f.history = append(f.history, d.Status)
	}
	return f
}

func (f *fakeDocs) GetByID(_ context.Context, id uint) (*model.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (f *fakeDocs) TransitionStatus(_ context.Context, id uint, version int, to model.DocumentStatus, lastError string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Version != version || !model.CanTransition(d.Status, to) {
		return false, nil
	}
	d.Status = to
	d.LastError = lastError
	if to == model.StatusProcessing {
		now := time.Now()
		d.ProcessingStartedAt = &now
	}
	f.history = append(f.history, to)
	return true, nil
}

func (f *fakeDocs) ReclaimProcessing(_ context.Context, id uint, version int, startedBefore time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok || d.Version != version || d.Status != model.StatusProcessing {
		return false, nil
	}
	if d.ProcessingStartedAt != nil && !d.ProcessingStartedAt.Before(startedBefore) {
		return false, nil
	}
	now := time.Now()
	d.ProcessingStartedAt = &now
	d.LastError = ""
	f.history = append(f.history, model.StatusProcessing)
	return true, nil
}

func (f *fakeDocs) status(id uint) model.DocumentStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[id].Status
}

type fakeObjects map[string][]byte

func (f fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	b, ok := f[key]
	if !ok {
		return nil, errors.New("no such object")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

// textExtractor treats the stored bytes as already extracted text.
type textExtractor struct{}

func (textExtractor) Extract(data []byte) (string, error) { return string(data), nil }

// fakeBackend embeds text as [len, 1, first rune]; the first `failures` calls fail.
type fakeBackend struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
	dim      int
	short    bool
}

func (f *fakeBackend) Model() string { return "fake-embed" }

func (f *fakeBackend) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		err := f.err
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, err
	}
	n := len(texts)
	if f.short {
		n--
	}
	out := make([][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, f.dim)
		v[0] = float32(len(texts[i]))
		if f.dim > 1 {
			v[1] = 1
		}
		if f.dim > 2 && texts[i] != "" {
			v[2] = float32([]rune(texts[i])[0])
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeQueryEmbedder returns a fixed query vector.
type fakeQueryEmbedder struct {
	vec   []float32
	calls int
}

func (f *fakeQueryEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vec
	}
	return out, nil
}

func (f *fakeQueryEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	f.calls++
	return f.vec, nil
}

func (f *fakeQueryEmbedder) Dimension() int { return len(f.vec) }
func (f *fakeQueryEmbedder) Model() string  { return "fake-embed" }

type fakeChunkRepo struct {
	mu        sync.Mutex
	rows      map[string]model.ChunkEmbedding
	searchErr error
	indexed   []model.ScoredChunk
	upsertErr map[string]error
	searches  int
}

func newFakeChunkRepo() *fakeChunkRepo {
	return &fakeChunkRepo{rows: map[string]model.ChunkEmbedding{}, upsertErr: map[string]error{}}
}

func (f *fakeChunkRepo) Upsert(_ context.Context, c *model.ChunkEmbedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.upsertErr[c.ID]; err != nil {
		return err
	}
	f.rows[c.ID] = *c
	return nil
}

func (f *fakeChunkRepo) ListCandidates(_ context.Context, tenantID uint, ids []uint) ([]model.ChunkEmbedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	allowed := map[uint]bool{}
	for _, id := range ids {
		allowed[id] = true
	}
	var out []model.ChunkEmbedding
	for _, c := range f.rows {
		if c.TenantID == tenantID && allowed[c.DocumentID] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeChunkRepo) SearchIndex(_ context.Context, _ uint, _ []uint, _ []float32, _, _ int) ([]model.ScoredChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return append([]model.ScoredChunk(nil), f.indexed...), nil
}

func (f *fakeChunkRepo) DeleteByDocument(_ context.Context, id uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, c := range f.rows {
		if c.DocumentID == id {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeChunkRepo) DeleteByDocumentVersion(_ context.Context, id uint, version int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, c := range f.rows {
		if c.DocumentID == id && c.Version == version {
			delete(f.rows, k)
			n++
		}
	}
	return n, nil
}

func (f *fakeChunkRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeLLM struct {
	calls int
	last  ai.ChatRequest
	reply string
	err   error
}

func (f *fakeLLM) Complete(_ context.Context, req ai.ChatRequest) (*ai.ChatResult, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &ai.ChatResult{Content: f.reply}, nil
}
