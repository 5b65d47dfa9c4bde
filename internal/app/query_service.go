package app

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"zenocloud/internal/model"
	"zenocloud/internal/rag"
)

const (
	summaryQuery   = "Summarize the document"
	maxQueryLength = 2000
)

var ErrNoEmbeddings = errors.New("no embeddings found")

type DocumentFinder interface {
	GetByIDAndTenant(ctx context.Context, id, tenantID uint) (*model.Document, error)
	GetByNameAndTenant(ctx context.Context, name string, tenantID uint) (*model.Document, error)
	ListByTenant(ctx context.Context, tenantID uint) ([]model.Document, error)
	ListByTenantAndUploader(ctx context.Context, tenantID, userID uint) ([]model.Document, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, tenantID uint, docs []model.Document, query string, k int) (*rag.Retrieval, error)
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, query string, chunks []model.ScoredChunk) (*rag.Answer, error)
	Summarize(ctx context.Context, doc model.Document, chunks []model.ScoredChunk) (*rag.Summary, error)
}

type QueryConfig struct {
	TopK        int
	SummaryTopK int
	// SearchTopK chunks are ranked for file search; files scoring below
	// SearchMinScore are dropped and at most SearchMaxFiles are returned.
	SearchTopK     int
	SearchMinScore float64
	SearchMaxFiles int
}

type QueryService struct {
	docs      DocumentFinder
	retriever Retriever
	synth     AnswerSynthesizer
	cfg       QueryConfig
}

func NewQueryService(docs DocumentFinder, retriever Retriever, synth AnswerSynthesizer, cfg QueryConfig) *QueryService {
	return &QueryService{
		docs:      docs,
		retriever: retriever,
		synth:     synth,
		cfg:       cfg,
	}
}

// Query answers a question from every file of the caller's tenant.
func (s *QueryService) Query(ctx context.Context, caller Caller, query string) (*rag.Answer, error) {
	query = strings.TrimSpace(query)
	if caller.TenantID == 0 || query == "" || utf8.RuneCountInString(query) > maxQueryLength {
		return nil, ErrInvalidInput
	}

	docs, err := s.docs.ListByTenant(ctx, caller.TenantID)
	if err != nil {
		return nil, err
	}
	retrieval, err := s.retriever.Retrieve(ctx, caller.TenantID, docs, query, s.cfg.TopK)
	if err != nil {
		return nil, err
	}
	return s.synth.Synthesize(ctx, query, retrieval.Chunks)
}

type SummarizeInput struct {
	FileID   uint
	FileName string
}

// Summarize summarizes one file. Non-root callers may only pick files they uploaded.
func (s *QueryService) Summarize(ctx context.Context, caller Caller, in SummarizeInput) (*rag.Summary, error) {
	name := strings.TrimSpace(in.FileName)
	if caller.TenantID == 0 || (in.FileID == 0 && name == "") {
		return nil, ErrInvalidInput
	}

	var (
		doc *model.Document
		err error
	)
	if in.FileID != 0 {
		doc, err = s.docs.GetByIDAndTenant(ctx, in.FileID, caller.TenantID)
	} else {
		doc, err = s.docs.GetByNameAndTenant(ctx, name, caller.TenantID)
	}
	if err != nil {
		return nil, err
	}
	if doc == nil || !caller.canSee(doc) {
		return nil, ErrFileNotFound
	}

	retrieval, err := s.retriever.Retrieve(ctx, caller.TenantID, []model.Document{*doc}, summaryQuery, s.cfg.SummaryTopK)
	if err != nil {
		return nil, err
	}
	if len(retrieval.Chunks) == 0 {
		return nil, ErrNoEmbeddings
	}
	return s.synth.Summarize(ctx, *doc, retrieval.Chunks)
}

// SearchHit is one file matched by semantic search with its best chunk score.
type SearchHit struct {
	Score float64        `json:"score"`
	File  model.Document `json:"file"`
}

// Search finds the caller's visible files most related to query, best first.
func (s *QueryService) Search(ctx context.Context, caller Caller, query string) ([]SearchHit, error) {
	query = strings.TrimSpace(query)
	if caller.TenantID == 0 || query == "" || utf8.RuneCountInString(query) > maxQueryLength {
		return nil, ErrInvalidInput
	}

	var (
		docs []model.Document
		err  error
	)
	if caller.Root {
		docs, err = s.docs.ListByTenant(ctx, caller.TenantID)
	} else {
		docs, err = s.docs.ListByTenantAndUploader(ctx, caller.TenantID, caller.UserID)
	}
	if err != nil {
		return nil, err
	}
	byID := make(map[uint]model.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	retrieval, err := s.retriever.Retrieve(ctx, caller.TenantID, docs, query, s.cfg.SearchTopK)
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(retrieval.Sources))
	for _, src := range retrieval.Sources {
		if src.Score < s.cfg.SearchMinScore {
			continue
		}
		doc, ok := byID[src.Chunk.DocumentID]
		if !ok {
			continue
		}
		hits = append(hits, SearchHit{Score: src.Score, File: doc})
		if s.cfg.SearchMaxFiles > 0 && len(hits) == s.cfg.SearchMaxFiles {
			break
		}
	}
	return hits, nil
}
