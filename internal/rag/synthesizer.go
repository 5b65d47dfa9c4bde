package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"zenocloud/internal/ai"
	"zenocloud/internal/model"
)

const NoInformationAnswer = "I couldn't find any information related to your question in your uploaded files."

const (
	answerSystemPrompt  = `Use ONLY the context below. Never mention chunks or internal structure. If unsure, say "I don't know".`
	summarySystemPrompt = `Summarize the document below. If unsure, say "I don't know".`
)

// ChatCompleter is the LLM backend, e.g. ai.ChatClient.
type ChatCompleter interface {
	Complete(ctx context.Context, req ai.ChatRequest) (*ai.ChatResult, error)
}

type SynthesizerConfig struct {
	Model               string
	MaxTokens           int
	AnswerTemperature   float64
	SummaryTemperature  float64
	MaxContextChunks    int
	ContextChars        int
	SummaryContextChars int
	PreviewChars        int
	Timeout             time.Duration
}

type Source struct {
	DocumentID uint    `json:"file_id"`
	Name       string  `json:"name"`
	Version    int     `json:"version"`
	Score      float64 `json:"score"`
	Preview    string  `json:"text_preview"`
}

type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

type FileRef struct {
	ID      uint   `json:"id"`
	Name    string `json:"name"`
	Version int    `json:"version"`
}

type Summary struct {
	Summary string  `json:"summary"`
	File    FileRef `json:"file"`
}

type Synthesizer struct {
	llm ChatCompleter
	cfg SynthesizerConfig
}

func NewSynthesizer(llm ChatCompleter, cfg SynthesizerConfig) *Synthesizer {
	return &Synthesizer{llm: llm, cfg: cfg}
}

// Synthesize answers query from the ranked chunks. With no chunks it returns
// NoInformationAnswer without calling the LLM.
func (s *Synthesizer) Synthesize(ctx context.Context, query string, chunks []model.ScoredChunk) (*Answer, error) {
	if len(chunks) == 0 {
		return &Answer{Answer: NoInformationAnswer, Sources: []Source{}}, nil
	}

	contextBlock := buildContext(s.limit(chunks), s.cfg.ContextChars)
	content, err := s.complete(ctx, s.cfg.AnswerTemperature, []ai.ChatMessage{
		{Role: "system", Content: answerSystemPrompt + "\n\nCONTEXT:\n" + contextBlock},
		{Role: "user", Content: query},
	})
	if err != nil {
		return nil, err
	}

	deduped := DedupeSources(chunks)
	sources := make([]Source, len(deduped))
	for i, c := range deduped {
		sources[i] = Source{
			DocumentID: c.Chunk.DocumentID,
			Name:       c.DocumentName,
			Version:    c.Chunk.Version,
			Score:      c.Score,
			Preview:    clip(c.Chunk.Text, s.cfg.PreviewChars),
		}
	}
	return &Answer{Answer: content, Sources: sources}, nil
}

// Summarize writes a summary of doc from its best chunks.
func (s *Synthesizer) Summarize(ctx context.Context, doc model.Document, chunks []model.ScoredChunk) (*Summary, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	named := make([]model.ScoredChunk, len(chunks))
	for i, c := range chunks {
		c.DocumentName = doc.Name
		named[i] = c
	}

	contextBlock := buildContext(named, s.cfg.SummaryContextChars)
	content, err := s.complete(ctx, s.cfg.SummaryTemperature, []ai.ChatMessage{
		{Role: "system", Content: summarySystemPrompt + "\n\nCONTEXT:\n" + contextBlock},
		{Role: "user", Content: "Please provide a concise summary of: " + doc.Name},
	})
	if err != nil {
		return nil, err
	}
	return &Summary{
		Summary: content,
		File:    FileRef{ID: doc.ID, Name: doc.Name, Version: doc.Version},
	}, nil
}

func (s *Synthesizer) complete(ctx context.Context, temperature float64, messages []ai.ChatMessage) (string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	res, err := s.llm.Complete(ctx, ai.ChatRequest{
		Model:       s.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		return "", &SynthesisError{Err: err}
	}
	content := strings.TrimSpace(res.Content)
	if content == "" {
		return "", &SynthesisError{Err: errors.New("empty completion")}
	}
	return content, nil
}

func (s *Synthesizer) limit(chunks []model.ScoredChunk) []model.ScoredChunk {
	if s.cfg.MaxContextChunks > 0 && len(chunks) > s.cfg.MaxContextChunks {
		return chunks[:s.cfg.MaxContextChunks]
	}
	return chunks
}

func buildContext(chunks []model.ScoredChunk, chars int) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = fmt.Sprintf("[SOURCE: %s v%d]\n%s", c.DocumentName, c.Chunk.Version, clip(c.Chunk.Text, chars))
	}
	return strings.Join(parts, "\n\n")
}

// clip cuts text to n runes and marks the cut with "...". n <= 0 keeps everything.
func clip(text string, n int) string {
	if n <= 0 {
		return text
	}
	cut := model.TruncateRunes(text, n)
	if len(cut) < len(text) {
		return cut + "..."
	}
	return cut
}
