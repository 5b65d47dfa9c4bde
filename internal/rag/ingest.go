package rag

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"zenocloud/internal/logger"
	"zenocloud/internal/model"
)

// DocumentStore reads documents and applies status transitions, implemented
// by repository.DocumentRepository.
type DocumentStore interface {
	GetByID(ctx context.Context, id uint) (*model.Document, error)
	TransitionStatus(ctx context.Context, id uint, version int, to model.DocumentStatus, lastError string) (bool, error)
	ReclaimProcessing(ctx context.Context, id uint, version int, startedBefore time.Time) (bool, error)
}

// ObjectReader opens stored file bytes, implemented by objectstore.Store.
type ObjectReader interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

type TextExtractor interface {
	Extract(data []byte) (string, error)
}

// ChunkWriter persists a batch of chunks, implemented by VectorStore.
type ChunkWriter interface {
	Put(ctx context.Context, chunks []model.ChunkEmbedding) PutResult
}

type IngestConfig struct {
	ChunkSize      int
	ChunkOverlap   int
	MinWriteRatio  float64
	MaxAttempts    int
	RetryBaseDelay time.Duration
	AttemptTimeout time.Duration
	StoreTimeout   time.Duration
	MaxFileBytes   int64
	// StaleAfter lets a run take over a version left in processing for longer than this.
	StaleAfter time.Duration
}

type OrchestratorDeps struct {
	Documents DocumentStore
	Objects   ObjectReader
	Extractor TextExtractor
	Embedder  Embedder
	Chunks    ChunkWriter
	Log       *logger.Logger
	// Sleep waits between attempts; nil uses a timer bound to ctx.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs the ingestion pipeline for one document version:
// fetch, extract, chunk, embed, store, then mark the document ready.
type Orchestrator struct {
	docs      DocumentStore
	objects   ObjectReader
	extractor TextExtractor
	embedder  Embedder
	chunks    ChunkWriter
	log       *logger.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	cfg       IngestConfig
}

func NewOrchestrator(deps OrchestratorDeps, cfg IngestConfig) *Orchestrator {
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Orchestrator{
		docs:      deps.Documents,
		objects:   deps.Objects,
		extractor: deps.Extractor,
		embedder:  deps.Embedder,
		chunks:    deps.Chunks,
		log:       deps.Log,
		sleep:     sleep,
		cfg:       cfg,
	}
}

// RunWithRetry runs the pipeline up to MaxAttempts times, waiting
// RetryBaseDelay*attempt between attempts. Permanent errors stop at once.
func (o *Orchestrator) RunWithRetry(ctx context.Context, documentID uint, version int) error {
	return o.retry(ctx, documentID, version, false)
}

// ResumeWithRetry is RunWithRetry for a job whose previous run is known to be
// dead (e.g. a redelivered message): a processing row is taken over regardless of age.
func (o *Orchestrator) ResumeWithRetry(ctx context.Context, documentID uint, version int) error {
	return o.retry(ctx, documentID, version, true)
}

func (o *Orchestrator) retry(ctx context.Context, documentID uint, version int, resume bool) error {
	for attempt := 1; ; attempt++ {
		err := o.runAttempt(ctx, documentID, version, resume && attempt == 1)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if !IsRetryable(err) || attempt >= o.cfg.MaxAttempts {
			o.log.Error("ingestion failed", "document_id", documentID, "version", version, "attempt", attempt, "error", err)
			return err
		}

		delay := o.cfg.RetryBaseDelay * time.Duration(attempt)
		o.log.Warn("ingestion attempt failed, retrying",
			"document_id", documentID, "version", version, "attempt", attempt, "retry_in", delay.String(), "error", err)
		if err := o.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) runAttempt(ctx context.Context, documentID uint, version int, resume bool) error {
	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.AttemptTimeout)
		defer cancel()
	}
	return o.start(ctx, documentID, version, resume)
}

// Run performs a single ingestion attempt. On failure the document is marked
// error; chunks already written stay in place.
func (o *Orchestrator) Run(ctx context.Context, documentID uint, version int) error {
	return o.start(ctx, documentID, version, false)
}

func (o *Orchestrator) start(ctx context.Context, documentID uint, version int, resume bool) error {
	ctx, span := tracer.Start(ctx, "rag.ingest")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("document.id", int64(documentID)),
		attribute.Int("document.version", version),
		attribute.Bool("ingest.resume", resume),
	)

	err := o.run(ctx, documentID, version, resume)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ingest")
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, documentID uint, version int, resume bool) error {
	doc, err := o.docs.GetByID(ctx, documentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: id %d", ErrDocumentNotFound, documentID)
	}
	if doc.Version != version {
		o.log.Info("skipping stale ingest job", "document_id", documentID, "job_version", version, "current_version", doc.Version)
		return nil
	}
	if !doc.IsIngestible() {
		return fmt.Errorf("%w: %s", ErrNotIngestible, doc.MimeType)
	}

	changed, err := o.docs.TransitionStatus(ctx, doc.ID, doc.Version, model.StatusProcessing, "")
	if err != nil {
		return err
	}
	if !changed && doc.Status == model.StatusProcessing {
		if changed, err = o.reclaim(ctx, doc, resume); err != nil {
			return err
		}
	}
	if !changed {
		return fmt.Errorf("%w: document %d cannot enter %s", ErrTransitionRejected, doc.ID, model.StatusProcessing)
	}

	written, err := o.ingest(ctx, doc)
	if err != nil {
		o.markError(ctx, doc, err)
		return err
	}

	changed, err = o.docs.TransitionStatus(ctx, doc.ID, doc.Version, model.StatusReady, "")
	if err != nil {
		o.markError(ctx, doc, err)
		return err
	}
	if !changed {
		o.log.Warn("document changed during ingestion", "document_id", doc.ID, "version", doc.Version)
		return nil
	}
	o.log.Info("document ingested", "document_id", doc.ID, "version", doc.Version, "chunks", written)
	return nil
}

// reclaim takes over a processing row whose run was interrupted: any row when
// resuming, otherwise only rows older than StaleAfter.
func (o *Orchestrator) reclaim(ctx context.Context, doc *model.Document, resume bool) (bool, error) {
	cutoff := time.Now()
	if !resume {
		if o.cfg.StaleAfter <= 0 {
			return false, nil
		}
		cutoff = cutoff.Add(-o.cfg.StaleAfter)
	}
	changed, err := o.docs.ReclaimProcessing(ctx, doc.ID, doc.Version, cutoff)
	if err != nil {
		return false, err
	}
	if changed {
		o.log.Warn("reclaimed interrupted ingestion", "document_id", doc.ID, "version", doc.Version, "resume", resume)
	}
	return changed, nil
}

func (o *Orchestrator) ingest(ctx context.Context, doc *model.Document) (int, error) {
	data, err := o.fetch(ctx, doc)
	if err != nil {
		return 0, err
	}
	text, err := o.extractor.Extract(data)
	if err != nil {
		return 0, &ExtractionError{Err: err}
	}

	windows, err := Chunk(text, o.cfg.ChunkSize, o.cfg.ChunkOverlap)
	if err != nil {
		return 0, err
	}
	texts := make([]string, 0, len(windows))
	kept := make([]TextChunk, 0, len(windows))
	for _, w := range windows {
		if strings.TrimSpace(w.Text) == "" {
			continue
		}
		kept = append(kept, w)
		texts = append(texts, w.Text)
	}
	if len(kept) == 0 {
		return 0, &ExtractionError{Err: ErrNoExtractableText, Permanent: true}
	}

	vecs, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}

	records := make([]model.ChunkEmbedding, len(kept))
	for i, w := range kept {
		records[i] = model.ChunkEmbedding{
			ID:         model.ChunkID(doc.ID, doc.Version, w.Index),
			DocumentID: doc.ID,
			TenantID:   doc.TenantID,
			Version:    doc.Version,
			ChunkIndex: w.Index,
			Embedding:  model.Vector(vecs[i]),
			Text:       model.TruncateRunes(w.Text, model.MaxChunkTextRunes),
			Model:      o.embedder.Model(),
		}
	}

	res := o.chunks.Put(ctx, records)
	if float64(res.Written) < o.cfg.MinWriteRatio*float64(res.Total()) {
		return res.Written, &StoreWriteError{Written: res.Written, Total: res.Total(), Failed: res.Failed}
	}
	if len(res.Failed) > 0 {
		o.log.Warn("some chunks were not stored", "document_id", doc.ID, "written", res.Written, "failed", len(res.Failed))
	}
	return res.Written, nil
}

func (o *Orchestrator) fetch(ctx context.Context, doc *model.Document) ([]byte, error) {
	if o.cfg.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StoreTimeout)
		defer cancel()
	}
	rc, err := o.objects.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("open %s failed: %w", doc.StorageKey, err)}
	}
	defer rc.Close()

	var r io.Reader = rc
	if o.cfg.MaxFileBytes > 0 {
		r = io.LimitReader(rc, o.cfg.MaxFileBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &ExtractionError{Err: fmt.Errorf("read %s failed: %w", doc.StorageKey, err)}
	}
	if o.cfg.MaxFileBytes > 0 && int64(len(data)) > o.cfg.MaxFileBytes {
		return nil, &ExtractionError{Err: fmt.Errorf("file exceeds %d bytes", o.cfg.MaxFileBytes), Permanent: true}
	}
	return data, nil
}

// markError records the failure even when ctx has already expired.
func (o *Orchestrator) markError(ctx context.Context, doc *model.Document, cause error) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := o.docs.TransitionStatus(markCtx, doc.ID, doc.Version, model.StatusError, cause.Error()); err != nil {
		o.log.Error("mark document error failed", "document_id", doc.ID, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ ChunkWriter = (*VectorStore)(nil)
