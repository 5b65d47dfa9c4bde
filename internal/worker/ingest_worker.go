package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	"zenocloud/internal/logger"
	"zenocloud/internal/model"
	rabbitmqClient "zenocloud/internal/platform/rabbitmq"
)

// Ingester runs the ingestion pipeline with retries, implemented by rag.Orchestrator.
// ResumeWithRetry is used for redelivered jobs, whose earlier run died unacked.
type Ingester interface {
	RunWithRetry(ctx context.Context, documentID uint, version int) error
	ResumeWithRetry(ctx context.Context, documentID uint, version int) error
}

// StaleMarker fails documents left in processing, implemented by repository.DocumentRepository.
type StaleMarker interface {
	MarkStaleProcessing(ctx context.Context, before time.Time) (int64, error)
}

type outcome int

const (
	outcomeAck outcome = iota
	outcomeReject
	outcomeRequeue
)

// IngestWorker consumes ingest jobs from RabbitMQ and runs them with bounded concurrency.
type IngestWorker struct {
	conn        *amqp.Connection
	ingester    Ingester
	stale       StaleMarker
	staleAfter  time.Duration
	queueName   string
	concurrency int
	log         *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(
	conn *amqp.Connection,
	ingester Ingester,
	stale StaleMarker,
	staleAfter time.Duration,
	queueName string,
	concurrency int,
	log *logger.Logger,
) *IngestWorker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &IngestWorker{
		conn:        conn,
		ingester:    ingester,
		stale:       stale,
		staleAfter:  staleAfter,
		queueName:   queueName,
		concurrency: concurrency,
		log:         log,
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}
	w.recoverStale(ctx)

	ch, err := w.conn.Channel()
	if err != nil {
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmqClient.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		return err
	}
	if err := ch.Qos(w.concurrency, 0, false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("set worker qos failed: %w", err)
	}
	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.stale != nil && w.staleAfter > 0 {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.sweepStale(workerCtx)
		}()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		g := new(errgroup.Group)
		g.SetLimit(w.concurrency)
		defer func() { _ = g.Wait() }()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.log.Warn("ingest delivery channel closed", "queue", w.queueName)
					return
				}
				g.Go(func() error {
					w.settle(d, w.process(workerCtx, d.Body, d.Redelivered))
					return nil
				})
			}
		}
	}()

	w.log.Info("ingest worker started", "queue", w.queueName, "concurrency", w.concurrency)
	return nil
}

func (w *IngestWorker) process(ctx context.Context, body []byte, redelivered bool) outcome {
	var job model.IngestJob
	if err := json.Unmarshal(body, &job); err != nil || job.DocumentID == 0 || job.Version <= 0 {
		w.log.Error("decode ingest job failed", "error", err, "body_bytes", len(body))
		return outcomeReject
	}

	run := w.ingester.RunWithRetry
	if redelivered {
		w.log.Info("resuming redelivered ingest job", "document_id", job.DocumentID, "version", job.Version)
		run = w.ingester.ResumeWithRetry
	}
	err := run(ctx, job.DocumentID, job.Version)
	switch {
	case err == nil:
		return outcomeAck
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// shutting down; let another consumer take it
		return outcomeRequeue
	default:
		// the failure is recorded on the document
		return outcomeAck
	}
}

func (w *IngestWorker) settle(d amqp.Delivery, o outcome) {
	var err error
	switch o {
	case outcomeAck:
		err = d.Ack(false)
	case outcomeReject:
		err = d.Nack(false, false)
	case outcomeRequeue:
		err = d.Nack(false, true)
	}
	if err != nil {
		w.log.Warn("settle ingest delivery failed", "error", err)
	}
}

func (w *IngestWorker) recoverStale(ctx context.Context) {
	if w.stale == nil || w.staleAfter <= 0 {
		return
	}
	n, err := w.stale.MarkStaleProcessing(ctx, time.Now().Add(-w.staleAfter))
	if err != nil {
		w.log.Error("recover stale documents failed", "error", err)
		return
	}
	if n > 0 {
		w.log.Warn("marked stale processing documents as error", "count", n)
	}
}

// sweepStale repeats stale recovery every staleAfter until ctx ends.
func (w *IngestWorker) sweepStale(ctx context.Context) {
	ticker := time.NewTicker(w.staleAfter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.recoverStale(ctx)
		}
	}
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
