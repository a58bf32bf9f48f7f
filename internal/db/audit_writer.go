package db

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openlearn-ai/bookbrain/internal/config"
	"github.com/openlearn-ai/bookbrain/internal/metrics"
)

const (
	defaultAuditWorkers   = 4
	defaultAuditQueueSize = 256
)

// AuditWriter persists per-request audit rows off the request path. Records
// are queued to a worker pool; when the queue is full the write happens
// inline so nothing is silently dropped. Failures are logged and swallowed:
// an audit failure never changes the HTTP result.
type AuditWriter struct {
	client *Client
	queue  chan *AuditRecord
	wg     sync.WaitGroup
	log    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewAuditWriter starts the worker pool.
func NewAuditWriter(client *Client, workers, queueSize int, logger *zap.Logger) *AuditWriter {
	if workers <= 0 {
		workers = defaultAuditWorkers
	}
	if queueSize <= 0 {
		queueSize = defaultAuditQueueSize
	}
	w := &AuditWriter{
		client: client,
		queue:  make(chan *AuditRecord, queueSize),
		log:    logger,
	}
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.worker()
	}
	return w
}

func (w *AuditWriter) worker() {
	defer w.wg.Done()
	for rec := range w.queue {
		metrics.AuditQueueDepth.Set(float64(len(w.queue)))
		w.write(rec)
	}
}

func (w *AuditWriter) write(rec *AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*config.AuditTimeout)
	defer cancel()
	if err := w.client.saveAudit(ctx, rec); err != nil {
		w.log.Error("Audit write failed",
			zap.String("query_id", rec.Query.QueryID),
			zap.Error(err),
		)
	}
}

// QueueAudit enqueues the record, falling back to an inline write when the
// queue is full or the writer is shutting down.
func (w *AuditWriter) QueueAudit(rec *AuditRecord) {
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		w.write(rec)
		return
	}
	select {
	case w.queue <- rec:
		metrics.AuditQueueDepth.Set(float64(len(w.queue)))
		w.mu.RUnlock()
	default:
		w.mu.RUnlock()
		w.log.Warn("Audit queue full, writing inline",
			zap.String("query_id", rec.Query.QueryID),
		)
		w.write(rec)
	}
}

// Close stops accepting queued records and drains pending ones, waiting up
// to the given timeout.
func (w *AuditWriter) Close(timeout time.Duration) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.queue)
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		w.log.Warn("Audit writer close timed out", zap.Int("pending", len(w.queue)))
	}
}
