package audit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wardenlabs/warden/pkg/contracts"
	"github.com/wardenlabs/warden/pkg/kms"
	"github.com/wardenlabs/warden/pkg/observability"
)

// WriterConfig tunes the async delivery pipeline.
type WriterConfig struct {
	// QueueSize bounds the in-memory queue. Zero means 1024.
	QueueSize int

	// Workers is the number of delivery goroutines. Zero means 2.
	Workers int

	// EnqueueTimeout is how long Submit blocks on a full queue before
	// giving up. Zero means 100ms.
	EnqueueTimeout time.Duration

	// FailOnSaturation makes Submit return ErrQueueFull instead of
	// spooling when the queue stays full past EnqueueTimeout. Off by
	// default: auditing must not take the decision path down.
	FailOnSaturation bool

	// ReplayInterval is how often the spool is re-driven at the sink.
	// Zero means 30s.
	ReplayInterval time.Duration

	// Telem records delivery outcomes and queue depth. May be nil.
	Telem *observability.Provider
}

// Stats are cumulative delivery counters.
type Stats struct {
	Delivered uint64
	Spooled   uint64
	Replayed  uint64
	Dropped   uint64
	QueueLen  int
}

// Writer owns the audit delivery pipeline: encrypt, hash, enqueue,
// deliver, spool on failure, replay. Submit never blocks the caller
// past EnqueueTimeout; everything else happens on worker goroutines.
type Writer struct {
	sink  Sink
	spool *Spool
	keys  *kms.Manager
	cfg   WriterConfig
	log   *slog.Logger

	queue  chan *contracts.AuditRecord
	wg     sync.WaitGroup
	stopCh chan struct{}

	// mu fences enqueues against Close: senders hold it shared for the
	// whole send so the channel never closes under them.
	mu     sync.RWMutex
	closed bool

	delivered atomic.Uint64
	spooled   atomic.Uint64
	replayed  atomic.Uint64
	dropped   atomic.Uint64
}

// NewWriter starts the workers and the spool replay loop. keys may be
// nil, in which case masked content is stored unencrypted; production
// deployments always pass a manager.
func NewWriter(sink Sink, spool *Spool, keys *kms.Manager, cfg WriterConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = 100 * time.Millisecond
	}
	if cfg.ReplayInterval <= 0 {
		cfg.ReplayInterval = 30 * time.Second
	}

	w := &Writer{
		sink:   sink,
		spool:  spool,
		keys:   keys,
		cfg:    cfg,
		log:    logger,
		queue:  make(chan *contracts.AuditRecord, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		w.wg.Add(1)
		go w.worker()
	}
	if spool != nil {
		w.wg.Add(1)
		go w.replayLoop()
	}
	return w
}

// Submit seals the record and hands it to the pipeline. The masked
// content is encrypted under the active application-tier key before
// the record leaves the request path; plaintext never reaches a sink
// or the spool.
func (w *Writer) Submit(rec *contracts.AuditRecord) error {
	if err := w.seal(rec); err != nil {
		return err
	}

	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return fmt.Errorf("audit: writer closed")
	}

	select {
	case w.queue <- rec:
		w.cfg.Telem.AddAuditQueueDepth(context.Background(), 1)
		return nil
	default:
	}

	timer := time.NewTimer(w.cfg.EnqueueTimeout)
	defer timer.Stop()
	select {
	case w.queue <- rec:
		w.cfg.Telem.AddAuditQueueDepth(context.Background(), 1)
		return nil
	case <-timer.C:
	}

	if w.cfg.FailOnSaturation {
		return ErrQueueFull
	}
	if w.spool != nil {
		if err := w.spool.Put(rec); err == nil {
			w.spooled.Add(1)
			w.cfg.Telem.RecordAudit(context.Background(), "spooled")
			w.log.Warn("audit queue full, record spooled", "recordId", rec.RecordID)
			return nil
		}
	}
	w.dropped.Add(1)
	w.cfg.Telem.RecordAudit(context.Background(), "dropped")
	w.log.Error("audit queue full and spool unavailable, record dropped",
		"recordId", rec.RecordID, "tenantId", rec.TenantID)
	return nil
}

// seal encrypts masked content and stamps the payload hash.
func (w *Writer) seal(rec *contracts.AuditRecord) error {
	if rec.MaskedContent != "" && w.keys != nil && rec.EncryptionKeyID == "" {
		ct, err := w.keys.Encrypt(kms.TierApplication, rec.MaskedContent)
		if err != nil {
			return fmt.Errorf("audit: encrypt masked content: %w", err)
		}
		// Encrypt prefixes the ciphertext with the key id; record it
		// separately so readers can resolve the key without parsing.
		if id, _, ok := strings.Cut(ct, ":"); ok {
			rec.EncryptionKeyID = id
		}
		rec.MaskedContent = ct
	}
	return rec.ComputeHash()
}

// Close drains the queue and stops the workers. Records still queued
// are delivered or spooled before Close returns, bounded by ctx.
func (w *Writer) Close(ctx context.Context) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	close(w.queue)
	close(w.stopCh)

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit: close timed out: %w", ctx.Err())
	}
}

// Stats returns the cumulative counters.
func (w *Writer) Stats() Stats {
	return Stats{
		Delivered: w.delivered.Load(),
		Spooled:   w.spooled.Load(),
		Replayed:  w.replayed.Load(),
		Dropped:   w.dropped.Load(),
		QueueLen:  len(w.queue),
	}
}

func (w *Writer) worker() {
	defer w.wg.Done()
	for rec := range w.queue {
		w.cfg.Telem.AddAuditQueueDepth(context.Background(), -1)
		w.deliver(rec)
	}
}

func (w *Writer) deliver(rec *contracts.AuditRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := w.sink.Write(ctx, rec)
	cancel()
	if err == nil {
		w.delivered.Add(1)
		w.cfg.Telem.RecordAudit(context.Background(), "delivered")
		return
	}

	w.log.Warn("audit delivery failed", "sink", w.sink.Name(),
		"recordId", rec.RecordID, "error", err)
	if w.spool != nil {
		serr := w.spool.Put(rec)
		if serr == nil {
			w.spooled.Add(1)
			w.cfg.Telem.RecordAudit(context.Background(), "spooled")
			return
		}
		w.log.Error("audit spool write failed", "recordId", rec.RecordID, "error", serr)
	}
	w.dropped.Add(1)
	w.cfg.Telem.RecordAudit(context.Background(), "dropped")
}

func (w *Writer) replayLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.cfg.ReplayInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.Replay(context.Background())
		case <-w.stopCh:
			return
		}
	}
}

// Replay re-drives spooled records at the sink, oldest first, stopping
// at the first failure so a down sink is probed once per cycle. Spool
// files are removed only after the sink acknowledges.
func (w *Writer) Replay(ctx context.Context) {
	if w.spool == nil {
		return
	}
	files, err := w.spool.List()
	if err != nil {
		w.log.Error("audit spool listing failed", "error", err)
		return
	}
	for _, path := range files {
		rec, err := w.spool.Load(path)
		if err != nil {
			w.log.Error("audit spool file unreadable, skipping", "path", path, "error", err)
			continue
		}
		if err := w.sink.Write(ctx, rec); err != nil {
			w.log.Warn("audit replay halted, sink still failing", "error", err)
			return
		}
		w.replayed.Add(1)
		if err := w.spool.Ack(path); err != nil {
			w.log.Error("audit spool ack failed", "path", path, "error", err)
		}
	}
}
