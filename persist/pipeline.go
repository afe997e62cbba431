package persist

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bookmark-reading/Lon03/model"
	"github.com/bookmark-reading/Lon03/queue"
	"github.com/bookmark-reading/Lon03/store"
)

// Options tune the pipeline. Zero values fall back to the defaults noted
// per field.
type Options struct {
	QueueSize              int           // 1000
	WorkerCount            int           // 2
	ChunkBatchSize         int           // 10
	TranscriptionBatchSize int           // 5
	FlushInterval          time.Duration // 5s
	RecordTTL              time.Duration // 30 days

	// Immediate kinds are written synchronously on the caller's
	// goroutine instead of going through the queue.
	ImmediateHelpEvents   bool
	ImmediateBatchMetrics bool
	ImmediateSummaries    bool
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 2
	}
	if o.ChunkBatchSize <= 0 {
		o.ChunkBatchSize = 10
	}
	if o.TranscriptionBatchSize <= 0 {
		o.TranscriptionBatchSize = 5
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.RecordTTL <= 0 {
		o.RecordTTL = 30 * 24 * time.Hour
	}
}

// job is one unit of work for the drain workers: a single record or a
// micro-batch flushed as one write.
type job struct {
	recs []store.Record
}

// Pipeline is the write-behind persistence queue. Queued submissions
// never block the real-time path: the queue is bounded and enqueue fails
// fast when it is full.
type Pipeline struct {
	store store.Store
	opts  Options
	queue *queue.Bounded[job]
	log   *logrus.Entry

	mu       sync.Mutex
	chunkBuf []store.Record
	transBuf []store.Record

	runCtx      context.Context
	cancelRun   context.CancelFunc
	flushCtx    context.Context
	cancelFlush context.CancelFunc
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewPipeline builds a pipeline over the given store.
func NewPipeline(s store.Store, opts Options) *Pipeline {
	opts.applyDefaults()
	return &Pipeline{
		store: s,
		opts:  opts,
		queue: queue.NewBounded[job](opts.QueueSize),
		log:   logrus.WithField("component", "persist"),
	}
}

// Start launches the drain workers and the periodic buffer flusher.
func (p *Pipeline) Start() {
	p.startOnce.Do(func() {
		p.runCtx, p.cancelRun = context.WithCancel(context.Background())
		p.flushCtx, p.cancelFlush = context.WithCancel(context.Background())

		for i := 0; i < p.opts.WorkerCount; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.wg.Add(1)
		go p.flusher()

		p.log.WithFields(logrus.Fields{
			"workers":        p.opts.WorkerCount,
			"queue_size":     p.opts.QueueSize,
			"flush_interval": p.opts.FlushInterval,
		}).Info("pipeline started")
	})
}

// Stop flushes the micro-batch buffers, closes the queue, and waits for
// the workers to finish draining it. Nothing submitted before Stop is
// dropped.
func (p *Pipeline) Stop(ctx context.Context) {
	p.stopOnce.Do(func() {
		if p.cancelFlush != nil {
			p.cancelFlush()
		}
		if err := p.Flush(ctx); err != nil {
			p.log.WithError(err).Warn("final flush failed")
		}
		p.queue.Close()
		p.wg.Wait()
		if p.cancelRun != nil {
			p.cancelRun()
		}
		p.log.Info("pipeline stopped")
	})
}

func (p *Pipeline) ttl() time.Time {
	return time.Now().Add(p.opts.RecordTTL)
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()
	log := p.log.WithField("worker", id)
	for {
		j, ok := p.queue.Dequeue(p.runCtx)
		if !ok {
			return
		}
		p.write(p.runCtx, j.recs, log)
	}
}

func (p *Pipeline) flusher() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.flushBuffers()
		case <-p.flushCtx.Done():
			return
		}
	}
}

// write performs one store write with the batch-to-per-item fallback: a
// failed batch is retried item by item so one poison record cannot take
// the whole batch down with it.
func (p *Pipeline) write(ctx context.Context, recs []store.Record, log *logrus.Entry) {
	if len(recs) == 0 {
		return
	}
	if len(recs) == 1 {
		if err := p.store.Put(ctx, recs[0]); err != nil {
			log.WithError(err).WithField("sk", recs[0].SK).Error("put failed")
		}
		return
	}
	if err := p.store.BatchPut(ctx, recs); err != nil {
		log.WithError(err).WithField("count", len(recs)).Warn("batch put failed, retrying per item")
		for _, rec := range recs {
			if err := p.store.Put(ctx, rec); err != nil {
				log.WithError(err).WithField("sk", rec.SK).Error("per-item retry failed")
			}
		}
	}
}

// enqueueBatches submits records in store-sized slices. On failure it
// returns the records that did not make it in, so callers owning a
// buffer can put them back instead of losing them.
func (p *Pipeline) enqueueBatches(recs []store.Record) ([]store.Record, error) {
	for len(recs) > 0 {
		n := len(recs)
		if n > store.MaxBatchSize {
			n = store.MaxBatchSize
		}
		if err := p.queue.TryEnqueue(job{recs: recs[:n]}); err != nil {
			return recs, errors.Wrap(err, "enqueue")
		}
		recs = recs[n:]
	}
	return nil, nil
}

// enqueue submits records, failing fast when the queue is full.
func (p *Pipeline) enqueue(recs []store.Record) error {
	_, err := p.enqueueBatches(recs)
	return err
}

// PersistSession queues the session metadata record. Called at session
// start and again at session end with the final metrics.
func (p *Pipeline) PersistSession(s *model.ReadingSession) error {
	rec, err := SessionRecord(s, p.ttl())
	if err != nil {
		return err
	}
	return p.enqueue([]store.Record{rec})
}

// PersistChunk buffers the chunk record; the buffer flushes as one batch
// write when it reaches the chunk batch size or on the periodic timer.
func (p *Pipeline) PersistChunk(c *model.AudioChunk) error {
	rec, err := ChunkRecord(c, p.ttl())
	if err != nil {
		return err
	}
	p.mu.Lock()
	if len(p.chunkBuf) >= p.maxBuffered() {
		p.mu.Unlock()
		return errors.Wrap(queue.ErrFull, "chunk buffer")
	}
	p.chunkBuf = append(p.chunkBuf, rec)
	var full []store.Record
	if len(p.chunkBuf) >= p.opts.ChunkBatchSize {
		full = p.chunkBuf
		p.chunkBuf = nil
	}
	p.mu.Unlock()
	if full != nil {
		if left, err := p.enqueueBatches(full); err != nil {
			p.mu.Lock()
			p.chunkBuf = append(left, p.chunkBuf...)
			p.mu.Unlock()
		}
	}
	return nil
}

// PersistTranscription buffers the transcription record like PersistChunk.
func (p *Pipeline) PersistTranscription(t *model.Transcription, clientID string) error {
	rec, err := TranscriptionRecord(t, clientID, p.ttl())
	if err != nil {
		return err
	}
	p.mu.Lock()
	if len(p.transBuf) >= p.maxBuffered() {
		p.mu.Unlock()
		return errors.Wrap(queue.ErrFull, "transcription buffer")
	}
	p.transBuf = append(p.transBuf, rec)
	var full []store.Record
	if len(p.transBuf) >= p.opts.TranscriptionBatchSize {
		full = p.transBuf
		p.transBuf = nil
	}
	p.mu.Unlock()
	if full != nil {
		if left, err := p.enqueueBatches(full); err != nil {
			p.mu.Lock()
			p.transBuf = append(left, p.transBuf...)
			p.mu.Unlock()
		}
	}
	return nil
}

// PersistHelpEvent writes a help event, synchronously when help events
// are configured immediate.
func (p *Pipeline) PersistHelpEvent(ctx context.Context, e *model.HelpEvent, clientID string) error {
	rec, err := HelpEventRecord(e, clientID, p.ttl())
	if err != nil {
		return err
	}
	if p.opts.ImmediateHelpEvents {
		return p.store.Put(ctx, rec)
	}
	return p.enqueue([]store.Record{rec})
}

// PersistBatchMetrics writes one closed window's metrics.
func (p *Pipeline) PersistBatchMetrics(ctx context.Context, b *model.BatchMetrics, clientID string) error {
	rec, err := BatchMetricsRecord(b, clientID, p.ttl())
	if err != nil {
		return err
	}
	if p.opts.ImmediateBatchMetrics {
		return p.store.Put(ctx, rec)
	}
	return p.enqueue([]store.Record{rec})
}

// PersistSummary writes the session summary.
func (p *Pipeline) PersistSummary(ctx context.Context, s *model.SessionSummary, clientID string) error {
	rec, err := SummaryRecord(s, clientID, p.ttl())
	if err != nil {
		return err
	}
	if p.opts.ImmediateSummaries {
		return p.store.Put(ctx, rec)
	}
	return p.enqueue([]store.Record{rec})
}

// Flush writes both micro-batch buffers synchronously. Session end calls
// this so nothing about a finished session sits in a buffer.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	chunks := p.chunkBuf
	trans := p.transBuf
	p.chunkBuf = nil
	p.transBuf = nil
	p.mu.Unlock()

	var firstErr error
	for _, recs := range [][]store.Record{chunks, trans} {
		for len(recs) > 0 {
			n := len(recs)
			if n > store.MaxBatchSize {
				n = store.MaxBatchSize
			}
			if err := p.store.BatchPut(ctx, recs[:n]); err != nil {
				p.log.WithError(err).Warn("flush batch failed, retrying per item")
				for _, rec := range recs[:n] {
					if err := p.store.Put(ctx, rec); err != nil && firstErr == nil {
						firstErr = err
					}
				}
			}
			recs = recs[n:]
		}
	}
	return firstErr
}

// flushBuffers is the timer path: buffered records go through the queue
// so the flusher never blocks on store I/O.
func (p *Pipeline) flushBuffers() {
	p.mu.Lock()
	chunks := p.chunkBuf
	trans := p.transBuf
	p.chunkBuf = nil
	p.transBuf = nil
	p.mu.Unlock()

	if len(chunks) > 0 {
		if left, err := p.enqueueBatches(chunks); err != nil {
			p.log.WithError(err).WithField("count", len(left)).Warn("chunk flush deferred")
			p.mu.Lock()
			p.chunkBuf = append(left, p.chunkBuf...)
			p.mu.Unlock()
		}
	}
	if len(trans) > 0 {
		if left, err := p.enqueueBatches(trans); err != nil {
			p.log.WithError(err).WithField("count", len(left)).Warn("transcription flush deferred")
			p.mu.Lock()
			p.transBuf = append(left, p.transBuf...)
			p.mu.Unlock()
		}
	}
}

// maxBuffered caps a micro-batch buffer at what the queue could absorb
// in one flush. Beyond it, Persist calls fail fast so callers see the
// backpressure instead of the buffer growing without bound.
func (p *Pipeline) maxBuffered() int {
	return p.opts.QueueSize * store.MaxBatchSize
}

// QueueDepth reports the number of pending jobs, for health reporting.
func (p *Pipeline) QueueDepth() int {
	return p.queue.Len()
}
