// Package history records terminal task outcomes asynchronously. Records
// flow through a bounded queue into batch inserts so a slow disk never
// backs up task dispatch; when the queue is full the oldest entry is
// dropped rather than blocking the producer.
package history

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/state"
)

// Sink is the persistence surface the recorder writes to. Satisfied by
// *state.CacheRepo.
type Sink interface {
	InsertTaskRecords(records []model.TaskRecord) error
	TrimTaskHistory(cutoffNs int64) (int64, error)
	QueryTaskRecords(platform string, limit int) ([]model.TaskRecord, error)
	QueryTaskStats(sinceNs int64) ([]state.TaskStats, error)
}

// Recorder is the async task-history pipeline.
type Recorder struct {
	sink    Sink
	runtime *atomic.Pointer[config.RuntimeConfig]

	queue     chan model.TaskRecord
	batchSize int
	interval  time.Duration

	dropped atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRecorder sizes the queue and batch from the environment config.
func NewRecorder(sink Sink, runtime *atomic.Pointer[config.RuntimeConfig], queueSize, batchSize int, interval time.Duration) *Recorder {
	if queueSize <= 0 {
		queueSize = 8192
	}
	if batchSize <= 0 {
		batchSize = 2048
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Recorder{
		sink:      sink,
		runtime:   runtime,
		queue:     make(chan model.TaskRecord, queueSize),
		batchSize: batchSize,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the flush worker.
func (r *Recorder) Start() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.loop()
	}()
}

// Stop halts the worker after a final drain of everything queued.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		r.wg.Wait()
	})
}

// Record enqueues one terminal outcome. Never blocks: on overflow the
// oldest queued record is discarded to make room.
func (r *Recorder) Record(rec model.TaskRecord) {
	for {
		select {
		case r.queue <- rec:
			return
		default:
		}
		select {
		case <-r.queue:
			r.dropped.Add(1)
		default:
		}
	}
}

// Dropped reports how many records were discarded on queue overflow.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

func (r *Recorder) loop() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	batch := make([]model.TaskRecord, 0, r.batchSize)
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				batch = r.flush(batch)
			}
		case <-ticker.C:
			batch = r.flush(batch)
		case <-r.stopCh:
			for {
				select {
				case rec := <-r.queue:
					batch = append(batch, rec)
					continue
				default:
				}
				break
			}
			r.flush(batch)
			return
		}
	}
}

// flush writes the batch and returns the reusable empty slice. On error
// the batch is kept for the next attempt so records are not lost to a
// transient write failure.
func (r *Recorder) flush(batch []model.TaskRecord) []model.TaskRecord {
	if len(batch) == 0 {
		return batch
	}
	if err := r.sink.InsertTaskRecords(batch); err != nil {
		log.Printf("[history] flush of %d records failed: %v", len(batch), err)
		if len(batch) >= r.batchSize*2 {
			log.Printf("[history] dropping %d records after repeated flush failures", len(batch))
			return batch[:0]
		}
		return batch
	}
	return batch[:0]
}

// Trim deletes records older than the configured retention. Returns the
// number removed.
func (r *Recorder) Trim(now time.Time) (int64, error) {
	retention := r.runtime.Load().TaskHistoryRetention.Std()
	return r.sink.TrimTaskHistory(now.Add(-retention).UnixNano())
}

// Recent returns the latest persisted records, optionally filtered by
// platform.
func (r *Recorder) Recent(platform string, limit int) ([]model.TaskRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.sink.QueryTaskRecords(platform, limit)
}

// Stats aggregates per-platform outcomes since the given time.
func (r *Recorder) Stats(since time.Time) ([]state.TaskStats, error) {
	return r.sink.QueryTaskStats(since.UnixNano())
}
