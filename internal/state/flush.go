package state

import (
	"log"
	"sync"
	"time"
)

// CacheFlushWorker drains the dirty sets into cache.db in the background.
// A flush fires when the dirty count reaches the threshold, or when dirty
// entries have been sitting longer than the interval. Stop drains whatever
// is left before returning.
type CacheFlushWorker struct {
	engine      *StateEngine
	readers     CacheReaders
	thresholdFn func() int
	intervalFn  func() time.Duration
	checkTick   time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCacheFlushWorker builds a worker whose threshold and interval are
// re-read from the callbacks on every tick, so live config changes take
// effect without a restart. checkTick is the evaluation cadence.
func NewCacheFlushWorker(
	engine *StateEngine,
	readers CacheReaders,
	thresholdFn func() int,
	intervalFn func() time.Duration,
	checkTick time.Duration,
) *CacheFlushWorker {
	if thresholdFn == nil || intervalFn == nil {
		panic("state: flush worker needs threshold and interval callbacks")
	}
	if checkTick <= 0 {
		panic("state: flush worker checkTick must be positive")
	}
	return &CacheFlushWorker{
		engine:      engine,
		readers:     readers,
		thresholdFn: thresholdFn,
		intervalFn:  intervalFn,
		checkTick:   checkTick,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the flush loop.
func (w *CacheFlushWorker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop ends the loop, running one last flush, and blocks until it exits.
func (w *CacheFlushWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

func (w *CacheFlushWorker) loop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.checkTick)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-w.stopCh:
			w.flushNow()
			return
		case now := <-ticker.C:
			dirty := w.engine.DirtyCount()
			if dirty == 0 {
				continue
			}
			if dirty >= w.thresholdFn() || now.Sub(last) >= w.intervalFn() {
				w.flushNow()
				last = time.Now()
			}
		}
	}
}

// flushNow writes the dirty sets out. On failure the engine keeps the
// entries marked, so the next cycle retries them.
func (w *CacheFlushWorker) flushNow() {
	if err := w.engine.FlushDirtySets(w.readers); err != nil {
		log.Printf("[state] cache flush failed, will retry: %v", err)
	}
}
