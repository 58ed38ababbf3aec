package state

import (
	"fmt"
	"log"

	"github.com/radar-hq/radar/internal/model"
)

// SessionDirtyKey is the composite key for the session_records dirty set.
type SessionDirtyKey = model.SessionRecordKey

// SlotStatDirtyKey is the composite key for the slot_stats dirty set.
type SlotStatDirtyKey = model.SlotStatKey

// CacheReaders provides callbacks for reading current in-memory values at flush time.
// If a reader returns nil for a key marked OpUpsert, the key is
// treated as a delete (the object was removed between mark and flush).
type CacheReaders struct {
	ReadSessionRecord      func(key SessionDirtyKey) *model.SessionRecord
	ReadProxyBinding       func(accountID string) *model.ProxyBinding
	ReadFingerprintBinding func(accountID string) *model.FingerprintBinding
	ReadSlotStat           func(key SlotStatDirtyKey) *model.SlotStat
}

// StateEngine is the single write entry point for all persistence operations.
// Strong-persist data (config, accounts, proxies, fingerprints) goes through
// transactional writes to state.db. Weak-persist data (session records,
// bindings, slot stats) is marked dirty and batch-flushed to cache.db.
type StateEngine struct {
	*StateRepo
	*CacheRepo

	dirtySessionRecords      *DirtySet[SessionDirtyKey]
	dirtyProxyBindings       *DirtySet[string]
	dirtyFingerprintBindings *DirtySet[string]
	dirtySlotStats           *DirtySet[SlotStatDirtyKey]
}

// newStateEngine creates a StateEngine with the given repos.
func newStateEngine(stateRepo *StateRepo, cacheRepo *CacheRepo) *StateEngine {
	return &StateEngine{
		StateRepo:                stateRepo,
		CacheRepo:                cacheRepo,
		dirtySessionRecords:      NewDirtySet[SessionDirtyKey](),
		dirtyProxyBindings:       NewDirtySet[string](),
		dirtyFingerprintBindings: NewDirtySet[string](),
		dirtySlotStats:           NewDirtySet[SlotStatDirtyKey](),
	}
}

// --- Weak-persist methods (dirty-mark only) ---

func (e *StateEngine) MarkSessionRecord(accountID, platform string) {
	e.dirtySessionRecords.MarkUpsert(SessionDirtyKey{AccountID: accountID, Platform: platform})
}
func (e *StateEngine) MarkSessionRecordDelete(accountID, platform string) {
	e.dirtySessionRecords.MarkDelete(SessionDirtyKey{AccountID: accountID, Platform: platform})
}

func (e *StateEngine) MarkProxyBinding(accountID string)       { e.dirtyProxyBindings.MarkUpsert(accountID) }
func (e *StateEngine) MarkProxyBindingDelete(accountID string) { e.dirtyProxyBindings.MarkDelete(accountID) }

func (e *StateEngine) MarkFingerprintBinding(accountID string) {
	e.dirtyFingerprintBindings.MarkUpsert(accountID)
}
func (e *StateEngine) MarkFingerprintBindingDelete(accountID string) {
	e.dirtyFingerprintBindings.MarkDelete(accountID)
}

func (e *StateEngine) MarkSlotStat(platform, slot string) {
	e.dirtySlotStats.MarkUpsert(SlotStatDirtyKey{Platform: platform, Slot: slot})
}
func (e *StateEngine) MarkSlotStatDelete(platform, slot string) {
	e.dirtySlotStats.MarkDelete(SlotStatDirtyKey{Platform: platform, Slot: slot})
}

// DirtyCount returns the total number of dirty entries across all sets.
func (e *StateEngine) DirtyCount() int {
	return e.dirtySessionRecords.Len() +
		e.dirtyProxyBindings.Len() +
		e.dirtyFingerprintBindings.Len() +
		e.dirtySlotStats.Len()
}

// classifyDirtySet splits a drained dirty-set snapshot into upsert values and
// delete keys. For OpUpsert entries, the reader is called to fetch the current
// in-memory value; a nil return is treated as a delete.
func classifyDirtySet[K comparable, V any](
	drained map[K]DirtyOp,
	reader func(K) *V,
) (upserts []V, deletes []K) {
	for key, op := range drained {
		if op == OpDelete {
			deletes = append(deletes, key)
			continue
		}
		v := reader(key)
		if v == nil {
			deletes = append(deletes, key)
		} else {
			upserts = append(upserts, *v)
		}
	}
	return
}

// FlushDirtySets drains all dirty sets, reads current values via readers,
// and batch-writes to cache.db in a single transaction.
// On failure, undrained entries are merged back.
func (e *StateEngine) FlushDirtySets(readers CacheReaders) error {
	// Drain all sets atomically (each set is individually atomic).
	drainedSessions := e.dirtySessionRecords.Drain()
	drainedProxyBindings := e.dirtyProxyBindings.Drain()
	drainedFpBindings := e.dirtyFingerprintBindings.Drain()
	drainedSlotStats := e.dirtySlotStats.Drain()

	// Re-merge helper on failure.
	remerge := func() {
		e.dirtySessionRecords.Merge(drainedSessions)
		e.dirtyProxyBindings.Merge(drainedProxyBindings)
		e.dirtyFingerprintBindings.Merge(drainedFpBindings)
		e.dirtySlotStats.Merge(drainedSlotStats)
	}

	// Classify each dirty set into upsert values and delete keys.
	upsertSessions, deleteSessions := classifyDirtySet(drainedSessions, readers.ReadSessionRecord)
	upsertProxyBindings, deleteProxyBindings := classifyDirtySet(drainedProxyBindings, readers.ReadProxyBinding)
	upsertFpBindings, deleteFpBindings := classifyDirtySet(drainedFpBindings, readers.ReadFingerprintBinding)
	upsertSlotStats, deleteSlotStats := classifyDirtySet(drainedSlotStats, readers.ReadSlotStat)

	// Execute all writes in a single transaction.
	if err := e.CacheRepo.FlushTx(FlushOps{
		UpsertSessionRecords:      upsertSessions,
		DeleteSessionRecords:      deleteSessions,
		UpsertProxyBindings:       upsertProxyBindings,
		DeleteProxyBindings:       deleteProxyBindings,
		UpsertFingerprintBindings: upsertFpBindings,
		DeleteFingerprintBindings: deleteFpBindings,
		UpsertSlotStats:           upsertSlotStats,
		DeleteSlotStats:           deleteSlotStats,
	}); err != nil {
		remerge()
		return fmt.Errorf("flush: %w", err)
	}

	log.Printf("[state] flushed dirty sets: sessions=%d, proxy_bindings=%d, fingerprint_bindings=%d, slot_stats=%d",
		len(drainedSessions), len(drainedProxyBindings), len(drainedFpBindings), len(drainedSlotStats))
	return nil
}
