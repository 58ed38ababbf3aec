package state

import (
	"database/sql"
	"fmt"

	"github.com/radar-hq/radar/internal/model"
)

// CacheRepo wraps cache.db and provides batch read/write for weak-persist data.
type CacheRepo struct {
	db *sql.DB
}

// newCacheRepo creates a CacheRepo for the given cache.db connection.
func newCacheRepo(db *sql.DB) *CacheRepo {
	return &CacheRepo{db: db}
}

// --- session_records ---

// BulkUpsertSessionRecords batch-inserts or updates session records.
func (r *CacheRepo) BulkUpsertSessionRecords(records []model.SessionRecord) error {
	return bulkExecRows(
		r,
		upsertSessionRecordsSQL,
		records,
		func(stmt *sql.Stmt, s model.SessionRecord) error {
			_, err := stmt.Exec(
				s.AccountID, s.Platform, s.CookiesJSON, s.LocalStorageJSON,
				s.ProxyID, s.FingerprintID, s.LoggedIn,
				s.LoginSuccessCount, s.LoginFailureCount, s.LastLoginNs,
				s.UsageCount, s.CreatedAtNs, s.UpdatedAtNs, s.LastUsedNs,
			)
			return err
		},
	)
}

// BulkDeleteSessionRecords batch-deletes session records by composite key.
func (r *CacheRepo) BulkDeleteSessionRecords(keys []model.SessionRecordKey) error {
	return bulkExecRows(
		r,
		deleteSessionRecordsSQL,
		keys,
		func(stmt *sql.Stmt, key model.SessionRecordKey) error {
			_, err := stmt.Exec(key.AccountID, key.Platform)
			return err
		},
	)
}

// LoadAllSessionRecords reads all session records.
func (r *CacheRepo) LoadAllSessionRecords() ([]model.SessionRecord, error) {
	rows, err := r.db.Query(`SELECT account_id, platform, cookies_json, local_storage_json,
		proxy_id, fingerprint_id, logged_in, login_success_count, login_failure_count,
		last_login_ns, usage_count, created_at_ns, updated_at_ns, last_used_ns FROM session_records`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SessionRecord
	for rows.Next() {
		var s model.SessionRecord
		if err := rows.Scan(&s.AccountID, &s.Platform, &s.CookiesJSON, &s.LocalStorageJSON,
			&s.ProxyID, &s.FingerprintID, &s.LoggedIn, &s.LoginSuccessCount, &s.LoginFailureCount,
			&s.LastLoginNs, &s.UsageCount, &s.CreatedAtNs, &s.UpdatedAtNs, &s.LastUsedNs); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// --- proxy_bindings ---

// BulkUpsertProxyBindings batch-inserts or updates proxy bindings.
func (r *CacheRepo) BulkUpsertProxyBindings(bindings []model.ProxyBinding) error {
	return bulkExecRows(
		r,
		upsertProxyBindingsSQL,
		bindings,
		func(stmt *sql.Stmt, b model.ProxyBinding) error {
			_, err := stmt.Exec(b.AccountID, b.ProxyID, b.BoundAtNs)
			return err
		},
	)
}

// BulkDeleteProxyBindings batch-deletes proxy bindings by account ID.
func (r *CacheRepo) BulkDeleteProxyBindings(accountIDs []string) error {
	return bulkExecRows(
		r,
		deleteProxyBindingsSQL,
		accountIDs,
		func(stmt *sql.Stmt, id string) error {
			_, err := stmt.Exec(id)
			return err
		},
	)
}

// LoadAllProxyBindings reads all proxy bindings.
func (r *CacheRepo) LoadAllProxyBindings() ([]model.ProxyBinding, error) {
	rows, err := r.db.Query("SELECT account_id, proxy_id, bound_at_ns FROM proxy_bindings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ProxyBinding
	for rows.Next() {
		var b model.ProxyBinding
		if err := rows.Scan(&b.AccountID, &b.ProxyID, &b.BoundAtNs); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// --- fingerprint_bindings ---

// BulkUpsertFingerprintBindings batch-inserts or updates fingerprint bindings.
func (r *CacheRepo) BulkUpsertFingerprintBindings(bindings []model.FingerprintBinding) error {
	return bulkExecRows(
		r,
		upsertFingerprintBindingsSQL,
		bindings,
		func(stmt *sql.Stmt, b model.FingerprintBinding) error {
			_, err := stmt.Exec(b.AccountID, b.FingerprintID, b.BoundAtNs)
			return err
		},
	)
}

// BulkDeleteFingerprintBindings batch-deletes fingerprint bindings by account ID.
func (r *CacheRepo) BulkDeleteFingerprintBindings(accountIDs []string) error {
	return bulkExecRows(
		r,
		deleteFingerprintBindingsSQL,
		accountIDs,
		func(stmt *sql.Stmt, id string) error {
			_, err := stmt.Exec(id)
			return err
		},
	)
}

// LoadAllFingerprintBindings reads all fingerprint bindings.
func (r *CacheRepo) LoadAllFingerprintBindings() ([]model.FingerprintBinding, error) {
	rows, err := r.db.Query("SELECT account_id, fingerprint_id, bound_at_ns FROM fingerprint_bindings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.FingerprintBinding
	for rows.Next() {
		var b model.FingerprintBinding
		if err := rows.Scan(&b.AccountID, &b.FingerprintID, &b.BoundAtNs); err != nil {
			return nil, err
		}
		result = append(result, b)
	}
	return result, rows.Err()
}

// --- slot_stats ---

// BulkUpsertSlotStats batch-inserts or updates slot statistics.
func (r *CacheRepo) BulkUpsertSlotStats(stats []model.SlotStat) error {
	return bulkExecRows(
		r,
		upsertSlotStatsSQL,
		stats,
		func(stmt *sql.Stmt, s model.SlotStat) error {
			_, err := stmt.Exec(s.Platform, s.Slot, s.Samples, s.RewardSum, s.RewardMean, s.Dispatches, s.LastUpdatedNs)
			return err
		},
	)
}

// BulkDeleteSlotStats batch-deletes slot statistics by composite key.
func (r *CacheRepo) BulkDeleteSlotStats(keys []model.SlotStatKey) error {
	return bulkExecRows(
		r,
		deleteSlotStatsSQL,
		keys,
		func(stmt *sql.Stmt, key model.SlotStatKey) error {
			_, err := stmt.Exec(key.Platform, key.Slot)
			return err
		},
	)
}

// LoadAllSlotStats reads all slot statistics.
func (r *CacheRepo) LoadAllSlotStats() ([]model.SlotStat, error) {
	rows, err := r.db.Query("SELECT platform, slot, samples, reward_sum, reward_mean, dispatches, last_updated_ns FROM slot_stats")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.SlotStat
	for rows.Next() {
		var s model.SlotStat
		if err := rows.Scan(&s.Platform, &s.Slot, &s.Samples, &s.RewardSum, &s.RewardMean, &s.Dispatches, &s.LastUpdatedNs); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// --- task_history ---

// InsertTaskRecords appends terminal task records. task_history is an
// append-only log, not dirty-set managed.
func (r *CacheRepo) InsertTaskRecords(records []model.TaskRecord) error {
	return bulkExecRows(
		r,
		insertTaskHistorySQL,
		records,
		func(stmt *sql.Stmt, t model.TaskRecord) error {
			_, err := stmt.Exec(
				t.TaskID, t.AccountID, t.Platform, t.TaskType, t.Target,
				t.Priority, t.Status, t.Error, t.RetryCount, t.ScheduledNs, t.ExecutedNs,
			)
			return err
		},
	)
}

// TrimTaskHistory removes task records executed before cutoffNs.
// Returns the number of rows removed.
func (r *CacheRepo) TrimTaskHistory(cutoffNs int64) (int64, error) {
	res, err := r.db.Exec("DELETE FROM task_history WHERE executed_ns < ?", cutoffNs)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// QueryTaskRecords returns the most recent task records for a platform,
// newest first. Empty platform matches all platforms.
func (r *CacheRepo) QueryTaskRecords(platform string, limit int) ([]model.TaskRecord, error) {
	query := "SELECT task_id, account_id, platform, task_type, target, priority, status, error, retry_count, scheduled_ns, executed_ns FROM task_history"
	args := []any{}
	if platform != "" {
		query += " WHERE platform = ?"
		args = append(args, platform)
	}
	query += " ORDER BY executed_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.TaskRecord
	for rows.Next() {
		var t model.TaskRecord
		if err := rows.Scan(&t.TaskID, &t.AccountID, &t.Platform, &t.TaskType, &t.Target,
			&t.Priority, &t.Status, &t.Error, &t.RetryCount, &t.ScheduledNs, &t.ExecutedNs); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// TaskStats summarizes task outcomes for one platform since sinceNs.
type TaskStats struct {
	Platform  string `json:"platform"`
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Cancelled int    `json:"cancelled"`
}

// QueryTaskStats aggregates task outcomes per platform since sinceNs.
func (r *CacheRepo) QueryTaskStats(sinceNs int64) ([]TaskStats, error) {
	rows, err := r.db.Query(`
		SELECT platform,
		       COUNT(*),
		       SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END),
		       SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END)
		FROM task_history
		WHERE executed_ns >= ?
		GROUP BY platform`, sinceNs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []TaskStats
	for rows.Next() {
		var s TaskStats
		if err := rows.Scan(&s.Platform, &s.Total, &s.Completed, &s.Failed, &s.Cancelled); err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

// --- internal helpers ---

// bulkExecTx runs a prepared statement within an existing transaction for n rows.
func bulkExecTx(tx *sql.Tx, query string, n int, execFn func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for i := 0; i < n; i++ {
		if err := execFn(stmt, i); err != nil {
			return fmt.Errorf("exec row %d: %w", i, err)
		}
	}
	return nil
}

// bulkExec runs a prepared statement in its own transaction for n rows.
// Used by individual BulkUpsert*/BulkDelete* methods (tests, bootstrap).
func (r *CacheRepo) bulkExec(query string, n int, execFn func(stmt *sql.Stmt, i int) error) error {
	if n == 0 {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := bulkExecTx(tx, query, n, execFn); err != nil {
		return err
	}
	return tx.Commit()
}

func bulkExecRows[T any](
	r *CacheRepo,
	query string,
	rows []T,
	execFn func(stmt *sql.Stmt, row T) error,
) error {
	return r.bulkExec(query, len(rows), func(stmt *sql.Stmt, i int) error {
		return execFn(stmt, rows[i])
	})
}

// FlushOps holds all upsert/delete slices for a single-transaction cache flush.
type FlushOps struct {
	UpsertSessionRecords      []model.SessionRecord
	DeleteSessionRecords      []model.SessionRecordKey
	UpsertProxyBindings       []model.ProxyBinding
	DeleteProxyBindings       []string
	UpsertFingerprintBindings []model.FingerprintBinding
	DeleteFingerprintBindings []string
	UpsertSlotStats           []model.SlotStat
	DeleteSlotStats           []model.SlotStatKey
}

// FlushTx executes all upserts and deletes in a single transaction.
func (r *CacheRepo) FlushTx(ops FlushOps) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin flush tx: %w", err)
	}
	defer tx.Rollback()

	steps := []struct {
		name  string
		query string
		n     int
		exec  func(*sql.Stmt, int) error
	}{
		{"upsert_session_records", upsertSessionRecordsSQL, len(ops.UpsertSessionRecords), func(s *sql.Stmt, i int) error {
			rec := ops.UpsertSessionRecords[i]
			_, err := s.Exec(
				rec.AccountID, rec.Platform, rec.CookiesJSON, rec.LocalStorageJSON,
				rec.ProxyID, rec.FingerprintID, rec.LoggedIn,
				rec.LoginSuccessCount, rec.LoginFailureCount, rec.LastLoginNs,
				rec.UsageCount, rec.CreatedAtNs, rec.UpdatedAtNs, rec.LastUsedNs,
			)
			return err
		}},
		{"upsert_proxy_bindings", upsertProxyBindingsSQL, len(ops.UpsertProxyBindings), func(s *sql.Stmt, i int) error {
			b := ops.UpsertProxyBindings[i]
			_, err := s.Exec(b.AccountID, b.ProxyID, b.BoundAtNs)
			return err
		}},
		{"upsert_fingerprint_bindings", upsertFingerprintBindingsSQL, len(ops.UpsertFingerprintBindings), func(s *sql.Stmt, i int) error {
			b := ops.UpsertFingerprintBindings[i]
			_, err := s.Exec(b.AccountID, b.FingerprintID, b.BoundAtNs)
			return err
		}},
		{"upsert_slot_stats", upsertSlotStatsSQL, len(ops.UpsertSlotStats), func(s *sql.Stmt, i int) error {
			st := ops.UpsertSlotStats[i]
			_, err := s.Exec(st.Platform, st.Slot, st.Samples, st.RewardSum, st.RewardMean, st.Dispatches, st.LastUpdatedNs)
			return err
		}},
		{"delete_session_records", deleteSessionRecordsSQL, len(ops.DeleteSessionRecords), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(ops.DeleteSessionRecords[i].AccountID, ops.DeleteSessionRecords[i].Platform)
			return err
		}},
		{"delete_proxy_bindings", deleteProxyBindingsSQL, len(ops.DeleteProxyBindings), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(ops.DeleteProxyBindings[i])
			return err
		}},
		{"delete_fingerprint_bindings", deleteFingerprintBindingsSQL, len(ops.DeleteFingerprintBindings), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(ops.DeleteFingerprintBindings[i])
			return err
		}},
		{"delete_slot_stats", deleteSlotStatsSQL, len(ops.DeleteSlotStats), func(s *sql.Stmt, i int) error {
			_, err := s.Exec(ops.DeleteSlotStats[i].Platform, ops.DeleteSlotStats[i].Slot)
			return err
		}},
	}

	for _, step := range steps {
		if err := bulkExecTx(tx, step.query, step.n, step.exec); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	return tx.Commit()
}

// SQL constants shared between FlushTx and the individual bulk methods.
const (
	upsertSessionRecordsSQL = `INSERT INTO session_records (
			account_id, platform, cookies_json, local_storage_json, proxy_id, fingerprint_id,
			logged_in, login_success_count, login_failure_count, last_login_ns,
			usage_count, created_at_ns, updated_at_ns, last_used_ns
		)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, platform) DO UPDATE SET
			cookies_json        = excluded.cookies_json,
			local_storage_json  = excluded.local_storage_json,
			proxy_id            = excluded.proxy_id,
			fingerprint_id      = excluded.fingerprint_id,
			logged_in           = excluded.logged_in,
			login_success_count = excluded.login_success_count,
			login_failure_count = excluded.login_failure_count,
			last_login_ns       = excluded.last_login_ns,
			usage_count         = excluded.usage_count,
			updated_at_ns       = excluded.updated_at_ns,
			last_used_ns        = excluded.last_used_ns`

	upsertProxyBindingsSQL = `INSERT INTO proxy_bindings (account_id, proxy_id, bound_at_ns)
		 VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			proxy_id    = excluded.proxy_id,
			bound_at_ns = excluded.bound_at_ns`

	upsertFingerprintBindingsSQL = `INSERT INTO fingerprint_bindings (account_id, fingerprint_id, bound_at_ns)
		 VALUES (?, ?, ?)
		 ON CONFLICT(account_id) DO UPDATE SET
			fingerprint_id = excluded.fingerprint_id,
			bound_at_ns    = excluded.bound_at_ns`

	upsertSlotStatsSQL = `INSERT INTO slot_stats (platform, slot, samples, reward_sum, reward_mean, dispatches, last_updated_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(platform, slot) DO UPDATE SET
			samples         = excluded.samples,
			reward_sum      = excluded.reward_sum,
			reward_mean     = excluded.reward_mean,
			dispatches      = excluded.dispatches,
			last_updated_ns = excluded.last_updated_ns`

	insertTaskHistorySQL = `INSERT INTO task_history (
			task_id, account_id, platform, task_type, target, priority, status, error,
			retry_count, scheduled_ns, executed_ns
		)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	deleteSessionRecordsSQL      = "DELETE FROM session_records WHERE account_id = ? AND platform = ?"
	deleteProxyBindingsSQL       = "DELETE FROM proxy_bindings WHERE account_id = ?"
	deleteFingerprintBindingsSQL = "DELETE FROM fingerprint_bindings WHERE account_id = ?"
	deleteSlotStatsSQL           = "DELETE FROM slot_stats WHERE platform = ? AND slot = ?"
)
