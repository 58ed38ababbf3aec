package state

import (
	"database/sql"
	"fmt"
)

// RepairConsistency runs orphan-cleanup SQL on cache.db, cross-referencing
// state.db via ATTACH. All DELETEs execute in a single transaction to avoid
// half-repaired state on crash.
//
// Cleanup order (by dependency):
//  1. session_records: remove entries whose account_id is missing from
//     state.accounts.
//  2. proxy_bindings: remove entries whose account_id is missing from
//     state.accounts OR whose proxy_id is missing from state.proxies.
//  3. fingerprint_bindings: remove entries whose account_id is missing from
//     state.accounts OR whose fingerprint_id is missing from state.fingerprints.
//
// task_history and slot_stats are analytics data with no foreign references
// and are left untouched.
func RepairConsistency(stateDBPath string, cacheDB *sql.DB) error {
	// ATTACH state.db so we can cross-query.
	attachSQL := fmt.Sprintf("ATTACH DATABASE %q AS state_db", stateDBPath)
	if _, err := cacheDB.Exec(attachSQL); err != nil {
		return fmt.Errorf("attach state_db: %w", err)
	}
	defer cacheDB.Exec("DETACH DATABASE state_db")

	tx, err := cacheDB.Begin()
	if err != nil {
		return fmt.Errorf("begin repair tx: %w", err)
	}
	defer tx.Rollback()

	stmts := []string{
		// 1. session_records: orphan account
		`DELETE FROM session_records
		 WHERE account_id NOT IN (SELECT id FROM state_db.accounts)`,

		// 2. proxy_bindings: orphan account or orphan proxy
		`DELETE FROM proxy_bindings
		 WHERE account_id NOT IN (SELECT id FROM state_db.accounts)
		    OR proxy_id NOT IN (SELECT id FROM state_db.proxies)`,

		// 3. fingerprint_bindings: orphan account or orphan fingerprint
		`DELETE FROM fingerprint_bindings
		 WHERE account_id NOT IN (SELECT id FROM state_db.accounts)
		    OR fingerprint_id NOT IN (SELECT id FROM state_db.fingerprints)`,
	}

	for i, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return fmt.Errorf("repair step %d: %w", i+1, err)
		}
	}

	return tx.Commit()
}
