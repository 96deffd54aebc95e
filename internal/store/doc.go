// Package store provides SQLite-backed durable storage for the glacier
// core: user balances, pool accounts, session records, stake positions
// and the append-only receipt log.
//
// # Invariants enforced at the schema level
//
//   - Liquid and locked balances never go negative (CHECK constraints);
//     a debit is a conditional UPDATE that fails cleanly on shortfall.
//   - The locked balance has no debit statement anywhere in this
//     package - conversions are one-way by construction.
//   - At most one session row per user (UNIQUE(user_id)); "start
//     session" is a compare-and-create against that constraint.
//   - A stake position closes at most once: closing is a conditional
//     UPDATE guarded by withdrawn_at IS NULL, so a concurrent second
//     unstake affects zero rows and is rejected.
//   - Receipts are append-only with a monotonic seq; nothing updates
//     or deletes them.
//
// # Database configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for lock contention
//   - Single writer connection to avoid SQLITE_BUSY
package store
