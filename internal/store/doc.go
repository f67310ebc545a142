// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The Store interface covers every persistence concern of the message
// pipeline; SQLiteStore implements it in a single struct with one file per
// concern:
//
//   - pause.go: pause records and the global kill switch
//   - counter.go: fixed-window rate counters
//   - pairing.go: the pending/approved/denied admission state machine
//   - linked.go: cross-channel contact groups keyed by phone number
//   - history.go: deduplicated, bounded conversation logs
//   - queue.go: the append-only downstream message queue
//
// # Atomicity
//
// Per-contact mutations never use read-modify-write from the application.
// Single-row operations are one UPSERT (the rate counter increments and
// conditionally resets its window in a single statement via RETURNING);
// multi-row transitions (pairing state changes, history append+trim+TTL,
// link upserts) run inside one SQL transaction. Combined with a single
// database connection this serializes concurrent mutations for the same
// contact.
//
// # Expiry
//
// SQLite has no native key TTL, so records that expire (denial cooldowns,
// timed pauses, counter windows, history logs) carry an expires_at column
// that every read filters on, and PurgeExpired/RunJanitor reclaim expired
// rows in the background. Timestamps are stored as RFC3339 UTC strings,
// which compare lexicographically.
package store
