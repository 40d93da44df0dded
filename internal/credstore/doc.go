// Package credstore owns the user credential table.
//
// Records are one-way hashed (Argon2id, PHC-encoded) and carry a
// failed-attempt counter: once the counter reaches the configured maximum,
// Verify returns ErrLockedOut without touching the hash function, and keeps
// doing so until an admin resets the counter. Plaintext password buffers
// are zeroed before any store operation returns, on success and failure
// alike.
//
// Two persistence backends implement the same Store interface:
//
//   - FileStore: a line-oriented text file ("uid:role,role:hash", sorted by
//     uid, blank hash for registration-only records) that is re-read on
//     start and rewritten in full on save.
//   - SQLiteStore: a single-table SQLite database for embedders that
//     already carry one.
package credstore
