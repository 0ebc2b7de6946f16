// Package store is the local persistent store of the sync engine: the whole
// application snapshot, the mutation queue, the sync checkpoint, the
// pending-create ledger and the diagnostics ring, kept in SQLite under fixed
// keys.
//
// Every change goes through Update, which serializes writers and replaces all
// keys in one transaction, so readers never observe a half-applied change.
package store
