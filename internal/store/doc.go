// Package store provides the outcome ledger for settled human requests using SQLite.
//
// # Data Model
//
// One table, outcomes, holds one row per settled request: its kind, final
// status, the payload shown to the operator, the answer text and timing.
// Pending requests live only in the broker and are never written here.
//
// # Storage
//
// The default database path is ":memory:", so history lasts as long as the
// process. Point database.path at a file to keep it across restarts:
//
//	s, err := store.NewSQLiteStore("~/.local/share/human-gateway/ledger.db", logger)
//
// # Recording
//
// Ledger adapts the store to broker.Observer so every settled request is
// recorded without the broker knowing about persistence:
//
//	ledger := store.NewLedger(s, logger)
//	b := broker.New(broker.Config{Observers: []broker.Observer{ledger}})
package store
