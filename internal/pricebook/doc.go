// Package pricebook defines the persistent data model for shelf-tag price
// intelligence: immutable price observations, lazily created products, the
// per-(warehouse, product) rolling snapshot, community-reported signals, and
// the store interfaces the rest of the system reads and writes through.
//
// Observations are append-only. A quarantined observation stays in the audit
// log but never folds into a snapshot. Snapshots are derived state: they hold
// the current best-known price for one product at one warehouse and are
// mutated only by the ingest fold and the maintenance recompute.
package pricebook
