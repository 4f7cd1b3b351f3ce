// Package qstore is the durable persistence layer restart-detection
// depends on (spec.md §4.13/§4.14): a BoltDB-backed registry, on the czar,
// of each worker's last-known restart epoch and the query-id garbage
// collection high-water-mark, and on the worker, the last-seen czar epoch.
// Grounded on cuemby-warren/pkg/storage's bucket-per-entity,
// JSON-marshaled BoltDB wrapper.
package qstore
