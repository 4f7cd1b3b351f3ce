// Package qmeta holds the czar's chunk map: which workers hold a replica
// of each chunk, and the inverse worker-to-chunks index, together with the
// per-dispatch-round worker selection policy.
package qmeta
