// Package rproc is the infile merger (spec.md §4.10): it consumes framed
// result bytes fetched from a worker's result file and streams them into
// the per-query result table in MariaDB, creating the table on the first
// frame, batching inserts, and discarding duplicate (query, uber-job, job,
// chunk, attempt, fragment) deliveries.
package rproc
