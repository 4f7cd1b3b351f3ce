// Package qstatus implements the worker-query-status protocol (spec.md
// §4.13): the periodic bidirectional message a czar POSTs to every worker
// carrying live/done/dead query and uber-job ids plus both sides' restart
// epochs, and the reconciliation each side performs on receipt.
package qstatus
