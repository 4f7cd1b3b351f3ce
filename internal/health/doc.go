// Package health implements C14, the czar's worker health/heartbeat
// monitor: independent HTTP and TCP probes per worker feeding a pair of
// noResponseSeconds counters (one per service), and an eviction policy
// that nominates at most one worker per round.
//
// HTTPChecker and TCPChecker are the two probe implementations Monitor
// drives; both satisfy the shared Checker interface so either can stand in
// for the other in tests.
package health
