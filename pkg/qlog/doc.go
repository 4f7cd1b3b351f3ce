// Package qlog wraps zerolog with the component/query/worker/uber-job
// context loggers used throughout qserv-go. See Init for configuration.
package qlog
