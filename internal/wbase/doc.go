// Package wbase is C6: the worker query runner. It takes a dispatched
// *wsched.Task, substitutes its chunk/sub-chunk template, runs it against
// MariaDB under the task's memory-manager handle, and frames the result
// rows to a result file a czar can fetch.
package wbase
