// Package wsched implements the worker-side chunk task queue (C3), the
// per-lane scan scheduler (C4), and the blend scheduler that multiplexes
// lanes over a shared thread pool (C5).
package wsched
