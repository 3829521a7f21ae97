// Package stores persists run history: one row per engine run with its
// timing summary, plus the process faults recorded during the run.
// Writes happen at run boundaries only, never from the tick loop.
package stores
