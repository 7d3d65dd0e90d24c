/*
Package cache serves node outputs from prior runs.

BoltDocStore keeps cached outputs in a single-file bbolt database keyed by
(ticker, trade date, node name); lookups filter on research depth, analyst
set, and market so only compatible runs are reused. Reuser gates reuse by
the process mode and the submission's own reuse config, paces hits with an
interruptible randomized sleep, and splices the cached output onto the
current task's identity. TraceWriter mirrors the step-history ledger to
per-step JSON files for offline inspection.
*/
package cache
