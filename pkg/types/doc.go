/*
Package types defines the core data structures used throughout StockPulse.

This package contains all fundamental types that represent the analysis
domain model: tasks, planned pipeline steps, the step-history ledger, and
the progress/status messages carried on the message fabric. These types are
used by all other packages for state management, API communication, and
pipeline orchestration.

# Core Types

Task lifecycle:
  - Task: the authoritative per-analysis record
  - Status: PENDING through COMPLETED/FAILED/STOPPED/CANCELLED
  - ControlState: cooperative-control label (running, paused, stopped)
  - AnalysisRequest: submission payload with validation helpers
  - CacheReuseConfig: per-node grants for prior-run output reuse

Pipeline planning:
  - Step: one planned stage with weight, phase, and module name
  - StepHistoryEntry: one executed step with timing and node status
  - NodeStatus: start, tool_calling, paused, complete, error

Fabric payloads:
  - ProgressMessage: step-level progress events
  - StatusMessage: task-level state transitions

All types serialize to JSON and are safe to persist as-is; Task.Clone
produces the deep copies the state machine snapshots into history.
*/
package types
