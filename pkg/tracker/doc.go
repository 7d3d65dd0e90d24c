/*
Package tracker turns module-level execution events into the step-history
ledger, derived progress, and fabric traffic for one task.

The tracker owns the mapping from module names to planned steps. Each
observation closes any still-open prior step (synthesized end time and
duration), opens or updates the entry for the reporting module, recomputes
the percentage from planned-step weights, and pushes the merged update
through the state machine before publishing it. Unknown modules update the
last message only. Pause spans are excluded from elapsed time, and the
Mark* methods drive the terminal transitions.
*/
package tracker
