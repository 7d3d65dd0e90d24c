/*
Package agent defines the stage contract the pipeline runner executes.

A Stage runs one module against a RunContext (submission, accumulated
state, control handle, progress reporter) and returns an output fragment
the runner merges into the pipeline state. Stage failures are either
recoverable (the pipeline continues) or fatal (the task fails); IsRecoverable
distinguishes them.

Registry binds module names to stages. DefaultRegistry ships simulated
stages for every plannable module so the engine runs end to end without an
LLM backend; real integrations replace bindings per module.
*/
package agent
