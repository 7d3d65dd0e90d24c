/*
Package manager owns the task registry and the pipeline runner.

StartTask validates a submission, plans its steps, initializes the state
machine, and launches one worker goroutine. The worker walks the plan in
order: it parks at the pause gate and checks the stop latch between steps,
consults the reuse cache before running a stage, merges stage outputs into
the accumulated state, and writes a restart checkpoint plus a step trace
after every step. Recoverable stage failures skip the module; fatal ones
fail the task. Exactly one terminal transition flows through the tracker.

Pause, Resume, and Stop act on live workers. Queries fall back to the
store for finished or recovered tasks, and ReconcileOrphans fails stored
in-flight tasks whose workers died with the process.
*/
package manager
