/*
Package log provides structured logging for StockPulse using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and
support filtering by severity for production debugging.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	trackerLog := log.WithComponent("tracker")
	trackerLog.Info().Str("task_id", id).Msg("step complete")

Task-scoped loggers:

	taskLog := log.WithTaskID(taskID)
	taskLog.Error().Err(err).Msg("agent stage failed")

# Integration Points

  - pkg/manager: task lifecycle and worker loop events
  - pkg/tracker: progress publication failures (publish never blocks state)
  - pkg/store: backend fallback decisions (remote -> local)
  - pkg/control: pause/resume/stop transitions and checkpoint writes
  - pkg/api: request-level errors

Never log submission payload contents verbatim; extra_config may carry
provider credentials.
*/
package log
