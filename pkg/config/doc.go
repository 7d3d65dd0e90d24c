/*
Package config resolves process-wide configuration for StockPulse.

Configuration is layered: built-in defaults, an optional stockpulse.yaml
file, then STOCKPULSE_* environment overrides (viper). The resolved Config
selects the storage and fabric backends, the cache-reuse mode and sleep
bounds, the control poll interval, and the duration-estimate tables used by
the progress tracker.

Environment examples:

	STOCKPULSE_STORAGE_BACKEND=redis
	STOCKPULSE_STORAGE_REDIS_URL=redis://cache:6379/2
	STOCKPULSE_CACHE_MODE=on
	STOCKPULSE_CACHE_SLEEP_MIN=1.5
*/
package config
