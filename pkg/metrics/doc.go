/*
Package metrics provides Prometheus metrics and health checking for
StockPulse.

Exposed metric families cover task lifecycle (started / completed / failed /
stopped counters and a by-status gauge sampled by the Collector), pipeline
step durations, cache-reuse hit rates, fabric publish outcomes, and API
request latency. The Handler function serves the standard Prometheus
exposition endpoint; HealthHandler serves a JSON component-health document
fed by the store, fabric, and manager.

The Collector samples task-status gauges from the manager on a fixed
interval rather than hooking every transition; transition counters are
incremented inline by the manager.
*/
package metrics
