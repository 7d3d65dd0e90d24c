/*
Package api serves the HTTP control plane.

Submission (POST /analysis/start, /analysis/start/batch), task control
(POST /analysis/{id}/pause|resume|stop, idempotent at the HTTP layer),
task queries (GET /analysis, /analysis/{id}/status|result|planned_steps|
current_step|history), live progress over /ws when the socket fabric is
active, and the /health and /metrics operational endpoints.
*/
package api
