/*
Package metrics provides Prometheus metrics and the gateway health endpoint.

All collectors are package-level variables with the drover_ prefix,
registered in init and exposed through Handler (promhttp) on GET /metrics.
Actors record into them directly:

	metrics.TasksCompleted.WithLabelValues(string(status)).Inc()
	metrics.SelectionsTotal.WithLabelValues(string(algo), "selected").Inc()

The health side tracks named components (store, api, registry, balancer).
Components register at startup and update on state changes; HealthHandler
serves the aggregate as JSON on GET /health, returning 503 when any
component is unhealthy.

Timer is a small helper for recording request durations into histograms.

Payload contents are never recorded; labels carry only statuses, methods,
and algorithm names.
*/
package metrics
