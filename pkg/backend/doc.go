/*
Package backend manages the per-server actors that front backend workers.

Each registered server gets one Instance that owns its runtime state:
status, health score, active dispatch set, and cumulative metrics.
Instances are addressed by server id through the Fleet group; the
registry creates them at registration, the task layer invokes them for
dispatch.

# Dispatch

ExecuteTask POSTs {task_id, request, callback_url} to the server's
predict endpoint, with the server's API key as a bearer token when
configured. A synchronous backend answers with the task result in the
response body, which the instance hands to the task layer; an
asynchronous backend acknowledges with 202 and later PUTs the result to
the callback URL. The instance enforces its configured max concurrency
and rejects dispatches while not online.

# Adaptive health loop

A single timer drives health checks against the server's health
endpoint. Successes stretch the interval by 1.2x up to the configured
maximum, add to the health score, and heartbeat the registry; failures
shrink the interval by 1.5x down to the minimum and subtract from the
score. One failure degrades the server, three take it offline, three
successes bring a degraded server back. A check only passes when the
endpoint returns 2xx and identifies itself with the registered server
id. An instance idle past the configured bound with no active dispatches
shuts itself down.

# Cross-actor notifications

State changes are pushed to the load balancer (metrics snapshots, mark
unhealthy) and the registry (heartbeats) as fire-and-forget goroutines.
Both of those components call into instances themselves, so awaiting
them from instance code could deadlock the actor graph.
*/
package backend
