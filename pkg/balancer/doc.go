/*
Package balancer selects backend servers for task dispatch.

The balancer is a singleton actor holding a cached view of the fleet:
per-server metrics snapshots pushed by the server instances, derived
selection weights, in-flight load counters, and the healthy set. Every
selection first refreshes the healthy set from the registry's online
list, filters candidates by capacity and required capabilities, and then
applies the configured algorithm:

  - round-robin: one slot per candidate, shared advancing cursor
  - weighted-round-robin: max(1, weight) slots per candidate, weight 0
    excludes the server
  - least-connections: smallest in-flight load wins
  - response-time: lowest average response time wins; unmeasured servers
    rank last
  - random: uniform pick

SelectServer never returns an error: an empty result means no candidate
qualifies and the caller decides what that means for the task.

Selection increments the chosen server's load counter immediately; the
counter is released when the server instance pushes metrics flagged
TaskCompleted. Durable state (algorithm, weights, healthy set) persists
in the background so selection never blocks on storage.

Calls into the balancer from the registry and the server instances are
fire-and-forget notifications; the balancer pulls from the registry only
through the narrow FleetSource interface and never calls back into its
own callers.
*/
package balancer
