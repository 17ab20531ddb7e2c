/*
Package stats aggregates task statistics per calendar day.

One Aggregator instance exists per UTC date, addressed by the ISO date
string. Task actors report two events: a start when a task is admitted
and a completion when it reaches a terminal status. The aggregator folds
them into daily counters, per-server rollups, and 24 hour-of-day buckets,
and keeps the raw events in a bounded in-memory buffer.

A timer flushes every few seconds, and large buffers flush eagerly. Each
flush writes the counters, the per-server map, the hourly map, and the
drained events under one batched storage transaction. Counters are
re-persisted on every flush, so after a crash the recovered counters are
exact up to the last flush regardless of what the buffer held.

Recorder is the facade the task layer uses: it picks today's aggregator
from the clock so date rollover needs no coordination, and exposes For
for the stats API's historical reads.
*/
package stats
