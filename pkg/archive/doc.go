/*
Package archive mirrors task transitions into Postgres.

The bbolt task namespace is purged a few minutes after a task reaches a
terminal status, so the gateway itself retains nothing long-term. When
DATABASE_URL is set, the archive upserts one row per task into a tasks
table on every interesting transition, giving external tooling a durable
record to query. The gateway never reads the table.

A nil *Archive is a valid no-op instance; the gateway passes nil when
DATABASE_URL is unset and call sites stay unconditional. Archive write
failures are logged and swallowed — a down Postgres must not affect task
processing.
*/
package archive
