// Package task owns the task lifecycle. One instance per task id is the
// sole authority for that task's record: it admits the task, asks the
// load balancer for a server, dispatches through the backend layer, and
// applies updates, retries, cancellation, the processing timeout, and
// the post-terminal cleanup. A task is mutable only until it reaches a
// terminal status; terminal tasks are retained for a grace window and
// then purged from storage.
package task
