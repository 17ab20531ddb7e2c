/*
Package actor provides the small runtime shared by Drover's stateful
components: a name-addressed instance group, a single-slot timer, and a
clock abstraction for deterministic tests.

Drover models its components (tasks, backend servers, the balancer, the
registry, the daily stats aggregators) as actors: each instance owns its
state behind one mutex, operations on the same instance serialize, and
operations on different instances run in parallel. This package supplies
the plumbing those actors share; the actors themselves live in their
domain packages.

# Group

Group is a generic name-to-instance map with create-on-first-use
semantics. Addressing an actor by name is enough to bring it into
existence:

	tasks := actor.NewGroup(func(id string) *task.Instance {
		return task.NewInstance(id, deps...)
	})

	inst := tasks.Get("task-123") // created on first use
	inst = tasks.Get("task-123")  // same instance

Singleton actors are addressed under a fixed well-known name.

# Timer

Timer holds at most one pending callback per actor. Arming a new deadline
replaces the pending one, so an actor never has two competing scheduled
callbacks:

	t := actor.NewTimer(clock)
	t.Reset(30*time.Second, s.onTimeout) // supersedes any prior schedule
	t.Stop()                             // cancels outright

Callbacks run without the timer lock held and are expected to take their
actor's own lock, exactly like an external caller would.

# Clock

Clock abstracts time.Now and time.AfterFunc. Production code uses
SystemClock; tests use FakeClock and drive it explicitly:

	clock := actor.NewFakeClock(time.Now())
	timer := actor.NewTimer(clock)
	timer.Reset(time.Minute, fired)

	clock.Advance(time.Minute) // fires synchronously

FakeClock.Advance fires due callbacks in deadline order and lets a
callback schedule follow-up timers within the same window, which is how
periodic actor loops (health checks, stats flushes, cleanup sweeps) are
tested without sleeping.
*/
package actor
