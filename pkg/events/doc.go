/*
Package events provides the in-memory event broker for Drover's gateway
events.

The broker is observability-only: actors publish task and server lifecycle
events (task.created, task.completed, server.registered, server.offline,
and so on) and subscribers consume them for the websocket event stream and
logging. No core logic reads events back; losing one never affects task
state.

# Delivery

Publish is non-blocking. Events flow through a buffered channel (100
entries) into a broadcast loop that fans out to per-subscriber buffered
channels (50 entries each). A subscriber that falls behind has events
dropped rather than stalling the broker or other subscribers:

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	for ev := range sub {
		// consume *events.Event
	}

Unsubscribe closes the subscriber channel, so a range loop over it
terminates cleanly.
*/
package events
