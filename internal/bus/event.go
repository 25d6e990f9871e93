package bus

import "time"

// Event represents a domain event published on the bus.
//
// Kind is a dot-separated name; subscribers filter on a prefix.
// Namespaces used in this app:
//
//	conn.    connection state transitions
//	rt.      inbound realtime protocol events (messages, typing, receipts)
//	message. outbound send lifecycle (queued, sent, failed)
//	session. daemon-level events
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
