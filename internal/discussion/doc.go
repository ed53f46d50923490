// Package discussion implements the discussion operations shared by the
// WebSocket and REST surfaces.
//
// A Service owns no state of its own beyond a per-topic lock. It persists
// through store.Store, fans events out through room.Manager and announces
// typing through presence.Broadcaster.
//
// # Ordering
//
// Post holds the topic's lock from Append through the newMessage broadcast,
// so the order members observe equals the order the store assigned.
//
// # Failures
//
// Store calls that fail with anything other than a domain error are retried
// once. A second failure is ErrTransient. Kind maps any returned error to the
// kind string clients see; Dispatch sends it as a scopedError to the
// connection that triggered it and to nobody else.
package discussion
