// Package room tracks live discussion rooms within one process.
//
// A room exists while at least one member has joined its topic. Each member
// is in at most one room; Join moves it atomically, so no observer ever sees
// the member in two rooms. Occupancy is always len(members) at the instant it
// is read.
//
// # History-first delivery
//
// While a joiner's history loads, room events addressed to it are held. Once
// the history frame is delivered the held events are flushed, minus any
// newMessage already contained in the history.
//
// # Teardown
//
// Connections close their Done channel before calling Leave. Join refuses
// members whose Done channel is closed, and a Join whose member left while
// its history was loading is discarded, so a disconnect racing a room switch
// produces exactly one departure.
//
// # Extension point
//
// Every room broadcast is also handed to a Relay. The default NopRelay keeps
// fan-out process-local; a pub/sub relay keyed by topic id would let several
// gateway processes share rooms.
package room
