// Package protocol defines the discussion wire format shared by the WebSocket
// and REST surfaces: the Frame envelope, event type names, payload structs,
// validation rules and the error kinds reported to clients.
package protocol
