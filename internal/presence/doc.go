// Package presence publishes who is in a room and who is typing.
//
// The Broadcaster observes the room manager: every join and leave produces an
// occupancy event for the whole room, computed from live membership at that
// moment, plus joined or left for the other members.
//
// Typing indicators are fanned out to every other member of the sender's
// room. Nothing is persisted and there is no server-side timeout; clients are
// expected to send stopTyping after about two seconds without input. The flag
// is also cleared when the member sends a message or leaves the room.
package presence
