// ABOUTME: Presence and typing broadcaster driven by room membership changes
// ABOUTME: Publishes occupancy, joined, left and typing events computed from live membership

package presence

import (
	"errors"
	"log/slog"

	"github.com/2389/discuss-gateway/internal/protocol"
	"github.com/2389/discuss-gateway/internal/room"
)

// ErrNotInRoom is returned when a member signals typing without having joined a room.
var ErrNotInRoom = errors.New("not in a room")

// Rooms is the part of the room manager the broadcaster drives.
type Rooms interface {
	WithRoomOf(memberID string, fn func(v room.View)) bool
}

// Broadcaster implements room.Observer and fans out typing indicators.
type Broadcaster struct {
	rooms  Rooms
	logger *slog.Logger

	// typing maps member ID to the topic it is typing in. It is only touched
	// from room callbacks, which hold the room manager's lock.
	typing map[string]string
}

var _ room.Observer = (*Broadcaster)(nil)

// New creates a Broadcaster. Register it with the room manager via SetObserver.
func New(rooms Rooms, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		rooms:  rooms,
		logger: logger.With("component", "presence"),
		typing: make(map[string]string),
	}
}

// MemberJoined sends occupancy to the whole room and announces the joiner to
// everyone else. A rejoin only refreshes the joiner's own occupancy.
func (b *Broadcaster) MemberJoined(v room.View, m room.Member, rejoin bool) {
	occ := occupancy(v)
	if rejoin {
		v.Send(m, occ)
		return
	}
	v.Broadcast(occ, "")
	v.Broadcast(presenceEvent(protocol.TypeJoined, m), m.ID())
	b.logger.Debug("member joined", "topic_id", v.TopicID(), "member_id", m.ID(), "occupancy", v.Count())
}

// MemberLeft clears the member's typing flag and tells the remaining members.
func (b *Broadcaster) MemberLeft(v room.View, m room.Member) {
	b.clearTyping(v, m)
	v.Broadcast(presenceEvent(protocol.TypeLeft, m), m.ID())
	v.Broadcast(occupancy(v), "")
	b.logger.Debug("member left", "topic_id", v.TopicID(), "member_id", m.ID(), "occupancy", v.Count())
}

// StartTyping announces that m is typing to the other members of its room.
// Repeated starts without a stop are not re-announced.
func (b *Broadcaster) StartTyping(m room.Member) error {
	ok := b.rooms.WithRoomOf(m.ID(), func(v room.View) {
		if b.typing[m.ID()] == v.TopicID() {
			return
		}
		b.typing[m.ID()] = v.TopicID()
		v.Broadcast(presenceEvent(protocol.TypeTypingStarted, m), m.ID())
	})
	if !ok {
		return ErrNotInRoom
	}
	return nil
}

// StopTyping clears m's typing flag. It is a no-op when m is not typing.
func (b *Broadcaster) StopTyping(m room.Member) {
	b.rooms.WithRoomOf(m.ID(), func(v room.View) {
		b.clearTyping(v, m)
	})
}

// MessageSent clears the typing flag of a member that just published.
func (b *Broadcaster) MessageSent(m room.Member) {
	b.StopTyping(m)
}

func (b *Broadcaster) clearTyping(v room.View, m room.Member) {
	topic, ok := b.typing[m.ID()]
	if !ok {
		return
	}
	delete(b.typing, m.ID())
	if topic == v.TopicID() {
		v.Broadcast(presenceEvent(protocol.TypeTypingStopped, m), m.ID())
	}
}

func occupancy(v room.View) protocol.Event {
	return protocol.Event{
		Type:    protocol.TypeOccupancy,
		Payload: protocol.OccupancyPayload{TopicID: v.TopicID(), Count: v.Count()},
	}
}

func presenceEvent(eventType string, m room.Member) protocol.Event {
	return protocol.Event{
		Type:    eventType,
		Payload: protocol.PresencePayload{DisplayName: m.DisplayName()},
	}
}
