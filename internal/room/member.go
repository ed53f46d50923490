// ABOUTME: Interfaces the room manager consumes: members, membership observers and relays
// ABOUTME: Keeps the manager independent of the transport and of presence event formats

package room

import (
	"context"
	"encoding/json"
	"time"

	"github.com/2389/discuss-gateway/internal/protocol"
)

// Member is a live connection that can belong to one room.
type Member interface {
	// ID is unique per connection for the life of the process.
	ID() string

	// DisplayName is announced in joined/left/typing events.
	DisplayName() string

	// Deliver queues an event for the member without blocking. It returns
	// false if the event could not be queued.
	Deliver(ev protocol.Event) bool

	// Done is closed when the connection has gone away.
	Done() <-chan struct{}
}

// View is a room as seen from an observer callback. It is only valid for the
// duration of the callback, which runs with the manager's lock held.
type View interface {
	TopicID() string

	// Count is the live membership size at this instant.
	Count() int

	// Broadcast delivers ev to every member except the one whose ID is except.
	Broadcast(ev protocol.Event, except string)

	// Send delivers ev to a single member of the room.
	Send(m Member, ev protocol.Event)
}

// Observer is told about membership changes while the change is being applied.
type Observer interface {
	// MemberJoined is called after m has been added to v. rejoin is true when
	// m asked to join the room it was already in.
	MemberJoined(v View, m Member, rejoin bool)

	// MemberLeft is called after m has been removed from v.
	MemberLeft(v View, m Member)
}

// History is the result of loading a topic's recent messages for a joiner.
type History struct {
	Event      protocol.Event
	MessageIDs []string
}

// HistoryLoader produces the history event for a topic.
type HistoryLoader func(ctx context.Context, topicID string) (History, error)

// Relay receives every room broadcast so another process could fan it out.
type Relay interface {
	Forward(topicID string, ev protocol.Event)
}

// NopRelay discards everything.
type NopRelay struct{}

// Forward does nothing.
func (NopRelay) Forward(string, protocol.Event) {}

// Info is a point-in-time snapshot of one room.
type Info struct {
	TopicID   string          `json:"topicId"`
	Occupancy int             `json:"occupancy"`
	Metadata  json.RawMessage `json:"topicMetadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
