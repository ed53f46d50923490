// ABOUTME: Process-local room membership keyed by topic id
// ABOUTME: Enforces one room per member, replays history to joiners and fans events out to rooms

package room

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/discuss-gateway/internal/protocol"
)

// ErrMemberGone is returned when a disconnected member tries to join a room.
var ErrMemberGone = errors.New("member is disconnected")

// maxHeldEvents bounds what is buffered for a member while its history loads.
// Past the cap, events go straight to the member.
const maxHeldEvents = 256

type liveRoom struct {
	topicID   string
	metadata  json.RawMessage
	createdAt time.Time
	members   map[string]*membership
}

type membership struct {
	member  Member
	room    *liveRoom
	epoch   uint64
	syncing bool
	held    []protocol.Event
}

// Options configures a Manager.
type Options struct {
	Observer Observer
	Relay    Relay
	Logger   *slog.Logger
}

// Manager tracks which members are in which room. All state is guarded by one
// mutex; observers and relays run with it held and must not block.
type Manager struct {
	mu       sync.Mutex
	rooms    map[string]*liveRoom   // topicID -> room
	members  map[string]*membership // member ID -> membership
	epoch    uint64
	observer Observer
	relay    Relay
	logger   *slog.Logger
}

// NewManager creates a room manager.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	relay := opts.Relay
	if relay == nil {
		relay = NopRelay{}
	}
	return &Manager{
		rooms:    make(map[string]*liveRoom),
		members:  make(map[string]*membership),
		observer: observer,
		relay:    relay,
		logger:   logger.With("component", "rooms"),
	}
}

// SetObserver replaces the membership observer. Call before serving traffic.
func (m *Manager) SetObserver(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

// Join moves mem into topicID's room, leaving its previous room in the same
// step. The joiner receives the loaded history before any room event that
// arrived while it was loading; newMessage events already in the history are
// not repeated. If a later Join or Leave for the same member lands while the
// history loads, this call's result is discarded.
func (m *Manager) Join(ctx context.Context, mem Member, topicID string, metadata json.RawMessage, load HistoryLoader) error {
	m.mu.Lock()

	select {
	case <-mem.Done():
		m.mu.Unlock()
		return ErrMemberGone
	default:
	}

	m.epoch++
	epoch := m.epoch

	ms, ok := m.members[mem.ID()]
	if ok && ms.room.topicID == topicID {
		ms.epoch = epoch
		ms.syncing = true
		m.observer.MemberJoined(roomView{m, ms.room}, mem, true)
	} else {
		if ok {
			m.removeLocked(ms)
		}
		r, exists := m.rooms[topicID]
		if !exists {
			r = &liveRoom{
				topicID:   topicID,
				metadata:  metadata,
				createdAt: time.Now().UTC(),
				members:   make(map[string]*membership),
			}
			m.rooms[topicID] = r
			m.logger.Debug("room created", "topic_id", topicID)
		}
		ms = &membership{member: mem, room: r, epoch: epoch, syncing: true}
		r.members[mem.ID()] = ms
		m.members[mem.ID()] = ms
		m.observer.MemberJoined(roomView{m, r}, mem, false)
	}
	m.mu.Unlock()

	hist, err := load(ctx, topicID)

	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.members[mem.ID()]
	if !ok || cur != ms || cur.epoch != epoch {
		m.logger.Debug("join superseded while loading history", "topic_id", topicID, "member_id", mem.ID())
		return nil
	}

	if err == nil {
		mem.Deliver(hist.Event)
	}
	m.flushLocked(cur, hist.MessageIDs)
	return err
}

// Leave removes mem from its room. It reports whether mem was in a room.
func (m *Manager) Leave(mem Member) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.members[mem.ID()]
	if !ok {
		return false
	}
	m.removeLocked(ms)
	return true
}

// Broadcast delivers ev to every member of topicID's room except the member
// whose ID is except, and hands it to the relay.
func (m *Manager) Broadcast(topicID, except string, ev protocol.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[topicID]
	if !ok {
		m.relay.Forward(topicID, ev)
		return
	}
	m.broadcastLocked(r, ev, except)
}

// WithRoomOf runs fn against the member's current room under the manager's
// lock. It returns false without calling fn if the member is in no room.
func (m *Manager) WithRoomOf(memberID string, fn func(v View)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.members[memberID]
	if !ok {
		return false
	}
	fn(roomView{m, ms.room})
	return true
}

// CurrentRoom returns the topic the member is in.
func (m *Manager) CurrentRoom(memberID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ms, ok := m.members[memberID]
	if !ok {
		return "", false
	}
	return ms.room.topicID, true
}

// OccupancyOf returns the live membership size of a topic's room.
func (m *Manager) OccupancyOf(topicID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.rooms[topicID]; ok {
		return len(r.members)
	}
	return 0
}

// RoomCount returns the number of live rooms.
func (m *Manager) RoomCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// Rooms returns a snapshot of every live room, ordered by topic id.
func (m *Manager) Rooms() []Info {
	m.mu.Lock()
	infos := lo.MapToSlice(m.rooms, func(topicID string, r *liveRoom) Info {
		return Info{
			TopicID:   topicID,
			Occupancy: len(r.members),
			Metadata:  r.metadata,
			CreatedAt: r.createdAt,
		}
	})
	m.mu.Unlock()

	slices.SortFunc(infos, func(a, b Info) int { return cmp.Compare(a.TopicID, b.TopicID) })
	return infos
}

// removeLocked drops a membership, notifies the observer and removes the room once empty.
func (m *Manager) removeLocked(ms *membership) {
	r := ms.room
	id := ms.member.ID()
	delete(r.members, id)
	delete(m.members, id)
	ms.held = nil
	ms.syncing = false

	m.observer.MemberLeft(roomView{m, r}, ms.member)

	if len(r.members) == 0 {
		delete(m.rooms, r.topicID)
		m.logger.Debug("room removed", "topic_id", r.topicID)
	}
}

func (m *Manager) broadcastLocked(r *liveRoom, ev protocol.Event, except string) {
	for id, ms := range r.members {
		if id == except {
			continue
		}
		m.deliverLocked(ms, ev)
	}
	m.relay.Forward(r.topicID, ev)
}

func (m *Manager) deliverLocked(ms *membership, ev protocol.Event) {
	if ms.syncing && len(ms.held) < maxHeldEvents {
		ms.held = append(ms.held, ev)
		return
	}
	if !ms.member.Deliver(ev) {
		m.logger.Debug("event not delivered", "member_id", ms.member.ID(), "type", ev.Type)
	}
}

// flushLocked releases events held during history load, skipping messages the history already contained.
func (m *Manager) flushLocked(ms *membership, historyIDs []string) {
	inHistory := lo.Keyify(historyIDs)
	for _, ev := range ms.held {
		if ev.Type == protocol.TypeNewMessage && ev.MessageID != "" {
			if _, dup := inHistory[ev.MessageID]; dup {
				continue
			}
		}
		ms.member.Deliver(ev)
	}
	ms.held = nil
	ms.syncing = false
}

type roomView struct {
	m *Manager
	r *liveRoom
}

func (v roomView) TopicID() string { return v.r.topicID }

func (v roomView) Count() int { return len(v.r.members) }

func (v roomView) Broadcast(ev protocol.Event, except string) {
	v.m.broadcastLocked(v.r, ev, except)
}

func (v roomView) Send(mem Member, ev protocol.Event) {
	if ms, ok := v.r.members[mem.ID()]; ok {
		v.m.deliverLocked(ms, ev)
		return
	}
	mem.Deliver(ev)
}

type nopObserver struct{}

func (nopObserver) MemberJoined(View, Member, bool) {}
func (nopObserver) MemberLeft(View, Member)         {}
