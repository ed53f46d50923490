// ABOUTME: Tests for discussion operations over a mock store and a real room manager
// ABOUTME: Covers room scenarios, guest restrictions, retries and scoped error delivery

package discussion

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/discuss-gateway/internal/auth"
	"github.com/2389/discuss-gateway/internal/dedupe"
	"github.com/2389/discuss-gateway/internal/directory"
	"github.com/2389/discuss-gateway/internal/metrics"
	"github.com/2389/discuss-gateway/internal/presence"
	"github.com/2389/discuss-gateway/internal/protocol"
	"github.com/2389/discuss-gateway/internal/room"
	"github.com/2389/discuss-gateway/internal/store"
)

type testConn struct {
	id       string
	identity auth.Identity
	done     chan struct{}

	mu     sync.Mutex
	events []protocol.Event
}

func newConn(id string, identity auth.Identity) *testConn {
	return &testConn{id: id, identity: identity, done: make(chan struct{})}
}

func user(id, name string) auth.Identity {
	return auth.Identity{UserID: id, DisplayName: name}
}

func (c *testConn) ID() string              { return c.id }
func (c *testConn) DisplayName() string     { return c.identity.Name() }
func (c *testConn) Identity() auth.Identity { return c.identity }
func (c *testConn) Done() <-chan struct{}   { return c.done }

func (c *testConn) Deliver(ev protocol.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return true
}

func (c *testConn) ofType(eventType string) []protocol.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []protocol.Event
	for _, ev := range c.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (c *testConn) last(t *testing.T, eventType string) protocol.Event {
	t.Helper()
	evs := c.ofType(eventType)
	require.NotEmpty(t, evs, "no %s event delivered to %s", eventType, c.id)
	return evs[len(evs)-1]
}

func (c *testConn) reset() {
	c.mu.Lock()
	c.events = nil
	c.mu.Unlock()
}

type fixture struct {
	svc   *Service
	store *store.MockStore
	rooms *room.Manager
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	ms := store.NewMockStore()
	rooms := room.NewManager(room.Options{})
	pres := presence.New(rooms, nil)
	rooms.SetObserver(pres)
	svc := New(cfg, Deps{
		Store:     ms,
		Rooms:     rooms,
		Presence:  pres,
		Directory: directory.New(ms, 0, nil),
	})
	return &fixture{svc: svc, store: ms, rooms: rooms}
}

func frame(t *testing.T, eventType, requestID string, payload any) protocol.Frame {
	t.Helper()
	f := protocol.Frame{Type: eventType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		f.Payload = raw
	}
	return f
}

func (fx *fixture) join(t *testing.T, c *testConn, topicID string) {
	t.Helper()
	fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypeJoin, "", map[string]string{"topicId": topicID}))
	require.Empty(t, c.ofType(protocol.TypeScopedError))
}

func scoped(t *testing.T, ev protocol.Event) protocol.ScopedErrorPayload {
	t.Helper()
	p, ok := ev.Payload.(protocol.ScopedErrorPayload)
	require.True(t, ok, "payload is %T", ev.Payload)
	return p
}

func occupancyCount(t *testing.T, c *testConn) int {
	t.Helper()
	p, ok := c.last(t, protocol.TypeOccupancy).Payload.(protocol.OccupancyPayload)
	require.True(t, ok)
	return p.Count
}

func TestTopicRoomScenario(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	a := newConn("conn-a", user("user-a", "Alice"))
	b := newConn("conn-b", user("user-b", "Bob"))
	c := newConn("conn-c", user("user-c", "Carol"))
	for _, conn := range []*testConn{a, b, c} {
		fx.join(t, conn, "2025-AB")
	}
	assert.Equal(t, 3, occupancyCount(t, a))
	assert.Equal(t, 3, fx.rooms.OccupancyOf("2025-AB"))

	fx.svc.Dispatch(ctx, a, frame(t, protocol.TypeSend, "r1", map[string]string{"body": "hello from A"}))
	require.Empty(t, a.ofType(protocol.TypeScopedError))

	var msgID string
	for _, conn := range []*testConn{a, b, c} {
		ev := conn.last(t, protocol.TypeNewMessage)
		p := ev.Payload.(protocol.NewMessagePayload)
		assert.Equal(t, "hello from A", p.Message.Body)
		assert.Equal(t, "Alice", p.Message.AuthorName)
		msgID = p.Message.ID
	}

	// B reacts, everyone sees the full list
	fx.svc.Dispatch(ctx, b, frame(t, protocol.TypeAddReaction, "", map[string]string{"messageId": msgID, "emoji": "👍"}))
	for _, conn := range []*testConn{a, b, c} {
		p := conn.last(t, protocol.TypeReactionUpdated).Payload.(protocol.ReactionUpdatedPayload)
		require.Len(t, p.Reactions, 1)
		assert.Equal(t, "user-b", p.Reactions[0].UserID)
	}

	// C switches topics: A and B see left and the new occupancy
	fx.join(t, c, "2025-CD")
	for _, conn := range []*testConn{a, b} {
		left := conn.last(t, protocol.TypeLeft).Payload.(protocol.PresencePayload)
		assert.Equal(t, "Carol", left.DisplayName)
		assert.Equal(t, 2, occupancyCount(t, conn))
	}
	assert.Equal(t, 1, fx.rooms.OccupancyOf("2025-CD"))

	// A new joiner gets the message in history
	d := newConn("conn-d", user("user-d", "Dan"))
	fx.join(t, d, "2025-AB")
	hist := d.last(t, protocol.TypeHistory).Payload.(protocol.HistoryPayload)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, msgID, hist.Messages[0].ID)
	require.Len(t, hist.Messages[0].Reactions, 1)
	assert.Equal(t, "👍", hist.Messages[0].Reactions[0].Emoji)
}

func TestGuestObservesButCannotPublish(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	a := newConn("conn-a", user("user-a", "Alice"))
	fx.join(t, a, "2025-AB")
	_, err := fx.svc.Post(ctx, a.Identity(), "2025-AB", "first", "")
	require.NoError(t, err)

	guest := newConn("conn-guest", auth.Anonymous())
	fx.join(t, guest, "2025-AB")

	hist := guest.last(t, protocol.TypeHistory).Payload.(protocol.HistoryPayload)
	require.Len(t, hist.Messages, 1)
	assert.Equal(t, 2, occupancyCount(t, a))
	joined := a.last(t, protocol.TypeJoined).Payload.(protocol.PresencePayload)
	assert.Equal(t, auth.GuestName, joined.DisplayName)

	a.reset()
	for _, f := range []protocol.Frame{
		frame(t, protocol.TypeSend, "s", map[string]string{"body": "hi"}),
		frame(t, protocol.TypeAddReaction, "r", map[string]string{"messageId": hist.Messages[0].ID, "emoji": "🎉"}),
		frame(t, protocol.TypeDelete, "d", map[string]string{"messageId": hist.Messages[0].ID}),
		frame(t, protocol.TypeStartTyping, "t", nil),
	} {
		guest.reset()
		fx.svc.Dispatch(ctx, guest, f)
		errs := guest.ofType(protocol.TypeScopedError)
		require.Len(t, errs, 1, f.Type)
		assert.Equal(t, protocol.KindAuthRequired, scoped(t, errs[0]).Kind, f.Type)
		assert.Equal(t, f.RequestID, errs[0].RequestID)
	}

	assert.Empty(t, a.events, "guest failures are never broadcast")
	count, err := fx.store.CountMessages(ctx, "2025-AB")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDispatch_ScopedErrors(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	owner := newConn("conn-owner", user("owner", "Owner"))
	other := newConn("conn-other", user("other", "Other"))
	fx.join(t, owner, "topic")
	fx.join(t, other, "topic")

	msg, err := fx.svc.Post(ctx, owner.Identity(), "topic", "mine", "")
	require.NoError(t, err)

	tests := []struct {
		name string
		conn *testConn
		f    protocol.Frame
		kind string
	}{
		{name: "unknown type", conn: owner, f: frame(t, "shout", "", nil), kind: protocol.KindValidation},
		{name: "join without topic", conn: owner, f: frame(t, protocol.TypeJoin, "", map[string]string{}), kind: protocol.KindValidation},
		{name: "malformed payload", conn: owner, f: protocol.Frame{Type: protocol.TypeSend, Payload: json.RawMessage(`[1,2]`)}, kind: protocol.KindValidation},
		{name: "blank body", conn: owner, f: frame(t, protocol.TypeSend, "", map[string]string{"body": "   "}), kind: protocol.KindValidation},
		{name: "wrong topic", conn: owner, f: frame(t, protocol.TypeSend, "", map[string]string{"topicId": "elsewhere", "body": "x"}), kind: protocol.KindValidation},
		{name: "reply to unknown", conn: owner, f: frame(t, protocol.TypeSend, "", map[string]string{"body": "x", "replyTo": "nope"}), kind: protocol.KindNotFound},
		{name: "two emoji", conn: other, f: frame(t, protocol.TypeAddReaction, "", map[string]string{"messageId": msg.ID, "emoji": "👍👍"}), kind: protocol.KindValidation},
		{name: "react unknown", conn: other, f: frame(t, protocol.TypeAddReaction, "", map[string]string{"messageId": "nope", "emoji": "👍"}), kind: protocol.KindNotFound},
		{name: "delete not owner", conn: other, f: frame(t, protocol.TypeDelete, "", map[string]string{"messageId": msg.ID}), kind: protocol.KindPermissionDenied},
		{name: "delete unknown", conn: owner, f: frame(t, protocol.TypeDelete, "", map[string]string{"messageId": "nope"}), kind: protocol.KindNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner.reset()
			other.reset()

			fx.svc.Dispatch(ctx, tt.conn, tt.f)

			errs := tt.conn.ofType(protocol.TypeScopedError)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.kind, scoped(t, errs[0]).Kind)

			bystander := other
			if tt.conn == other {
				bystander = owner
			}
			assert.Empty(t, bystander.events)
		})
	}

	msgs, count, err := fx.svc.History(ctx, "topic", 0, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed sends store nothing")
	require.Len(t, msgs, 1)
	assert.Equal(t, msg.ID, msgs[0].ID, "a refused delete leaves the message in history")
}

func TestSendRequiresJoinedRoom(t *testing.T) {
	fx := newFixture(t, Config{})
	c := newConn("conn-a", user("user-a", "Alice"))

	fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypeSend, "", map[string]string{"topicId": "t", "body": "hi"}))

	errs := c.ofType(protocol.TypeScopedError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.KindValidation, scoped(t, errs[0]).Kind)
	assert.Zero(t, fx.store.Calls("Append"))
}

func TestSend_RepeatedRequestIDPostsOnce(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.svc.sends = dedupe.New(time.Minute, 100)

	alice := newConn("conn-a", user("user-a", "Alice"))
	bob := newConn("conn-b", user("user-b", "Bob"))
	fx.join(t, alice, "2025-AB")
	fx.join(t, bob, "2025-AB")

	send := func(c *testConn, requestID, body string) {
		fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypeSend, requestID, map[string]string{"body": body}))
	}

	send(alice, "r1", "hello")
	send(alice, "r1", "hello")
	assert.Equal(t, 1, fx.store.Calls("Append"))
	assert.Len(t, bob.ofType(protocol.TypeNewMessage), 1)
	assert.Empty(t, alice.ofType(protocol.TypeScopedError))

	// Another user may reuse the request id, and so may sends without one
	send(bob, "r1", "hi")
	send(alice, "", "again")
	send(alice, "", "again")
	assert.Equal(t, 4, fx.store.Calls("Append"))
}

func TestSend_ConcurrentResendsFromTwoConnectionsPostOnce(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.svc.sends = dedupe.New(time.Minute, 100)

	laptop := newConn("conn-laptop", user("user-a", "Alice"))
	phone := newConn("conn-phone", user("user-a", "Alice"))
	fx.join(t, laptop, "2025-AB")
	fx.join(t, phone, "2025-AB")

	var wg sync.WaitGroup
	for i := range 20 {
		c := laptop
		if i%2 == 1 {
			c = phone
		}
		wg.Go(func() {
			fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypeSend, "r1", map[string]string{"body": "hello"}))
		})
	}
	wg.Wait()

	assert.Equal(t, 1, fx.store.Calls("Append"))
	assert.Len(t, laptop.ofType(protocol.TypeNewMessage), 1)
	assert.Empty(t, laptop.ofType(protocol.TypeScopedError))
	assert.Empty(t, phone.ofType(protocol.TypeScopedError))
}

func TestSend_FailedPostCanBeRetried(t *testing.T) {
	fx := newFixture(t, Config{})
	fx.svc.sends = dedupe.New(time.Minute, 100)

	alice := newConn("conn-a", user("user-a", "Alice"))
	fx.join(t, alice, "2025-AB")

	fx.store.FailNext("Append", store.ErrInjected)
	fx.store.FailNext("Append", store.ErrInjected)
	fx.svc.Dispatch(t.Context(), alice, frame(t, protocol.TypeSend, "r1", map[string]string{"body": "hello"}))
	require.Len(t, alice.ofType(protocol.TypeScopedError), 1)

	fx.svc.Dispatch(t.Context(), alice, frame(t, protocol.TypeSend, "r1", map[string]string{"body": "hello"}))
	assert.Len(t, alice.ofType(protocol.TypeNewMessage), 1)
}

func TestReact_ReplacesPreviousReaction(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()
	alice := user("user-a", "Alice")

	msg, err := fx.svc.Post(ctx, alice, "topic", "hello", "")
	require.NoError(t, err)

	_, err = fx.svc.React(ctx, alice, msg.ID, "👍")
	require.NoError(t, err)
	reactions, err := fx.svc.React(ctx, alice, msg.ID, "🎉")
	require.NoError(t, err)

	require.Len(t, reactions, 1)
	assert.Equal(t, "🎉", reactions[0].Emoji)
}

func TestReact_DeletedMessageIsNotFound(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()
	alice := user("user-a", "Alice")

	msg, err := fx.svc.Post(ctx, alice, "topic", "hello", "")
	require.NoError(t, err)
	require.NoError(t, fx.svc.Delete(ctx, alice, msg.ID))

	_, err = fx.svc.React(ctx, alice, msg.ID, "👍")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, fx.store.Calls("SetReaction"))
}

func TestDelete_BroadcastsAndHidesFromHistory(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	a := newConn("conn-a", user("user-a", "Alice"))
	b := newConn("conn-b", user("user-b", "Bob"))
	fx.join(t, a, "topic")
	fx.join(t, b, "topic")

	msg, err := fx.svc.Post(ctx, a.Identity(), "topic", "oops", "")
	require.NoError(t, err)

	fx.svc.Dispatch(ctx, a, frame(t, protocol.TypeDelete, "", map[string]string{"messageId": msg.ID}))
	p := b.last(t, protocol.TypeMessageDeleted).Payload.(protocol.MessageDeletedPayload)
	assert.Equal(t, msg.ID, p.MessageID)

	// Deleting again is fine for the owner
	require.NoError(t, fx.svc.Delete(ctx, a.Identity(), msg.ID))

	msgs, count, err := fx.svc.History(ctx, "topic", 0, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Zero(t, count)
}

func TestRetry(t *testing.T) {
	t.Run("one failure is retried", func(t *testing.T) {
		fx := newFixture(t, Config{})
		fx.store.FailNext("Append", store.ErrInjected)

		msg, err := fx.svc.Post(t.Context(), user("u", "U"), "topic", "hello", "")
		require.NoError(t, err)
		assert.Equal(t, "hello", msg.Body)
		assert.Equal(t, 2, fx.store.Calls("Append"))
	})

	t.Run("two failures are transient", func(t *testing.T) {
		fx := newFixture(t, Config{})
		c := newConn("conn", user("u", "U"))
		fx.join(t, c, "topic")
		fx.store.FailNext("Append", store.ErrInjected)
		fx.store.FailNext("Append", store.ErrInjected)

		fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypeSend, "req-9", map[string]string{"body": "hello"}))

		errs := c.ofType(protocol.TypeScopedError)
		require.Len(t, errs, 1)
		p := scoped(t, errs[0])
		assert.Equal(t, protocol.KindTransient, p.Kind)
		assert.NotContains(t, p.Detail, store.ErrInjected.Error(), "backend errors stay server-side")
		assert.Equal(t, "req-9", errs[0].RequestID)
		assert.Empty(t, c.ofType(protocol.TypeNewMessage))
	})

	t.Run("domain errors are not retried", func(t *testing.T) {
		fx := newFixture(t, Config{})
		_, err := fx.svc.Post(t.Context(), user("u", "U"), "topic", "", "")
		assert.ErrorIs(t, err, store.ErrValidation)
		assert.Equal(t, 1, fx.store.Calls("Append"))
	})

	t.Run("history load failure still joins", func(t *testing.T) {
		fx := newFixture(t, Config{})
		c := newConn("conn", user("u", "U"))
		fx.store.FailNext("History", store.ErrInjected)
		fx.store.FailNext("History", store.ErrInjected)

		fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypeJoin, "", map[string]string{"topicId": "topic"}))

		errs := c.ofType(protocol.TypeScopedError)
		require.Len(t, errs, 1)
		assert.Equal(t, protocol.KindTransient, scoped(t, errs[0]).Kind)
		assert.Equal(t, 1, fx.rooms.OccupancyOf("topic"))
	})
}

func TestTyping(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	a := newConn("conn-a", user("user-a", "Alice"))
	b := newConn("conn-b", user("user-b", "Bob"))

	fx.svc.Dispatch(ctx, a, frame(t, protocol.TypeStartTyping, "", nil))
	errs := a.ofType(protocol.TypeScopedError)
	require.Len(t, errs, 1)
	assert.Equal(t, protocol.KindValidation, scoped(t, errs[0]).Kind)

	fx.join(t, a, "topic")
	fx.join(t, b, "topic")

	fx.svc.Dispatch(ctx, a, frame(t, protocol.TypeStartTyping, "", nil))
	started := b.last(t, protocol.TypeTypingStarted).Payload.(protocol.PresencePayload)
	assert.Equal(t, "Alice", started.DisplayName)
	assert.Empty(t, a.ofType(protocol.TypeTypingStarted), "typing is not echoed to the typist")

	fx.svc.Dispatch(ctx, a, frame(t, protocol.TypeSend, "", map[string]string{"body": "done typing"}))
	assert.Len(t, b.ofType(protocol.TypeTypingStopped), 1, "sending clears the typing flag")

	fx.svc.Dispatch(ctx, a, frame(t, protocol.TypeStopTyping, "", nil))
	assert.Len(t, b.ofType(protocol.TypeTypingStopped), 1, "stop without start is silent")
}

func TestPing(t *testing.T) {
	fx := newFixture(t, Config{})
	c := newConn("conn", auth.Anonymous())

	fx.svc.Dispatch(t.Context(), c, frame(t, protocol.TypePing, "p-1", nil))

	pong := c.last(t, protocol.TypePong)
	assert.Equal(t, "p-1", pong.RequestID)
}

func TestLeaveAndDisconnect(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	a := newConn("conn-a", user("user-a", "Alice"))
	b := newConn("conn-b", user("user-b", "Bob"))
	fx.join(t, a, "topic")
	fx.join(t, b, "topic")

	fx.svc.Dispatch(ctx, b, frame(t, protocol.TypeLeave, "", nil))
	assert.Len(t, a.ofType(protocol.TypeLeft), 1)
	assert.Equal(t, 1, occupancyCount(t, a))

	// leave is idempotent
	fx.svc.Dispatch(ctx, b, frame(t, protocol.TypeLeave, "", nil))
	assert.Len(t, a.ofType(protocol.TypeLeft), 1)

	close(a.done)
	fx.svc.Disconnect(a)
	assert.Zero(t, fx.rooms.OccupancyOf("topic"))
	assert.Zero(t, fx.rooms.RoomCount())

	// a gone connection cannot rejoin
	require.NoError(t, fx.svc.JoinRoom(ctx, a, "topic", nil))
	assert.Zero(t, fx.rooms.OccupancyOf("topic"))
}

func TestPost_UsesDirectoryProfile(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	require.NoError(t, fx.store.UpsertProfile(ctx, &store.Profile{UserID: "user-a", DisplayName: "Alice A.", Avatar: "a.png"}))

	msg, err := fx.svc.Post(ctx, user("user-a", "alice"), "topic", "hi", "")
	require.NoError(t, err)
	assert.Equal(t, "Alice A.", msg.Author.Name)
	assert.Equal(t, "a.png", msg.Author.Avatar)
}

func TestRenderMarkdown(t *testing.T) {
	fx := newFixture(t, Config{RenderMarkdown: true})
	ctx := t.Context()

	msg, err := fx.svc.Post(ctx, user("u", "U"), "topic", "**bold** <script>x</script>", "")
	require.NoError(t, err)

	v := fx.svc.View(msg)
	assert.Contains(t, v.HTML, "<strong>bold</strong>")
	assert.NotContains(t, v.HTML, "<script>")
	assert.Equal(t, msg.Body, v.Body)

	plain := newFixture(t, Config{}).svc.View(msg)
	assert.Empty(t, plain.HTML)
}

func TestPost_BroadcastOrderMatchesStoreOrder(t *testing.T) {
	fx := newFixture(t, Config{})
	ctx := t.Context()

	watcher := newConn("watcher", auth.Anonymous())
	fx.join(t, watcher, "topic")

	const writers = 8
	const perWriter = 6
	var wg sync.WaitGroup
	for w := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := user(fmt.Sprintf("user-%d", w), "")
			for i := range perWriter {
				_, err := fx.svc.Post(ctx, id, "topic", fmt.Sprintf("%d-%d", w, i), "")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	msgs, _, err := fx.svc.History(ctx, "topic", store.MaxHistoryLimit, time.Time{})
	require.NoError(t, err)

	delivered := watcher.ofType(protocol.TypeNewMessage)
	require.Len(t, delivered, writers*perWriter)
	require.Len(t, msgs, writers*perWriter)
	for i, ev := range delivered {
		assert.Equal(t, msgs[i].ID, ev.MessageID)
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrAuthRequired, protocol.KindAuthRequired},
		{fmt.Errorf("wrap: %w", store.ErrValidation), protocol.KindValidation},
		{fmt.Errorf("wrap: %w", protocol.ErrInvalid), protocol.KindValidation},
		{fmt.Errorf("wrap: %w", store.ErrNotFound), protocol.KindNotFound},
		{store.ErrPermissionDenied, protocol.KindPermissionDenied},
		{fmt.Errorf("Append: %w: %w", ErrTransient, store.ErrInjected), protocol.KindTransient},
		{errors.New("disk on fire"), protocol.KindTransient},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), tt.err.Error())
	}
}

func TestDispatch_UnknownTypesShareOneMetricSeries(t *testing.T) {
	ms := store.NewMockStore()
	rooms := room.NewManager(room.Options{})
	pres := presence.New(rooms, nil)
	rooms.SetObserver(pres)
	m := metrics.New(metrics.Sources{})
	svc := New(Config{}, Deps{Store: ms, Rooms: rooms, Presence: pres, Metrics: m})

	c := newConn("c1", auth.Identity{})
	for i := range 1000 {
		svc.Dispatch(t.Context(), c, protocol.Frame{Type: fmt.Sprintf("junk-%d", i)})
	}
	svc.Dispatch(t.Context(), c, protocol.Frame{Type: protocol.TypePing})
	assert.Len(t, c.ofType(protocol.TypeScopedError), 1000)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var series []string
	for line := range strings.Lines(rec.Body.String()) {
		if strings.HasPrefix(line, "discuss_inbound_events_total{") {
			series = append(series, strings.TrimSpace(line))
		}
	}
	assert.ElementsMatch(t, []string{
		`discuss_inbound_events_total{type="ping"} 1`,
		`discuss_inbound_events_total{type="unknown"} 1000`,
	}, series)
}
