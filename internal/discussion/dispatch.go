// ABOUTME: Routes inbound WebSocket frames to discussion operations
// ABOUTME: Every failure becomes a scopedError delivered to the triggering connection only

package discussion

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/discuss-gateway/internal/dedupe"
	"github.com/2389/discuss-gateway/internal/presence"
	"github.com/2389/discuss-gateway/internal/protocol"
)

// Dispatch handles one inbound frame from c.
func (s *Service) Dispatch(ctx context.Context, c Conn, f protocol.Frame) {
	s.metrics.InboundEvent(protocol.InboundType(f.Type))

	var err error
	switch f.Type {
	case protocol.TypeJoin:
		err = s.handleJoin(ctx, c, f)
	case protocol.TypeLeave:
		s.LeaveRoom(c)
	case protocol.TypeSend:
		err = s.handleSend(ctx, c, f)
	case protocol.TypeStartTyping:
		err = s.handleTyping(c, true)
	case protocol.TypeStopTyping:
		err = s.handleTyping(c, false)
	case protocol.TypeAddReaction:
		err = s.handleReaction(ctx, c, f)
	case protocol.TypeDelete:
		err = s.handleDelete(ctx, c, f)
	case protocol.TypePing:
		c.Deliver(protocol.Event{Type: protocol.TypePong, RequestID: f.RequestID})
	default:
		err = fmt.Errorf("%w: unknown event type %q", protocol.ErrInvalid, f.Type)
	}

	if err != nil {
		s.reportError(c, f, err)
	}
}

func (s *Service) handleJoin(ctx context.Context, c Conn, f protocol.Frame) error {
	var p protocol.JoinPayload
	if err := protocol.Decode(f.Payload, &p); err != nil {
		return err
	}
	return s.JoinRoom(ctx, c, p.TopicID, p.TopicMetadata)
}

func (s *Service) handleSend(ctx context.Context, c Conn, f protocol.Frame) error {
	id := c.Identity()
	if !id.IsAuthenticated() {
		return ErrAuthRequired
	}

	var p protocol.SendPayload
	if err := protocol.Decode(f.Payload, &p); err != nil {
		return err
	}

	current, ok := s.rooms.CurrentRoom(c.ID())
	if !ok {
		return fmt.Errorf("%w: join a topic first", protocol.ErrInvalid)
	}
	if p.TopicID != "" && p.TopicID != current {
		return fmt.Errorf("%w: topicId does not match the joined topic", protocol.ErrInvalid)
	}

	var key string
	if f.RequestID != "" && s.sends != nil {
		key = dedupe.Key(id.UserID, f.RequestID)
		if messageID, fresh := s.sends.Reserve(key); !fresh {
			s.logger.Debug("duplicate send ignored", "request_id", f.RequestID, "message_id", messageID)
			return nil
		}
	}

	msg, err := s.Post(ctx, id, current, p.Body, p.ReplyTo)
	if err != nil {
		if key != "" {
			s.sends.Release(key)
		}
		return err
	}
	if key != "" {
		s.sends.Remember(key, msg.ID)
	}
	s.presence.MessageSent(c)
	return nil
}

func (s *Service) handleTyping(c Conn, start bool) error {
	if !c.Identity().IsAuthenticated() {
		return ErrAuthRequired
	}
	if !start {
		s.presence.StopTyping(c)
		return nil
	}
	if err := s.presence.StartTyping(c); err != nil {
		if errors.Is(err, presence.ErrNotInRoom) {
			return fmt.Errorf("%w: join a topic first", protocol.ErrInvalid)
		}
		return err
	}
	return nil
}

func (s *Service) handleReaction(ctx context.Context, c Conn, f protocol.Frame) error {
	id := c.Identity()
	if !id.IsAuthenticated() {
		return ErrAuthRequired
	}

	var p protocol.AddReactionPayload
	if err := protocol.Decode(f.Payload, &p); err != nil {
		return err
	}
	_, err := s.React(ctx, id, p.MessageID, p.Emoji)
	return err
}

func (s *Service) handleDelete(ctx context.Context, c Conn, f protocol.Frame) error {
	id := c.Identity()
	if !id.IsAuthenticated() {
		return ErrAuthRequired
	}

	var p protocol.DeletePayload
	if err := protocol.Decode(f.Payload, &p); err != nil {
		return err
	}
	return s.Delete(ctx, id, p.MessageID)
}

func (s *Service) reportError(c Conn, f protocol.Frame, err error) {
	kind := Kind(err)
	s.metrics.ScopedError(kind)

	level := s.logger.Debug
	if kind == protocol.KindTransient {
		level = s.logger.Warn
	}
	level("event failed", "type", f.Type, "member_id", c.ID(), "kind", kind, "error", err)

	c.Deliver(protocol.ScopedError(f.RequestID, kind, Detail(err)))
}
