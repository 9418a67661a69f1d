package chatsync

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Submit sends a message: the timeline gets an optimistic pending entry
// under a client-generated temporary ID, the persistence API assigns the
// authoritative ID, and the pending entry is replaced by the confirmed
// message under the normal dedup rule, so a live echo of the same send
// can never duplicate it. On failure the entry stays visible, marked
// Failed, for RetrySend or DiscardSend.
//
// Concurrent Submits serialize only their optimistic inserts (call
// order); network completions may land in any order.
func (s *Session) Submit(ctx context.Context, content string) (*Message, error) {
	local := Message{
		ID:        "tmp-" + uuid.NewString(),
		Sender:    s.userID,
		Room:      s.roomID,
		Body:      content,
		Timestamp: time.Now().UnixMilli(),
		LocalKey:  uuid.NewString(),
	}

	ok := s.call(func() {
		if s.state == SessionClosed {
			return
		}
		s.tl.addPending(local)
		m := local
		m.Pending = true
		s.notify(Update{Kind: UpdateMessage, Message: &m})
	})
	if !ok {
		return nil, ErrSessionClosed
	}

	return s.deliver(ctx, local.ID, content)
}

// RetrySend re-submits a failed send, keeping its timeline entry and
// render key.
func (s *Session) RetrySend(ctx context.Context, localID string) (*Message, error) {
	found := false
	var content string
	ok := s.call(func() {
		m, reactivated := s.tl.reactivate(localID)
		if !reactivated {
			return
		}
		found = true
		content = m.Body
		s.notify(Update{Kind: UpdateMessage, Message: &m})
	})
	if !ok {
		return nil, ErrSessionClosed
	}
	if !found {
		return nil, errorf(KindInvalid, "retry_send", "no failed send %q", localID)
	}
	return s.deliver(ctx, localID, content)
}

// DiscardSend removes a pending or failed send from the timeline.
func (s *Session) DiscardSend(localID string) bool {
	removed := false
	s.call(func() {
		removed = s.tl.discard(localID)
		if removed {
			s.notify(Update{Kind: UpdateTimeline, Timeline: s.tl.snapshot(), Session: s.state})
		}
	})
	return removed
}

// deliver runs the network half of a send against the pending entry
// localID. The session may close while the call is in flight; the
// completion is then dropped instead of mutating torn-down state.
func (s *Session) deliver(ctx context.Context, localID, content string) (*Message, error) {
	var msg *Message
	var err error
	attempts := s.opts.SendRetries + 1
	for i := 1; i <= attempts; i++ {
		msg, err = s.api.Send(ctx, s.roomID, content)
		if err == nil || !IsTransient(err) {
			break
		}
		if i == attempts {
			break
		}
		t := time.NewTimer(time.Duration(i) * 500 * time.Millisecond)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			err = newError(KindTransient, "send", ctx.Err())
			i = attempts
		case <-s.done:
			t.Stop()
			return nil, ErrSessionClosed
		}
		t.Stop()
	}

	if err != nil {
		sendsFailed.Inc()
		s.do(func() {
			if s.state == SessionClosed {
				return
			}
			if failed, ok := s.tl.fail(localID); ok {
				s.notify(Update{Kind: UpdateSendFailed, Message: &failed})
			}
		})
		return nil, err
	}

	confirmed := *msg
	s.do(func() {
		if s.state == SessionClosed {
			return
		}
		replaced, added, ok := s.tl.confirm(localID, confirmed)
		if !ok {
			// Already discarded; the confirmed message still belongs in
			// the timeline.
			replaced = confirmed
			replaced.LocalKey = uuid.NewString()
			if !s.tl.insert(replaced) {
				return
			}
		} else if !added {
			// The live echo already announced this ID; a second message
			// notification would double it in display lists. The snapshot
			// communicates the pending entry's removal.
			duplicatesDropped.Inc()
			s.notify(Update{Kind: UpdateTimeline, Timeline: s.tl.snapshot(), Session: s.state})
			return
		}
		s.notify(Update{Kind: UpdateMessage, Message: &replaced})
	})

	// The send doubles as proof the user stopped typing.
	s.debounce.Sent()

	return msg, nil
}
