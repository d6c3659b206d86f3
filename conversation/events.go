////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"context"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/reconcile"
	"gitlab.com/elixxir/marketchat/transport"
)

// The handlers below run on the push channel's read goroutine. Anything that
// touches the network is moved to its own goroutine.

func (s *Session) onPushedMessage(m message.Message) {
	s.mux.Lock()
	if s.closed || s.participantID == "" || !m.Involves(s.selfID, s.participantID) {
		s.mux.Unlock()
		return
	}
	pid := s.participantID
	var r reconcile.Report
	s.window, r = s.window.Integrate([]message.Message{m}, reconcile.Push)
	var read []string
	if r.Added > 0 && m.ReceiverID == s.selfID {
		read = s.markInboundLocked()
	}
	if r.Changed() {
		s.refoldLocked()
	}
	s.mux.Unlock()

	if !r.Changed() {
		return
	}
	if m.SenderID == pid {
		// A message from the peer ends their typing
		s.presence.OnRemoteTyping(pid, false)
	}
	for _, id := range read {
		go s.markRead(id)
	}
	s.publish()
}

func (s *Session) markRead(messageID string) {
	if err := s.transport.MarkRead(context.Background(), messageID); err != nil {
		jww.WARN.Printf("[CONV] Failed to mark %s read: %+v", messageID, err)
	}
}

func (s *Session) onReadReceipt(rr transport.ReadReceipt) {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return
	}
	var changed bool
	s.window, changed = s.window.ApplyReadReceipt(rr.MessageID, rr.ReadAt)
	s.mux.Unlock()

	if changed {
		jww.DEBUG.Printf("[CONV] %s read %s", rr.ReadBy, rr.MessageID)
		s.publish()
	}
}

func (s *Session) onTyping(t transport.Typing) {
	s.mux.Lock()
	pid := s.participantID
	closed := s.closed
	s.mux.Unlock()

	if closed || t.UserID != pid ||
		t.RoomID != message.ConversationKey(s.selfID, pid) {
		return
	}
	s.presence.OnRemoteTyping(t.UserID, t.IsTyping)
}

// onPresenceChange is called by the presence tracker.
func (s *Session) onPresenceChange(participantID string) {
	s.mux.Lock()
	pid := s.participantID
	s.mux.Unlock()
	if participantID == pid {
		s.publish()
	}
}

func (s *Session) onConnectionState(cs transport.ConnectionState) {
	if !cs.Connected {
		jww.WARN.Printf("[CONV] Push channel lost: %v", cs.Err)
		s.mux.Lock()
		s.channelLost = true
		s.mux.Unlock()
		s.presence.Degrade()
		s.publish()
		return
	}

	jww.INFO.Printf("[CONV] Push channel restored")
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return
	}
	t := s.tagLocked()
	recovered := s.channelLost
	s.channelLost = false
	s.mux.Unlock()

	s.flushOutbox()
	if recovered && s.params.CatchUp && t.participantID != "" {
		go s.catchUp(t)
	}
	s.publish()
}

// catchUp refetches history after a reconnect, newest page first, until a
// page reaches a message the window already holds or history runs out.
// Everything fetched is merged like a push. If any page fails nothing is
// merged, so the window never shows newer messages across a hole.
func (s *Session) catchUp(t tag) {
	var missed []message.Message
	for page := 1; ; page++ {
		hp, err := s.transport.FetchHistory(context.Background(),
			t.participantID, page, s.params.PageSize)
		if err != nil {
			jww.WARN.Printf("[CONV] Catch-up of %s failed on page %d: %+v",
				t.participantID, page, err)
			return
		}

		s.mux.Lock()
		if !s.current(t) {
			s.mux.Unlock()
			jww.DEBUG.Printf("[CONV] %v: catch-up of %s",
				message.ErrStaleResponse, t.participantID)
			return
		}
		reached := s.holdsAnyLocked(hp.Data)
		s.mux.Unlock()

		missed = append(missed, hp.Data...)
		if reached || len(hp.Data) < s.params.PageSize ||
			page >= hp.Meta.TotalPages {
			break
		}
	}

	s.mux.Lock()
	if !s.current(t) {
		s.mux.Unlock()
		jww.DEBUG.Printf("[CONV] %v: catch-up of %s", message.ErrStaleResponse,
			t.participantID)
		return
	}
	var r reconcile.Report
	s.window, r = s.window.Integrate(missed, reconcile.Push)
	var read []string
	if r.Added > 0 {
		read = s.markInboundLocked()
		s.refoldLocked()
	}
	s.mux.Unlock()

	if len(read) > 0 {
		if err := s.transport.MarkConversationRead(context.Background(),
			t.participantID); err != nil {
			jww.WARN.Printf("[CONV] Failed to mark conversation with %s "+
				"read: %+v", t.participantID, err)
		}
	}
	if r.Changed() {
		jww.INFO.Printf("[CONV] Caught up %d messages with %s", r.Added,
			t.participantID)
		s.publish()
	}
}

// holdsAnyLocked reports whether one of the messages is already confirmed in
// the window.
func (s *Session) holdsAnyLocked(msgs []message.Message) bool {
	for _, m := range msgs {
		if e, ok := s.window.Lookup(m.ID); ok && e.Status == message.Confirmed {
			return true
		}
	}
	return false
}

// flushOutbox wakes the drainer when drafts are queued.
func (s *Session) flushOutbox() {
	if s.outbox.len() == 0 {
		return
	}
	select {
	case s.flush <- struct{}{}:
	default:
	}
}

// drainOutbox resends the queued drafts, rate limited, every time it is
// woken. It runs until the Session is closed.
func (s *Session) drainOutbox() {
	defer s.drainer.ToStopped()
	quit := s.drainer.Quit()
	for {
		select {
		case <-quit:
			return
		case <-s.flush:
		}

		drafts := s.outbox.takeAll()
		jww.INFO.Printf("[CONV] Resending %d queued messages", len(drafts))
		for i, d := range drafts {
			select {
			case <-quit:
				for _, left := range drafts[i:] {
					s.outbox.push(left)
				}
				return
			default:
			}
			s.outbox.wait()
			if err := s.resend(context.Background(), d); err != nil {
				jww.WARN.Printf("[CONV] Resend of %s failed: %+v", d.LocalID, err)
			}
		}
	}
}

// resend retries a queued draft if it still belongs to the open
// conversation and is still failed.
func (s *Session) resend(ctx context.Context, d message.Draft) error {
	s.mux.Lock()
	if s.closed || d.ReceiverID != s.participantID {
		s.mux.Unlock()
		return nil
	}
	e, ok := s.window.Lookup(d.LocalID)
	if !ok || e.Status != message.Failed {
		s.mux.Unlock()
		return nil
	}
	s.window, _ = s.window.Retry(d.LocalID)
	t := s.tagLocked()
	s.mux.Unlock()
	s.publish()

	_, err := s.deliver(ctx, d, t)
	return err
}
