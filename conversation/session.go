////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package conversation is the root of the engine. A Session owns the open
// conversation of one local user: it loads history, sends messages
// optimistically, folds pushed events into the window and publishes a View
// on every change.
package conversation

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/negotiation"
	"gitlab.com/elixxir/marketchat/presence"
	"gitlab.com/elixxir/marketchat/reconcile"
	"gitlab.com/elixxir/marketchat/stoppable"
	"gitlab.com/elixxir/marketchat/transport"
)

var (
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("conversation session is closed")

	// ErrNotOpen is returned when an operation needs an open conversation.
	ErrNotOpen = errors.New("no conversation is open")
)

// Session is the conversation engine of one local user. At most one
// conversation is open at a time; opening another one abandons every request
// still in flight for the previous one.
type Session struct {
	selfID    string
	params    Params
	transport transport.Adapter
	presence  *presence.Tracker
	outbox    *outbox
	drainer   *stoppable.Single
	flush     chan struct{}

	// participantID and epoch tag every request. A response whose tag no
	// longer matches is stale and is dropped.
	participantID string
	epoch         uint64
	window        reconcile.Window
	nextPage      int
	loadingOlder  bool
	threads       map[string]negotiation.Thread
	channelLost   bool
	closed        bool
	mux           sync.Mutex

	handlers []func(View)
	// publishMux keeps views in the order they were taken.
	publishMux sync.Mutex
	handlerMux sync.RWMutex
}

// tag identifies the conversation a request was made for.
type tag struct {
	participantID string
	epoch         uint64
}

// NewSession creates a Session for selfID over the given transport. The
// Session registers its push handlers immediately and releases them, along
// with every joined room, on Close.
func NewSession(selfID string, t transport.Adapter, p Params) *Session {
	s := &Session{
		selfID:    selfID,
		params:    p,
		transport: t,
		outbox:    newOutbox(p.OutboxRate),
		drainer:   stoppable.NewSingle("OutboxDrain"),
		flush:     make(chan struct{}, 1),
		window:    reconcile.NewWindow(p.PageSize),
	}
	s.presence = presence.NewTracker(p.Presence, t.EmitTyping, s.onPresenceChange)

	t.OnPushedMessage(s.onPushedMessage)
	t.OnReadReceipt(s.onReadReceipt)
	t.OnTyping(s.onTyping)
	t.OnPresence(func(p transport.Presence) {
		s.presence.SetPresence(p.UserID, p.IsOnline)
	})
	t.OnRoster(func(r transport.Roster) {
		s.presence.SetRoster(r.Online)
	})
	t.OnConnectionState(s.onConnectionState)

	go s.drainOutbox()
	return s
}

// Open makes participantID the open conversation and loads its newest page.
// Requests still in flight for a previous conversation are abandoned. If the
// push channel is down the history still loads and presence is degraded.
func (s *Session) Open(ctx context.Context, participantID string) error {
	if participantID == "" || participantID == s.selfID {
		return errors.Errorf("cannot open a conversation with %q", participantID)
	}

	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return ErrClosed
	}
	prev := s.participantID
	s.epoch++
	t := tag{participantID: participantID, epoch: s.epoch}
	s.participantID = participantID
	s.window = reconcile.NewWindow(s.params.PageSize)
	s.nextPage = 1
	s.loadingOlder = false
	s.threads = nil
	s.mux.Unlock()

	if prev != "" && prev != participantID {
		s.presence.SetTyping(prev, false)
		s.transport.Disconnect(prev)
	}
	jww.INFO.Printf("[CONV] Opening conversation with %s (epoch %d)",
		participantID, t.epoch)
	s.publish()

	err := s.transport.Connect(ctx, participantID)

	// Another Open or a Close may have run while the room was being joined.
	// The room is then released here since nobody else knows about it.
	s.mux.Lock()
	if !s.current(t) {
		closed := s.closed
		if closed || s.participantID != participantID {
			s.transport.Disconnect(participantID)
		}
		s.mux.Unlock()
		jww.DEBUG.Printf("[CONV] %v: joining %s", message.ErrStaleResponse,
			participantID)
		if closed {
			return ErrClosed
		}
		return nil
	}
	s.mux.Unlock()

	if err != nil {
		if !transport.IsDisconnected(err) {
			return errors.WithMessagef(err, "failed to open conversation with %s",
				participantID)
		}
		jww.WARN.Printf("[CONV] Push channel unavailable, opening %s "+
			"without live updates: %v", participantID, err)
		s.presence.Degrade()
	}

	hp, err := s.transport.FetchHistory(ctx, participantID, 1, s.params.PageSize)

	s.mux.Lock()
	if !s.current(t) {
		s.mux.Unlock()
		jww.DEBUG.Printf("[CONV] %v: first page of %s", message.ErrStaleResponse,
			participantID)
		return nil
	}
	if err != nil {
		s.mux.Unlock()
		return err
	}
	s.window, _ = s.window.Integrate(hp.Data, reconcile.RestInitial)
	s.nextPage = 2
	read := s.markInboundLocked()
	s.refoldLocked()
	s.mux.Unlock()

	if len(read) > 0 {
		if err = s.transport.MarkConversationRead(ctx, participantID); err != nil {
			jww.WARN.Printf("[CONV] Failed to mark conversation with %s "+
				"read: %+v", participantID, err)
		}
	}
	s.publish()
	return nil
}

// LoadOlder fetches the next older page of the open conversation. It does
// nothing while a load is in flight or when no older page exists. On failure
// the window is left as it was.
func (s *Session) LoadOlder(ctx context.Context) error {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return ErrClosed
	}
	if s.participantID == "" {
		s.mux.Unlock()
		return ErrNotOpen
	}
	if s.loadingOlder || !s.window.HasMoreOlder() {
		s.mux.Unlock()
		return nil
	}
	s.loadingOlder = true
	t := s.tagLocked()
	page := s.nextPage
	s.mux.Unlock()
	s.publish()

	hp, err := s.transport.FetchHistory(ctx, t.participantID, page,
		s.params.PageSize)

	s.mux.Lock()
	if !s.current(t) {
		s.mux.Unlock()
		jww.DEBUG.Printf("[CONV] %v: page %d of %s", message.ErrStaleResponse,
			page, t.participantID)
		return nil
	}
	s.loadingOlder = false
	if err != nil {
		s.mux.Unlock()
		s.publish()
		return err
	}
	var r reconcile.Report
	s.window, r = s.window.Integrate(hp.Data, reconcile.RestOlder)
	s.nextPage = page + 1
	s.refoldLocked()
	s.mux.Unlock()

	jww.DEBUG.Printf("[CONV] Loaded page %d of %s: %d new, %d duplicates",
		page, t.participantID, r.Added, r.Duplicates)
	s.publish()
	return nil
}

// SetTyping records local typing activity in the open conversation.
func (s *Session) SetTyping(isTyping bool) {
	s.mux.Lock()
	pid := s.participantID
	s.mux.Unlock()
	if pid != "" {
		s.presence.SetTyping(pid, isTyping)
	}
}

// SelfID returns the id of the local user.
func (s *Session) SelfID() string {
	return s.selfID
}

// View returns a snapshot of the open conversation.
func (s *Session) View() View {
	s.mux.Lock()
	defer s.mux.Unlock()
	return s.viewLocked()
}

// Negotiation returns the derived state of one negotiation of the open
// conversation.
func (s *Session) Negotiation(negotiationID string) (negotiation.Thread, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	th, ok := s.threads[negotiationID]
	return th, ok
}

// OnUpdate registers a handler called with a new View after every change.
// Handlers must not block.
func (s *Session) OnUpdate(h func(View)) {
	s.handlerMux.Lock()
	defer s.handlerMux.Unlock()
	s.handlers = append(s.handlers, h)
}

// Close leaves the open conversation and releases every handler, timer and
// goroutine the Session holds. Responses still in flight are dropped.
func (s *Session) Close() error {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.epoch++
	pid := s.participantID
	s.mux.Unlock()

	if pid != "" {
		s.presence.SetTyping(pid, false)
	}
	s.presence.Stop()
	if err := s.drainer.Close(); err != nil {
		jww.WARN.Printf("[CONV] %+v", err)
	}
	s.transport.Close()
	jww.INFO.Printf("[CONV] Closed session of %s", s.selfID)
	return nil
}

// current reports whether the tag still identifies the open conversation.
// It must be called with the lock held.
func (s *Session) current(t tag) bool {
	return !s.closed && s.epoch == t.epoch && s.participantID == t.participantID
}

func (s *Session) tagLocked() tag {
	return tag{participantID: s.participantID, epoch: s.epoch}
}

// markInboundLocked marks every inbound message of the window read and
// returns their ids.
func (s *Session) markInboundLocked() []string {
	if !s.params.MarkRead {
		return nil
	}
	var read []string
	s.window, read = s.window.MarkInboundRead(s.selfID, netTime.Now())
	return read
}

// refoldLocked recomputes the negotiation threads from the window. Failed
// sends do not take part.
func (s *Session) refoldLocked() {
	entries := s.window.Entries()
	msgs := make([]message.Message, 0, len(entries))
	for _, e := range entries {
		if e.Message.Kind == message.NegotiationKind && e.Status != message.Failed {
			msgs = append(msgs, e.Message)
		}
	}
	s.threads = negotiation.Fold(msgs)
}

func (s *Session) viewLocked() View {
	threads := make(map[string]negotiation.Thread, len(s.threads))
	for id, th := range s.threads {
		threads[id] = th
	}
	v := View{
		ParticipantID:  s.participantID,
		Entries:        s.window.Entries(),
		HasMoreOlder:   s.window.HasMoreOlder(),
		IsLoadingOlder: s.loadingOlder,
		Negotiations:   threads,
		Connected:      s.transport.Connected(),
		Queued:         s.outbox.len(),
	}
	if s.participantID != "" {
		v.PeerTyping = s.presence.IsTyping(s.participantID)
		v.PeerPresence = s.presence.Presence(s.participantID)
	}
	return v
}

// publish hands the current view to every handler.
func (s *Session) publish() {
	s.publishMux.Lock()
	defer s.publishMux.Unlock()

	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return
	}
	v := s.viewLocked()
	s.mux.Unlock()

	s.handlerMux.RLock()
	defer s.handlerMux.RUnlock()
	for _, h := range s.handlers {
		h(v)
	}
}
