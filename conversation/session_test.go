////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/negotiation"
	"gitlab.com/elixxir/marketchat/presence"
	"gitlab.com/elixxir/marketchat/transport"
)

func testParams() Params {
	p := GetDefaultParams()
	p.OutboxRate = 100
	p.Presence = presence.Params{
		TypingIdle:  100 * time.Millisecond,
		TypingDecay: 200 * time.Millisecond,
	}
	return p
}

func newTestSession(t *testing.T) (*Session, *fakeTransport) {
	ft := newFakeTransport("alice")
	s := NewSession("alice", ft, testParams())
	t.Cleanup(func() { _ = s.Close() })
	return s, ft
}

func ids(v View) []string {
	out := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = e.ID()
	}
	return out
}

// 35 messages load as a page of 20 and an older page of 15.
func TestSession_OpenAndLoadOlder(t *testing.T) {
	s, ft := newTestSession(t)
	ft.seed("bob", 35)

	require.NoError(t, s.Open(context.Background(), "bob"))
	v := s.View()
	require.Equal(t, "bob", v.ParticipantID)
	require.Len(t, v.Entries, 20)
	require.Equal(t, "bob-015", v.Entries[0].ID())
	require.Equal(t, "bob-034", v.Entries[19].ID())
	require.True(t, v.HasMoreOlder)
	require.Equal(t, []string{"bob"}, ft.convRead)

	// Inbound messages were marked read on open
	for _, e := range v.Entries {
		if e.Message.ReceiverID == "alice" {
			require.True(t, e.Message.IsRead, e.ID())
		}
	}

	require.NoError(t, s.LoadOlder(context.Background()))
	v = s.View()
	require.Len(t, v.Entries, 35)
	require.Equal(t, "bob-000", v.Entries[0].ID())
	require.False(t, v.HasMoreOlder)
	require.False(t, v.IsLoadingOlder)

	// Nothing older to load
	fetches := ft.fetches
	require.NoError(t, s.LoadOlder(context.Background()))
	require.Equal(t, fetches, ft.fetches)
}

// Opening B while the first page of A is in flight discards A's response.
func TestSession_Open_StaleResponse(t *testing.T) {
	s, ft := newTestSession(t)
	ft.seed("anna", 5)
	ft.seed("bob", 3)
	release := ft.gate("anna")

	done := make(chan error)
	go func() { done <- s.Open(context.Background(), "anna") }()
	require.Equal(t, "anna", <-ft.fetching)

	require.NoError(t, s.Open(context.Background(), "bob"))
	require.Equal(t, "bob", <-ft.fetching)

	release()
	require.NoError(t, <-done)

	v := s.View()
	require.Equal(t, "bob", v.ParticipantID)
	require.Equal(t, []string{"bob-000", "bob-001", "bob-002"}, ids(v))
	for _, e := range v.Entries {
		require.True(t, e.Message.Involves("alice", "bob"))
	}

	ft.mux.Lock()
	defer ft.mux.Unlock()
	require.NotContains(t, ft.rooms, "anna")
	require.Equal(t, 1, ft.rooms["bob"])
}

func TestSession_LoadOlder_NotOpen(t *testing.T) {
	s, _ := newTestSession(t)
	require.Equal(t, ErrNotOpen, s.LoadOlder(context.Background()))
	_, err := s.SendText(context.Background(), "hi")
	require.Equal(t, ErrNotOpen, err)
}

// The optimistic entry is visible while the send is in flight and is
// replaced in place by the canonical message.
func TestSession_SendText_Optimistic(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	release := make(chan struct{})
	ft.sendHook = func(d message.Draft) (message.Message, error) {
		<-release
		return canonical(d, "srv-hello"), nil
	}

	type result struct {
		m   message.Message
		err error
	}
	done := make(chan result)
	go func() {
		m, err := s.SendText(context.Background(), "hello")
		done <- result{m, err}
	}()

	require.Eventually(t, func() bool { return len(s.View().Entries) == 1 },
		time.Second, 5*time.Millisecond)
	e := s.View().Entries[0]
	require.Equal(t, message.Pending, e.Status)
	require.True(t, message.IsLocalID(e.ID()))

	close(release)
	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, "srv-hello", res.m.ID)

	v := s.View()
	require.Len(t, v.Entries, 1)
	require.Equal(t, message.Confirmed, v.Entries[0].Status)
	require.Equal(t, "srv-hello", v.Entries[0].ID())
	require.Equal(t, e.LocalID, v.Entries[0].LocalID)

	_, err := s.SendText(context.Background(), "   ")
	require.Error(t, err)
}

// The push echo of our own send may arrive before the REST response. The
// window still ends with exactly one entry.
func TestSession_Send_PushBeforeResponse(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	ft.sendHook = func(d message.Draft) (message.Message, error) {
		m := canonical(d, "srv-1")
		ft.push(m)
		require.Len(t, s.View().Entries, 1)
		return m, nil
	}

	_, err := s.SendText(context.Background(), "racing")
	require.NoError(t, err)

	v := s.View()
	require.Equal(t, []string{"srv-1"}, ids(v))
	require.Equal(t, message.Confirmed, v.Entries[0].Status)
}

func TestSession_Send_FailRetryDiscard(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	ft.sendErr = errors.New("backend down")
	_, err := s.SendText(context.Background(), "first")
	sf, ok := message.IsSendFailed(err)
	require.True(t, ok)

	v := s.View()
	require.Len(t, v.Entries, 1)
	require.Equal(t, message.Failed, v.Entries[0].Status)
	require.Len(t, v.Pending(), 1)
	// The channel is up so nothing is queued
	require.Zero(t, v.Queued)

	ft.sendErr = nil
	m, err := s.Retry(context.Background(), sf.Draft.LocalID)
	require.NoError(t, err)
	require.Equal(t, []string{m.ID}, ids(s.View()))

	_, err = s.Retry(context.Background(), sf.Draft.LocalID)
	require.Error(t, err)

	ft.sendErr = errors.New("backend down again")
	_, err = s.SendText(context.Background(), "second")
	sf, _ = message.IsSendFailed(err)
	require.NoError(t, s.Discard(sf.Draft.LocalID))
	require.Equal(t, []string{m.ID}, ids(s.View()))
	require.Error(t, s.Discard(m.ID))
}

// A send that fails while the channel is down is resent once it is back.
func TestSession_Outbox_ResendOnReconnect(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	ft.setConnected(false)
	ft.sendErr = errors.New("offline")
	_, err := s.SendText(context.Background(), "queued")
	require.Error(t, err)
	v := s.View()
	require.Equal(t, 1, v.Queued)
	require.False(t, v.Connected)

	ft.mux.Lock()
	ft.sendErr = nil
	ft.mux.Unlock()
	ft.setConnected(true)

	require.Eventually(t, func() bool {
		v := s.View()
		return len(v.Entries) == 1 && v.Entries[0].Status == message.Confirmed
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, s.View().Queued)
	require.Equal(t, 2, ft.sends())
}

// One drainer serves every reconnect of the Session and stops with it.
func TestSession_Outbox_DrainerReused(t *testing.T) {
	ft := newFakeTransport("alice")
	s := NewSession("alice", ft, testParams())
	require.NoError(t, s.Open(context.Background(), "bob"))

	for i := 1; i <= 3; i++ {
		ft.setConnected(false)
		ft.mux.Lock()
		ft.sendErr = errors.New("offline")
		ft.mux.Unlock()
		_, err := s.SendText(context.Background(), "queued")
		require.Error(t, err)

		ft.mux.Lock()
		ft.sendErr = nil
		ft.mux.Unlock()
		ft.setConnected(true)

		require.Eventually(t, func() bool {
			v := s.View()
			return len(v.Entries) == i && v.Queued == 0 &&
				v.Entries[i-1].Status == message.Confirmed
		}, 2*time.Second, 5*time.Millisecond)
		require.True(t, s.drainer.IsRunning())
	}

	require.NoError(t, s.Close())
	require.Eventually(t, s.drainer.IsStopped, time.Second, 5*time.Millisecond)
}

// Messages that arrive while the channel is down are fetched back however
// many pages they span.
func TestSession_CatchUp_SpansPages(t *testing.T) {
	s, ft := newTestSession(t)
	ft.seed("bob", 5)
	require.NoError(t, s.Open(context.Background(), "bob"))
	require.False(t, s.View().HasMoreOlder)

	ft.setConnected(false)
	ft.seed("bob", 25)
	ft.setConnected(true)

	require.Eventually(t, func() bool { return len(s.View().Entries) == 30 },
		2*time.Second, 5*time.Millisecond)
	v := s.View()
	require.Equal(t, "bob-000", v.Entries[0].ID())
	require.Equal(t, "bob-029", v.Entries[29].ID())
	require.False(t, v.HasMoreOlder)

	// The second page reached the window, so there is no third
	ft.mux.Lock()
	defer ft.mux.Unlock()
	require.Equal(t, 3, ft.fetches)
}

func TestSession_Push(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	var views []View
	s.OnUpdate(func(v View) { views = append(views, v) })

	// Other conversations are ignored
	ft.push(message.Message{ID: "x1", SenderID: "carol", ReceiverID: "alice",
		Kind: message.TextKind, Body: "psst", CreatedAt: epoch})
	require.Empty(t, s.View().Entries)
	require.Empty(t, views)

	in := message.Message{ID: "b1", SenderID: "bob", ReceiverID: "alice",
		Kind: message.TextKind, Body: "hi", CreatedAt: epoch}
	ft.push(in)
	ft.push(in)
	v := s.View()
	require.Equal(t, []string{"b1"}, ids(v))
	require.True(t, v.Entries[0].Message.IsRead)
	require.Len(t, views, 1)
	require.Eventually(t, func() bool {
		ft.mux.Lock()
		defer ft.mux.Unlock()
		return len(ft.read) == 1 && ft.read[0] == "b1"
	}, time.Second, 5*time.Millisecond)

	// Read receipts update our own messages
	m, err := s.SendText(context.Background(), "hello")
	require.NoError(t, err)
	ft.pushReceipt(transport.ReadReceipt{MessageID: m.ID, ReadBy: "bob",
		ReadAt: epoch.Add(time.Hour)})
	last, _ := s.View().Last()
	require.True(t, last.Message.IsRead)
}

func TestSession_TypingAndPresence(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	ft.pushTyping(transport.Typing{UserID: "bob", IsTyping: true,
		RoomID: message.ConversationKey("alice", "bob")})
	require.True(t, s.View().PeerTyping)
	require.Eventually(t, func() bool { return !s.View().PeerTyping },
		time.Second, 5*time.Millisecond)

	ft.pushPresence(transport.Presence{UserID: "bob", IsOnline: true})
	require.Equal(t, presence.Online, s.View().PeerPresence)
	ft.setConnected(false)
	require.Equal(t, presence.Unknown, s.View().PeerPresence)

	s.SetTyping(true)
	s.SetTyping(false)
	ft.mux.Lock()
	require.Equal(t, []bool{true, false}, ft.typing)
	ft.mux.Unlock()
}

func TestSession_Open_ChannelDown(t *testing.T) {
	s, ft := newTestSession(t)
	ft.seed("bob", 2)
	ft.connected = false

	require.NoError(t, s.Open(context.Background(), "bob"))
	v := s.View()
	require.Len(t, v.Entries, 2)
	require.False(t, v.Connected)
	require.Equal(t, presence.Unknown, v.PeerPresence)
}

func TestSession_Negotiation(t *testing.T) {
	s, ft := newTestSession(t)
	require.NoError(t, s.Open(context.Background(), "bob"))

	_, err := s.SendNegotiationResponse(context.Background(), "neg-missing",
		message.Response{Accepted: true})
	require.Error(t, err)

	pm, err := s.SendNegotiationProposal(context.Background(), message.Proposal{
		ProductName: "Vase", Quantity: 1, EstimatedPrice: 12000})
	require.NoError(t, err)
	c, err := pm.Content()
	require.NoError(t, err)
	nid := c.(message.Negotiation).Payload.NegotiationID

	th, ok := s.Negotiation(nid)
	require.True(t, ok)
	require.Equal(t, negotiation.Pending, th.Status)
	require.Equal(t, "alice", th.ProposerID)

	// Bob accepts over the push channel
	payload, err := negotiation.NewResponse(nid,
		message.Response{Accepted: true, CanProceed: true}, epoch).Encode()
	require.NoError(t, err)
	ft.push(message.Message{ID: "b-accept", SenderID: "bob", ReceiverID: "alice",
		Kind: message.NegotiationKind, Payload: payload,
		CreatedAt: time.Now().Add(time.Minute)})

	th, _ = s.Negotiation(nid)
	require.Equal(t, negotiation.Accepted, th.Status)
	agreed, ready := th.CheckoutReady()
	require.True(t, ready)
	require.Equal(t, "Vase", agreed.ProductName)
	require.Equal(t, negotiation.Accepted, s.View().Negotiations[nid].Status)

	_, err = s.SendNegotiationResponse(context.Background(), nid,
		message.Response{Accepted: false})
	require.Error(t, err)
	_, err = s.ReviseNegotiation(context.Background(), nid,
		message.Proposal{ProductName: "Vase", Quantity: 2})
	require.Error(t, err)
}

func TestSession_Close(t *testing.T) {
	ft := newFakeTransport("alice")
	s := NewSession("alice", ft, testParams())
	require.Equal(t, 6, ft.listeners())
	require.NoError(t, s.Open(context.Background(), "bob"))
	require.NoError(t, s.Open(context.Background(), "carol"))

	require.NoError(t, s.Close())
	require.Zero(t, ft.listeners())
	require.Empty(t, ft.rooms)
	require.Equal(t, ErrClosed, s.Open(context.Background(), "bob"))
	require.Equal(t, ErrClosed, s.Close())

	// Late pushes after close are ignored
	ft.push(message.Message{ID: "late", SenderID: "carol", ReceiverID: "alice",
		Kind: message.TextKind, CreatedAt: epoch})
	require.Empty(t, s.View().Entries)
}

func TestGetParameters(t *testing.T) {
	p, err := GetParameters(`{"PageSize": 50}`)
	require.NoError(t, err)
	require.Equal(t, 50, p.PageSize)
	require.Equal(t, GetDefaultParams().OutboxRate, p.OutboxRate)

	_, err = GetParameters("{")
	require.Error(t, err)
}
