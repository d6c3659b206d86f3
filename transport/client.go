////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
)

// ErrClientClosed is returned by Connect once the Client is closed.
var ErrClientClosed = errors.New("transport client is closed")

// Adapter is the transport as seen by a conversation session.
type Adapter interface {
	Connect(ctx context.Context, participantID string) error
	Disconnect(participantID string)
	Connected() bool

	Send(ctx context.Context, d message.Draft) (message.Message, error)
	FetchHistory(ctx context.Context, participantID string, page,
		limit int) (HistoryPage, error)
	MarkRead(ctx context.Context, messageID string) error
	MarkConversationRead(ctx context.Context, participantID string) error
	EmitTyping(participantID string, isTyping bool) error

	OnPushedMessage(h func(message.Message)) ListenerID
	OnReadReceipt(h func(ReadReceipt)) ListenerID
	OnTyping(h func(Typing)) ListenerID
	OnPresence(h func(Presence)) ListenerID
	OnRoster(h func(Roster)) ListenerID
	OnConnectionState(h func(ConnectionState)) ListenerID
	Unregister(id ListenerID)
	Close()
}

// Client adapts the shared Channel and a REST client for one local user. It
// remembers every room it joined and every handler it registered so Close
// can release exactly what it acquired.
type Client struct {
	selfID  string
	rest    *REST
	channel *Channel

	rooms     map[string]string
	listeners map[ListenerID]struct{}
	closed    bool
	mux       sync.Mutex
}

// NewClient creates a Client for the local user selfID.
func NewClient(selfID string, rest *REST, channel *Channel) *Client {
	return &Client{
		selfID:    selfID,
		rest:      rest,
		channel:   channel,
		rooms:     make(map[string]string),
		listeners: make(map[ListenerID]struct{}),
	}
}

// Connect joins the room of the conversation with participantID. Calling it
// again for the same participant is a no-op. The room is joined even when
// the socket is down, in which case the wrapped
// message.ErrChannelDisconnected is returned and the room is joined as soon
// as the socket comes back. After Close no room is joined and
// ErrClientClosed is returned.
func (c *Client) Connect(ctx context.Context, participantID string) error {
	key := message.ConversationKey(c.selfID, participantID)

	c.mux.Lock()
	if c.closed {
		c.mux.Unlock()
		return errors.WithStack(ErrClientClosed)
	}
	_, joined := c.rooms[participantID]
	if !joined {
		c.rooms[participantID] = key
		c.channel.Join(key)
	}
	c.mux.Unlock()

	return c.channel.Connect(ctx)
}

// Disconnect leaves the room of the conversation with participantID. It is
// safe to call for a participant that was never connected.
func (c *Client) Disconnect(participantID string) {
	c.mux.Lock()
	key, joined := c.rooms[participantID]
	delete(c.rooms, participantID)
	c.mux.Unlock()

	if joined {
		c.channel.Leave(key)
	}
}

// Connected reports whether the push channel is up.
func (c *Client) Connected() bool {
	return c.channel.Connected()
}

// Send posts the draft. Any failure is returned as a
// *message.SendFailedError carrying the draft.
func (c *Client) Send(ctx context.Context, d message.Draft) (message.Message, error) {
	m, err := c.rest.Send(ctx, d)
	if err != nil {
		return m, &message.SendFailedError{Draft: d, Err: err}
	}
	return m, nil
}

// FetchHistory loads one page of history. Any failure is returned as a
// *message.LoadFailedError.
func (c *Client) FetchHistory(ctx context.Context, participantID string, page,
	limit int) (HistoryPage, error) {
	hp, err := c.rest.FetchHistory(ctx, participantID, page, limit)
	if err != nil {
		return hp, &message.LoadFailedError{
			ParticipantID: participantID,
			Page:          page,
			Err:           err,
		}
	}
	return hp, nil
}

func (c *Client) MarkRead(ctx context.Context, messageID string) error {
	return c.rest.MarkRead(ctx, messageID)
}

func (c *Client) MarkConversationRead(ctx context.Context, participantID string) error {
	return c.rest.MarkConversationRead(ctx, participantID)
}

// EmitTyping tells the peer whether the local user is typing.
func (c *Client) EmitTyping(participantID string, isTyping bool) error {
	return c.channel.Emit(TypingUpdate, Typing{
		UserID:   c.selfID,
		IsTyping: isTyping,
		RoomID:   message.ConversationKey(c.selfID, participantID),
	})
}

// OnPushedMessage registers a handler for pushed messages of every room the
// client is in. Undecodable messages are dropped here.
func (c *Client) OnPushedMessage(h func(message.Message)) ListenerID {
	return c.register(NewMessage, func(env Envelope) {
		var m message.Message
		if err := env.Decode(&m); err != nil {
			jww.WARN.Printf("[TRANSPORT] %+v", err)
			return
		}
		h(m)
	})
}

func (c *Client) OnReadReceipt(h func(ReadReceipt)) ListenerID {
	return c.register(MessageReadUpdate, func(env Envelope) {
		var rr ReadReceipt
		if err := env.Decode(&rr); err != nil {
			jww.WARN.Printf("[TRANSPORT] %+v", err)
			return
		}
		h(rr)
	})
}

// OnTyping registers a handler for the typing signals of peers. The local
// user's own signals are filtered out.
func (c *Client) OnTyping(h func(Typing)) ListenerID {
	return c.register(TypingUpdate, func(env Envelope) {
		var t Typing
		if err := env.Decode(&t); err != nil {
			jww.WARN.Printf("[TRANSPORT] %+v", err)
			return
		}
		if t.UserID == c.selfID {
			return
		}
		h(t)
	})
}

func (c *Client) OnPresence(h func(Presence)) ListenerID {
	return c.register(PresenceUpdate, func(env Envelope) {
		var p Presence
		if err := env.Decode(&p); err != nil {
			jww.WARN.Printf("[TRANSPORT] %+v", err)
			return
		}
		h(p)
	})
}

func (c *Client) OnRoster(h func(Roster)) ListenerID {
	return c.register(RosterUpdate, func(env Envelope) {
		var r Roster
		if err := env.Decode(&r); err != nil {
			jww.WARN.Printf("[TRANSPORT] %+v", err)
			return
		}
		h(r)
	})
}

func (c *Client) OnConnectionState(h func(ConnectionState)) ListenerID {
	id := c.channel.OnConnectionState(h)
	c.track(id)
	return id
}

// Unregister removes a handler registered through this client.
func (c *Client) Unregister(id ListenerID) {
	c.mux.Lock()
	_, ok := c.listeners[id]
	delete(c.listeners, id)
	c.mux.Unlock()
	if ok {
		c.channel.Unregister(id)
	}
}

// Close unregisters every handler and leaves every room of the client. The
// shared Channel stays open for other clients.
func (c *Client) Close() {
	c.mux.Lock()
	c.closed = true
	rooms := c.rooms
	ids := c.listeners
	c.rooms = make(map[string]string)
	c.listeners = make(map[ListenerID]struct{})
	c.mux.Unlock()

	for id := range ids {
		c.channel.Unregister(id)
	}
	for _, key := range rooms {
		c.channel.Leave(key)
	}
}

func (c *Client) register(event Event, hear func(Envelope)) ListenerID {
	id := c.channel.Register(event, "", hear)
	c.track(id)
	return id
}

func (c *Client) track(id ListenerID) {
	c.mux.Lock()
	c.listeners[id] = struct{}{}
	c.mux.Unlock()
}

// IsDisconnected reports whether err means the push channel is down.
func IsDisconnected(err error) bool {
	return errors.Is(err, message.ErrChannelDisconnected)
}
