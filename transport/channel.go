////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/stoppable"
)

// Channel is the process-wide push channel. It keeps one websocket open,
// reference counts the rooms joined through it and redials with exponential
// backoff when the socket dies, re-joining every room that is still in use.
//
// A Channel is shared by every session and is safe for concurrent use.
type Channel struct {
	params    Params
	url       string
	header    http.Header
	dialer    *websocket.Dialer
	listeners *listenerMap

	// rooms maps a conversation key to the number of sessions in it.
	rooms map[string]int
	conn  *connection
	// ready is closed once the first dial attempt has resolved.
	ready      chan struct{}
	supervisor *stoppable.Single
	mux        sync.Mutex
}

// connection is one websocket and its two pumps.
type connection struct {
	ws    *websocket.Conn
	send  chan []byte
	pumps *stoppable.Multi
	write *stoppable.Single

	dead chan struct{}
	err  error
	once sync.Once
}

// NewChannel creates a Channel. Nothing is dialed until Connect.
func NewChannel(p Params) *Channel {
	header := http.Header{}
	if p.Token != "" {
		header.Set("Authorization", "Bearer "+p.Token)
	}
	return &Channel{
		params:    p,
		url:       socketURL(p),
		header:    header,
		dialer:    &websocket.Dialer{HandshakeTimeout: p.DialTimeout},
		listeners: newListenerMap(),
		rooms:     make(map[string]int),
	}
}

// socketURL returns the configured socket URL or derives it from the REST
// base URL.
func socketURL(p Params) string {
	if p.SocketURL != "" {
		return p.SocketURL
	}
	u := strings.TrimSuffix(p.BaseURL, "/") + "/ws"
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// Connect opens the socket on first use and returns nil when it is up. When
// the socket cannot be reached a wrapped message.ErrChannelDisconnected is
// returned and the Channel keeps redialing in the background.
func (c *Channel) Connect(ctx context.Context) error {
	c.mux.Lock()
	if c.ready != nil {
		ready := c.ready
		c.mux.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return errors.WithMessage(message.ErrChannelDisconnected,
				ctx.Err().Error())
		}
		if !c.Connected() {
			return errors.WithStack(message.ErrChannelDisconnected)
		}
		return nil
	}
	c.ready = make(chan struct{})
	c.supervisor = stoppable.NewSingle("PushChannel")
	c.mux.Unlock()

	conn, err := c.dial(ctx)
	if err == nil {
		c.attach(conn)
	} else {
		jww.WARN.Printf("[TRANSPORT] Failed to open push channel to %s: %+v",
			c.url, err)
		c.listeners.SpeakState(ConnectionState{Connected: false, Err: err})
	}
	close(c.ready)
	go c.supervise(conn)

	if err != nil {
		return errors.WithMessage(message.ErrChannelDisconnected, err.Error())
	}
	return nil
}

// Connected reports whether the socket is currently up.
func (c *Channel) Connected() bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.conn != nil
}

// Join adds a reference to the room. join-room is only sent for the first
// reference, and again after every reconnect.
func (c *Channel) Join(room string) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.rooms[room]++
	if c.rooms[room] == 1 && c.conn != nil {
		if err := c.conn.emit(JoinRoom, Room{RoomID: room}); err != nil {
			jww.WARN.Printf("[TRANSPORT] Failed to join %s: %+v", room, err)
		}
	}
	jww.DEBUG.Printf("[TRANSPORT] Room %s has %d references", room, c.rooms[room])
}

// Leave drops a reference to the room, sending leave-room when the last one
// goes. Leaving a room that was never joined does nothing.
func (c *Channel) Leave(room string) {
	c.mux.Lock()
	defer c.mux.Unlock()

	n, ok := c.rooms[room]
	if !ok {
		return
	}
	if n > 1 {
		c.rooms[room] = n - 1
		return
	}
	delete(c.rooms, room)
	if c.conn != nil {
		if err := c.conn.emit(LeaveRoom, Room{RoomID: room}); err != nil {
			jww.DEBUG.Printf("[TRANSPORT] Failed to leave %s: %+v", room, err)
		}
	}
	jww.DEBUG.Printf("[TRANSPORT] Left room %s", room)
}

// References returns how many sessions hold the room.
func (c *Channel) References(room string) int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.rooms[room]
}

// Rooms returns the rooms with at least one reference, sorted.
func (c *Channel) Rooms() []string {
	c.mux.Lock()
	defer c.mux.Unlock()
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// Emit sends an event over the socket. It returns
// message.ErrChannelDisconnected while the socket is down.
func (c *Channel) Emit(event Event, data interface{}) error {
	c.mux.Lock()
	conn := c.conn
	c.mux.Unlock()
	if conn == nil {
		return errors.WithStack(message.ErrChannelDisconnected)
	}
	return conn.emit(event, data)
}

// Register adds a handler for the event in the given room, or every room
// when room is empty. Handlers run on the socket's read goroutine and must
// not block.
func (c *Channel) Register(event Event, room string, h func(Envelope)) ListenerID {
	return c.listeners.Register(event, room, h)
}

// OnConnectionState registers a handler for connection loss and recovery.
func (c *Channel) OnConnectionState(h func(ConnectionState)) ListenerID {
	return c.listeners.RegisterState(h)
}

// Unregister removes a handler. Unknown ids are ignored.
func (c *Channel) Unregister(id ListenerID) {
	c.listeners.Unregister(id)
}

// Listeners returns the number of registered handlers.
func (c *Channel) Listeners() int {
	return c.listeners.Len()
}

// Close shuts the socket down for good. It returns an error if the Channel
// was never connected or is already closed.
func (c *Channel) Close() error {
	c.mux.Lock()
	s := c.supervisor
	c.mux.Unlock()
	if s == nil {
		return errors.New("push channel was never connected")
	}
	return s.Close()
}

// supervise watches the current connection and redials when it dies.
func (c *Channel) supervise(conn *connection) {
	quit := c.supervisor.Quit()
	defer c.supervisor.ToStopped()

	attempt := 0
	for {
		if conn != nil {
			select {
			case <-conn.dead:
			case <-quit:
				conn.shutdown(c.params.WriteWait)
				c.detach(conn)
				return
			}
			c.detach(conn)
			c.listeners.SpeakState(ConnectionState{Connected: false, Err: conn.err})
			conn = nil
			attempt = 0
		}

		wait := c.params.Backoff.delay(attempt)
		jww.INFO.Printf("[TRANSPORT] Redialing push channel in %s (attempt %d)",
			wait, attempt+1)
		select {
		case <-time.After(wait):
		case <-quit:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.params.DialTimeout)
		next, err := c.dial(ctx)
		cancel()
		if err != nil {
			jww.WARN.Printf("[TRANSPORT] Redial %d failed: %+v", attempt+1, err)
			attempt++
			continue
		}
		conn = next
		c.attach(conn)
		jww.INFO.Printf("[TRANSPORT] Push channel restored after %d attempts",
			attempt+1)
	}
}

func (c *Channel) dial(ctx context.Context) (*connection, error) {
	ws, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", c.url)
	}

	conn := &connection{
		ws:    ws,
		send:  make(chan []byte, c.params.SendBuffer),
		pumps: stoppable.NewMulti("PushChannelPumps"),
		write: stoppable.NewSingle("PushChannelWrite"),
		dead:  make(chan struct{}),
	}
	read := stoppable.NewSingle("PushChannelRead")
	conn.pumps.Add(read)
	conn.pumps.Add(conn.write)

	go c.readPump(conn, read)
	go c.writePump(conn)
	return conn, nil
}

// attach makes conn the live connection and re-joins every referenced room.
func (c *Channel) attach(conn *connection) {
	c.mux.Lock()
	c.conn = conn
	for room := range c.rooms {
		if err := conn.emit(JoinRoom, Room{RoomID: room}); err != nil {
			jww.WARN.Printf("[TRANSPORT] Failed to re-join %s: %+v", room, err)
		}
	}
	n := len(c.rooms)
	c.mux.Unlock()

	jww.INFO.Printf("[TRANSPORT] Push channel connected to %s, joined %d rooms",
		c.url, n)
	c.listeners.SpeakState(ConnectionState{Connected: true})
}

func (c *Channel) detach(conn *connection) {
	c.mux.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mux.Unlock()
}

func (c *Channel) readPump(conn *connection, s *stoppable.Single) {
	defer s.ToStopped()

	conn.ws.SetReadLimit(c.params.ReadLimit)
	_ = conn.ws.SetReadDeadline(time.Now().Add(c.params.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(c.params.PongWait))
	})

	for {
		_, frame, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure) {
				jww.WARN.Printf("[TRANSPORT] Push channel read failed: %v", err)
			}
			conn.kill(err)
			return
		}
		c.handle(frame)
	}
}

func (c *Channel) writePump(conn *connection) {
	ticker := time.NewTicker(c.params.PingPeriod)
	defer func() {
		ticker.Stop()
		conn.write.ToStopped()
	}()

	for {
		select {
		case frame := <-conn.send:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.params.WriteWait))
			if err := conn.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				conn.kill(err)
				return
			}
		case <-ticker.C:
			_ = conn.ws.SetWriteDeadline(time.Now().Add(c.params.WriteWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.kill(err)
				return
			}
		case <-conn.write.Quit():
			return
		}
	}
}

// handle routes one inbound frame to the handlers of its room.
func (c *Channel) handle(frame []byte) {
	env, err := ParseEnvelope(frame)
	if err != nil {
		jww.WARN.Printf("[TRANSPORT] Dropping unreadable frame: %+v", err)
		return
	}
	c.listeners.Speak(env, roomOf(env))
}

// roomOf extracts the conversation key an envelope belongs to, or the empty
// string for events that concern every room.
func roomOf(env Envelope) string {
	switch env.Event {
	case NewMessage:
		var m message.Message
		if json.Unmarshal(env.Data, &m) != nil {
			return ""
		}
		if m.ConversationKey == "" && (m.SenderID == "" || m.ReceiverID == "") {
			return ""
		}
		return m.Key()
	case TypingUpdate:
		var t Typing
		if json.Unmarshal(env.Data, &t) != nil {
			return ""
		}
		return t.RoomID
	case MessageReadUpdate:
		var rr ReadReceipt
		if json.Unmarshal(env.Data, &rr) != nil {
			return ""
		}
		return rr.RoomID
	default:
		return ""
	}
}

func (conn *connection) emit(event Event, data interface{}) error {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(env)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s envelope", event)
	}

	select {
	case <-conn.dead:
		return errors.WithStack(message.ErrChannelDisconnected)
	default:
	}

	select {
	case conn.send <- frame:
		return nil
	default:
		return errors.Errorf("send buffer full, dropped %s", event)
	}
}

// kill tears the connection down after a socket error.
func (conn *connection) kill(err error) {
	conn.once.Do(func() {
		conn.err = err
		close(conn.dead)
		_ = conn.pumps.Close()
		_ = conn.ws.Close()
	})
}

// shutdown says goodbye to the server before killing the connection.
func (conn *connection) shutdown(wait time.Duration) {
	_ = conn.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wait))
	conn.kill(nil)
}
