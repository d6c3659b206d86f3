////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package relay

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/transport"
)

// hub tracks open sockets, the rooms they joined and which users are online.
// Frames are queued on each socket without blocking; a socket whose queue is
// full is dropped.
type hub struct {
	params  Params
	metrics *metrics

	peers  map[*peer]struct{}
	users  map[string]int
	rooms  map[string]map[*peer]struct{}
	closed bool
	mux    sync.RWMutex
}

// peer is one open socket of a user.
type peer struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	rooms  map[string]struct{}
	kill   sync.Once
}

func newHub(p Params, m *metrics) *hub {
	return &hub{
		params:  p,
		metrics: m,
		peers:   make(map[*peer]struct{}),
		users:   make(map[string]int),
		rooms:   make(map[string]map[*peer]struct{}),
	}
}

func (h *hub) newPeer(userID string, conn *websocket.Conn) *peer {
	return &peer{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, h.params.SendBuffer),
		rooms:  make(map[string]struct{}),
	}
}

// register adds the peer, sends it the roster and, if it is the user's first
// socket, tells everyone else the user came online.
func (h *hub) register(pe *peer) error {
	h.mux.Lock()
	if h.closed {
		h.mux.Unlock()
		return errors.New("relay is shutting down")
	}
	h.peers[pe] = struct{}{}
	h.users[pe.userID]++
	first := h.users[pe.userID] == 1
	online := h.onlineLocked()
	h.metrics.sockets.Set(float64(len(h.peers)))
	h.mux.Unlock()

	jww.INFO.Printf("[RELAY] %s connected", pe.userID)
	h.sendTo(pe, transport.RosterUpdate, transport.Roster{Online: online})
	if first {
		h.publishAll(transport.PresenceUpdate,
			transport.Presence{UserID: pe.userID, IsOnline: true}, pe)
	}
	return nil
}

// unregister removes the peer from every room. When the user's last socket
// goes everyone is told the user is offline.
func (h *hub) unregister(pe *peer) {
	h.mux.Lock()
	if _, ok := h.peers[pe]; !ok {
		h.mux.Unlock()
		return
	}
	delete(h.peers, pe)
	for room := range pe.rooms {
		h.leaveLocked(pe, room)
	}
	close(pe.send)
	h.users[pe.userID]--
	last := h.users[pe.userID] == 0
	if last {
		delete(h.users, pe.userID)
	}
	h.metrics.sockets.Set(float64(len(h.peers)))
	h.mux.Unlock()

	jww.INFO.Printf("[RELAY] %s disconnected", pe.userID)
	if last {
		h.publishAll(transport.PresenceUpdate,
			transport.Presence{UserID: pe.userID, IsOnline: false}, nil)
	}
}

// join adds the peer to a conversation room. Users may only join rooms of
// conversations they take part in.
func (h *hub) join(pe *peer, room string) error {
	if !isMember(room, pe.userID) {
		return errors.Errorf("%s may not join room %q", pe.userID, room)
	}
	h.mux.Lock()
	defer h.mux.Unlock()
	if _, ok := h.peers[pe]; !ok {
		return nil
	}
	members := h.rooms[room]
	if members == nil {
		members = make(map[*peer]struct{})
		h.rooms[room] = members
	}
	members[pe] = struct{}{}
	pe.rooms[room] = struct{}{}
	h.metrics.rooms.Set(float64(len(h.rooms)))
	jww.DEBUG.Printf("[RELAY] %s joined %s", pe.userID, room)
	return nil
}

func (h *hub) leave(pe *peer, room string) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.leaveLocked(pe, room)
	jww.DEBUG.Printf("[RELAY] %s left %s", pe.userID, room)
}

func (h *hub) leaveLocked(pe *peer, room string) {
	delete(pe.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, pe)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.metrics.rooms.Set(float64(len(h.rooms)))
}

// members returns the number of sockets in the room.
func (h *hub) members(room string) int {
	h.mux.RLock()
	defer h.mux.RUnlock()
	return len(h.rooms[room])
}

// publish sends the event to every socket in the room except skip.
func (h *hub) publish(room string, event transport.Event, data interface{},
	skip *peer) {
	frame, err := encode(event, data)
	if err != nil {
		jww.ERROR.Printf("[RELAY] %+v", err)
		return
	}

	h.mux.RLock()
	defer h.mux.RUnlock()
	for pe := range h.rooms[room] {
		if pe != skip {
			h.enqueueLocked(pe, event, frame)
		}
	}
}

// publishAll sends the event to every socket except skip.
func (h *hub) publishAll(event transport.Event, data interface{}, skip *peer) {
	frame, err := encode(event, data)
	if err != nil {
		jww.ERROR.Printf("[RELAY] %+v", err)
		return
	}

	h.mux.RLock()
	defer h.mux.RUnlock()
	for pe := range h.peers {
		if pe != skip {
			h.enqueueLocked(pe, event, frame)
		}
	}
}

func (h *hub) sendTo(pe *peer, event transport.Event, data interface{}) {
	frame, err := encode(event, data)
	if err != nil {
		jww.ERROR.Printf("[RELAY] %+v", err)
		return
	}

	h.mux.RLock()
	defer h.mux.RUnlock()
	if _, ok := h.peers[pe]; ok {
		h.enqueueLocked(pe, event, frame)
	}
}

// enqueueLocked must be called with at least the read lock held so the send
// channel cannot be closed underneath it.
func (h *hub) enqueueLocked(pe *peer, event transport.Event, frame []byte) {
	select {
	case pe.send <- frame:
		h.metrics.pushes.WithLabelValues(string(event)).Inc()
	default:
		h.metrics.dropped.Inc()
		jww.WARN.Printf("[RELAY] Dropping slow socket of %s", pe.userID)
		pe.close()
	}
}

func (h *hub) onlineLocked() []string {
	online := make([]string, 0, len(h.users))
	for u := range h.users {
		online = append(online, u)
	}
	sort.Strings(online)
	return online
}

// shutdown closes every socket. Their read pumps unregister them.
func (h *hub) shutdown() {
	h.mux.Lock()
	h.closed = true
	peers := make([]*peer, 0, len(h.peers))
	for pe := range h.peers {
		peers = append(peers, pe)
	}
	h.mux.Unlock()

	for _, pe := range peers {
		pe.close()
	}
}

func (pe *peer) close() {
	pe.kill.Do(func() {
		if err := pe.conn.Close(); err != nil {
			jww.DEBUG.Printf("[RELAY] Closing socket of %s: %v", pe.userID, err)
		}
	})
}

func encode(event transport.Event, data interface{}) ([]byte, error) {
	env, err := transport.NewEnvelope(event, data)
	if err != nil {
		return nil, err
	}
	frame, err := json.Marshal(env)
	return frame, errors.Wrapf(err, "failed to encode %s frame", event)
}

// isMember reports whether userID is one of the two participants of the
// conversation room.
func isMember(room, userID string) bool {
	a, b, ok := message.ParticipantsOf(room)
	return ok && (userID == a || userID == b)
}

// roomOf returns the room pushes about the message go to.
func roomOf(m message.Message) string {
	return message.ConversationKey(m.SenderID, m.ReceiverID)
}
