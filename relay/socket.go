////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package relay

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// serveSocket upgrades an authenticated request to the push channel.
func (r *Relay) serveSocket(w http.ResponseWriter, req *http.Request) {
	userID := userOf(req)
	conn, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		jww.WARN.Printf("[RELAY] Upgrade for %s failed: %v", userID, err)
		return
	}

	pe := r.hub.newPeer(userID, conn)
	if err = r.hub.register(pe); err != nil {
		jww.DEBUG.Printf("[RELAY] Refusing socket of %s: %v", userID, err)
		_ = conn.Close()
		return
	}

	go r.writePump(pe)
	r.readPump(pe)
}

func (r *Relay) readPump(pe *peer) {
	defer func() {
		r.hub.unregister(pe)
		pe.close()
	}()

	pe.conn.SetReadLimit(r.params.ReadLimit)
	_ = pe.conn.SetReadDeadline(time.Now().Add(r.params.PongWait))
	pe.conn.SetPongHandler(func(string) error {
		return pe.conn.SetReadDeadline(time.Now().Add(r.params.PongWait))
	})

	for {
		_, frame, err := pe.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway,
				websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				jww.WARN.Printf("[RELAY] Socket of %s: %v", pe.userID, err)
			}
			return
		}
		r.handleFrame(pe, frame)
	}
}

func (r *Relay) writePump(pe *peer) {
	ticker := time.NewTicker(r.params.PingPeriod)
	defer func() {
		ticker.Stop()
		pe.close()
	}()

	for {
		select {
		case frame, ok := <-pe.send:
			_ = pe.conn.SetWriteDeadline(time.Now().Add(r.params.WriteWait))
			if !ok {
				_ = pe.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := pe.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = pe.conn.SetWriteDeadline(time.Now().Add(r.params.WriteWait))
			if err := pe.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleFrame applies one frame sent by a client. Clients may join and leave
// rooms and signal typing; everything else is pushed by the relay only.
func (r *Relay) handleFrame(pe *peer, frame []byte) {
	env, err := transport.ParseEnvelope(frame)
	if err != nil {
		jww.DEBUG.Printf("[RELAY] Bad frame from %s: %v", pe.userID, err)
		return
	}

	switch env.Event {
	case transport.JoinRoom:
		var room transport.Room
		if err = env.Decode(&room); err == nil {
			err = r.hub.join(pe, room.RoomID)
		}
	case transport.LeaveRoom:
		var room transport.Room
		if err = env.Decode(&room); err == nil {
			r.hub.leave(pe, room.RoomID)
		}
	case transport.TypingUpdate:
		var t transport.Typing
		if err = env.Decode(&t); err == nil {
			// The sender is whoever owns the socket
			t.UserID = pe.userID
			if isMember(t.RoomID, pe.userID) {
				r.hub.publish(t.RoomID, transport.TypingUpdate, t, pe)
			}
		}
	default:
		jww.DEBUG.Printf("[RELAY] Ignoring %s from %s", env.Event, pe.userID)
	}
	if err != nil {
		jww.DEBUG.Printf("[RELAY] %s from %s: %v", env.Event, pe.userID, err)
	}
}
