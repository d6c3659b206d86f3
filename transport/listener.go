////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"strconv"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// ListenerID identifies a registered handler so it can be removed.
type ListenerID string

type listenerRecord struct {
	id    ListenerID
	room  string
	hear  func(Envelope)
	state func(ConnectionState)
}

// listenerMap routes incoming envelopes to handlers by event and room. A
// handler registered for the empty room hears every room.
type listenerMap struct {
	listeners map[Event][]*listenerRecord
	lastID    uint64
	mux       sync.RWMutex
}

func newListenerMap() *listenerMap {
	return &listenerMap{
		listeners: make(map[Event][]*listenerRecord),
	}
}

// Register adds a handler and returns its id.
func (lm *listenerMap) Register(event Event, room string,
	hear func(Envelope)) ListenerID {
	return lm.add(event, &listenerRecord{room: room, hear: hear})
}

// RegisterState adds a connection state handler and returns its id.
func (lm *listenerMap) RegisterState(h func(ConnectionState)) ListenerID {
	return lm.add(connectionStateEvent, &listenerRecord{state: h})
}

func (lm *listenerMap) add(event Event, lr *listenerRecord) ListenerID {
	lm.mux.Lock()
	defer lm.mux.Unlock()

	lm.lastID++
	lr.id = ListenerID(strconv.FormatUint(lm.lastID, 10))
	lm.listeners[event] = append(lm.listeners[event], lr)
	return lr.id
}

// Unregister removes the handler. Unknown ids are ignored.
func (lm *listenerMap) Unregister(id ListenerID) {
	lm.mux.Lock()
	defer lm.mux.Unlock()

	for event, records := range lm.listeners {
		for i, lr := range records {
			if lr.id == id {
				lm.listeners[event] = append(records[:i:i], records[i+1:]...)
				return
			}
		}
	}
}

// Len returns the number of registered handlers.
func (lm *listenerMap) Len() int {
	lm.mux.RLock()
	defer lm.mux.RUnlock()
	n := 0
	for _, records := range lm.listeners {
		n += len(records)
	}
	return n
}

// Speak delivers the envelope to every matching handler. An empty room
// reaches every handler of the event.
func (lm *listenerMap) Speak(env Envelope, room string) {
	lm.mux.RLock()
	matched := make([]*listenerRecord, 0, len(lm.listeners[env.Event]))
	for _, lr := range lm.listeners[env.Event] {
		if room == "" || lr.room == "" || lr.room == room {
			matched = append(matched, lr)
		}
	}
	lm.mux.RUnlock()

	if len(matched) == 0 {
		jww.TRACE.Printf("[TRANSPORT] No listener for %s in room %q",
			env.Event, room)
		return
	}
	for _, lr := range matched {
		lr.hear(env)
	}
}

// SpeakState delivers a connection state change to every state handler.
func (lm *listenerMap) SpeakState(cs ConnectionState) {
	lm.mux.RLock()
	records := make([]*listenerRecord, len(lm.listeners[connectionStateEvent]))
	copy(records, lm.listeners[connectionStateEvent])
	lm.mux.RUnlock()

	for _, lr := range records {
		lr.state(cs)
	}
}
