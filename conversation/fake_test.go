////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/transport"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeTransport is an in-memory transport.Adapter. History is served from
// memory, sends are answered by sendHook and pushes are injected by the test.
type fakeTransport struct {
	selfID string

	connected bool
	rooms     map[string]int
	history   map[string][]message.Message // oldest first
	gates     map[string]chan struct{}
	fetching  chan string
	fetches   int

	sendErr  error
	sendHook func(d message.Draft) (message.Message, error)
	sent     []message.Draft
	nextID   int

	read     []string
	convRead []string
	typing   []bool

	handlers map[transport.ListenerID]interface{}
	lastID   int
	closed   bool
	mux      sync.Mutex
}

func newFakeTransport(selfID string) *fakeTransport {
	return &fakeTransport{
		selfID:    selfID,
		connected: true,
		rooms:     make(map[string]int),
		history:   make(map[string][]message.Message),
		gates:     make(map[string]chan struct{}),
		fetching:  make(chan string, 10),
		handlers:  make(map[transport.ListenerID]interface{}),
	}
}

// seed adds n alternating messages between selfID and participantID after
// the ones already there.
func (ft *fakeTransport) seed(participantID string, n int) {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	from := len(ft.history[participantID])
	for i := from; i < from+n; i++ {
		from, to := ft.selfID, participantID
		if i%2 == 0 {
			from, to = to, from
		}
		ft.history[participantID] = append(ft.history[participantID],
			message.Message{
				ID:         fmt.Sprintf("%s-%03d", participantID, i),
				SenderID:   from,
				ReceiverID: to,
				Kind:       message.TextKind,
				Body:       fmt.Sprintf("message %d", i),
				CreatedAt:  epoch.Add(time.Duration(i) * time.Minute),
			})
	}
}

// gate makes FetchHistory for participantID block until the returned
// function is called.
func (ft *fakeTransport) gate(participantID string) func() {
	ch := make(chan struct{})
	ft.mux.Lock()
	ft.gates[participantID] = ch
	ft.mux.Unlock()
	return func() { close(ch) }
}

func (ft *fakeTransport) Connect(_ context.Context, participantID string) error {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	ft.rooms[participantID]++
	if !ft.connected {
		return errors.WithStack(message.ErrChannelDisconnected)
	}
	return nil
}

func (ft *fakeTransport) Disconnect(participantID string) {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	delete(ft.rooms, participantID)
}

func (ft *fakeTransport) Connected() bool {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	return ft.connected
}

func (ft *fakeTransport) Send(_ context.Context, d message.Draft) (message.Message, error) {
	ft.mux.Lock()
	ft.sent = append(ft.sent, d)
	hook, sendErr := ft.sendHook, ft.sendErr
	ft.nextID++
	id := fmt.Sprintf("srv-%d", ft.nextID)
	ft.mux.Unlock()

	if hook != nil {
		return hook(d)
	}
	if sendErr != nil {
		return message.Message{}, &message.SendFailedError{Draft: d, Err: sendErr}
	}
	return canonical(d, id), nil
}

func canonical(d message.Draft, id string) message.Message {
	return message.Message{
		ID:         id,
		SenderID:   d.SenderID,
		ReceiverID: d.ReceiverID,
		Kind:       d.Kind,
		Body:       d.Body,
		Payload:    d.Payload,
		CreatedAt:  time.Now(),
		ClientRef:  d.LocalID,
	}
}

func (ft *fakeTransport) FetchHistory(_ context.Context, participantID string,
	page, limit int) (transport.HistoryPage, error) {
	ft.mux.Lock()
	ft.fetches++
	gate := ft.gates[participantID]
	ft.mux.Unlock()

	ft.fetching <- participantID
	if gate != nil {
		<-gate
	}

	ft.mux.Lock()
	defer ft.mux.Unlock()
	all := ft.history[participantID]
	var data []message.Message
	for i := len(all) - 1 - (page-1)*limit; i >= 0 && len(data) < limit; i-- {
		data = append(data, all[i])
	}
	return transport.HistoryPage{
		Data: data,
		Meta: transport.PageMeta{Total: len(all), Page: page, Limit: limit,
			TotalPages: (len(all) + limit - 1) / limit},
	}, nil
}

func (ft *fakeTransport) MarkRead(_ context.Context, messageID string) error {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	ft.read = append(ft.read, messageID)
	return nil
}

func (ft *fakeTransport) MarkConversationRead(_ context.Context, participantID string) error {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	ft.convRead = append(ft.convRead, participantID)
	return nil
}

func (ft *fakeTransport) EmitTyping(_ string, isTyping bool) error {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	ft.typing = append(ft.typing, isTyping)
	return nil
}

func (ft *fakeTransport) add(h interface{}) transport.ListenerID {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	ft.lastID++
	id := transport.ListenerID(fmt.Sprint(ft.lastID))
	ft.handlers[id] = h
	return id
}

func (ft *fakeTransport) OnPushedMessage(h func(message.Message)) transport.ListenerID {
	return ft.add(h)
}
func (ft *fakeTransport) OnReadReceipt(h func(transport.ReadReceipt)) transport.ListenerID {
	return ft.add(h)
}
func (ft *fakeTransport) OnTyping(h func(transport.Typing)) transport.ListenerID {
	return ft.add(h)
}
func (ft *fakeTransport) OnPresence(h func(transport.Presence)) transport.ListenerID {
	return ft.add(h)
}
func (ft *fakeTransport) OnRoster(h func(transport.Roster)) transport.ListenerID {
	return ft.add(h)
}
func (ft *fakeTransport) OnConnectionState(h func(transport.ConnectionState)) transport.ListenerID {
	return ft.add(h)
}

func (ft *fakeTransport) Unregister(id transport.ListenerID) {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	delete(ft.handlers, id)
}

func (ft *fakeTransport) Close() {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	ft.handlers = make(map[transport.ListenerID]interface{})
	ft.rooms = make(map[string]int)
	ft.closed = true
}

func (ft *fakeTransport) snapshot() []interface{} {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	out := make([]interface{}, 0, len(ft.handlers))
	for _, h := range ft.handlers {
		out = append(out, h)
	}
	return out
}

// push delivers a pushed message to every registered handler.
func (ft *fakeTransport) push(m message.Message) {
	for _, h := range ft.snapshot() {
		if f, ok := h.(func(message.Message)); ok {
			f(m)
		}
	}
}

func (ft *fakeTransport) pushReceipt(rr transport.ReadReceipt) {
	for _, h := range ft.snapshot() {
		if f, ok := h.(func(transport.ReadReceipt)); ok {
			f(rr)
		}
	}
}

func (ft *fakeTransport) pushTyping(t transport.Typing) {
	for _, h := range ft.snapshot() {
		if f, ok := h.(func(transport.Typing)); ok {
			f(t)
		}
	}
}

func (ft *fakeTransport) pushPresence(p transport.Presence) {
	for _, h := range ft.snapshot() {
		if f, ok := h.(func(transport.Presence)); ok {
			f(p)
		}
	}
}

// setConnected flips the connection and notifies the state handlers.
func (ft *fakeTransport) setConnected(connected bool) {
	ft.mux.Lock()
	ft.connected = connected
	ft.mux.Unlock()
	for _, h := range ft.snapshot() {
		if f, ok := h.(func(transport.ConnectionState)); ok {
			f(transport.ConnectionState{Connected: connected})
		}
	}
}

func (ft *fakeTransport) listeners() int {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	return len(ft.handlers)
}

func (ft *fakeTransport) sends() int {
	ft.mux.Lock()
	defer ft.mux.Unlock()
	return len(ft.sent)
}
