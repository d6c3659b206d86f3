////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package presence tracks who is online and who is typing. Local typing is
// debounced before it reaches the wire and remote typing decays when the
// peer stops refreshing it.
package presence

import (
	"strconv"
	"sync"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// State is the online state of a participant as far as the roster knows.
type State uint8

const (
	Unknown State = iota
	Online
	Offline
)

// String returns a human-readable version of [State], used for debugging and
// logging. This function adheres to the [fmt.Stringer] interface.
func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Online:
		return "online"
	case Offline:
		return "offline"
	default:
		return "Invalid State: " + strconv.Itoa(int(s))
	}
}

// Params configures the typing timers.
type Params struct {
	// TypingIdle is how long after the last keystroke the local user is
	// considered to have stopped typing.
	TypingIdle time.Duration

	// TypingDecay is how long a remote typing signal stays true without a
	// refresh.
	TypingDecay time.Duration
}

// GetDefaultParams returns a Params object containing the default
// parameters.
func GetDefaultParams() Params {
	return Params{
		TypingIdle:  2 * time.Second,
		TypingDecay: 5 * time.Second,
	}
}

// Emitter sends the local user's typing state to a participant.
type Emitter func(participantID string, isTyping bool) error

// typingTimer is the typing state of one participant and the timer that ends
// it. gen is bumped on every change so a timer that fires late can tell it
// has been superseded.
type typingTimer struct {
	typing bool
	timer  *time.Timer
	gen    uint64

	// issued and served order local emits. Each emit takes the next ticket
	// and waits for the previous one to be served.
	issued uint64
	served uint64
}

// Tracker holds presence and typing state. It is safe for concurrent use.
type Tracker struct {
	params   Params
	emit     Emitter
	onChange func(participantID string)

	local    map[string]*typingTimer
	remote   map[string]*typingTimer
	presence map[string]State
	stopped  bool
	mux      sync.Mutex
	sent     *sync.Cond
}

// NewTracker creates a Tracker. emit sends local typing changes and onChange
// is called whenever the remote typing or online state of a participant
// changes, including when a remote typing signal decays. Either may be nil.
func NewTracker(p Params, emit Emitter, onChange func(participantID string)) *Tracker {
	t := &Tracker{
		params:   p,
		emit:     emit,
		onChange: onChange,
		local:    make(map[string]*typingTimer),
		remote:   make(map[string]*typingTimer),
		presence: make(map[string]State),
	}
	t.sent = sync.NewCond(&t.mux)
	return t
}

// SetTyping records a keystroke (true) or an explicit stop (false) of the
// local user in the conversation with participantID. A burst of keystrokes
// emits one start and, after TypingIdle without keystrokes, one stop.
func (t *Tracker) SetTyping(participantID string, isTyping bool) {
	t.mux.Lock()
	if t.stopped {
		t.mux.Unlock()
		return
	}
	tt := t.local[participantID]
	if tt == nil {
		tt = &typingTimer{}
		t.local[participantID] = tt
	}
	tt.gen++
	gen := tt.gen
	if tt.timer != nil {
		tt.timer.Stop()
		tt.timer = nil
	}

	changed := tt.typing != isTyping
	tt.typing = isTyping
	if isTyping {
		tt.timer = time.AfterFunc(t.params.TypingIdle, func() {
			t.localIdle(participantID, gen)
		})
	}
	var ticket uint64
	if changed {
		tt.issued++
		ticket = tt.issued
	}
	t.mux.Unlock()

	if changed {
		t.sendInOrder(participantID, tt, ticket, isTyping)
	}
}

func (t *Tracker) localIdle(participantID string, gen uint64) {
	t.mux.Lock()
	tt := t.local[participantID]
	if t.stopped || tt == nil || tt.gen != gen || !tt.typing {
		t.mux.Unlock()
		return
	}
	tt.typing = false
	tt.timer = nil
	tt.issued++
	ticket := tt.issued
	t.mux.Unlock()

	t.sendInOrder(participantID, tt, ticket, false)
}

// sendInOrder emits once every earlier emit to the participant is done, so
// the peer sees the changes in the order they were made.
func (t *Tracker) sendInOrder(participantID string, tt *typingTimer,
	ticket uint64, isTyping bool) {
	t.mux.Lock()
	for tt.served+1 != ticket {
		t.sent.Wait()
	}
	t.mux.Unlock()

	t.send(participantID, isTyping)

	t.mux.Lock()
	tt.served = ticket
	t.sent.Broadcast()
	t.mux.Unlock()
}

func (t *Tracker) send(participantID string, isTyping bool) {
	if t.emit == nil {
		return
	}
	if err := t.emit(participantID, isTyping); err != nil {
		jww.DEBUG.Printf("[PRESENCE] Failed to emit typing=%t to %s: %+v",
			isTyping, participantID, err)
	}
}

// OnRemoteTyping applies a typing signal from participantID. The latest
// signal wins; true decays to false after TypingDecay unless refreshed.
func (t *Tracker) OnRemoteTyping(participantID string, isTyping bool) {
	t.mux.Lock()
	if t.stopped {
		t.mux.Unlock()
		return
	}
	tt := t.remote[participantID]
	if tt == nil {
		tt = &typingTimer{}
		t.remote[participantID] = tt
	}
	tt.gen++
	gen := tt.gen
	if tt.timer != nil {
		tt.timer.Stop()
		tt.timer = nil
	}
	changed := tt.typing != isTyping
	tt.typing = isTyping
	if isTyping {
		tt.timer = time.AfterFunc(t.params.TypingDecay, func() {
			t.remoteDecay(participantID, gen)
		})
	}
	t.mux.Unlock()

	if changed {
		t.changed(participantID)
	}
}

func (t *Tracker) remoteDecay(participantID string, gen uint64) {
	t.mux.Lock()
	tt := t.remote[participantID]
	if t.stopped || tt == nil || tt.gen != gen || !tt.typing {
		t.mux.Unlock()
		return
	}
	tt.typing = false
	tt.timer = nil
	t.mux.Unlock()

	jww.TRACE.Printf("[PRESENCE] Typing of %s decayed", participantID)
	t.changed(participantID)
}

// IsTyping reports whether participantID is currently typing to us.
func (t *Tracker) IsTyping(participantID string) bool {
	t.mux.Lock()
	defer t.mux.Unlock()
	tt := t.remote[participantID]
	return tt != nil && tt.typing
}

// SetPresence applies a presence update for one participant.
func (t *Tracker) SetPresence(participantID string, online bool) {
	s := Offline
	if online {
		s = Online
	}
	t.mux.Lock()
	changed := t.presence[participantID] != s
	t.presence[participantID] = s
	t.mux.Unlock()

	if changed {
		t.changed(participantID)
	}
}

// SetRoster replaces the presence table with the given set of online users.
// Everyone previously known and not in the roster becomes offline.
func (t *Tracker) SetRoster(online []string) {
	next := make(map[string]State, len(online))
	for _, id := range online {
		next[id] = Online
	}

	t.mux.Lock()
	var changed []string
	for id, s := range t.presence {
		if _, ok := next[id]; !ok {
			next[id] = Offline
			if s != Offline {
				changed = append(changed, id)
			}
		}
	}
	for _, id := range online {
		if t.presence[id] != Online {
			changed = append(changed, id)
		}
	}
	t.presence = next
	t.mux.Unlock()

	for _, id := range changed {
		t.changed(id)
	}
}

// Presence returns the known state of participantID.
func (t *Tracker) Presence(participantID string) State {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.presence[participantID]
}

// IsOnline reports whether participantID is known to be online. Unknown
// participants are reported offline.
func (t *Tracker) IsOnline(participantID string) bool {
	return t.Presence(participantID) == Online
}

// Degrade forgets everything learned from the push channel. It is called
// when the channel goes down: presence becomes unknown and remote typing is
// cleared.
func (t *Tracker) Degrade() {
	t.mux.Lock()
	var changed []string
	for id, s := range t.presence {
		if s != Unknown {
			changed = append(changed, id)
		}
	}
	t.presence = make(map[string]State)
	for id, tt := range t.remote {
		if tt.timer != nil {
			tt.timer.Stop()
		}
		if tt.typing {
			changed = append(changed, id)
		}
	}
	t.remote = make(map[string]*typingTimer)
	t.mux.Unlock()

	jww.INFO.Printf("[PRESENCE] Degraded %d participants to unknown", len(changed))
	for _, id := range changed {
		t.changed(id)
	}
}

// Stop cancels every timer. Calls after Stop are ignored.
func (t *Tracker) Stop() {
	t.mux.Lock()
	defer t.mux.Unlock()
	t.stopped = true
	for _, tt := range t.local {
		if tt.timer != nil {
			tt.timer.Stop()
		}
	}
	for _, tt := range t.remote {
		if tt.timer != nil {
			tt.timer.Stop()
		}
	}
}

func (t *Tracker) changed(participantID string) {
	if t.onChange != nil {
		t.onChange(participantID)
	}
}
