////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/negotiation"
	"gitlab.com/elixxir/marketchat/presence"
)

// View is an immutable snapshot of the open conversation, handed to the
// presentation layer on every change.
type View struct {
	ParticipantID string

	// Entries is the window, oldest first.
	Entries        []message.Entry
	HasMoreOlder   bool
	IsLoadingOlder bool

	PeerTyping   bool
	PeerPresence presence.State

	// Negotiations holds the derived state of every negotiation in the
	// window, keyed by negotiation id.
	Negotiations map[string]negotiation.Thread

	// Connected is false while the push channel is down.
	Connected bool

	// Queued is the number of drafts waiting for the channel to come back.
	Queued int
}

// Pending returns the entries that are still in flight or failed.
func (v View) Pending() []message.Entry {
	var out []message.Entry
	for _, e := range v.Entries {
		if e.IsOptimistic() {
			out = append(out, e)
		}
	}
	return out
}

// Last returns the newest entry.
func (v View) Last() (message.Entry, bool) {
	if len(v.Entries) == 0 {
		return message.Entry{}, false
	}
	return v.Entries[len(v.Entries)-1], true
}
