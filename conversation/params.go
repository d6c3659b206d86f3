////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"encoding/json"

	"gitlab.com/elixxir/marketchat/presence"
)

// Params configures a Session.
type Params struct {
	// PageSize is the number of messages fetched per history page.
	PageSize int

	// OutboxRate is the maximum number of queued drafts resent per second
	// after the push channel comes back.
	OutboxRate int

	// MarkRead controls whether inbound messages are marked read when the
	// conversation is opened and while it stays open.
	MarkRead bool

	// CatchUp refetches history after the push channel recovers, page by
	// page until it meets the window, so messages pushed while it was down
	// are not missed.
	CatchUp bool

	Presence presence.Params
}

// GetDefaultParams returns a Params object containing the default
// parameters.
func GetDefaultParams() Params {
	return Params{
		PageSize:   20,
		OutboxRate: 5,
		MarkRead:   true,
		CatchUp:    true,
		Presence:   presence.GetDefaultParams(),
	}
}

// GetParameters returns the default Params, or override with the given
// JSON parameters.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		if err := json.Unmarshal([]byte(params), &p); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
