////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package reconcile

import "strconv"

// Source identifies the data path a batch of messages arrived on.
type Source uint8

const (
	// RestInitial is the first history page fetched when a conversation is
	// opened.
	RestInitial Source = iota

	// RestOlder is a history page older than everything loaded so far.
	RestOlder

	// Push is a message delivered over the push channel. Delivery is at
	// least once.
	Push

	// LocalEcho is an optimistic message produced by this client.
	LocalEcho
)

// String returns a human-readable version of [Source], used for debugging
// and logging. This function adheres to the [fmt.Stringer] interface.
func (s Source) String() string {
	switch s {
	case RestInitial:
		return "rest-initial"
	case RestOlder:
		return "rest-older"
	case Push:
		return "push"
	case LocalEcho:
		return "local-echo"
	default:
		return "Invalid Source: " + strconv.Itoa(int(s))
	}
}

// isPage reports whether the source is a paginated REST fetch.
func (s Source) isPage() bool {
	return s == RestInitial || s == RestOlder
}

// Report summarises what an integration did to the window.
type Report struct {
	Added      int
	Replaced   int
	Updated    int
	Duplicates int
	Dropped    int
}

// Changed reports whether the integration altered the visible window.
func (r Report) Changed() bool {
	return r.Added > 0 || r.Replaced > 0 || r.Updated > 0
}
