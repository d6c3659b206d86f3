////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package reconcile merges optimistic sends, REST history pages and pushed
// messages into one deduplicated, ordered window per conversation.
package reconcile

import (
	"sort"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
)

// Window is the ordered view of one conversation, oldest first. It is a
// value: every operation returns a new Window and leaves the receiver
// untouched, so a Window can be shared freely between goroutines.
type Window struct {
	entries      []message.Entry
	ids          map[string]struct{}
	pageSize     int
	hasMoreOlder bool
}

// NewWindow returns an empty window. pageSize is the history page size used
// to decide whether an older page may exist.
func NewWindow(pageSize int) Window {
	return Window{
		ids:      make(map[string]struct{}),
		pageSize: pageSize,
	}
}

// Integrate merges a batch from the given source into the window and returns
// the new window. Messages already present by id are not duplicated, a
// pushed or fetched message that belongs to a pending local send replaces
// it, and malformed messages are dropped.
//
// The batch is sorted and then merged with the existing entries, so beyond
// sorting the batch the cost is linear in the window and batch sizes.
func (w Window) Integrate(batch []message.Message, src Source) (Window, Report) {
	var r Report
	next := Window{
		ids:          copyIDs(w.ids, len(batch)),
		pageSize:     w.pageSize,
		hasMoreOlder: w.hasMoreOlder,
	}

	optimistic := w.optimistic()
	consumed := make(map[string]struct{})
	reads := make(map[string]*time.Time)
	incoming := make([]message.Entry, 0, len(batch))

	for _, m := range batch {
		if err := message.Validate(m); err != nil {
			jww.WARN.Printf("[RECONCILE] Dropping %s message: %s", src, err)
			r.Dropped++
			continue
		}

		if _, exists := next.ids[m.ID]; exists {
			r.Duplicates++
			if m.IsRead && src != LocalEcho {
				reads[m.ID] = readTime(m)
			}
			continue
		}

		var e message.Entry
		if src == LocalEcho {
			e = message.Entry{LocalID: m.ID, Status: message.Pending,
				Message: m}
			r.Added++
		} else {
			e = message.ConfirmedEntry(m)
			if localID, ok := optimistic.match(m, consumed); ok {
				consumed[localID] = struct{}{}
				delete(next.ids, localID)
				e.LocalID = localID
				r.Replaced++
				jww.DEBUG.Printf("[RECONCILE] %s message %s replaces "+
					"optimistic %s", src, m.ID, localID)
			} else {
				r.Added++
			}
		}

		next.ids[m.ID] = struct{}{}
		incoming = append(incoming, e)
	}

	sort.SliceStable(incoming, func(i, j int) bool {
		return incoming[i].Before(incoming[j])
	})

	merged := make([]message.Entry, 0, len(w.entries)+len(incoming))
	j := 0
	for _, e := range w.entries {
		if _, gone := consumed[e.LocalID]; gone && e.IsOptimistic() {
			continue
		}
		if at, ok := reads[e.ID()]; ok && !e.Message.IsRead {
			e = withRead(e, at)
			r.Updated++
		}
		for j < len(incoming) && incoming[j].Before(e) {
			merged = append(merged, incoming[j])
			j++
		}
		merged = append(merged, e)
	}
	merged = append(merged, incoming[j:]...)
	next.entries = merged

	if src.isPage() {
		next.hasMoreOlder = w.pageSize > 0 && len(batch) >= w.pageSize
	}

	jww.TRACE.Printf("[RECONCILE] Integrated %d %s messages: added %d, "+
		"replaced %d, updated %d, duplicates %d, dropped %d; window %d",
		len(batch), src, r.Added, r.Replaced, r.Updated, r.Duplicates,
		r.Dropped, len(merged))

	return next, r
}

// AddPending places an optimistic entry for a draft in the window.
func (w Window) AddPending(d message.Draft, now time.Time) (Window, Report) {
	return w.Integrate([]message.Message{d.Optimistic(now).Message}, LocalEcho)
}

// Confirm swaps the optimistic entry localID for the canonical message the
// server returned. The two are never visible together: if the canonical
// message already arrived through another path the optimistic entry is
// simply removed. Returns false if nothing changed.
func (w Window) Confirm(localID string, canonical message.Message) (Window, bool) {
	if err := message.Validate(canonical); err != nil {
		jww.WARN.Printf("[RECONCILE] Server confirmed %s with a malformed "+
			"message: %s", localID, err)
		return w.Fail(localID)
	}

	next := w.clone()
	pos := next.indexOfLocal(localID)

	if _, exists := next.ids[canonical.ID]; exists {
		if pos < 0 {
			return w, false
		}
		next.removeAt(pos)
		return next, true
	}

	// The optimistic entry may have been consumed by a pushed echo that
	// belonged to an identical twin send; claim that twin instead.
	if pos < 0 {
		pos = next.indexOfTwin(canonical)
	}
	if pos >= 0 {
		localID = next.entries[pos].LocalID
		next.removeAt(pos)
	}

	e := message.ConfirmedEntry(canonical)
	e.LocalID = localID
	next.insert(e)
	return next, true
}

// Fail marks the optimistic entry localID as failed. The entry stays
// visible so it can be retried.
func (w Window) Fail(localID string) (Window, bool) {
	return w.setStatus(localID, message.Failed)
}

// Retry moves a failed optimistic entry back to pending.
func (w Window) Retry(localID string) (Window, bool) {
	return w.setStatus(localID, message.Pending)
}

// Discard removes an optimistic entry, for example when the user abandons a
// failed send.
func (w Window) Discard(localID string) (Window, bool) {
	pos := w.indexOfLocal(localID)
	if pos < 0 {
		return w, false
	}
	next := w.clone()
	next.removeAt(pos)
	return next, true
}

// ApplyReadReceipt records that the message was read by its receiver.
func (w Window) ApplyReadReceipt(messageID string, readAt time.Time) (Window, bool) {
	pos := w.indexOf(messageID)
	if pos < 0 || w.entries[pos].IsOptimistic() ||
		w.entries[pos].Message.IsRead {
		return w, false
	}
	next := w.clone()
	next.entries[pos] = withRead(next.entries[pos], &readAt)
	return next, true
}

// MarkInboundRead marks every confirmed message addressed to viewerID as
// read and returns the ids it changed.
func (w Window) MarkInboundRead(viewerID string, readAt time.Time) (Window, []string) {
	var changed []string
	next := w
	for i, e := range w.entries {
		if e.IsOptimistic() || e.Message.IsRead ||
			e.Message.ReceiverID != viewerID {
			continue
		}
		if changed == nil {
			next = w.clone()
		}
		at := readAt
		next.entries[i] = withRead(e, &at)
		changed = append(changed, e.ServerID)
	}
	return next, changed
}

// Entries returns a copy of the visible entries, oldest first.
func (w Window) Entries() []message.Entry {
	out := make([]message.Entry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Messages returns the messages of every visible entry, oldest first.
func (w Window) Messages() []message.Message {
	out := make([]message.Message, len(w.entries))
	for i := range w.entries {
		out[i] = w.entries[i].Message
	}
	return out
}

// Len returns the number of visible entries.
func (w Window) Len() int {
	return len(w.entries)
}

// HasMoreOlder reports whether an older history page may exist.
func (w Window) HasMoreOlder() bool {
	return w.hasMoreOlder
}

// PageSize returns the history page size the window was built with.
func (w Window) PageSize() int {
	return w.pageSize
}

// OldestLoaded returns the creation time of the oldest confirmed entry, the
// cursor for loading older history.
func (w Window) OldestLoaded() (time.Time, bool) {
	for _, e := range w.entries {
		if !e.IsOptimistic() {
			return e.Message.CreatedAt, true
		}
	}
	return time.Time{}, false
}

// Lookup returns the entry with the given server or local id.
func (w Window) Lookup(id string) (message.Entry, bool) {
	if pos := w.indexOf(id); pos >= 0 {
		return w.entries[pos], true
	}
	if pos := w.indexOfLocal(id); pos >= 0 {
		return w.entries[pos], true
	}
	return message.Entry{}, false
}

func (w Window) setStatus(localID string, status message.SendStatus) (Window, bool) {
	pos := w.indexOfLocal(localID)
	if pos < 0 || w.entries[pos].Status == status {
		return w, false
	}
	next := w.clone()
	next.entries[pos].Status = status
	return next, true
}

func (w Window) clone() Window {
	entries := make([]message.Entry, len(w.entries), len(w.entries)+1)
	copy(entries, w.entries)
	return Window{
		entries:      entries,
		ids:          copyIDs(w.ids, 1),
		pageSize:     w.pageSize,
		hasMoreOlder: w.hasMoreOlder,
	}
}

func (w Window) indexOf(id string) int {
	if _, ok := w.ids[id]; !ok {
		return -1
	}
	for i := range w.entries {
		if w.entries[i].ID() == id {
			return i
		}
	}
	return -1
}

func (w Window) indexOfLocal(localID string) int {
	if localID == "" {
		return -1
	}
	for i := len(w.entries) - 1; i >= 0; i-- {
		e := w.entries[i]
		if e.IsOptimistic() && e.LocalID == localID {
			return i
		}
	}
	return -1
}

func (w Window) indexOfTwin(m message.Message) int {
	for i := range w.entries {
		e := w.entries[i]
		if e.IsOptimistic() && e.Message.SameContent(m) {
			return i
		}
	}
	return -1
}

// removeAt must only be called on a clone.
func (w *Window) removeAt(pos int) {
	delete(w.ids, w.entries[pos].ID())
	w.entries = append(w.entries[:pos], w.entries[pos+1:]...)
}

// insert must only be called on a clone.
func (w *Window) insert(e message.Entry) {
	pos := sort.Search(len(w.entries), func(i int) bool {
		return e.Before(w.entries[i])
	})
	w.entries = append(w.entries, message.Entry{})
	copy(w.entries[pos+1:], w.entries[pos:])
	w.entries[pos] = e
	w.ids[e.ID()] = struct{}{}
}

// optimistic collects the unconfirmed entries of the window, which are few.
func (w Window) optimistic() pendingSet {
	ps := pendingSet{byLocal: make(map[string]message.Entry)}
	for _, e := range w.entries {
		if e.IsOptimistic() {
			ps.byLocal[e.LocalID] = e
			ps.ordered = append(ps.ordered, e)
		}
	}
	return ps
}

type pendingSet struct {
	byLocal map[string]message.Entry
	ordered []message.Entry
}

// match finds the optimistic entry a confirmed message belongs to: by the
// echoed client reference when the backend supports it, otherwise the oldest
// unconsumed entry with the same content.
func (ps pendingSet) match(m message.Message,
	consumed map[string]struct{}) (string, bool) {
	if len(ps.ordered) == 0 {
		return "", false
	}
	if m.ClientRef != "" {
		if _, used := consumed[m.ClientRef]; used {
			return "", false
		}
		_, ok := ps.byLocal[m.ClientRef]
		return m.ClientRef, ok
	}
	for _, e := range ps.ordered {
		if _, used := consumed[e.LocalID]; used {
			continue
		}
		if e.Message.SameContent(m) {
			return e.LocalID, true
		}
	}
	return "", false
}

func copyIDs(ids map[string]struct{}, extra int) map[string]struct{} {
	out := make(map[string]struct{}, len(ids)+extra)
	for id := range ids {
		out[id] = struct{}{}
	}
	return out
}

func readTime(m message.Message) *time.Time {
	if m.ReadAt != nil {
		at := *m.ReadAt
		return &at
	}
	return nil
}

func withRead(e message.Entry, at *time.Time) message.Entry {
	e.Message.IsRead = true
	e.Message.ReadAt = at
	return e
}
