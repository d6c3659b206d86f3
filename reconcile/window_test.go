////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package reconcile

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/marketchat/message"
)

const (
	me   = "alice"
	peer = "bob"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func textAt(id string, sec int, sender, receiver, body string) message.Message {
	return message.Message{
		ID:         id,
		SenderID:   sender,
		ReceiverID: receiver,
		Kind:       message.TextKind,
		Body:       body,
		CreatedAt:  epoch.Add(time.Duration(sec) * time.Second),
	}
}

func history(from, to int) []message.Message {
	msgs := make([]message.Message, 0, to-from)
	// Pages arrive newest first.
	for i := to - 1; i >= from; i-- {
		msgs = append(msgs, textAt(fmt.Sprintf("m%03d", i), i, peer, me,
			fmt.Sprintf("message %d", i)))
	}
	return msgs
}

func requireOrdered(t *testing.T, w Window) {
	t.Helper()
	entries := w.Entries()
	seen := make(map[string]bool, len(entries))
	for i, e := range entries {
		require.False(t, seen[e.ID()], "duplicate %s", e.ID())
		seen[e.ID()] = true
		if i > 0 {
			require.True(t, entries[i-1].Before(e),
				"%s should not precede %s", entries[i-1].ID(), e.ID())
		}
	}
}

func visibleSends(w Window, body string) int {
	n := 0
	for _, e := range w.Entries() {
		if e.Message.SenderID == me && e.Message.Body == body {
			n++
		}
	}
	return n
}

func TestWindow_Integrate_Idempotent(t *testing.T) {
	batch := history(0, 10)
	once, r := NewWindow(20).Integrate(batch, RestInitial)
	require.Equal(t, 10, r.Added)

	twice, r := once.Integrate(batch, Push)
	require.Equal(t, 0, r.Added)
	require.Equal(t, 10, r.Duplicates)
	require.False(t, r.Changed())
	require.Equal(t, once.Entries(), twice.Entries())

	// Duplicates inside one batch collapse too.
	doubled := append(history(10, 12), history(10, 12)...)
	w, r := once.Integrate(doubled, Push)
	require.Equal(t, 2, r.Added)
	require.Equal(t, 2, r.Duplicates)
	require.Equal(t, 12, w.Len())
}

func TestWindow_Integrate_Ordering(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var all []message.Message
	for i := 0; i < 200; i++ {
		// Few distinct seconds force plenty of timestamp ties.
		all = append(all, textAt(fmt.Sprintf("id-%03d", rng.Intn(1000)),
			rng.Intn(20), peer, me, "x"))
	}

	w := NewWindow(20)
	for len(all) > 0 {
		n := 1 + rng.Intn(15)
		if n > len(all) {
			n = len(all)
		}
		src := []Source{RestInitial, RestOlder, Push}[rng.Intn(3)]
		w, _ = w.Integrate(all[:n], src)
		all = all[n:]
		requireOrdered(t, w)
	}

	entries := w.Entries()
	for i := 1; i < len(entries); i++ {
		a, b := entries[i-1].Message, entries[i].Message
		if a.CreatedAt.Equal(b.CreatedAt) {
			require.Less(t, a.ID, b.ID)
		} else {
			require.True(t, a.CreatedAt.Before(b.CreatedAt))
		}
	}
}

func TestWindow_Integrate_DropsMalformed(t *testing.T) {
	bad := []message.Message{
		{ID: "x1", SenderID: peer, ReceiverID: me, Kind: "sticker",
			CreatedAt: epoch},
		{ID: "x2", SenderID: peer, ReceiverID: me,
			Kind:      message.NegotiationKind,
			Payload:   json.RawMessage(`{"type":"response","response":{"accepted":true}}`),
			CreatedAt: epoch},
		textAt("ok", 1, peer, me, "fine"),
	}
	w, r := NewWindow(20).Integrate(bad, Push)
	require.Equal(t, 2, r.Dropped)
	require.Equal(t, 1, w.Len())
	_, found := w.Lookup("ok")
	require.True(t, found)
}

func TestWindow_OlderPage(t *testing.T) {
	w, _ := NewWindow(20).Integrate(history(15, 35), RestInitial)
	require.Equal(t, 20, w.Len())
	require.True(t, w.HasMoreOlder())

	cursor, ok := w.OldestLoaded()
	require.True(t, ok)
	require.Equal(t, epoch.Add(15*time.Second), cursor)

	older, r := w.Integrate(history(0, 15), RestOlder)
	require.Equal(t, 15, r.Added)
	require.Equal(t, 35, older.Len())
	require.False(t, older.HasMoreOlder())
	requireOrdered(t, older)

	cursor, _ = older.OldestLoaded()
	require.Equal(t, epoch, cursor)
	require.Equal(t, "m000", older.Entries()[0].ID())

	// The original window is untouched.
	require.Equal(t, 20, w.Len())
	require.True(t, w.HasMoreOlder())
}

func TestWindow_OlderPage_OverlapIsDeduplicated(t *testing.T) {
	w, _ := NewWindow(20).Integrate(history(15, 35), RestInitial)

	// New messages shifted the page offsets: the older page repeats two
	// already loaded messages.
	older, r := w.Integrate(history(0, 17), RestOlder)
	require.Equal(t, 15, r.Added)
	require.Equal(t, 2, r.Duplicates)
	require.Equal(t, 35, older.Len())
	requireOrdered(t, older)
}

func TestWindow_Confirm_RestBeforePush(t *testing.T) {
	w, _ := NewWindow(20).Integrate(history(0, 3), RestInitial)
	d := message.NewDraft(me, peer, message.TextKind, "hello", nil)

	w, _ = w.AddPending(d, epoch.Add(10*time.Second))
	require.Equal(t, 1, visibleSends(w, "hello"))
	e, ok := w.Lookup(d.LocalID)
	require.True(t, ok)
	require.Equal(t, message.Pending, e.Status)

	canonical := textAt("srv-1", 9, me, peer, "hello")
	canonical.ClientRef = d.LocalID
	w, changed := w.Confirm(d.LocalID, canonical)
	require.True(t, changed)
	require.Equal(t, 1, visibleSends(w, "hello"))

	e, ok = w.Lookup("srv-1")
	require.True(t, ok)
	require.Equal(t, message.Confirmed, e.Status)
	require.Equal(t, d.LocalID, e.LocalID)

	w, r := w.Integrate([]message.Message{canonical}, Push)
	require.Equal(t, 1, r.Duplicates)
	require.Equal(t, 1, visibleSends(w, "hello"))
	requireOrdered(t, w)
}

func TestWindow_Confirm_PushBeforeRest(t *testing.T) {
	for _, echoRef := range []bool{true, false} {
		w := NewWindow(20)
		d := message.NewDraft(me, peer, message.TextKind, "hello", nil)
		w, _ = w.AddPending(d, epoch)
		require.Equal(t, 1, visibleSends(w, "hello"))

		canonical := textAt("srv-1", 1, me, peer, "hello")
		pushed := canonical
		if echoRef {
			pushed.ClientRef = d.LocalID
		}

		w, r := w.Integrate([]message.Message{pushed}, Push)
		require.Equal(t, 1, r.Replaced, "echoRef=%t", echoRef)
		require.Equal(t, 1, visibleSends(w, "hello"))

		w, changed := w.Confirm(d.LocalID, canonical)
		require.False(t, changed)
		require.Equal(t, 1, visibleSends(w, "hello"))
		require.Equal(t, 1, w.Len())
	}
}

func TestWindow_Confirm_IdenticalTwins(t *testing.T) {
	w := NewWindow(20)
	a := message.NewDraft(me, peer, message.TextKind, "ok", nil)
	b := message.NewDraft(me, peer, message.TextKind, "ok", nil)
	w, _ = w.AddPending(a, epoch)
	w, _ = w.AddPending(b, epoch.Add(time.Second))

	// b's echo arrives first without a client reference and is paired with
	// the oldest twin, a.
	w, _ = w.Integrate([]message.Message{textAt("srv-b", 2, me, peer, "ok")},
		Push)
	require.Equal(t, 2, visibleSends(w, "ok"))

	w, _ = w.Confirm(a.LocalID, textAt("srv-a", 1, me, peer, "ok"))
	require.Equal(t, 2, visibleSends(w, "ok"))

	w, _ = w.Confirm(b.LocalID, textAt("srv-b", 2, me, peer, "ok"))
	require.Equal(t, 2, visibleSends(w, "ok"))
	for _, e := range w.Entries() {
		require.Equal(t, message.Confirmed, e.Status)
	}
	requireOrdered(t, w)
}

func TestWindow_FailRetryDiscard(t *testing.T) {
	w := NewWindow(20)
	d := message.NewDraft(me, peer, message.TextKind, "lost", nil)
	w, _ = w.AddPending(d, epoch)

	failed, changed := w.Fail(d.LocalID)
	require.True(t, changed)
	e, _ := failed.Lookup(d.LocalID)
	require.Equal(t, message.Failed, e.Status)
	require.Equal(t, 1, failed.Len())

	// Original still pending.
	e, _ = w.Lookup(d.LocalID)
	require.Equal(t, message.Pending, e.Status)

	retried, changed := failed.Retry(d.LocalID)
	require.True(t, changed)
	e, _ = retried.Lookup(d.LocalID)
	require.Equal(t, message.Pending, e.Status)

	gone, changed := failed.Discard(d.LocalID)
	require.True(t, changed)
	require.Zero(t, gone.Len())

	_, changed = gone.Fail(d.LocalID)
	require.False(t, changed)
}

func TestWindow_ReadState(t *testing.T) {
	w, _ := NewWindow(20).Integrate([]message.Message{
		textAt("in-1", 1, peer, me, "hi"),
		textAt("out-1", 2, me, peer, "hello"),
		textAt("in-2", 3, peer, me, "there"),
	}, RestInitial)

	readAt := epoch.Add(time.Minute)
	marked, ids := w.MarkInboundRead(me, readAt)
	require.ElementsMatch(t, []string{"in-1", "in-2"}, ids)
	e, _ := marked.Lookup("in-1")
	require.True(t, e.Message.IsRead)
	e, _ = w.Lookup("in-1")
	require.False(t, e.Message.IsRead)

	_, ids = marked.MarkInboundRead(me, readAt)
	require.Empty(t, ids)

	receipted, changed := marked.ApplyReadReceipt("out-1", readAt)
	require.True(t, changed)
	e, _ = receipted.Lookup("out-1")
	require.True(t, e.Message.IsRead)
	require.Equal(t, readAt, *e.Message.ReadAt)

	_, changed = receipted.ApplyReadReceipt("out-1", readAt)
	require.False(t, changed)

	// A refetched page carrying the read flag updates in place.
	refetched := textAt("out-1", 2, me, peer, "hello")
	refetched.IsRead = true
	updated, r := marked.Integrate([]message.Message{refetched}, Push)
	require.Equal(t, 1, r.Updated)
	e, _ = updated.Lookup("out-1")
	require.True(t, e.Message.IsRead)
}

func TestSource_String(t *testing.T) {
	require.Equal(t, "rest-initial", RestInitial.String())
	require.Equal(t, "rest-older", RestOlder.String())
	require.Equal(t, "push", Push.String())
	require.Equal(t, "local-echo", LocalEcho.String())
	require.Equal(t, "Invalid Source: 9", Source(9).String())
}
