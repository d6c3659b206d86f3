////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gitlab.com/elixxir/marketchat/conversation"
	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/negotiation"
)

func TestParseProposal(t *testing.T) {
	p, err := parseProposal([]string{"vase", "2", "1500", "blue", "glaze"})
	require.NoError(t, err)
	require.Equal(t, message.Proposal{ProductName: "vase", Quantity: 2,
		EstimatedPrice: 1500, Notes: "blue glaze"}, p)

	for _, args := range [][]string{
		{"vase", "2"},
		{"vase", "zero", "1500"},
		{"vase", "0", "1500"},
		{"vase", "1", "-5"},
	} {
		if _, err = parseProposal(args); err == nil {
			t.Errorf("parseProposal(%v) did not fail", args)
		}
	}
}

func TestRenderer(t *testing.T) {
	var out bytes.Buffer
	r := newRenderer(&out, "alice")
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	payload, err := negotiation.NewProposal("neg-1", message.Proposal{
		ProductName: "vase", Quantity: 1, EstimatedPrice: 900}, at).Encode()
	require.NoError(t, err)
	img, err := json.Marshal(message.Image{URL: "https://img/1.png"})
	require.NoError(t, err)

	pending := message.Entry{LocalID: "local-1", Status: message.Pending,
		Message: message.Message{ID: "local-1", SenderID: "alice",
			ReceiverID: "bob", Kind: message.TextKind, Body: "hi",
			CreatedAt: at}}
	v := conversation.View{ParticipantID: "bob", Connected: true,
		Entries: []message.Entry{
			message.ConfirmedEntry(message.Message{ID: "m1", SenderID: "bob",
				ReceiverID: "alice", Kind: message.NegotiationKind,
				Payload: payload, CreatedAt: at}),
			message.ConfirmedEntry(message.Message{ID: "m2", SenderID: "bob",
				ReceiverID: "alice", Kind: message.ImageKind, Payload: img,
				Body: "look", CreatedAt: at}),
			pending,
		}}
	r.render(v)
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Contains(t, lines[0], "bob: [offer neg-1] 1 x vase for 900")
	require.Contains(t, lines[1], "[image https://img/1.png] look")
	require.Contains(t, lines[2], "me: hi (sending)")

	// Unchanged entries are not printed again
	out.Reset()
	v.PeerTyping = true
	r.render(v)
	require.Equal(t, "*** bob is typing...\n", out.String())

	out.Reset()
	pending.Status = message.Failed
	v.Entries[2] = pending
	v.Connected = false
	r.render(v)
	require.Contains(t, out.String(), "live updates unavailable")
	require.Contains(t, out.String(), "/retry local-1")
}

func TestPrintDeals(t *testing.T) {
	var out bytes.Buffer
	printDeals(&out, conversation.View{}, "alice")
	require.Equal(t, "No negotiations yet\n", out.String())

	out.Reset()
	printDeals(&out, conversation.View{Negotiations: map[string]negotiation.Thread{
		"neg-1": {NegotiationID: "neg-1", Status: negotiation.Pending,
			ProposerID: "bob", CurrentProposal: message.Proposal{
				ProductName: "vase", Quantity: 1, EstimatedPrice: 900}},
	}}, "alice")
	require.Contains(t, out.String(), "neg-1  PENDING")
	require.Contains(t, out.String(), "[accept, decline, request-more-info]")
}
