////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"gitlab.com/elixxir/marketchat/conversation"
	"gitlab.com/elixxir/marketchat/message"
)

// renderer prints the entries of a conversation view that are new or whose
// send status changed since the last view.
type renderer struct {
	w      io.Writer
	selfID string

	seen       map[string]message.SendStatus
	peerTyping bool
	connected  bool
	mux        sync.Mutex
}

func newRenderer(w io.Writer, selfID string) *renderer {
	return &renderer{
		w:         w,
		selfID:    selfID,
		seen:      make(map[string]message.SendStatus),
		connected: true,
	}
}

func (r *renderer) render(v conversation.View) {
	r.mux.Lock()
	defer r.mux.Unlock()

	if v.Connected != r.connected {
		r.connected = v.Connected
		if v.Connected {
			fmt.Fprintln(r.w, "*** live updates restored")
		} else {
			fmt.Fprintln(r.w, "*** live updates unavailable, presence unknown")
		}
	}

	for _, e := range v.Entries {
		status, ok := r.seen[e.ID()]
		if ok && status == e.Status {
			continue
		}
		r.seen[e.ID()] = e.Status
		fmt.Fprintln(r.w, r.line(e))
	}

	if v.PeerTyping != r.peerTyping {
		r.peerTyping = v.PeerTyping
		if v.PeerTyping {
			fmt.Fprintf(r.w, "*** %s is typing...\n", v.ParticipantID)
		}
	}
}

func (r *renderer) line(e message.Entry) string {
	who := e.Message.SenderID
	if who == r.selfID {
		who = "me"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: ", e.Message.CreatedAt.Local().Format("15:04"),
		who)

	c, err := e.Message.Content()
	if err != nil {
		b.WriteString("<unreadable message>")
	} else {
		c.Accept(&contentPrinter{b: &b})
	}

	switch e.Status {
	case message.Pending:
		b.WriteString(" (sending)")
	case message.Failed:
		fmt.Fprintf(&b, " (failed, /retry %s or /discard %s)", e.LocalID,
			e.LocalID)
	default:
		if e.Message.SenderID == r.selfID && e.Message.IsRead {
			b.WriteString(" (read)")
		}
	}
	return b.String()
}

// contentPrinter writes a one line summary of each kind of content.
type contentPrinter struct {
	b *strings.Builder
}

func (p *contentPrinter) VisitText(t message.Text) {
	p.b.WriteString(t.Body)
}

func (p *contentPrinter) VisitImage(img message.Image) {
	fmt.Fprintf(p.b, "[image %s] %s", img.URL, img.Caption)
}

func (p *contentPrinter) VisitQuoteDiscussion(q message.QuoteDiscussion) {
	fmt.Fprintf(p.b, "[about %s] %s", q.QuoteID, q.Body)
}

func (p *contentPrinter) VisitNegotiation(n message.Negotiation) {
	np := n.Payload
	switch {
	case np.Proposal != nil:
		fmt.Fprintf(p.b, "[offer %s] %d x %s for %d", np.NegotiationID,
			np.Proposal.Quantity, np.Proposal.ProductName,
			np.Proposal.EstimatedPrice)
		if np.Proposal.Notes != "" {
			fmt.Fprintf(p.b, " (%s)", np.Proposal.Notes)
		}
	case np.Response != nil:
		verdict := "declined"
		switch {
		case np.Response.Accepted:
			verdict = "accepted"
		case np.Response.RequiresMoreInfo:
			verdict = "asked for more info on"
		}
		fmt.Fprintf(p.b, "[%s offer %s] %s", verdict, np.NegotiationID,
			np.Response.Message)
	}
}
