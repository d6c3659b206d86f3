////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package negotiation derives the state of custom order negotiations from
// the messages of a conversation. Nothing here is persisted; a thread is a
// pure fold over the message stream, so two clients that see the same
// messages derive the same status.
package negotiation

import (
	"sort"
	"time"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/marketchat/message"
)

// Thread is the derived state of every message sharing one negotiation id.
type Thread struct {
	NegotiationID string
	Status        Status

	// CurrentProposal is the proposal of the most recent proposal message.
	CurrentProposal message.Proposal

	// History holds the response messages, oldest first.
	History []message.Message

	// ProposerID is the sender of the first proposal.
	ProposerID string

	// Rounds counts the proposals folded into the thread.
	Rounds int

	UpdatedAt time.Time

	// Agreed is a frozen copy of CurrentProposal taken when the thread was
	// accepted.
	Agreed *message.Proposal
}

// RoleOf returns the role the participant plays in the thread.
func (t Thread) RoleOf(participantID string) Role {
	if participantID == t.ProposerID {
		return Proposer
	}
	return Counterparty
}

// CheckoutReady returns the agreed proposal once the thread is accepted. The
// engine never starts a payment; it only exposes this snapshot.
func (t Thread) CheckoutReady() (message.Proposal, bool) {
	if t.Status != Accepted || t.Agreed == nil {
		return message.Proposal{}, false
	}
	return *t.Agreed, true
}

// Fold derives every negotiation thread present in the messages. The
// messages may be in any order; they are folded by creation time with ties
// broken by id.
func Fold(msgs []message.Message) map[string]Thread {
	ordered := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Kind == message.NegotiationKind {
			ordered = append(ordered, m)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Before(ordered[j])
	})

	threads := make(map[string]*Thread)
	for _, m := range ordered {
		apply(threads, m)
	}

	out := make(map[string]Thread, len(threads))
	for id, t := range threads {
		out[id] = *t
	}
	return out
}

// Derive folds the messages and returns the thread with the given id.
func Derive(msgs []message.Message, negotiationID string) (Thread, bool) {
	t, ok := Fold(msgs)[negotiationID]
	return t, ok
}

func apply(threads map[string]*Thread, m message.Message) {
	p, err := message.DecodeNegotiation(m.Payload)
	if err != nil {
		jww.WARN.Printf("[NEGOTIATION] Ignoring message %s: %s", m.ID, err)
		return
	}

	t, exists := threads[p.NegotiationID]
	if exists && t.Status.IsTerminal() {
		jww.DEBUG.Printf("[NEGOTIATION] Negotiation %s is %s, message %s "+
			"is inert", p.NegotiationID, t.Status, m.ID)
		return
	}

	switch p.Type {
	case message.ProposalPayload:
		if !exists {
			t = &Thread{NegotiationID: p.NegotiationID, ProposerID: m.SenderID}
			threads[p.NegotiationID] = t
		}
		t.Status = Pending
		t.CurrentProposal = *p.Proposal
		t.Rounds++
		t.UpdatedAt = m.CreatedAt

	case message.ResponsePayload:
		if !exists {
			jww.WARN.Printf("[NEGOTIATION] Dropping response %s to unknown "+
				"negotiation %s", m.ID, p.NegotiationID)
			return
		}
		t.Status = responseStatus(*p.Response)
		if t.Status == Accepted {
			agreed := t.CurrentProposal
			t.Agreed = &agreed
		}
		t.History = append(t.History, m)
		t.UpdatedAt = m.CreatedAt
	}
}

func responseStatus(r message.Response) Status {
	switch {
	case r.Accepted:
		return Accepted
	case r.RequiresMoreInfo:
		return Negotiating
	default:
		return Declined
	}
}

// NewProposal builds the payload of a proposal message. An empty
// negotiationID starts a new negotiation.
func NewProposal(negotiationID string, p message.Proposal,
	now time.Time) message.NegotiationPayload {
	if negotiationID == "" {
		negotiationID = NewID()
	}
	return message.NegotiationPayload{
		Type:          message.ProposalPayload,
		NegotiationID: negotiationID,
		Proposal:      &p,
		Status:        string(Pending),
		Timestamp:     now,
	}
}

// NewResponse builds the payload of a response message.
func NewResponse(negotiationID string, r message.Response,
	now time.Time) message.NegotiationPayload {
	return message.NegotiationPayload{
		Type:          message.ResponsePayload,
		NegotiationID: negotiationID,
		Response:      &r,
		Status:        string(responseStatus(r)),
		Timestamp:     now,
	}
}
