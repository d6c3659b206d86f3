////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/elixxir/marketchat/message"
	"gitlab.com/elixxir/marketchat/negotiation"
)

// Error messages.
const (
	emptyTextErr           = "cannot send an empty message"
	unknownNegotiationErr  = "no negotiation %q in the conversation with %s"
	terminalNegotiationErr = "negotiation %q is already %s"
	notRetryableErr        = "message %q is not a failed send"
)

// SendText sends a text message to the open conversation. The message shows
// up as pending at once and is confirmed or failed when the send resolves.
func (s *Session) SendText(ctx context.Context, body string) (message.Message, error) {
	if strings.TrimSpace(body) == "" {
		return message.Message{}, errors.New(emptyTextErr)
	}
	return s.send(ctx, message.TextKind, body, nil)
}

// SendImage sends a message referencing an already uploaded image.
func (s *Session) SendImage(ctx context.Context, url, caption string) (message.Message, error) {
	if url == "" {
		return message.Message{}, errors.New("cannot send an image without url")
	}
	payload, err := json.Marshal(message.Image{URL: url, Caption: caption})
	if err != nil {
		return message.Message{}, errors.Wrap(err, "failed to encode image")
	}
	return s.send(ctx, message.ImageKind, caption, payload)
}

// SendQuoteDiscussion sends a message about a quoted listing or message.
func (s *Session) SendQuoteDiscussion(ctx context.Context, quoteID,
	body string) (message.Message, error) {
	payload, err := json.Marshal(message.QuoteDiscussion{QuoteID: quoteID})
	if err != nil {
		return message.Message{}, errors.Wrap(err, "failed to encode quote")
	}
	return s.send(ctx, message.QuoteDiscussionKind, body, payload)
}

// SendNegotiationProposal starts a new negotiation with the given proposal.
func (s *Session) SendNegotiationProposal(ctx context.Context,
	p message.Proposal) (message.Message, error) {
	return s.sendNegotiation(ctx,
		negotiation.NewProposal("", p, netTime.Now()), p.ProductName)
}

// ReviseNegotiation sends a new proposal in an existing, non-terminal
// negotiation.
func (s *Session) ReviseNegotiation(ctx context.Context, negotiationID string,
	p message.Proposal) (message.Message, error) {
	if err := s.checkNegotiable(negotiationID); err != nil {
		return message.Message{}, err
	}
	return s.sendNegotiation(ctx,
		negotiation.NewProposal(negotiationID, p, netTime.Now()), p.ProductName)
}

// SendNegotiationResponse answers the current proposal of a negotiation.
// Unknown and terminal negotiations are rejected.
func (s *Session) SendNegotiationResponse(ctx context.Context,
	negotiationID string, r message.Response) (message.Message, error) {
	if err := s.checkNegotiable(negotiationID); err != nil {
		return message.Message{}, err
	}
	return s.sendNegotiation(ctx,
		negotiation.NewResponse(negotiationID, r, netTime.Now()), r.Message)
}

func (s *Session) checkNegotiable(negotiationID string) error {
	s.mux.Lock()
	defer s.mux.Unlock()
	th, ok := s.threads[negotiationID]
	if !ok {
		return errors.Errorf(unknownNegotiationErr, negotiationID, s.participantID)
	}
	if th.Status.IsTerminal() {
		return errors.Errorf(terminalNegotiationErr, negotiationID, th.Status)
	}
	return nil
}

func (s *Session) sendNegotiation(ctx context.Context,
	p message.NegotiationPayload, body string) (message.Message, error) {
	payload, err := p.Encode()
	if err != nil {
		return message.Message{}, err
	}
	return s.send(ctx, message.NegotiationKind, body, payload)
}

// Retry resends a failed message with the same local id.
func (s *Session) Retry(ctx context.Context, localID string) (message.Message, error) {
	s.mux.Lock()
	e, ok := s.window.Lookup(localID)
	if !ok || e.Status != message.Failed {
		s.mux.Unlock()
		return message.Message{}, errors.Errorf(notRetryableErr, localID)
	}
	d := message.Draft{
		LocalID:    e.LocalID,
		SenderID:   e.Message.SenderID,
		ReceiverID: e.Message.ReceiverID,
		Kind:       e.Message.Kind,
		Body:       e.Message.Body,
		Payload:    e.Message.Payload,
	}
	s.window, _ = s.window.Retry(localID)
	s.refoldLocked()
	t := s.tagLocked()
	s.mux.Unlock()
	s.publish()

	return s.deliver(ctx, d, t)
}

// Discard removes a failed message from the window.
func (s *Session) Discard(localID string) error {
	s.mux.Lock()
	e, ok := s.window.Lookup(localID)
	if !ok || e.Status != message.Failed {
		s.mux.Unlock()
		return errors.Errorf(notRetryableErr, localID)
	}
	s.window, _ = s.window.Discard(localID)
	s.mux.Unlock()
	s.publish()
	return nil
}

// send places an optimistic entry for the draft and delivers it.
func (s *Session) send(ctx context.Context, kind message.Kind, body string,
	payload json.RawMessage) (message.Message, error) {
	s.mux.Lock()
	if s.closed {
		s.mux.Unlock()
		return message.Message{}, ErrClosed
	}
	if s.participantID == "" {
		s.mux.Unlock()
		return message.Message{}, ErrNotOpen
	}
	d := message.NewDraft(s.selfID, s.participantID, kind, body, payload)
	s.window, _ = s.window.AddPending(d, netTime.Now())
	if kind == message.NegotiationKind {
		s.refoldLocked()
	}
	t := s.tagLocked()
	s.mux.Unlock()
	s.publish()

	return s.deliver(ctx, d, t)
}

// deliver posts the draft and resolves its optimistic entry. A response for
// a conversation that is no longer open is not applied; the message was
// still sent and is returned.
func (s *Session) deliver(ctx context.Context, d message.Draft, t tag) (message.Message, error) {
	m, err := s.transport.Send(ctx, d)

	s.mux.Lock()
	if !s.current(t) {
		s.mux.Unlock()
		jww.DEBUG.Printf("[CONV] %v: send of %s", message.ErrStaleResponse,
			d.LocalID)
		return m, err
	}

	if err != nil {
		s.window, _ = s.window.Fail(d.LocalID)
		s.refoldLocked()
		queued := false
		if !s.transport.Connected() {
			queued = s.outbox.push(d)
		}
		s.mux.Unlock()

		if queued {
			jww.INFO.Printf("[CONV] Queued %s until the push channel is back",
				d.LocalID)
		} else {
			jww.WARN.Printf("[CONV] %+v", err)
		}
		s.publish()
		return m, err
	}

	s.window, _ = s.window.Confirm(d.LocalID, m)
	if m.Kind == message.NegotiationKind {
		s.refoldLocked()
	}
	s.mux.Unlock()

	jww.DEBUG.Printf("[CONV] %s confirmed as %s", d.LocalID, m.ID)
	s.publish()
	return m, nil
}
