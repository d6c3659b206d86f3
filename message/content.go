////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package message

import (
	"encoding/json"
)

// Content is the decoded, kind-specific content of a Message. The set of
// implementations is closed: Text, Image, QuoteDiscussion and Negotiation.
type Content interface {
	// Kind returns the wire kind of the content.
	Kind() Kind

	// Accept dispatches the content to the matching visitor method.
	Accept(v ContentVisitor)

	sealed()
}

// ContentVisitor must be implemented by anything that handles every kind of
// content. Adding a kind adds a method here, so every handler fails to
// compile until it deals with the new kind.
type ContentVisitor interface {
	VisitText(Text)
	VisitImage(Image)
	VisitQuoteDiscussion(QuoteDiscussion)
	VisitNegotiation(Negotiation)
}

// Text is a plain text message.
type Text struct {
	Body string
}

// Image references an uploaded image.
type Image struct {
	URL     string `json:"url"`
	Caption string `json:"caption,omitempty"`
}

// QuoteDiscussion is a message about a quoted listing or earlier message.
type QuoteDiscussion struct {
	QuoteID string `json:"quoteId"`
	Body    string `json:"-"`
}

// Negotiation wraps a negotiation proposal or response.
type Negotiation struct {
	Payload NegotiationPayload
}

func (Text) Kind() Kind            { return TextKind }
func (Image) Kind() Kind           { return ImageKind }
func (QuoteDiscussion) Kind() Kind { return QuoteDiscussionKind }
func (Negotiation) Kind() Kind     { return NegotiationKind }

func (c Text) Accept(v ContentVisitor)            { v.VisitText(c) }
func (c Image) Accept(v ContentVisitor)           { v.VisitImage(c) }
func (c QuoteDiscussion) Accept(v ContentVisitor) { v.VisitQuoteDiscussion(c) }
func (c Negotiation) Accept(v ContentVisitor)     { v.VisitNegotiation(c) }

func (Text) sealed()            {}
func (Image) sealed()           {}
func (QuoteDiscussion) sealed() {}
func (Negotiation) sealed()     {}

// Content decodes the kind-specific content of the message. A
// *MalformedError is returned for unknown kinds and invalid payloads.
func (m Message) Content() (Content, error) {
	switch m.Kind {
	case TextKind:
		return Text{Body: m.Body}, nil
	case ImageKind:
		var img Image
		if err := json.Unmarshal(m.Payload, &img); err != nil {
			return nil, malformed(m.ID, "image payload: "+err.Error())
		}
		if img.URL == "" {
			return nil, malformed(m.ID, "image payload without url")
		}
		if img.Caption == "" {
			img.Caption = m.Body
		}
		return img, nil
	case QuoteDiscussionKind:
		var q QuoteDiscussion
		if len(m.Payload) > 0 {
			if err := json.Unmarshal(m.Payload, &q); err != nil {
				return nil, malformed(m.ID,
					"quote-discussion payload: "+err.Error())
			}
		}
		q.Body = m.Body
		return q, nil
	case NegotiationKind:
		p, err := DecodeNegotiation(m.Payload)
		if err != nil {
			return nil, malformed(m.ID, err.Error())
		}
		return Negotiation{Payload: p}, nil
	default:
		return nil, malformed(m.ID, "unknown kind "+string(m.Kind))
	}
}

// Validate checks that the message can be placed in a window: it has an id,
// both participants and content that decodes.
func Validate(m Message) error {
	if m.ID == "" {
		return malformed(m.ID, "missing id")
	}
	if m.SenderID == "" || m.ReceiverID == "" {
		return malformed(m.ID, "missing participant")
	}
	_, err := m.Content()
	return err
}
