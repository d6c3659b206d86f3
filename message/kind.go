////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package message

// Kind is the type of content carried by a Message. On the wire it is the
// "type" field.
type Kind string

const (
	// TextKind denotes a plain text message.
	TextKind Kind = "text"

	// ImageKind denotes a message whose payload references an image.
	ImageKind Kind = "image"

	// QuoteDiscussionKind denotes a message discussing a previously quoted
	// message or listing.
	QuoteDiscussionKind Kind = "quote-discussion"

	// NegotiationKind denotes a message carrying a negotiation proposal or
	// response in its payload.
	NegotiationKind Kind = "negotiation"
)

// String returns the wire representation of the [Kind]. This function adheres
// to the [fmt.Stringer] interface.
func (k Kind) String() string {
	return string(k)
}

// IsKnown reports whether the kind is one the engine understands.
func (k Kind) IsKnown() bool {
	switch k {
	case TextKind, ImageKind, QuoteDiscussionKind, NegotiationKind:
		return true
	default:
		return false
	}
}
