////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package message

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// PayloadType distinguishes the two negotiation message shapes.
type PayloadType string

const (
	ProposalPayload PayloadType = "proposal"
	ResponsePayload PayloadType = "response"
)

// NegotiationPayload is carried in Message.Payload when the kind is
// NegotiationKind. NegotiationID is chosen by the proposer and copied into
// every response.
type NegotiationPayload struct {
	Type          PayloadType `json:"type"`
	NegotiationID string      `json:"negotiationId"`
	Proposal      *Proposal   `json:"proposal,omitempty"`
	Response      *Response   `json:"response,omitempty"`

	// Status is the sender's view of the thread when it sent the message.
	// It is informational; the derived status is always recomputed.
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Proposal is a custom order offer.
type Proposal struct {
	ProductName    string     `json:"productName"`
	Description    string     `json:"description,omitempty"`
	Quantity       int        `json:"quantity,omitempty"`
	EstimatedPrice int64      `json:"estimatedPrice"`
	Deadline       *time.Time `json:"deadline,omitempty"`
	Notes          string     `json:"notes,omitempty"`
}

// Response answers the current proposal of a negotiation.
type Response struct {
	Accepted         bool   `json:"accepted"`
	Message          string `json:"message,omitempty"`
	CanProceed       bool   `json:"canProceed"`
	RequiresMoreInfo bool   `json:"requiresMoreInfo,omitempty"`
}

// DecodeNegotiation parses and validates a negotiation payload.
func DecodeNegotiation(raw json.RawMessage) (NegotiationPayload, error) {
	var p NegotiationPayload
	if len(raw) == 0 {
		return p, errors.New("negotiation message without payload")
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errors.Wrap(err, "negotiation payload")
	}
	if p.NegotiationID == "" {
		return p, errors.New("negotiation payload without negotiationId")
	}
	switch p.Type {
	case ProposalPayload:
		if p.Proposal == nil {
			return p, errors.Errorf("proposal %s without proposal body",
				p.NegotiationID)
		}
	case ResponsePayload:
		if p.Response == nil {
			return p, errors.Errorf("response %s without response body",
				p.NegotiationID)
		}
	default:
		return p, errors.Errorf("unknown negotiation payload type %q",
			p.Type)
	}
	return p, nil
}

// Encode marshals the payload for use as Message.Payload.
func (p NegotiationPayload) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal negotiation %s",
			p.NegotiationID)
	}
	return data, nil
}
