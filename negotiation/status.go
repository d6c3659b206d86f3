////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package negotiation

// Status is the derived state of a negotiation thread.
type Status string

const (
	// Pending means a proposal is waiting for the counterparty's answer.
	Pending Status = "PENDING"

	// Negotiating means the counterparty asked for more information and a
	// revised proposal is expected.
	Negotiating Status = "NEGOTIATING"

	// Accepted is terminal. The agreed proposal is frozen for checkout.
	Accepted Status = "ACCEPTED"

	// Declined is terminal.
	Declined Status = "DECLINED"
)

// String adheres to the [fmt.Stringer] interface.
func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further message can change the status.
func (s Status) IsTerminal() bool {
	return s == Accepted || s == Declined
}

// Role is the part a participant plays in a negotiation.
type Role uint8

const (
	// Proposer is the participant who opened the negotiation.
	Proposer Role = iota

	// Counterparty is the participant answering the proposals.
	Counterparty
)

// Action is something a presentation layer may offer the user.
type Action string

const (
	Accept          Action = "accept"
	Decline         Action = "decline"
	RequestMoreInfo Action = "request-more-info"
	Revise          Action = "revise"
	Checkout        Action = "checkout"
)

// Decide returns the actions a participant in the given role may take when
// the thread has the given status. The fold itself is role-agnostic; this
// table is advisory and enforced by the presentation layer.
func Decide(role Role, status Status) []Action {
	switch status {
	case Pending:
		if role == Counterparty {
			return []Action{Accept, Decline, RequestMoreInfo}
		}
		return []Action{Revise}
	case Negotiating:
		if role == Proposer {
			return []Action{Revise}
		}
	case Accepted:
		if role == Counterparty {
			return []Action{Checkout}
		}
	}
	return nil
}
