////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package message

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// localIDPrefix marks ids generated on this device before the server has
// assigned one.
const localIDPrefix = "local-"

// SendStatus is the delivery state of an entry in a window.
type SendStatus uint8

const (
	// Pending is the status of an optimistic entry whose send has not
	// resolved.
	Pending SendStatus = iota

	// Confirmed is the status of every entry that carries a server id.
	Confirmed

	// Failed is the status of an optimistic entry whose send was rejected.
	// It stays visible so it can be retried.
	Failed
)

// String returns a human-readable version of [SendStatus], used for debugging
// and logging. This function adheres to the [fmt.Stringer] interface.
func (ss SendStatus) String() string {
	switch ss {
	case Pending:
		return "pending"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	default:
		return "Invalid SendStatus: " + strconv.Itoa(int(ss))
	}
}

// Entry is one visible row of a conversation window. Optimistic entries have
// a LocalID and no ServerID until their send resolves.
type Entry struct {
	LocalID  string
	ServerID string
	Status   SendStatus
	Message  Message
}

// ID returns the identity used for ordering and deduplication: the server id
// once known, the local id before.
func (e Entry) ID() string {
	if e.ServerID != "" {
		return e.ServerID
	}
	return e.LocalID
}

// IsOptimistic reports whether the entry has not been confirmed yet.
func (e Entry) IsOptimistic() bool {
	return e.ServerID == ""
}

// Before orders entries like messages.
func (e Entry) Before(o Entry) bool {
	return Less(e.Message.CreatedAt, e.ID(), o.Message.CreatedAt, o.ID())
}

// ConfirmedEntry wraps a canonical message.
func ConfirmedEntry(m Message) Entry {
	return Entry{ServerID: m.ID, Status: Confirmed, Message: m}
}

// Draft is a message the local user wants to send. Its LocalID identifies the
// optimistic entry until the server id replaces it.
type Draft struct {
	LocalID    string          `json:"clientRef"`
	SenderID   string          `json:"-"`
	ReceiverID string          `json:"receiverId"`
	Kind       Kind            `json:"type"`
	Body       string          `json:"content,omitempty"`
	Payload    json.RawMessage `json:"metadata,omitempty"`
}

// NewDraft builds a draft with a fresh local id.
func NewDraft(senderID, receiverID string, kind Kind, body string,
	payload json.RawMessage) Draft {
	return Draft{
		LocalID:    NewLocalID(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Kind:       kind,
		Body:       body,
		Payload:    payload,
	}
}

// NewLocalID returns a client-generated temporary id.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether the id was generated by NewLocalID.
func IsLocalID(id string) bool {
	return len(id) > len(localIDPrefix) && id[:len(localIDPrefix)] == localIDPrefix
}

// Optimistic returns the pending entry shown while the draft is in flight.
func (d Draft) Optimistic(now time.Time) Entry {
	return Entry{
		LocalID: d.LocalID,
		Status:  Pending,
		Message: Message{
			ID:              d.LocalID,
			ConversationKey: ConversationKey(d.SenderID, d.ReceiverID),
			SenderID:        d.SenderID,
			ReceiverID:      d.ReceiverID,
			Kind:            d.Kind,
			Body:            d.Body,
			Payload:         d.Payload,
			CreatedAt:       now,
			ClientRef:       d.LocalID,
		},
	}
}
