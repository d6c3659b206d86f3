////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package message contains the data model shared by every layer of the
// conversation engine: canonical messages, their decoded content, the
// negotiation payload carried inside them, optimistic entries and the error
// taxonomy.
package message

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// keySeparator joins the sorted participant ids of a conversation key.
const keySeparator = "_"

// Message is the canonical, server-persisted form of a message. Only IsRead
// and ReadAt may change after the server assigns the ID.
type Message struct {
	ID              string          `json:"id"`
	ConversationKey string          `json:"conversationKey,omitempty"`
	SenderID        string          `json:"senderId"`
	ReceiverID      string          `json:"receiverId"`
	Kind            Kind            `json:"type"`
	Body            string          `json:"content,omitempty"`
	Payload         json.RawMessage `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	IsRead          bool            `json:"isRead"`
	ReadAt          *time.Time      `json:"readAt,omitempty"`

	// ClientRef is the local id of the draft this message was created from,
	// when the backend echoes it back.
	ClientRef string `json:"clientRef,omitempty"`
}

// ConversationKey derives the room identifier for the conversation between
// two participants. Either participant computes the same key.
func ConversationKey(a, b string) string {
	ids := []string{a, b}
	sort.Strings(ids)
	return strings.Join(ids, keySeparator)
}

// ValidParticipantID reports whether id can take part in a conversation.
// Ids may not contain the key separator, so every key splits back into
// exactly one pair of participants.
func ValidParticipantID(id string) bool {
	return id != "" && !strings.Contains(id, keySeparator)
}

// ParticipantsOf splits a conversation key into its two participants. It
// fails for anything ConversationKey could not have produced from two valid
// ids.
func ParticipantsOf(key string) (a, b string, ok bool) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" ||
		parts[0] >= parts[1] {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Key returns the conversation key of the message, deriving it from the
// sender and receiver when the server did not fill it in.
func (m Message) Key() string {
	if m.ConversationKey != "" {
		return m.ConversationKey
	}
	return ConversationKey(m.SenderID, m.ReceiverID)
}

// Counterpart returns the participant on the other side of the message from
// the given viewer.
func (m Message) Counterpart(viewerID string) string {
	if m.SenderID == viewerID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Involves reports whether the message belongs to the conversation between
// the two given participants.
func (m Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

// Before reports whether m sorts before o in a conversation: by CreatedAt,
// then by ID when the timestamps are equal.
func (m Message) Before(o Message) bool {
	return Less(m.CreatedAt, m.ID, o.CreatedAt, o.ID)
}

// Less is the total order used for every message window.
func Less(aTime time.Time, aID string, bTime time.Time, bID string) bool {
	if !aTime.Equal(bTime) {
		return aTime.Before(bTime)
	}
	return aID < bID
}

// SameContent reports whether two messages carry the same logical content
// from the same sender. It is used to pair a pushed echo with an optimistic
// entry when the backend does not echo the client reference.
func (m Message) SameContent(o Message) bool {
	return m.SenderID == o.SenderID && m.ReceiverID == o.ReceiverID &&
		m.Kind == o.Kind && m.Body == o.Body &&
		jsonEqual(m.Payload, o.Payload)
}

func jsonEqual(a, b json.RawMessage) bool {
	if len(a) == 0 || len(b) == 0 {
		return len(a) == len(b)
	}
	var av, bv interface{}
	if json.Unmarshal(a, &av) != nil || json.Unmarshal(b, &bv) != nil {
		return string(a) == string(b)
	}
	ac, _ := json.Marshal(av)
	bc, _ := json.Marshal(bv)
	return string(ac) == string(bc)
}
