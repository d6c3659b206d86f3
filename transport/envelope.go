////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Event identifies the kind of frame sent over the push channel.
type Event string

const (
	// Client -> server
	JoinRoom  Event = "join-room"
	LeaveRoom Event = "leave-room"

	// Server -> client
	NewMessage        Event = "new-message"
	MessageReadUpdate Event = "message-read-update"
	PresenceUpdate    Event = "presence"
	RosterUpdate      Event = "roster"

	// Both directions
	TypingUpdate Event = "typing"

	// connectionStateEvent is raised locally by the Channel and never sent
	// over the wire.
	connectionStateEvent Event = "connection-state"
)

// Envelope wraps every push channel frame.
type Envelope struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Room is the payload of join-room and leave-room.
type Room struct {
	RoomID string `json:"roomId"`
}

// ReadReceipt is the payload of message-read-update.
type ReadReceipt struct {
	MessageID string    `json:"messageId"`
	ReadBy    string    `json:"readBy"`
	ReadAt    time.Time `json:"readAt"`

	// RoomID is filled in by backends that know the conversation. Receipts
	// without it are delivered to every room.
	RoomID string `json:"roomId,omitempty"`
}

// Typing is the payload of typing.
type Typing struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
	RoomID   string `json:"roomId"`
}

// Presence is the payload of presence.
type Presence struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Roster is the payload of roster: every user currently online.
type Roster struct {
	Online []string `json:"online"`
}

// ConnectionState reports whether the push channel is usable.
type ConnectionState struct {
	Connected bool
	// Err is the reason the connection was lost.
	Err error
}

// NewEnvelope creates an envelope with the given event and data.
func NewEnvelope(event Event, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, errors.Wrapf(err, "failed to encode %s", event)
	}
	return Envelope{Event: event, Data: raw}, nil
}

// ParseEnvelope decodes a frame.
func ParseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return env, errors.Wrap(err, "failed to decode envelope")
	}
	if env.Event == "" {
		return env, errors.New("envelope without event")
	}
	return env, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v interface{}) error {
	return errors.Wrapf(json.Unmarshal(e.Data, v), "malformed %s payload", e.Event)
}
