////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package message

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrChannelDisconnected is returned when the push channel is down.
	// Presence degrades to unknown and sends fall back to REST only.
	ErrChannelDisconnected = errors.New("push channel disconnected")

	// ErrStaleResponse marks a response for a request that was abandoned,
	// for example because the session switched participant. It is never
	// shown to the user.
	ErrStaleResponse = errors.New("stale response discarded")
)

// SendFailedError is returned when the backend rejects or never answers a
// send. The draft is attached so it can be retried unchanged.
type SendFailedError struct {
	Draft Draft
	Err   error
}

func (e *SendFailedError) Error() string {
	return fmt.Sprintf("failed to send %s message %s to %s: %s",
		e.Draft.Kind, e.Draft.LocalID, e.Draft.ReceiverID, e.Err)
}

// Unwrap returns the underlying transport error.
func (e *SendFailedError) Unwrap() error { return e.Err }

// Cause adheres to the errors.Cause contract of github.com/pkg/errors.
func (e *SendFailedError) Cause() error { return e.Err }

// LoadFailedError is returned when a history page cannot be fetched. The
// already loaded window is left untouched.
type LoadFailedError struct {
	ParticipantID string
	Page          int
	Err           error
}

func (e *LoadFailedError) Error() string {
	return fmt.Sprintf("failed to load page %d of conversation with %s: %s",
		e.Page, e.ParticipantID, e.Err)
}

func (e *LoadFailedError) Unwrap() error { return e.Err }
func (e *LoadFailedError) Cause() error  { return e.Err }

// MalformedError describes a message that cannot be placed in a window.
type MalformedError struct {
	MessageID string
	Reason    string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message %q: %s", e.MessageID, e.Reason)
}

func malformed(id, reason string) error {
	return &MalformedError{MessageID: id, Reason: reason}
}

// IsSendFailed reports whether err is, or wraps, a *SendFailedError.
func IsSendFailed(err error) (*SendFailedError, bool) {
	var sf *SendFailedError
	ok := errors.As(err, &sf)
	return sf, ok
}

// IsLoadFailed reports whether err is, or wraps, a *LoadFailedError.
func IsLoadFailed(err error) bool {
	var lf *LoadFailedError
	return errors.As(err, &lf)
}

// IsMalformed reports whether err is, or wraps, a *MalformedError.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}
