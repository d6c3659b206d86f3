////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"time"
)

// Params configures the REST client and the push channel.
type Params struct {
	// BaseURL is the root of the REST API, for example
	// "http://localhost:8080/api".
	BaseURL string

	// SocketURL is the websocket endpoint. When empty it is derived from
	// BaseURL by switching the scheme and appending "/ws".
	SocketURL string

	// Token is sent as a bearer token on every request and on the upgrade.
	Token string

	// RequestTimeout bounds each REST round trip.
	RequestTimeout time.Duration

	// DialTimeout bounds each websocket handshake.
	DialTimeout time.Duration

	// WriteWait bounds a single socket write.
	WriteWait time.Duration

	// PongWait is how long the socket may stay silent before it is
	// considered dead. Pings are sent every PingPeriod.
	PongWait   time.Duration
	PingPeriod time.Duration

	// ReadLimit is the largest frame accepted from the socket.
	ReadLimit int64

	// SendBuffer is the number of outbound frames queued per connection.
	SendBuffer int

	Backoff BackoffParams
}

// BackoffParams configures the redial schedule of the push channel.
type BackoffParams struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     bool
}

// GetDefaultParams returns a Params object containing the default
// parameters.
func GetDefaultParams() Params {
	return Params{
		BaseURL:        "http://localhost:8080/api",
		RequestTimeout: 10 * time.Second,
		DialTimeout:    10 * time.Second,
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     30 * time.Second,
		ReadLimit:      65536,
		SendBuffer:     256,
		Backoff: BackoffParams{
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   30 * time.Second,
			Multiplier: 2.0,
			Jitter:     true,
		},
	}
}
