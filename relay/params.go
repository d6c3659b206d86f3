////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package relay

import (
	"encoding/json"
	"time"
)

// Params configures a Relay.
type Params struct {
	// Address is the host:port the HTTP server listens on.
	Address string

	// BasePath prefixes every REST and socket route.
	BasePath string

	// DefaultPageSize is used when a history request has no limit;
	// MaxPageSize caps the limit a client may ask for.
	DefaultPageSize int
	MaxPageSize     int

	// Socket timing and sizes.
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
	ReadLimit  int64

	// SendBuffer is the number of frames queued per socket before the
	// socket is considered too slow and dropped.
	SendBuffer int
}

// GetDefaultParams returns a Params object containing the default
// parameters.
func GetDefaultParams() Params {
	return Params{
		Address:         ":8080",
		BasePath:        "/api",
		DefaultPageSize: 20,
		MaxPageSize:     100,
		WriteWait:       10 * time.Second,
		PongWait:        60 * time.Second,
		PingPeriod:      30 * time.Second,
		ReadLimit:       65536,
		SendBuffer:      256,
	}
}

// GetParameters returns the default Params, or override with the given
// JSON parameters.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		if err := json.Unmarshal([]byte(params), &p); err != nil {
			return Params{}, err
		}
	}
	return p, nil
}
