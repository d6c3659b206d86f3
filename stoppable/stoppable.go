////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable tracks the lifecycle of the long-running goroutines of
// the engine: socket pumps, typing timers and relay connections.
package stoppable

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/xx_network/primitives/netTime"
)

const timeoutErr = "timed out after %s waiting for %q to stop"

// Status of a Stoppable.
type Status uint32

const (
	Running Status = iota
	Stopping
	Stopped
)

// String prints a string representation of the status. This function adheres
// to the fmt.Stringer interface.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "INVALID STATUS: " + strconv.Itoa(int(s))
	}
}

// Stoppable is a goroutine, or group of goroutines, that can be asked to quit.
type Stoppable interface {
	// Close asks the goroutines to quit. It does not wait for them.
	Close() error
	GetStatus() Status
	IsRunning() bool
	IsStopped() bool
	Name() string
}

// WaitForStopped polls the stoppable until it reports Stopped or the timeout
// elapses.
func WaitForStopped(s Stoppable, timeout time.Duration) error {
	start := netTime.Now()
	for !s.IsStopped() {
		if time.Since(start) >= timeout {
			return errors.Errorf(timeoutErr, timeout, s.Name())
		}
		time.Sleep(time.Millisecond)
	}
	return nil
}
