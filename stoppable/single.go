////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

const toStoppingErr = "failed to set the status of single stoppable %q to " +
	"stopping when status is %s instead of %s"

// Single controls one goroutine. The goroutine selects on Quit and calls
// ToStopped as it returns.
type Single struct {
	name   string
	quit   chan struct{}
	status uint32
	once   sync.Once
}

// NewSingle returns a new running Single.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: uint32(Running),
	}
}

// Name returns the name of the goroutine.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the current status.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32(&s.status))
}

func (s *Single) IsRunning() bool { return s.GetStatus() == Running }
func (s *Single) IsStopped() bool { return s.GetStatus() == Stopped }

// Quit is closed when the Single is asked to stop. Any number of selects may
// wait on it.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// ToStopped marks the goroutine as returned. It may be called without a prior
// Close when the goroutine exits on its own, for example because its socket
// died.
func (s *Single) ToStopped() {
	if atomic.CompareAndSwapUint32(&s.status, uint32(Running), uint32(Stopped)) {
		s.once.Do(func() { close(s.quit) })
	} else if !atomic.CompareAndSwapUint32(&s.status, uint32(Stopping), uint32(Stopped)) {
		jww.WARN.Printf("Single stoppable %q is already %s", s.name, s.GetStatus())
		return
	}
	jww.TRACE.Printf("Single stoppable %q stopped", s.name)
}

// Close signals the goroutine to quit. It returns an error when the Single is
// not running.
func (s *Single) Close() error {
	if !atomic.CompareAndSwapUint32(&s.status, uint32(Running), uint32(Stopping)) {
		err := errors.Errorf(toStoppingErr, s.name, s.GetStatus(), Running)
		jww.DEBUG.Print(err.Error())
		return err
	}
	s.once.Do(func() { close(s.quit) })
	jww.TRACE.Printf("Closed quit channel of single stoppable %q", s.name)
	return nil
}
