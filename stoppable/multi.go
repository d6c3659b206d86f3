////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Multi groups stoppables that are started and stopped together, such as the
// read and write pumps of one socket.
type Multi struct {
	name     string
	children []Stoppable
	mux      sync.RWMutex
	closed   bool
}

// NewMulti returns an empty Multi.
func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Name returns the name of the Multi followed by the names of its children.
func (m *Multi) Name() string {
	m.mux.RLock()
	defer m.mux.RUnlock()
	names := make([]string, len(m.children))
	for i, c := range m.children {
		names[i] = c.Name()
	}
	return m.name + ": {" + strings.Join(names, ", ") + "}"
}

// Add adds a child. Children added after Close are closed immediately.
func (m *Multi) Add(s Stoppable) {
	m.mux.Lock()
	m.children = append(m.children, s)
	closed := m.closed
	m.mux.Unlock()
	if closed {
		_ = s.Close()
	}
}

// GetStatus is Running while any child runs, Stopped once every child has
// stopped and Stopping in between.
func (m *Multi) GetStatus() Status {
	m.mux.RLock()
	defer m.mux.RUnlock()
	stopped := 0
	for _, c := range m.children {
		switch c.GetStatus() {
		case Stopped:
			stopped++
		case Running:
			if !m.closed {
				return Running
			}
		}
	}
	if stopped == len(m.children) && (m.closed || stopped > 0) {
		return Stopped
	}
	if !m.closed {
		return Running
	}
	return Stopping
}

func (m *Multi) IsRunning() bool { return m.GetStatus() == Running }
func (m *Multi) IsStopped() bool { return m.GetStatus() == Stopped }

// Close closes every running child.
func (m *Multi) Close() error {
	m.mux.Lock()
	if m.closed {
		m.mux.Unlock()
		return errors.Errorf("multi stoppable %q already closed", m.name)
	}
	m.closed = true
	children := make([]Stoppable, len(m.children))
	copy(children, m.children)
	m.mux.Unlock()

	for _, c := range children {
		if c.IsRunning() {
			if err := c.Close(); err != nil {
				jww.WARN.Printf("Failed to close %s: %+v", c.Name(), err)
			}
		}
	}
	return nil
}
