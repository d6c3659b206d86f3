////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Unit test of Status.String.
func TestStatus_String(t *testing.T) {
	testValues := []struct {
		status   Status
		expected string
	}{
		{Running, "running"},
		{Stopping, "stopping"},
		{Stopped, "stopped"},
		{100, "INVALID STATUS: 100"},
	}

	for i, val := range testValues {
		if val.status.String() != val.expected {
			t.Errorf("String did not return the expected value (%d)."+
				"\nexpected: %s\nreceived: %s", i, val.expected, val.status.String())
		}
	}
}

func runSingle(name string) *Single {
	s := NewSingle(name)
	go func() {
		<-s.Quit()
		s.ToStopped()
	}()
	return s
}

func TestSingle_CloseLifecycle(t *testing.T) {
	s := runSingle("pump")
	require.True(t, s.IsRunning())
	require.Equal(t, "pump", s.Name())

	require.NoError(t, s.Close())
	require.NoError(t, WaitForStopped(s, time.Second))
	require.Equal(t, Stopped, s.GetStatus())

	// A second close is rejected
	require.Error(t, s.Close())
}

// A goroutine that exits on its own still releases everything selecting on
// its quit channel.
func TestSingle_ToStoppedWithoutClose(t *testing.T) {
	s := NewSingle("reader")
	s.ToStopped()
	require.True(t, s.IsStopped())

	select {
	case <-s.Quit():
	case <-time.After(time.Second):
		t.Fatal("quit channel not closed after ToStopped")
	}
	require.Error(t, s.Close())
}

func TestWaitForStopped_Timeout(t *testing.T) {
	s := NewSingle("stuck")
	err := WaitForStopped(s, 0)
	require.EqualError(t, err, fmt.Sprintf(timeoutErr, time.Duration(0), "stuck"))
}

func TestMulti(t *testing.T) {
	m := NewMulti("socket")
	a, b := runSingle("read"), runSingle("write")
	m.Add(a)
	m.Add(b)
	require.Equal(t, "socket: {read, write}", m.Name())
	require.True(t, m.IsRunning())

	require.NoError(t, m.Close())
	require.NoError(t, WaitForStopped(m, time.Second))
	require.True(t, a.IsStopped())
	require.True(t, b.IsStopped())
	require.Error(t, m.Close())

	late := runSingle("late")
	m.Add(late)
	require.NoError(t, WaitForStopped(late, time.Second))
}
