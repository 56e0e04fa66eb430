////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// Single allows stopping a single goroutine using a quit channel. It adheres
// to the Stoppable interface. The quit channel is closed, not sent on, so any
// number of selects may watch it.
type Single struct {
	name   string
	quit   chan struct{}
	status Status
	once   sync.Once
}

// NewSingle returns a new single Stoppable.
func NewSingle(name string) *Single {
	return &Single{
		name:   name,
		quit:   make(chan struct{}),
		status: Running,
	}
}

// Name returns the name of the Single Stoppable.
func (s *Single) Name() string {
	return s.name
}

// GetStatus returns the status of the Stoppable.
func (s *Single) GetStatus() Status {
	return Status(atomic.LoadUint32((*uint32)(&s.status)))
}

// IsRunning returns true if the Stoppable is marked as running.
func (s *Single) IsRunning() bool {
	return s.GetStatus() == Running
}

// IsStopped returns true if the Stoppable is marked as stopped.
func (s *Single) IsStopped() bool {
	return s.GetStatus() == Stopped
}

// Quit returns a receive-only channel that is closed when the Single is told
// to quit.
func (s *Single) Quit() <-chan struct{} {
	return s.quit
}

// ToStopped changes the status from stopping to stopped. It must be called by
// the controlled goroutine once it has seen the quit channel close and is
// about to return. Panics if the status is not already set to stopping.
func (s *Single) ToStopped() {
	if !atomic.CompareAndSwapUint32(
		(*uint32)(&s.status), uint32(Stopping), uint32(Stopped)) {
		jww.FATAL.Panicf("Failed to set the status of single stoppable %q to "+
			"%s when status is %s instead of %s.",
			s.Name(), Stopped, s.GetStatus(), Stopping)
	}

	jww.DEBUG.Printf("Switched status of single stoppable %q from %s to %s.",
		s.Name(), Stopping, Stopped)
}

// Close signals the Single to quit by closing the quit channel. Returns an
// error if the Single has already been told to stop.
func (s *Single) Close() error {
	var err error

	s.once.Do(func() {
		if !atomic.CompareAndSwapUint32(
			(*uint32)(&s.status), uint32(Running), uint32(Stopping)) {
			err = errors.Errorf("failed to stop single stoppable %q: "+
				"status is %s instead of %s", s.Name(), s.GetStatus(), Running)
			return
		}

		jww.DEBUG.Printf("Closing quit channel of single stoppable %q.",
			s.Name())
		close(s.quit)
	})

	if err != nil {
		jww.ERROR.Print(err.Error())
	}

	return err
}
