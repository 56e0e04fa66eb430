////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import "strconv"

// Status holds the current status of a Stoppable.
type Status uint32

const (
	// Running signifies that the goroutine is running.
	Running Status = iota

	// Stopping signifies that a signal to stop has been sent and the goroutine
	// has not yet acknowledged it.
	Stopping

	// Stopped signifies that the goroutine has exited.
	Stopped
)

// String returns the Status as a human-readable name for logging and errors.
func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "INVALID STATUS: " + strconv.FormatUint(uint64(s), 10)
	}
}
