////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import "strconv"

// Status is the delivery state of a message. Locally created messages start
// as Sending and move to exactly one of Sent or Failed; they never revert.
// Messages fetched from the backend are always Sent.
type Status uint8

const (
	// Sending denotes an optimistic message whose send request has not yet
	// resolved.
	Sending Status = iota

	// Sent denotes a message the backend has accepted.
	Sent

	// Failed denotes an optimistic message whose send request failed. Failed
	// messages stay visible and are never retried automatically.
	Failed
)

// String returns the Status in a human-readable form for logging and errors.
func (s Status) String() string {
	switch s {
	case Sending:
		return "sending"
	case Sent:
		return "sent"
	case Failed:
		return "failed"
	default:
		return "INVALID STATUS: " + strconv.FormatUint(uint64(s), 10)
	}
}

// CanTransition returns true if a message in this Status may move to the
// given Status. The only legal transitions are Sending to Sent and Sending to
// Failed.
func (s Status) CanTransition(to Status) bool {
	return s == Sending && (to == Sent || to == Failed)
}
