////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stoppable provides named handles for stopping long-lived goroutines
// such as the chat poll loop, the health timeout thread, and the stream read
// pump.
package stoppable

// Stoppable interface for stopping a goroutine or set of goroutines.
type Stoppable interface {
	Name() string
	IsRunning() bool
	Close() error
}
