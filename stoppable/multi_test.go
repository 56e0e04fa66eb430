////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"testing"
	"time"
)

// newTestSingle returns a Single whose goroutine stops itself on quit.
func newTestSingle(name string) *Single {
	single := NewSingle(name)
	go func() {
		<-single.Quit()
		single.ToStopped()
	}()
	return single
}

// Tests that Name contains the name of every child.
func TestMulti_Name(t *testing.T) {
	multi := NewMulti("testMulti")
	names := []string{"a", "b", "c"}
	for _, name := range names {
		multi.Add(newTestSingle(name))
	}

	fullName := multi.Name()
	for _, name := range names {
		if !strings.Contains(fullName, name) {
			t.Errorf("Multi name missing child name."+
				"\nexpected to contain: %s\nreceived: %s", name, fullName)
		}
	}
}

// Tests that Close stops every child and that IsRunning flips to false.
func TestMulti_Close(t *testing.T) {
	multi := NewMulti("testMulti")
	singles := make([]*Single, 3)
	for i := range singles {
		singles[i] = newTestSingle("child")
		multi.Add(singles[i])
	}

	if !multi.IsRunning() {
		t.Error("Multi not marked as running before close.")
	}

	if err := multi.Close(); err != nil {
		t.Errorf("Close returned an error: %+v", err)
	}

	// Children acknowledge the quit asynchronously.
	deadline := time.Now().Add(time.Second)
	for multi.IsRunning() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if multi.IsRunning() {
		t.Error("Multi still marked as running after close.")
	}

	for i, single := range singles {
		if !single.IsStopped() {
			t.Errorf("Child %d has incorrect status."+
				"\nexpected: %s\nreceived: %s", i, Stopped, single.GetStatus())
		}
	}
}

// Tests that a second Close is a no-op and returns no error.
func TestMulti_Close_Twice(t *testing.T) {
	multi := NewMulti("testMulti")
	multi.Add(newTestSingle("child"))

	if err := multi.Close(); err != nil {
		t.Errorf("First Close returned an error: %+v", err)
	}

	if err := multi.Close(); err != nil {
		t.Errorf("Second Close returned an error: %+v", err)
	}
}
