////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package health tracks whether the chat backend is reachable based on the
// outcome of recent polls. A failed poll is silent to the user (it self-heals
// on the next tick), so this is the one place the presentation layer can
// observe connectivity to drive an online/offline indicator.
package health

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/gymlink/chat-client/stoppable"
)

// Monitor is the interface the presentation layer uses to observe backend
// reachability.
type Monitor interface {
	AddHealthCallback(f func(isHealthy bool)) uint64
	RemoveHealthCallback(id uint64)
	IsHealthy() bool
	WasHealthy() bool
	StartProcesses() (stoppable.Stoppable, error)
}

// Tracker implements Monitor. Poll outcomes are pushed in via Report; if no
// successful poll lands within the timeout, the backend is marked unhealthy.
type Tracker struct {
	timeout time.Duration

	reports chan bool

	funcs   map[uint64]func(isHealthy bool)
	funcsID uint64

	running bool

	// Current health status
	isHealthy bool

	// True if isHealthy has ever been true
	wasHealthy bool

	mux sync.RWMutex
}

// NewTracker builds a new Tracker with the given timeout. The tracker does
// nothing until StartProcesses is called.
func NewTracker(timeout time.Duration) *Tracker {
	return &Tracker{
		timeout: timeout,
		reports: make(chan bool, 100),
		funcs:   map[uint64]func(isHealthy bool){},
	}
}

// Report records the outcome of a poll. It never blocks; if the tracker is
// not keeping up, the report is dropped.
func (t *Tracker) Report(success bool) {
	select {
	case t.reports <- success:
	default:
		jww.WARN.Print("[HEALTH] Dropping poll outcome report; " +
			"tracker channel is full.")
	}
}

// AddHealthCallback adds a function to be called on every health change.
// The current health status is delivered immediately. Returns a unique ID
// that can be used to remove the callback.
func (t *Tracker) AddHealthCallback(f func(isHealthy bool)) uint64 {
	t.mux.Lock()
	id := t.funcsID
	t.funcs[id] = f
	t.funcsID++
	t.mux.Unlock()

	go f(t.IsHealthy())

	return id
}

// RemoveHealthCallback removes the function with the given ID so that it is
// no longer run on health changes.
func (t *Tracker) RemoveHealthCallback(id uint64) {
	t.mux.Lock()
	delete(t.funcs, id)
	t.mux.Unlock()
}

// IsHealthy returns true if the last report within the timeout window was a
// success.
func (t *Tracker) IsHealthy() bool {
	t.mux.RLock()
	defer t.mux.RUnlock()

	return t.isHealthy
}

// WasHealthy returns true if the backend has ever been reachable over the
// lifetime of this tracker.
func (t *Tracker) WasHealthy() bool {
	t.mux.RLock()
	defer t.mux.RUnlock()

	return t.wasHealthy
}

// StartProcesses starts the tracker thread and returns its stoppable. Returns
// an error if the tracker is already running.
func (t *Tracker) StartProcesses() (stoppable.Stoppable, error) {
	t.mux.Lock()
	if t.running {
		t.mux.Unlock()
		return nil, errors.New("health tracker already running")
	}
	t.running = true
	t.mux.Unlock()

	stop := stoppable.NewSingle("healthTracker")
	go t.start(stop)

	return stop, nil
}

// start starts a long-running thread used to monitor and report on backend
// reachability.
func (t *Tracker) start(stop *stoppable.Single) {
	for {
		select {
		case <-stop.Quit():
			t.mux.Lock()
			t.isHealthy = false
			t.running = false
			t.mux.Unlock()
			stop.ToStopped()
			return
		case success := <-t.reports:
			t.setHealth(success)
		case <-time.After(t.timeout):
			if t.IsHealthy() {
				jww.WARN.Printf("[HEALTH] No successful poll in %s; "+
					"marking backend unreachable.", t.timeout)
			}
			t.setHealth(false)
		}
	}
}

func (t *Tracker) setHealth(h bool) {
	t.mux.Lock()
	changed := t.isHealthy != h
	// wasHealthy is sticky once the backend has been seen healthy
	t.wasHealthy = t.wasHealthy || h
	t.isHealthy = h
	t.mux.Unlock()

	if changed {
		t.transmit(h)
	}
}

func (t *Tracker) transmit(health bool) {
	t.mux.RLock()
	defer t.mux.RUnlock()

	for _, f := range t.funcs {
		go f(health)
	}
}
