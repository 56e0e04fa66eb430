////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stoppable

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Multi holds a list of child Stoppables that are stopped as a group. It
// adheres to the Stoppable interface.
type Multi struct {
	name       string
	stoppables []Stoppable
	mux        sync.RWMutex
	once       sync.Once
}

// NewMulti returns a new multi Stoppable.
func NewMulti(name string) *Multi {
	return &Multi{name: name}
}

// Add adds the given Stoppable to the list of child Stoppables.
func (m *Multi) Add(stoppable Stoppable) {
	m.mux.Lock()
	m.stoppables = append(m.stoppables, stoppable)
	m.mux.Unlock()
}

// Name returns the name of the Multi Stoppable and the names of all its
// children.
func (m *Multi) Name() string {
	m.mux.RLock()
	names := make([]string, 0, len(m.stoppables))
	for _, s := range m.stoppables {
		names = append(names, s.Name())
	}
	m.mux.RUnlock()

	return m.name + "{" + strings.Join(names, ", ") + "}"
}

// IsRunning returns true if any of the child Stoppables are still running.
func (m *Multi) IsRunning() bool {
	m.mux.RLock()
	defer m.mux.RUnlock()

	for _, s := range m.stoppables {
		if s.IsRunning() {
			return true
		}
	}

	return false
}

// Close issues a close to every child Stoppable. Returns an error listing
// each child that failed to close; the remaining children are still closed.
func (m *Multi) Close() error {
	var numErrors int

	m.once.Do(func() {
		m.mux.RLock()
		defer m.mux.RUnlock()

		for _, s := range m.stoppables {
			if err := s.Close(); err != nil {
				numErrors++
			}
		}
	})

	if numErrors > 0 {
		return errors.Errorf("multi stoppable %q failed to close %d of %d "+
			"child stoppables", m.name, numErrors, len(m.stoppables))
	}

	return nil
}
