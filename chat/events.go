////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import "sync"

// EventType describes what changed in a conversation.
type EventType uint8

const (
	// ListUpdated fires when a merge or append changed the message list.
	ListUpdated EventType = iota

	// StatusChanged fires when an optimistic message moved to Sent or Failed.
	StatusChanged

	// SendFailed fires alongside StatusChanged when a send request failed, so
	// the presentation layer can show an inline failure indicator.
	SendFailed
)

// String returns the EventType in a human-readable form.
func (e EventType) String() string {
	switch e {
	case ListUpdated:
		return "listUpdated"
	case StatusChanged:
		return "statusChanged"
	case SendFailed:
		return "sendFailed"
	default:
		return "unknown"
	}
}

// Event is delivered to registered listeners when conversation state changes.
// Errors never propagate to the presentation layer; it only ever observes
// state through these events and the message list.
type Event struct {
	Type EventType

	// PartnerID identifies the conversation the event belongs to.
	PartnerID int64

	// Added holds newly merged confirmed messages for ListUpdated events.
	Added []Message

	// Message is the affected message for StatusChanged and SendFailed.
	Message Message
}

// Listener receives conversation events. Listeners are run on their own
// goroutines and must not mutate the messages they receive.
type Listener func(Event)

// listeners is a registry of event listeners keyed by a unique ID.
type listeners struct {
	funcs  map[uint64]Listener
	nextID uint64
	mux    sync.RWMutex
}

func newListeners() *listeners {
	return &listeners{funcs: map[uint64]Listener{}}
}

func (l *listeners) add(f Listener) uint64 {
	l.mux.Lock()
	defer l.mux.Unlock()

	id := l.nextID
	l.funcs[id] = f
	l.nextID++
	return id
}

func (l *listeners) remove(id uint64) {
	l.mux.Lock()
	delete(l.funcs, id)
	l.mux.Unlock()
}

func (l *listeners) notify(e Event) {
	l.mux.RLock()
	defer l.mux.RUnlock()

	for _, f := range l.funcs {
		go f(e)
	}
}
