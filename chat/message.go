////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"sort"
	"time"
)

// Message is a single chat message. A message is created either by a fetch
// from the backend (confirmed, carries a server-assigned ID) or locally on
// send (optimistic, carries a TempID until the backend confirms it).
type Message struct {
	// ID is the server-assigned identifier. Zero until confirmed.
	ID int64 `json:"id"`

	// TempID is a locally generated identifier present only on messages
	// created by this client before confirmation. It correlates an optimistic
	// entry with its confirmed counterpart.
	TempID string `json:"tempId,omitempty"`

	SenderID   int64  `json:"senderId"`
	ReceiverID int64  `json:"receiverId"`
	Text       string `json:"text"`

	// Timestamp is server-assigned for confirmed messages and client-assigned
	// for optimistic placeholders.
	Timestamp time.Time `json:"timestamp"`

	Status Status `json:"status"`

	// Read is server-assigned and never mutated by this client.
	Read bool `json:"read"`
}

// Confirmed returns true once the backend has assigned the message an ID.
func (m Message) Confirmed() bool {
	return m.ID != 0
}

// Order is the presentation direction of a conversation. The ordering key is
// always the timestamp; only the direction differs.
type Order uint8

const (
	// Ascending presents oldest messages first (chronological history view).
	Ascending Order = iota

	// Descending presents newest messages first (inverted view).
	Descending
)

// String returns the Order in a human-readable form.
func (o Order) String() string {
	if o == Descending {
		return "descending"
	}
	return "ascending"
}

// sortMessages sorts messages by timestamp in the given order. The sort is
// stable and ties are broken by server ID so that repeated merges of the same
// data always produce the same list.
func sortMessages(msgs []Message, order Order) {
	sort.SliceStable(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			if order == Descending {
				return a.Timestamp.After(b.Timestamp)
			}
			return a.Timestamp.Before(b.Timestamp)
		}
		if order == Descending {
			return a.ID > b.ID
		}
		return a.ID < b.ID
	})
}
