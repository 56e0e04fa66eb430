////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-collections/collections/set"
	jww "github.com/spf13/jwalterweatherman"
)

// Conversation owns the ordered message list and incremental cursor for a
// single pair of participants. Two producers feed it, the polling path and
// the local send path; every mutation goes through the conversation mutex, so
// the merge result is the same no matter how the two interleave.
type Conversation struct {
	partnerID int64
	order     Order

	messages []Message

	// watermark is the timestamp cursor for incremental fetches. It never
	// moves backward across polls.
	watermark time.Time

	// known holds the server IDs already merged, so a lagging or
	// boundary-inclusive fetch cannot reintroduce a message.
	known *set.Set

	mux sync.Mutex
}

func newConversation(partnerID int64, order Order) *Conversation {
	return &Conversation{
		partnerID: partnerID,
		order:     order,
		known:     set.New(),
	}
}

// PartnerID returns the other participant of this conversation.
func (c *Conversation) PartnerID() int64 {
	return c.partnerID
}

// Messages returns a copy of the current message list in presentation order.
func (c *Conversation) Messages() []Message {
	c.mux.Lock()
	defer c.mux.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the number of messages in the list.
func (c *Conversation) Len() int {
	c.mux.Lock()
	defer c.mux.Unlock()
	return len(c.messages)
}

// Watermark returns the current incremental cursor position.
func (c *Conversation) Watermark() time.Time {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.watermark
}

// UnreadCount returns the number of confirmed messages addressed to the given
// viewer that the backend has not marked read.
func (c *Conversation) UnreadCount(viewerID int64) int {
	c.mux.Lock()
	defer c.mux.Unlock()

	n := 0
	for _, m := range c.messages {
		if m.Confirmed() && !m.Read && m.SenderID != viewerID {
			n++
		}
	}
	return n
}

// resetCursor rewinds the cursor to the given starting point (zero means full
// history) and rebuilds the known-ID set from the messages already held, so
// refetched history cannot duplicate what is already displayed.
func (c *Conversation) resetCursor(initial time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.watermark = initial
	c.known = set.New()
	for _, m := range c.messages {
		if m.Confirmed() {
			c.known.Insert(m.ID)
		}
	}
}

// restore replaces the conversation state with a snapshot loaded from
// storage.
func (c *Conversation) restore(msgs []Message, watermark time.Time) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.messages = msgs
	c.watermark = watermark
	c.known = set.New()
	for _, m := range c.messages {
		if m.Confirmed() {
			c.known.Insert(m.ID)
		}
	}
	c.sortLocked()
}

// merge applies a batch of fetched candidates to the list:
//  1. Candidates whose ID is already known are skipped (duplicate fetch
//     results happen when the watermark boundary is inclusive server-side).
//  2. A candidate that correlates to an optimistic entry replaces it rather
//     than being appended alongside it.
//  3. Everything else is appended.
//
// The list is then re-sorted by timestamp and the watermark advanced to the
// max candidate timestamp. Returns the newly added confirmed messages, the
// temp IDs whose optimistic entries were replaced, and whether the list
// changed. Merging the same batch twice yields the same list as merging it
// once.
func (c *Conversation) merge(candidates []Message) (
	added []Message, swapped []string, changed bool) {
	c.mux.Lock()
	defer c.mux.Unlock()
	return c.mergeLocked(candidates)
}

// replaceConfirmed applies a wholesale fetch: the confirmed portion of the
// list is rebuilt from the candidates while optimistic entries still awaiting
// confirmation stay in place and remain eligible for correlation.
func (c *Conversation) replaceConfirmed(candidates []Message) (
	added []Message, swapped []string, changed bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	before := len(c.messages)
	kept := c.messages[:0]
	for _, m := range c.messages {
		if !m.Confirmed() {
			kept = append(kept, m)
		}
	}
	c.messages = kept
	c.known = set.New()

	added, swapped, changed = c.mergeLocked(candidates)
	changed = changed || len(c.messages) != before
	return added, swapped, changed
}

func (c *Conversation) mergeLocked(candidates []Message) (
	added []Message, swapped []string, changed bool) {
	var maxTS time.Time

	for _, cand := range candidates {
		if !cand.Confirmed() {
			jww.WARN.Printf("[CHAT] Dropping fetched message without a "+
				"server ID in conversation with %d.", c.partnerID)
			continue
		}
		if cand.Timestamp.After(maxTS) {
			maxTS = cand.Timestamp
		}

		if c.known.Has(cand.ID) {
			// Already merged; a lagging watermark re-returned it
			continue
		}

		cand.Status = Sent
		if idx, ok := c.correlateLocked(cand); ok {
			tempID := c.messages[idx].TempID
			cand.TempID = ""
			c.messages[idx] = cand
			swapped = append(swapped, tempID)
		} else {
			copied := cand
			copied.TempID = ""
			c.messages = append(c.messages, copied)
			added = append(added, copied)
		}
		c.known.Insert(cand.ID)
		changed = true
	}

	if changed {
		c.sortLocked()
	}
	if !maxTS.IsZero() && maxTS.After(c.watermark) {
		c.watermark = maxTS
	}

	return added, swapped, changed
}

// correlateLocked finds the optimistic entry a confirmed candidate replaces.
// A server-echoed temp ID is authoritative; otherwise the oldest unconfirmed
// entry with the same sender, receiver, and trimmed text is taken. Failed
// entries are only matched by an explicit temp ID echo, since they are kept
// as visible history.
func (c *Conversation) correlateLocked(cand Message) (int, bool) {
	if cand.TempID != "" {
		for i, m := range c.messages {
			if !m.Confirmed() && m.TempID == cand.TempID {
				return i, true
			}
		}
	}

	text := strings.TrimSpace(cand.Text)
	oldest := -1
	for i, m := range c.messages {
		if m.Confirmed() || m.TempID == "" || m.Status == Failed {
			continue
		}
		if m.SenderID == cand.SenderID && m.ReceiverID == cand.ReceiverID &&
			strings.TrimSpace(m.Text) == text {
			if oldest == -1 ||
				m.Timestamp.Before(c.messages[oldest].Timestamp) {
				oldest = i
			}
		}
	}
	if oldest >= 0 {
		return oldest, true
	}

	return -1, false
}

// appendLocal appends a locally created optimistic message.
func (c *Conversation) appendLocal(m Message) {
	c.mux.Lock()
	defer c.mux.Unlock()

	c.messages = append(c.messages, m)
	c.sortLocked()
}

// markStatus moves the optimistic entry with the given temp ID to the given
// status. Illegal transitions (anything but Sending to Sent or Failed) are
// rejected and logged. Returns the updated message and whether a change was
// made.
func (c *Conversation) markStatus(tempID string, to Status) (Message, bool) {
	c.mux.Lock()
	defer c.mux.Unlock()

	for i, m := range c.messages {
		if m.Confirmed() || m.TempID != tempID {
			continue
		}
		if !m.Status.CanTransition(to) {
			if m.Status != to {
				jww.WARN.Printf("[CHAT] Rejecting illegal status transition "+
					"%s -> %s for message %q.", m.Status, to, tempID)
			}
			return m, false
		}
		c.messages[i].Status = to
		return c.messages[i], true
	}

	return Message{}, false
}

// swapCanonical replaces the optimistic entry with the given temp ID by the
// backend's canonical record. If a poll already performed the swap via
// correlation there is nothing to do; if the canonical record arrived through
// a poll while the optimistic entry somehow survived, the optimistic entry is
// dropped instead of duplicating the message.
func (c *Conversation) swapCanonical(tempID string, canonical Message) bool {
	c.mux.Lock()
	defer c.mux.Unlock()

	if !canonical.Confirmed() {
		jww.WARN.Printf("[CHAT] Refusing canonical swap of %q: record has "+
			"no server ID.", tempID)
		return false
	}

	for i, m := range c.messages {
		if m.Confirmed() || m.TempID != tempID {
			continue
		}

		if c.known.Has(canonical.ID) {
			c.messages = append(c.messages[:i], c.messages[i+1:]...)
		} else {
			canonical.TempID = ""
			canonical.Status = Sent
			c.messages[i] = canonical
			c.known.Insert(canonical.ID)
		}
		// The watermark is deliberately left alone: it only tracks fetch
		// results. The next poll re-returns the canonical record and the
		// known set drops it as a duplicate.
		c.sortLocked()
		return true
	}

	return false
}

func (c *Conversation) sortLocked() {
	sortMessages(c.messages, c.order)
}
