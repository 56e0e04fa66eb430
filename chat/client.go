////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package chat keeps a local message list consistent with the GymLink backend
// under two concurrent input streams, periodic polling and local user sends,
// while avoiding duplicate display and giving the user live feedback on send
// progress.
package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/gymlink/chat-client/health"
	"gitlab.com/gymlink/chat-client/stoppable"
	"gitlab.com/gymlink/chat-client/storage/versioned"
	"go.uber.org/ratelimit"
)

// Client synchronizes a single conversation with the backend. One Client owns
// one conversation's list and cursor exclusively; nothing is shared across
// conversations.
type Client struct {
	session Session
	net     Transport
	params  Params

	conv    *Conversation
	tracker *sendTracker
	kv      *versioned.KV
	events  *listeners
	monitor *health.Tracker

	// Rate limiter on the send path
	rl ratelimit.Limiter

	// Guards against overlapping polls; a poll issued while one is
	// outstanding is skipped, not queued.
	inFlight uint32

	// Cleared on StopPolling so results of in-flight requests are discarded
	// instead of being applied to a torn-down conversation.
	live uint32

	stopper *stoppable.Multi
	mux     sync.Mutex
}

// NewClient builds a Client for the conversation between the session's user
// and partner. A nil kv falls back to an in-memory store, which matches the
// reset-on-remount behavior of the mobile app; a file-backed kv lets a
// remount resume where it left off. Any sends found pending in storage are
// marked failed.
func NewClient(session Session, net Transport, kv *versioned.KV,
	params Params) *Client {
	if kv == nil {
		kv = versioned.NewKV(ekv.MakeMemstore())
	}
	kv = kv.Prefix(fmt.Sprintf("partner/%d", session.PartnerID))

	c := &Client{
		session: session,
		net:     net,
		params:  params,
		conv:    newConversation(session.PartnerID, params.Order),
		kv:      kv,
		events:  newListeners(),
		monitor: health.NewTracker(params.HealthTimeout),
		live:    1,
	}

	if params.SendsPerSecond > 0 {
		c.rl = ratelimit.New(params.SendsPerSecond, ratelimit.WithoutSlack)
	} else {
		c.rl = ratelimit.NewUnlimited()
	}

	if _, err := loadConversation(kv, c.conv); err != nil {
		jww.WARN.Printf("[CHAT] Failed to load conversation with %d: %+v",
			session.PartnerID, err)
	}

	var stranded []tracked
	c.tracker, stranded = newSendTracker(kv)
	for _, t := range stranded {
		if _, ok := c.conv.markStatus(t.TempID, Failed); !ok {
			// The snapshot predates the send; resurface it as failed history
			c.conv.appendLocal(Message{
				TempID:     t.TempID,
				SenderID:   t.SenderID,
				ReceiverID: t.ReceiverID,
				Text:       t.Text,
				Timestamp:  t.Timestamp,
				Status:     Failed,
			})
		}
	}
	if len(stranded) > 0 {
		c.persist()
	}

	return c
}

// PartnerID returns the conversation partner this client synchronizes with.
func (c *Client) PartnerID() int64 {
	return c.session.PartnerID
}

// Conversation exposes the conversation state for the presentation layer.
func (c *Client) Conversation() *Conversation {
	return c.conv
}

// Health returns the backend reachability monitor for this client.
func (c *Client) Health() *health.Tracker {
	return c.monitor
}

// AddListener registers a function to be called on conversation events.
// Returns an ID for removal.
func (c *Client) AddListener(f Listener) uint64 {
	return c.events.add(f)
}

// RemoveListener removes a previously registered listener.
func (c *Client) RemoveListener(id uint64) {
	c.events.remove(id)
}

// Initialize rewinds the cursor to the configured starting point and performs
// one immediate poll. The returned error is non-fatal; the next poll retries.
func (c *Client) Initialize(ctx context.Context) error {
	atomic.StoreUint32(&c.live, 1)
	c.conv.resetCursor(c.params.InitialWatermark)
	return c.Poll(ctx)
}

// Poll fetches new messages and merges them into the list. At most one poll
// is in flight at a time; a call that overlaps an outstanding poll is a
// no-op. A failed or malformed fetch leaves the list and cursor untouched.
func (c *Client) Poll(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&c.inFlight, 0, 1) {
		jww.TRACE.Printf("[CHAT] Skipping poll for partner %d: previous "+
			"poll still in flight.", c.session.PartnerID)
		return nil
	}
	defer atomic.StoreUint32(&c.inFlight, 0)

	var msgs []Message
	var err error
	switch c.params.FetchMode {
	case FetchWholesale:
		msgs, err = c.net.FetchConversation(ctx, c.session.PartnerID)
	default:
		msgs, err = c.net.FetchMessagesSince(
			ctx, c.session.PartnerID, c.conv.Watermark())
	}

	if err != nil {
		c.monitor.Report(false)
		if errors.Is(err, ErrMalformedPayload) {
			jww.WARN.Printf("[CHAT] Discarding malformed poll result for "+
				"partner %d: %+v", c.session.PartnerID, err)
			return nil
		}
		return errors.Wrapf(err, "poll failed for partner %d",
			c.session.PartnerID)
	}

	c.monitor.Report(true)

	if atomic.LoadUint32(&c.live) != 1 {
		jww.DEBUG.Printf("[CHAT] Discarding poll result for partner %d: "+
			"conversation was torn down mid-flight.", c.session.PartnerID)
		return nil
	}

	c.apply(msgs, c.params.FetchMode)
	return nil
}

// Ingest merges externally delivered candidates, from the multi-conversation
// manager's fan-in or from a push transport, through the same dedup and
// ordering rules as Poll.
func (c *Client) Ingest(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	if atomic.LoadUint32(&c.live) != 1 {
		jww.DEBUG.Printf("[CHAT] Discarding %d ingested message(s) for "+
			"partner %d: conversation was torn down.",
			len(msgs), c.session.PartnerID)
		return
	}
	c.apply(msgs, FetchIncremental)
}

// apply commits fetched candidates to the conversation and fans out the
// resulting events.
func (c *Client) apply(msgs []Message, mode FetchMode) {
	var added []Message
	var swapped []string
	var changed bool

	if mode == FetchWholesale {
		added, swapped, changed = c.conv.replaceConfirmed(msgs)
	} else {
		added, swapped, changed = c.conv.merge(msgs)
	}

	for _, tempID := range swapped {
		c.tracker.confirm(tempID)
	}

	if changed {
		c.persist()
		c.events.notify(Event{
			Type:      ListUpdated,
			PartnerID: c.session.PartnerID,
			Added:     added,
		})
	}
}

// Send appends an optimistic message and issues the send request in the
// background. Returns the temp ID of the new entry. Text that is empty after
// trimming is rejected without a network call. A failed send leaves the
// message visible as failed; retrying is a new Send, which appends a fresh
// entry rather than resurrecting the failed one.
func (c *Client) Send(ctx context.Context, text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", errors.New("refusing to send message that is empty " +
			"after trimming")
	}

	m := Message{
		TempID:     uuid.New().String(),
		SenderID:   c.session.UserID,
		ReceiverID: c.session.PartnerID,
		Text:       trimmed,
		Timestamp:  time.Now(),
		Status:     Sending,
	}

	c.conv.appendLocal(m)
	c.tracker.add(m)
	c.persist()
	c.events.notify(Event{
		Type:      ListUpdated,
		PartnerID: c.session.PartnerID,
		Added:     []Message{m},
	})

	go c.deliver(ctx, m)

	return m.TempID, nil
}

// deliver runs the network half of a send on its own goroutine so the
// optimistic entry is visible before the request completes.
func (c *Client) deliver(ctx context.Context, m Message) {
	c.rl.Take()

	canonical, err := c.net.SendMessage(ctx, m)

	if atomic.LoadUint32(&c.live) != 1 {
		// Leave the tracker entry pending; the reload path marks it failed
		jww.DEBUG.Printf("[CHAT] Discarding send result for %q: "+
			"conversation was torn down mid-flight.", m.TempID)
		return
	}

	if err != nil {
		jww.ERROR.Printf("[CHAT] Send to %d failed: %+v",
			m.ReceiverID, err)
		c.tracker.fail(m.TempID)
		if updated, ok := c.conv.markStatus(m.TempID, Failed); ok {
			c.persist()
			c.events.notify(Event{
				Type:      SendFailed,
				PartnerID: c.session.PartnerID,
				Message:   updated,
			})
		}
		return
	}

	c.tracker.confirm(m.TempID)
	if updated, ok := c.conv.markStatus(m.TempID, Sent); ok {
		c.persist()
		c.events.notify(Event{
			Type:      StatusChanged,
			PartnerID: c.session.PartnerID,
			Message:   updated,
		})
	}

	// Give the UI a moment to show "sent" before the entry is swapped for
	// the canonical record. If a poll correlates the confirmed copy first,
	// the swap below finds nothing to do.
	canonical.TempID = m.TempID
	time.AfterFunc(c.params.GracePeriod, func() {
		if atomic.LoadUint32(&c.live) != 1 {
			return
		}
		if c.conv.swapCanonical(m.TempID, canonical) {
			c.persist()
			c.events.notify(Event{
				Type:      ListUpdated,
				PartnerID: c.session.PartnerID,
			})
		}
	})
}

// StartPolling schedules Poll on the given period (the configured default
// when zero) and starts the health tracker. Calling StartPolling while a
// previous poller is still running is rejected. The returned stoppable stops
// both threads; StopPolling does the same.
func (c *Client) StartPolling(interval time.Duration) (
	stoppable.Stoppable, error) {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.stopper != nil && c.stopper.IsRunning() {
		return nil, errors.Errorf("polling already running for partner %d",
			c.session.PartnerID)
	}
	if interval <= 0 {
		interval = c.params.PollInterval
	}

	atomic.StoreUint32(&c.live, 1)

	multi := stoppable.NewMulti("chatSync")

	poller := stoppable.NewSingle("chatPoller")
	go c.pollLoop(poller, interval)
	multi.Add(poller)

	if healthStop, err := c.monitor.StartProcesses(); err == nil {
		multi.Add(healthStop)
	} else {
		jww.WARN.Printf("[CHAT] Health tracker not started: %+v", err)
	}

	c.stopper = multi
	return multi, nil
}

// StopPolling cancels the poll loop and health tracker and marks the
// conversation torn down, so responses still in flight are discarded. It is
// idempotent and must be called when the conversation leaves the screen.
func (c *Client) StopPolling() error {
	c.mux.Lock()
	defer c.mux.Unlock()

	if c.stopper == nil {
		return nil
	}

	atomic.StoreUint32(&c.live, 0)
	err := c.stopper.Close()
	c.stopper = nil
	return err
}

func (c *Client) pollLoop(stop *stoppable.Single, interval time.Duration) {
	jww.INFO.Printf("[CHAT] Polling conversation with %d every %s.",
		c.session.PartnerID, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Quit():
			jww.INFO.Printf("[CHAT] Stopping poll loop for partner %d.",
				c.session.PartnerID)
			stop.ToStopped()
			return
		case <-ticker.C:
			if err := c.Poll(context.Background()); err != nil {
				jww.WARN.Printf("[CHAT] Poll failed; retrying on next "+
					"tick: %+v", err)
			}
		}
	}
}

func (c *Client) persist() {
	if err := saveConversation(c.kv, c.conv); err != nil {
		jww.WARN.Printf("[CHAT] Failed to persist conversation with %d: %+v",
			c.session.PartnerID, err)
	}
}
