////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/gymlink/chat-client/health"
	"gitlab.com/gymlink/chat-client/stoppable"
	"gitlab.com/gymlink/chat-client/storage/versioned"
)

// Summary describes one conversation for a listing view: who it is with, the
// most recent message, and how many incoming messages are unread.
type Summary struct {
	PartnerID   int64
	LastMessage Message
	Unread      int
}

// Manager synchronizes every conversation of one user, the trainer-side
// variant where a single incremental fetch returns messages from all clients
// and they are fanned out to per-partner conversations. Each partner's
// conversation keeps its own list and known-ID set; the manager keeps the
// shared fetch watermark.
type Manager struct {
	session Session
	net     Transport
	params  Params

	kv      *versioned.KV
	events  *listeners
	monitor *health.Tracker

	clients map[int64]*Client
	cMux    sync.RWMutex

	watermark time.Time
	wmMux     sync.Mutex

	inFlight uint32
	live     uint32

	stopper *stoppable.Multi
	mux     sync.Mutex
}

// NewManager builds a Manager for the session's user. A nil kv falls back to
// an in-memory store. The fetch watermark is restored from storage when
// present, so a restart resumes incrementally instead of refetching history.
func NewManager(session Session, net Transport, kv *versioned.KV,
	params Params) *Manager {
	if kv == nil {
		kv = versioned.NewKV(ekv.MakeMemstore())
	}

	m := &Manager{
		session: session,
		net:     net,
		params:  params,
		kv:      kv,
		events:  newListeners(),
		monitor: health.NewTracker(params.HealthTimeout),
		clients: make(map[int64]*Client),
		live:    1,
	}

	watermark, err := loadWatermark(kv)
	if err != nil {
		jww.WARN.Printf("[CHAT] Failed to load manager watermark: %+v", err)
	}
	m.watermark = watermark

	return m
}

// Health returns the backend reachability monitor for this manager.
func (m *Manager) Health() *health.Tracker {
	return m.monitor
}

// AddListener registers a function called on events from any conversation.
func (m *Manager) AddListener(f Listener) uint64 {
	return m.events.add(f)
}

// RemoveListener removes a previously registered listener.
func (m *Manager) RemoveListener(id uint64) {
	m.events.remove(id)
}

// Conversation returns the conversation with the given partner, creating an
// empty one if this is the first contact.
func (m *Manager) Conversation(partnerID int64) *Conversation {
	return m.client(partnerID).Conversation()
}

// Send sends a message to the given partner through that partner's
// conversation, with the same optimistic semantics as Client.Send.
func (m *Manager) Send(ctx context.Context, partnerID int64,
	text string) (string, error) {
	return m.client(partnerID).Send(ctx, text)
}

// Initialize rewinds the shared cursor to the configured starting point and
// performs one immediate poll.
func (m *Manager) Initialize(ctx context.Context) error {
	atomic.StoreUint32(&m.live, 1)

	m.wmMux.Lock()
	m.watermark = m.params.InitialWatermark
	m.wmMux.Unlock()

	m.cMux.RLock()
	for _, c := range m.clients {
		c.conv.resetCursor(m.params.InitialWatermark)
	}
	m.cMux.RUnlock()

	return m.Poll(ctx)
}

// Poll fetches all messages newer than the shared watermark across every
// conversation and fans them out to the per-partner lists. The same
// in-flight, teardown, and failure rules as Client.Poll apply.
func (m *Manager) Poll(ctx context.Context) error {
	if !atomic.CompareAndSwapUint32(&m.inFlight, 0, 1) {
		jww.TRACE.Print("[CHAT] Skipping manager poll: previous poll " +
			"still in flight.")
		return nil
	}
	defer atomic.StoreUint32(&m.inFlight, 0)

	m.wmMux.Lock()
	since := m.watermark
	m.wmMux.Unlock()

	msgs, err := m.net.FetchMessagesSince(ctx, m.session.UserID, since)
	if err != nil {
		m.monitor.Report(false)
		if errors.Is(err, ErrMalformedPayload) {
			jww.WARN.Printf("[CHAT] Discarding malformed manager poll "+
				"result: %+v", err)
			return nil
		}
		return errors.Wrap(err, "manager poll failed")
	}

	m.monitor.Report(true)

	if atomic.LoadUint32(&m.live) != 1 {
		jww.DEBUG.Print("[CHAT] Discarding manager poll result: manager " +
			"was torn down mid-flight.")
		return nil
	}

	m.fanOut(msgs)
	return nil
}

// Ingest distributes externally delivered candidates (e.g. from a push
// transport) to the per-partner conversations.
func (m *Manager) Ingest(msgs []Message) {
	if len(msgs) == 0 {
		return
	}
	if atomic.LoadUint32(&m.live) != 1 {
		jww.DEBUG.Printf("[CHAT] Discarding %d ingested message(s): "+
			"manager was torn down.", len(msgs))
		return
	}
	m.fanOut(msgs)
}

func (m *Manager) fanOut(msgs []Message) {
	byPartner := make(map[int64][]Message)
	var maxTS time.Time

	for _, msg := range msgs {
		partner := msg.SenderID
		if partner == m.session.UserID {
			partner = msg.ReceiverID
		}
		if partner == m.session.UserID || partner == 0 {
			jww.WARN.Printf("[CHAT] Dropping message %d with no "+
				"identifiable partner.", msg.ID)
			continue
		}
		byPartner[partner] = append(byPartner[partner], msg)
		if msg.Timestamp.After(maxTS) {
			maxTS = msg.Timestamp
		}
	}

	for partner, batch := range byPartner {
		m.client(partner).Ingest(batch)
	}

	if !maxTS.IsZero() {
		m.wmMux.Lock()
		if maxTS.After(m.watermark) {
			m.watermark = maxTS
			if err := saveWatermark(m.kv, m.watermark); err != nil {
				jww.WARN.Printf("[CHAT] Failed to persist manager "+
					"watermark: %+v", err)
			}
		}
		m.wmMux.Unlock()
	}
}

// Summaries returns one Summary per conversation, most recently active
// first. Conversations with no messages are omitted.
func (m *Manager) Summaries() []Summary {
	m.cMux.RLock()
	defer m.cMux.RUnlock()

	summaries := make([]Summary, 0, len(m.clients))
	for partnerID, c := range m.clients {
		msgs := c.conv.Messages()
		if len(msgs) == 0 {
			continue
		}

		last := msgs[len(msgs)-1]
		if m.params.Order == Descending {
			last = msgs[0]
		}

		summaries = append(summaries, Summary{
			PartnerID:   partnerID,
			LastMessage: last,
			Unread:      c.conv.UnreadCount(m.session.UserID),
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LastMessage.Timestamp.After(
			summaries[j].LastMessage.Timestamp)
	})

	return summaries
}

// Watermark returns the shared fetch cursor.
func (m *Manager) Watermark() time.Time {
	m.wmMux.Lock()
	defer m.wmMux.Unlock()
	return m.watermark
}

// StartPolling schedules Poll on the given period (the configured default
// when zero) and starts the health tracker.
func (m *Manager) StartPolling(interval time.Duration) (
	stoppable.Stoppable, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.stopper != nil && m.stopper.IsRunning() {
		return nil, errors.New("manager polling already running")
	}
	if interval <= 0 {
		interval = m.params.PollInterval
	}

	atomic.StoreUint32(&m.live, 1)
	m.cMux.RLock()
	for _, c := range m.clients {
		atomic.StoreUint32(&c.live, 1)
	}
	m.cMux.RUnlock()

	multi := stoppable.NewMulti("chatManager")

	poller := stoppable.NewSingle("managerPoller")
	go m.pollLoop(poller, interval)
	multi.Add(poller)

	if healthStop, err := m.monitor.StartProcesses(); err == nil {
		multi.Add(healthStop)
	} else {
		jww.WARN.Printf("[CHAT] Health tracker not started: %+v", err)
	}

	m.stopper = multi
	return multi, nil
}

// StopPolling cancels the poll loop and health tracker and tears down every
// conversation, discarding any in-flight results. Idempotent.
func (m *Manager) StopPolling() error {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.stopper == nil {
		return nil
	}

	atomic.StoreUint32(&m.live, 0)
	m.cMux.RLock()
	for _, c := range m.clients {
		atomic.StoreUint32(&c.live, 0)
	}
	m.cMux.RUnlock()

	err := m.stopper.Close()
	m.stopper = nil
	return err
}

func (m *Manager) pollLoop(stop *stoppable.Single, interval time.Duration) {
	jww.INFO.Printf("[CHAT] Polling all conversations of user %d every %s.",
		m.session.UserID, interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Quit():
			jww.INFO.Print("[CHAT] Stopping manager poll loop.")
			stop.ToStopped()
			return
		case <-ticker.C:
			if err := m.Poll(context.Background()); err != nil {
				jww.WARN.Printf("[CHAT] Manager poll failed; retrying on "+
					"next tick: %+v", err)
			}
		}
	}
}

// client returns the per-partner client, creating it on first contact and
// relaying its events to the manager's listeners.
func (m *Manager) client(partnerID int64) *Client {
	m.cMux.RLock()
	c, ok := m.clients[partnerID]
	m.cMux.RUnlock()
	if ok {
		return c
	}

	m.cMux.Lock()
	defer m.cMux.Unlock()
	if c, ok = m.clients[partnerID]; ok {
		return c
	}

	session := Session{UserID: m.session.UserID, PartnerID: partnerID}
	c = NewClient(session, m.net, m.kv, m.params)
	c.AddListener(m.events.notify)
	m.clients[partnerID] = c
	return c
}
