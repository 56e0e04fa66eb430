////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/gymlink/chat-client/storage/versioned"
)

// mockTransport is a scriptable Transport. Each fetch pops the next queued
// batch; sends assign incrementing server IDs and echo the temp ID.
type mockTransport struct {
	batches  [][]Message
	fetchErr error
	sendErr  error

	nextID   int64
	sent     []Message
	release  chan struct{}
	sendDone chan Message

	mux sync.Mutex
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		nextID:   100,
		sendDone: make(chan Message, 8),
	}
}

func (mt *mockTransport) queue(batch ...Message) {
	mt.mux.Lock()
	defer mt.mux.Unlock()
	mt.batches = append(mt.batches, batch)
}

func (mt *mockTransport) fetch() ([]Message, error) {
	mt.mux.Lock()
	defer mt.mux.Unlock()

	if mt.fetchErr != nil {
		return nil, mt.fetchErr
	}
	if len(mt.batches) == 0 {
		return nil, nil
	}
	batch := mt.batches[0]
	mt.batches = mt.batches[1:]
	return batch, nil
}

func (mt *mockTransport) FetchConversation(_ context.Context, _ int64) (
	[]Message, error) {
	return mt.fetch()
}

func (mt *mockTransport) FetchMessagesSince(_ context.Context, _ int64,
	_ time.Time) ([]Message, error) {
	return mt.fetch()
}

func (mt *mockTransport) SendMessage(_ context.Context, m Message) (
	Message, error) {
	if mt.release != nil {
		<-mt.release
	}

	mt.mux.Lock()
	defer mt.mux.Unlock()

	if mt.sendErr != nil {
		mt.sendDone <- Message{}
		return Message{}, mt.sendErr
	}

	mt.nextID++
	canonical := m
	canonical.ID = mt.nextID
	canonical.Status = Sent
	mt.sent = append(mt.sent, canonical)
	mt.sendDone <- canonical
	return canonical, nil
}

func testParams() Params {
	p := GetDefaultParams()
	p.GracePeriod = 5 * time.Millisecond
	p.SendsPerSecond = 0
	return p
}

func testSession() Session {
	return Session{UserID: 1, PartnerID: 2}
}

// collector buffers events so tests can wait for them.
type collector struct {
	events chan Event
}

func newCollector() *collector {
	return &collector{events: make(chan Event, 32)}
}

func (cl *collector) listen(e Event) {
	cl.events <- e
}

func (cl *collector) next(t *testing.T, want EventType) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case e := <-cl.events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %d event.", want)
		}
	}
}

// Tests that Initialize fetches and merges the backlog.
func TestClient_Initialize(t *testing.T) {
	mt := newMockTransport()
	mt.queue(
		confirmed(11, 2, 1, "welcome to the gym", 0),
		confirmed(12, 1, 2, "thanks", time.Second),
	)

	c := NewClient(testSession(), mt, nil, testParams())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned: %+v", err)
	}

	if c.Conversation().Len() != 2 {
		t.Errorf("Backlog was not merged.\nexpected: %d\nreceived: %d",
			2, c.Conversation().Len())
	}
}

// Tests that poll outcomes drive the health monitor once its thread runs.
func TestClient_Health(t *testing.T) {
	mt := newMockTransport()
	c := NewClient(testSession(), mt, nil, testParams())

	stop, err := c.Health().StartProcesses()
	if err != nil {
		t.Fatalf("StartProcesses returned: %+v", err)
	}
	defer func() { _ = stop.Close() }()

	healthy := make(chan bool, 8)
	c.Health().AddHealthCallback(func(isHealthy bool) {
		healthy <- isHealthy
	})
	if h := <-healthy; h {
		t.Errorf("Backend reported healthy before any poll.")
	}

	if err = c.Poll(context.Background()); err != nil {
		t.Fatalf("Poll returned: %+v", err)
	}
	select {
	case h := <-healthy:
		if !h {
			t.Errorf("Successful poll did not mark the backend healthy.")
		}
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for a health change.")
	}

	mt.fetchErr = errors.New("backend down")
	_ = c.Poll(context.Background())
	select {
	case h := <-healthy:
		if h {
			t.Errorf("Failed poll did not mark the backend unhealthy.")
		}
	case <-time.After(time.Second):
		t.Fatalf("Timed out waiting for a health change.")
	}
}

// Tests that a failed poll leaves the list and cursor untouched and flips the
// health state.
func TestClient_Poll_Failure(t *testing.T) {
	mt := newMockTransport()
	mt.queue(confirmed(11, 2, 1, "hello", 0))

	c := NewClient(testSession(), mt, nil, testParams())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned: %+v", err)
	}
	wm := c.Conversation().Watermark()

	mt.fetchErr = errors.New("backend down")
	if err := c.Poll(context.Background()); err == nil {
		t.Errorf("Poll did not surface the fetch error.")
	}

	if c.Conversation().Len() != 1 {
		t.Errorf("Failed poll changed the list.")
	}
	if !c.Conversation().Watermark().Equal(wm) {
		t.Errorf("Failed poll moved the watermark."+
			"\nexpected: %s\nreceived: %s", wm, c.Conversation().Watermark())
	}
}

// Tests that a malformed payload is discarded without an error so the next
// poll simply retries.
func TestClient_Poll_Malformed(t *testing.T) {
	mt := newMockTransport()
	mt.fetchErr = errors.Wrap(ErrMalformedPayload, "unexpected envelope")

	c := NewClient(testSession(), mt, nil, testParams())
	if err := c.Poll(context.Background()); err != nil {
		t.Errorf("Malformed payload surfaced as a poll error: %+v", err)
	}
	if c.Conversation().Len() != 0 {
		t.Errorf("Malformed payload changed the list.")
	}
}

// Tests that a poll issued while one is outstanding is skipped, not queued.
func TestClient_Poll_InFlightSkip(t *testing.T) {
	mt := newMockTransport()
	c := NewClient(testSession(), mt, nil, testParams())

	// Simulate an outstanding poll
	c.inFlight = 1
	mt.queue(confirmed(11, 2, 1, "hello", 0))
	if err := c.Poll(context.Background()); err != nil {
		t.Errorf("Overlapping poll returned an error: %+v", err)
	}
	if c.Conversation().Len() != 0 {
		t.Errorf("Overlapping poll was executed instead of skipped.")
	}

	c.inFlight = 0
	if err := c.Poll(context.Background()); err != nil {
		t.Errorf("Poll after release returned: %+v", err)
	}
	if c.Conversation().Len() != 1 {
		t.Errorf("Poll after release did not merge the batch.")
	}
}

// Tests the optimistic send path: entry appears immediately as sending, then
// flips to sent, and the grace-period swap installs the canonical record.
func TestClient_Send(t *testing.T) {
	mt := newMockTransport()
	c := NewClient(testSession(), mt, nil, testParams())
	cl := newCollector()
	c.AddListener(cl.listen)

	tempID, err := c.Send(context.Background(), "  see you at 6  ")
	if err != nil {
		t.Fatalf("Send returned: %+v", err)
	}

	e := cl.next(t, ListUpdated)
	if len(e.Added) != 1 || e.Added[0].TempID != tempID ||
		e.Added[0].Status != Sending {
		t.Errorf("Optimistic entry was not announced as sending: %+v", e.Added)
	}
	if e.Added[0].Text != "see you at 6" {
		t.Errorf("Text was not trimmed.\nexpected: %q\nreceived: %q",
			"see you at 6", e.Added[0].Text)
	}

	e = cl.next(t, StatusChanged)
	if e.Message.Status != Sent {
		t.Errorf("Unexpected status after delivery."+
			"\nexpected: %s\nreceived: %s", Sent, e.Message.Status)
	}

	// Wait out the grace period for the canonical swap
	deadline := time.After(time.Second)
	for {
		msgs := c.Conversation().Messages()
		if len(msgs) != 1 {
			t.Fatalf("Send left %d entries.", len(msgs))
		}
		if msgs[0].Confirmed() && msgs[0].TempID == "" {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("Canonical record was not swapped in: %+v", msgs[0])
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Tests that empty and whitespace-only text is rejected without a network
// call.
func TestClient_Send_EmptyText(t *testing.T) {
	mt := newMockTransport()
	c := NewClient(testSession(), mt, nil, testParams())

	if _, err := c.Send(context.Background(), "   \n\t "); err == nil {
		t.Errorf("Whitespace-only send was accepted.")
	}
	if c.Conversation().Len() != 0 {
		t.Errorf("Rejected send appended an entry.")
	}
	select {
	case <-mt.sendDone:
		t.Errorf("Rejected send reached the network.")
	case <-time.After(20 * time.Millisecond):
	}
}

// Tests that a failed delivery marks the entry failed and keeps it visible,
// and that a retry appends a fresh entry instead of resurrecting it.
func TestClient_Send_Failure(t *testing.T) {
	mt := newMockTransport()
	mt.sendErr = errors.New("backend down")

	c := NewClient(testSession(), mt, nil, testParams())
	cl := newCollector()
	c.AddListener(cl.listen)

	tempID, err := c.Send(context.Background(), "did not make it")
	if err != nil {
		t.Fatalf("Send returned: %+v", err)
	}

	e := cl.next(t, SendFailed)
	if e.Message.TempID != tempID || e.Message.Status != Failed {
		t.Errorf("Unexpected failed event.\nexpected: %s %s\nreceived: %s %s",
			tempID, Failed, e.Message.TempID, e.Message.Status)
	}

	// Retry appends a new entry; the failed one stays as history
	mt.mux.Lock()
	mt.sendErr = nil
	mt.mux.Unlock()
	if _, err = c.Send(context.Background(), "did not make it"); err != nil {
		t.Fatalf("Retry returned: %+v", err)
	}
	cl.next(t, StatusChanged)

	failed := 0
	for _, m := range c.Conversation().Messages() {
		if m.Status == Failed {
			failed++
		}
	}
	if failed != 1 || c.Conversation().Len() != 2 {
		t.Errorf("Retry did not append a fresh entry."+
			"\nexpected: 2 entries, 1 failed\nreceived: %d entries, %d failed",
			c.Conversation().Len(), failed)
	}
}

// Tests teardown safety: results of a send in flight at StopPolling are
// discarded, and the pending tracker entry resurfaces as failed on reload.
func TestClient_Teardown_MidFlightSend(t *testing.T) {
	mt := newMockTransport()
	mt.release = make(chan struct{})

	kv := versioned.NewKV(ekv.MakeMemstore())
	c := NewClient(testSession(), mt, kv, testParams())

	if _, err := c.StartPolling(time.Hour); err != nil {
		t.Fatalf("StartPolling returned: %+v", err)
	}
	tempID, err := c.Send(context.Background(), "in flight at teardown")
	if err != nil {
		t.Fatalf("Send returned: %+v", err)
	}

	// Tear down while the request is blocked, then let it complete
	if err = c.StopPolling(); err != nil {
		t.Errorf("StopPolling returned: %+v", err)
	}
	close(mt.release)
	<-mt.sendDone
	time.Sleep(20 * time.Millisecond)

	for _, m := range c.Conversation().Messages() {
		if m.TempID == tempID && m.Status != Sending {
			t.Errorf("Send result was applied after teardown: %+v", m)
		}
	}

	// A remount of the same store marks the stranded send failed
	c2 := NewClient(testSession(), newMockTransport(), kv, testParams())
	found := false
	for _, m := range c2.Conversation().Messages() {
		if m.TempID == tempID {
			found = true
			if m.Status != Failed {
				t.Errorf("Stranded send was not marked failed on reload."+
					"\nexpected: %s\nreceived: %s", Failed, m.Status)
			}
		}
	}
	if !found {
		t.Errorf("Stranded send disappeared on reload.")
	}
}

// Tests that poll results arriving after StopPolling are discarded.
func TestClient_Teardown_MidFlightPoll(t *testing.T) {
	mt := newMockTransport()
	mt.queue(confirmed(11, 2, 1, "stale", 0))

	c := NewClient(testSession(), mt, nil, testParams())
	if _, err := c.StartPolling(time.Hour); err != nil {
		t.Fatalf("StartPolling returned: %+v", err)
	}
	if err := c.StopPolling(); err != nil {
		t.Errorf("StopPolling returned: %+v", err)
	}

	if err := c.Poll(context.Background()); err != nil {
		t.Errorf("Poll after teardown returned: %+v", err)
	}
	if c.Conversation().Len() != 0 {
		t.Errorf("Poll result was applied to a torn-down conversation.")
	}
}

// Tests the polling lifecycle: double start rejected, stop idempotent,
// restart allowed.
func TestClient_PollingLifecycle(t *testing.T) {
	mt := newMockTransport()
	c := NewClient(testSession(), mt, nil, testParams())

	stop, err := c.StartPolling(time.Hour)
	if err != nil {
		t.Fatalf("StartPolling returned: %+v", err)
	}
	if !stop.IsRunning() {
		t.Errorf("Stoppable not running after start.")
	}

	if _, err = c.StartPolling(time.Hour); err == nil {
		t.Errorf("Second StartPolling was accepted while running.")
	}

	if err = c.StopPolling(); err != nil {
		t.Errorf("StopPolling returned: %+v", err)
	}
	if err = c.StopPolling(); err != nil {
		t.Errorf("Repeated StopPolling returned: %+v", err)
	}

	if _, err = c.StartPolling(time.Hour); err != nil {
		t.Errorf("Restart after stop was rejected: %+v", err)
	}
	_ = c.StopPolling()
}

// Tests that a file-backed client resumes its conversation on remount.
func TestClient_Persistence(t *testing.T) {
	mt := newMockTransport()
	mt.queue(
		confirmed(11, 2, 1, "hello", 0),
		confirmed(12, 1, 2, "hi", time.Second),
	)

	kv := versioned.NewKV(ekv.MakeMemstore())
	c := NewClient(testSession(), mt, kv, testParams())
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize returned: %+v", err)
	}

	c2 := NewClient(testSession(), newMockTransport(), kv, testParams())
	if c2.Conversation().Len() != 2 {
		t.Errorf("Conversation did not survive remount."+
			"\nexpected: %d\nreceived: %d", 2, c2.Conversation().Len())
	}
	if !c2.Conversation().Watermark().Equal(c.Conversation().Watermark()) {
		t.Errorf("Watermark did not survive remount."+
			"\nexpected: %s\nreceived: %s",
			c.Conversation().Watermark(), c2.Conversation().Watermark())
	}
}
