////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package stream

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"gitlab.com/gymlink/chat-client/chat"
)

// chanSink forwards ingested batches to a channel for the test to assert on.
type chanSink struct {
	batches chan []chat.Message
}

func newChanSink() *chanSink {
	return &chanSink{batches: make(chan []chat.Message, 8)}
}

func (cs *chanSink) Ingest(msgs []chat.Message) {
	cs.batches <- msgs
}

func testFeed(t *testing.T, payloads []string, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}

	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if gotAuth != nil {
				gotAuth <- r.Header.Get("Authorization")
			}

			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				t.Errorf("Upgrade failed: %+v", err)
				return
			}
			defer func() { _ = conn.Close() }()

			for _, p := range payloads {
				if err = conn.WriteMessage(
					websocket.TextMessage, []byte(p)); err != nil {
					return
				}
			}

			// Hold the connection open until the client goes away
			for {
				if _, _, err = conn.ReadMessage(); err != nil {
					return
				}
			}
		}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// Tests that pushed batches reach the sink decoded and that malformed batches
// are dropped without killing the subscription.
func TestSubscription(t *testing.T) {
	payloads := []string{
		`[{"id": 11, "sender": 2, "receiver": 1, "message": "pushed",
		   "timestamp": "2024-06-01T12:00:00Z"}]`,
		`{"garbage": true}`,
		`[{"id": 12, "sender": 2, "receiver": 1, "message": "still alive",
		   "timestamp": "2024-06-01T12:00:01Z"}]`,
	}
	gotAuth := make(chan string, 1)
	srv := testFeed(t, payloads, gotAuth)
	defer srv.Close()

	sink := newChanSink()
	sub := NewSubscription(wsURL(srv), "tok", sink, GetDefaultParams())

	stop, err := sub.StartListening()
	if err != nil {
		t.Fatalf("StartListening returned: %+v", err)
	}
	defer func() { _ = stop.Close() }()

	if auth := <-gotAuth; auth != "Bearer tok" {
		t.Errorf("Unexpected authorization header."+
			"\nexpected: %q\nreceived: %q", "Bearer tok", auth)
	}

	for _, expectedID := range []int64{11, 12} {
		select {
		case batch := <-sink.batches:
			if len(batch) != 1 || batch[0].ID != expectedID {
				t.Errorf("Unexpected batch.\nexpected: message %d\nreceived: %+v",
					expectedID, batch)
			}
		case <-time.After(time.Second):
			t.Fatalf("Timed out waiting for message %d.", expectedID)
		}
	}
}

// Tests that closing the stoppable ends the pump even while a read is
// blocked.
func TestSubscription_Close(t *testing.T) {
	srv := testFeed(t, nil, nil)
	defer srv.Close()

	sink := newChanSink()
	sub := NewSubscription(wsURL(srv), "", sink, GetDefaultParams())

	stop, err := sub.StartListening()
	if err != nil {
		t.Fatalf("StartListening returned: %+v", err)
	}

	// Give the dial a moment so the close races a blocked read, not the dial
	time.Sleep(50 * time.Millisecond)

	if err = stop.Close(); err != nil {
		t.Errorf("Close returned: %+v", err)
	}

	deadline := time.After(time.Second)
	for stop.IsRunning() {
		select {
		case <-deadline:
			t.Fatalf("Listener did not stop.")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Tests that a subscription without a sink is rejected.
func TestSubscription_NoSink(t *testing.T) {
	sub := NewSubscription("ws://localhost:0", "tok", nil, GetDefaultParams())
	if _, err := sub.StartListening(); err == nil {
		t.Errorf("Subscription without a sink was accepted.")
	}
}

// Tests that a failed dial is retried until the feed comes up.
func TestSubscription_Reconnect(t *testing.T) {
	srv := testFeed(t, []string{
		`[{"id": 11, "sender": 2, "receiver": 1, "message": "late feed",
		   "timestamp": "2024-06-01T12:00:00Z"}]`}, nil)
	// Pull the listener down so the first dials fail
	url := wsURL(srv)
	srv.Close()

	sink := newChanSink()
	params := GetDefaultParams()
	params.ReconnectInitial = 10 * time.Millisecond
	params.ReconnectMax = 20 * time.Millisecond

	sub := NewSubscription(url, "", sink, params)
	stop, err := sub.StartListening()
	if err != nil {
		t.Fatalf("StartListening returned: %+v", err)
	}
	defer func() { _ = stop.Close() }()

	// The subscription keeps retrying; no batch must arrive meanwhile
	select {
	case batch := <-sink.batches:
		t.Fatalf("Batch arrived from a dead feed: %+v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}
