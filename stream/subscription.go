////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package stream is the push alternative to polling: a websocket subscription
// that delivers message batches into the same merge contract the poll path
// uses. De-duplication, ordering, and optimistic reconciliation all happen in
// the sink, so running a subscription alongside (or instead of) polling is
// safe.
package stream

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/gymlink/chat-client/chat"
	"gitlab.com/gymlink/chat-client/rest"
	"gitlab.com/gymlink/chat-client/stoppable"
)

// Sink consumes decoded message batches. Both chat.Client and chat.Manager
// satisfy it.
type Sink interface {
	Ingest(msgs []chat.Message)
}

// Params holds the tunables of a Subscription.
type Params struct {
	// ReconnectInitial and ReconnectMax bound the exponential backoff
	// between reconnect attempts.
	ReconnectInitial time.Duration `json:"reconnectInitial"`
	ReconnectMax     time.Duration `json:"reconnectMax"`

	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration `json:"handshakeTimeout"`
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		ReconnectInitial: time.Second,
		ReconnectMax:     30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Subscription maintains a websocket connection to the backend's chat feed
// and forwards each received batch to the sink. Connection loss is handled
// with capped exponential backoff; the subscription only ends when its
// stoppable is closed.
type Subscription struct {
	url    string
	token  string
	sink   Sink
	params Params

	dialer *websocket.Dialer
}

// NewSubscription builds a subscription to the given websocket URL (ws:// or
// wss://) authorized by the given bearer token.
func NewSubscription(url, token string, sink Sink, params Params) *Subscription {
	return &Subscription{
		url:    url,
		token:  token,
		sink:   sink,
		params: params,
		dialer: &websocket.Dialer{
			HandshakeTimeout: params.HandshakeTimeout,
		},
	}
}

// StartListening starts the read pump and returns its stoppable.
func (s *Subscription) StartListening() (stoppable.Stoppable, error) {
	if s.sink == nil {
		return nil, errors.New("cannot start subscription without a sink")
	}

	stop := stoppable.NewSingle("streamListener")
	go s.listen(stop)

	return stop, nil
}

// listen dials, pumps, and redials until told to quit.
func (s *Subscription) listen(stop *stoppable.Single) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.params.ReconnectInitial
	bo.MaxInterval = s.params.ReconnectMax
	bo.MaxElapsedTime = 0 // retry forever, teardown is explicit

	for {
		select {
		case <-stop.Quit():
			stop.ToStopped()
			return
		default:
		}

		header := http.Header{}
		if s.token != "" {
			header.Set("Authorization", "Bearer "+s.token)
		}

		conn, _, err := s.dialer.Dial(s.url, header)
		if err != nil {
			wait := bo.NextBackOff()
			jww.WARN.Printf("[STREAM] Dial of %s failed, retrying in %s: %+v",
				s.url, wait, err)
			select {
			case <-stop.Quit():
				stop.ToStopped()
				return
			case <-time.After(wait):
			}
			continue
		}

		jww.INFO.Printf("[STREAM] Connected to %s.", s.url)
		bo.Reset()
		s.pump(stop, conn)

		if !stop.IsRunning() {
			stop.ToStopped()
			return
		}
	}
}

// pump reads batches off one connection until it breaks or the subscription
// is told to quit.
func (s *Subscription) pump(stop *stoppable.Single, conn *websocket.Conn) {
	// Unblock the blocking read when the subscription is closed
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-stop.Quit():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer func() { _ = conn.Close() }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if stop.IsRunning() {
				jww.WARN.Printf("[STREAM] Connection lost: %+v", err)
			}
			return
		}

		msgs, err := rest.DecodeMessages(data)
		if err != nil {
			// Same contract as a malformed poll: drop the batch wholesale
			jww.WARN.Printf("[STREAM] Discarding malformed batch: %+v", err)
			continue
		}

		s.sink.Ingest(msgs)
	}
}
