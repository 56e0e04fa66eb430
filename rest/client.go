////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package rest implements the chat.Transport contract over the GymLink REST
// API:
//
//	GET  /chat/trainer/{trainerId}/                    full conversation
//	GET  /trainer/{trainerId}/messages/?since=<ts>     incremental fetch
//	POST /messages/send/                               send message
//
// All requests carry the bearer token handed to NewClient; token acquisition
// and refresh are out of scope.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/gymlink/chat-client/chat"
)

// Params holds the tunables of the REST transport.
type Params struct {
	// Timeout bounds each request end to end.
	Timeout time.Duration `json:"timeout"`
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{Timeout: 10 * time.Second}
}

// Client talks to the GymLink backend. It implements chat.Transport.
type Client struct {
	baseURL string
	token   string
	local   int64

	http *http.Client
}

// NewClient builds a transport for the given backend and bearer token. The
// local user ID is used to orient fetched messages (the mobile endpoint omits
// the receiver field).
func NewClient(baseURL, token string, localUser int64,
	params Params) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		local:   localUser,
		http:    &http.Client{Timeout: params.Timeout},
	}
}

// FetchConversation retrieves the entire conversation with the given trainer.
func (c *Client) FetchConversation(ctx context.Context,
	partnerID int64) ([]chat.Message, error) {
	endpoint := fmt.Sprintf("%s/chat/trainer/%d/", c.baseURL, partnerID)

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	msgs, err := DecodeMessages(body)
	if err != nil {
		return nil, err
	}

	// This endpoint returns only {id, message, sender, timestamp}; fill in
	// the receiver from the conversation pair.
	for i := range msgs {
		if msgs[i].ReceiverID == 0 {
			if msgs[i].SenderID == c.local {
				msgs[i].ReceiverID = partnerID
			} else {
				msgs[i].ReceiverID = c.local
			}
		}
	}

	return msgs, nil
}

// FetchMessagesSince retrieves messages newer than since. A zero since omits
// the parameter and fetches the full history.
func (c *Client) FetchMessagesSince(ctx context.Context, partnerID int64,
	since time.Time) ([]chat.Message, error) {
	endpoint := fmt.Sprintf("%s/trainer/%d/messages/", c.baseURL, partnerID)
	if !since.IsZero() {
		endpoint += "?since=" + url.QueryEscape(since.Format(time.RFC3339Nano))
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	return DecodeMessages(body)
}

// SendMessage posts a locally created message and returns the canonical
// record the backend created for it.
func (c *Client) SendMessage(ctx context.Context,
	msg chat.Message) (chat.Message, error) {
	endpoint := c.baseURL + "/messages/send/"

	payload, err := json.Marshal(&sendRequest{
		SenderID:   msg.SenderID,
		ReceiverID: msg.ReceiverID,
		Message:    msg.Text,
		TempID:     msg.TempID,
	})
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "failed to marshal send body")
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	body, err := c.do(req)
	if err != nil {
		return chat.Message{}, err
	}

	var wire wireMessage
	if err = json.Unmarshal(body, &wire); err != nil {
		return chat.Message{}, errors.Wrap(chat.ErrMalformedPayload,
			"send response is not a message record: "+err.Error())
	}

	canonical, err := wire.toMessage()
	if err != nil {
		return chat.Message{}, err
	}

	jww.DEBUG.Printf("[REST] Sent message %d to %d.",
		canonical.ID, canonical.ReceiverID)
	return canonical, nil
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(
		ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	c.authorize(req)

	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "request to %s failed", req.URL.Path)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read response from %s",
			req.URL.Path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Errorf("request to %s returned status %d",
			req.URL.Path, resp.StatusCode)
	}

	return body, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

type sendRequest struct {
	SenderID   int64  `json:"sender_id"`
	ReceiverID int64  `json:"receiver_id"`
	Message    string `json:"message"`
	TempID     string `json:"temp_id,omitempty"`
}
