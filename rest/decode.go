////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package rest

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/thedevsaddam/gojsonq"
	"gitlab.com/gymlink/chat-client/chat"
)

// wireMessage is the backend's representation of a message. The two list
// endpoints differ slightly (the mobile one omits receiver and is_read);
// missing fields decode to their zero values.
type wireMessage struct {
	ID        int64  `json:"id"`
	Sender    int64  `json:"sender"`
	Receiver  int64  `json:"receiver"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	IsRead    bool   `json:"is_read"`
	TempID    string `json:"temp_id,omitempty"`
}

func (w wireMessage) toMessage() (chat.Message, error) {
	if w.ID == 0 {
		return chat.Message{}, errors.Wrap(chat.ErrMalformedPayload,
			"message record is missing its id")
	}

	ts, err := time.Parse(time.RFC3339, w.Timestamp)
	if err != nil {
		return chat.Message{}, errors.Wrap(chat.ErrMalformedPayload,
			"message record has unparsable timestamp "+w.Timestamp)
	}

	return chat.Message{
		ID:         w.ID,
		TempID:     w.TempID,
		SenderID:   w.Sender,
		ReceiverID: w.Receiver,
		Text:       w.Message,
		Timestamp:  ts,
		Status:     chat.Sent,
		Read:       w.IsRead,
	}, nil
}

// DecodeMessages parses a message-list payload. Both response shapes the
// backend has been observed to produce are accepted: a bare JSON array and a
// {"messages": [...]} envelope. Anything else fails with
// chat.ErrMalformedPayload, which callers treat as an empty result.
func DecodeMessages(body []byte) ([]chat.Message, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, errors.Wrap(chat.ErrMalformedPayload, "empty body")
	}

	payload := trimmed
	if trimmed[0] != '[' {
		found := gojsonq.New().FromString(string(trimmed)).Find("messages")
		arr, ok := found.([]interface{})
		if !ok {
			return nil, errors.Wrap(chat.ErrMalformedPayload,
				"response is neither a message array nor a messages envelope")
		}

		var err error
		if payload, err = json.Marshal(arr); err != nil {
			return nil, errors.Wrap(chat.ErrMalformedPayload, err.Error())
		}
	}

	var wire []wireMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, errors.Wrap(chat.ErrMalformedPayload,
			"message list failed to decode: "+err.Error())
	}

	msgs := make([]chat.Message, 0, len(wire))
	for _, w := range wire {
		m, err := w.toMessage()
		if err != nil {
			// One bad record poisons the batch; per the failure contract the
			// whole response is discarded rather than partially merged.
			return nil, err
		}
		msgs = append(msgs, m)
	}

	return msgs, nil
}
