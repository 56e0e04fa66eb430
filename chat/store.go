////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"gitlab.com/gymlink/chat-client/storage/versioned"
)

const (
	conversationStorageKey     = "conversation"
	conversationStorageVersion = 0

	watermarkStorageKey     = "receivedWatermark"
	watermarkStorageVersion = 0
)

// conversationDisk is the stored snapshot of a conversation.
type conversationDisk struct {
	Messages  []Message `json:"messages"`
	Watermark time.Time `json:"watermark"`
}

// saveConversation persists the conversation's message list and cursor.
func saveConversation(kv *versioned.KV, c *Conversation) error {
	disk := conversationDisk{
		Messages:  c.Messages(),
		Watermark: c.Watermark(),
	}

	data, err := json.Marshal(&disk)
	if err != nil {
		return errors.Wrap(err, "failed to marshal conversation")
	}

	return kv.Set(conversationStorageKey, &versioned.Object{
		Version:   conversationStorageVersion,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// loadConversation restores a conversation snapshot from storage. Returns
// false if no snapshot exists.
func loadConversation(kv *versioned.KV, c *Conversation) (bool, error) {
	obj, err := kv.Get(conversationStorageKey, conversationStorageVersion)
	if err != nil {
		if !kv.Exists(err) {
			return false, nil
		}
		return false, err
	}

	var disk conversationDisk
	if err = json.Unmarshal(obj.Data, &disk); err != nil {
		return false, errors.Wrap(err, "failed to unmarshal conversation")
	}

	c.restore(disk.Messages, disk.Watermark)
	return true, nil
}

// saveWatermark persists a standalone cursor, used by the multi-conversation
// manager whose fetch watermark spans all partners.
func saveWatermark(kv *versioned.KV, watermark time.Time) error {
	data, err := json.Marshal(watermark)
	if err != nil {
		return errors.Wrap(err, "failed to marshal watermark")
	}

	return kv.Set(watermarkStorageKey, &versioned.Object{
		Version:   watermarkStorageVersion,
		Timestamp: time.Now(),
		Data:      data,
	})
}

// loadWatermark restores a standalone cursor. Returns the zero time if none
// has been stored.
func loadWatermark(kv *versioned.KV) (time.Time, error) {
	obj, err := kv.Get(watermarkStorageKey, watermarkStorageVersion)
	if err != nil {
		if !kv.Exists(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}

	var watermark time.Time
	if err = json.Unmarshal(obj.Data, &watermark); err != nil {
		return time.Time{}, errors.Wrap(err, "failed to unmarshal watermark")
	}

	return watermark, nil
}
