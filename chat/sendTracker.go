////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/gymlink/chat-client/storage/versioned"
)

const (
	sendTrackerStorageKey     = "sendTracker"
	sendTrackerStorageVersion = 0
)

// tracked is the persisted record of an optimistic send awaiting resolution.
type tracked struct {
	TempID     string    `json:"tempId"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}

// sendTracker tracks outbound messages between the optimistic append and the
// resolution of the send request. Pending entries are persisted; an entry
// still pending on reload belongs to a process that died mid-send, and the
// caller marks it failed.
type sendTracker struct {
	pending map[string]*tracked

	kv  *versioned.KV
	mux sync.Mutex
}

// newSendTracker loads the tracker from storage. Entries found pending on
// load are returned as stranded and cleared, the same way a dead process's
// unsent messages are denoted failed rather than silently retried.
func newSendTracker(kv *versioned.KV) (*sendTracker, []tracked) {
	st := &sendTracker{
		pending: make(map[string]*tracked),
		kv:      kv,
	}

	stranded, err := st.load()
	if err != nil && st.kv.Exists(err) {
		jww.FATAL.Panicf("Failed to load chat send tracker: %+v", err)
	}

	if len(stranded) > 0 {
		jww.INFO.Printf("[CHAT] %d send(s) were pending at last shutdown; "+
			"marking them failed.", len(stranded))
		if err = st.save(); err != nil {
			jww.WARN.Printf("[CHAT] Failed to clear stranded sends: %+v", err)
		}
	}

	return st, stranded
}

// add records a new optimistic send.
func (st *sendTracker) add(m Message) {
	st.mux.Lock()
	defer st.mux.Unlock()

	st.pending[m.TempID] = &tracked{
		TempID:     m.TempID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
	}
	if err := st.save(); err != nil {
		jww.WARN.Printf("[CHAT] Failed to persist send tracker: %+v", err)
	}
}

// confirm removes a send that the backend accepted (directly or via a poll
// correlation).
func (st *sendTracker) confirm(tempID string) {
	st.remove(tempID)
}

// fail removes a send that failed. The message itself stays visible in the
// conversation as failed; it is not retried automatically.
func (st *sendTracker) fail(tempID string) {
	st.remove(tempID)
}

func (st *sendTracker) remove(tempID string) {
	st.mux.Lock()
	defer st.mux.Unlock()

	if _, ok := st.pending[tempID]; !ok {
		return
	}
	delete(st.pending, tempID)
	if err := st.save(); err != nil {
		jww.WARN.Printf("[CHAT] Failed to persist send tracker: %+v", err)
	}
}

// load reads the pending list from storage and clears it, returning the
// stranded entries.
func (st *sendTracker) load() ([]tracked, error) {
	obj, err := st.kv.Get(sendTrackerStorageKey, sendTrackerStorageVersion)
	if err != nil {
		return nil, err
	}

	var list []tracked
	if err = json.Unmarshal(obj.Data, &list); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal send tracker")
	}

	return list, nil
}

// save persists the pending list. Callers must hold the mutex.
func (st *sendTracker) save() error {
	list := make([]tracked, 0, len(st.pending))
	for _, t := range st.pending {
		list = append(list, *t)
	}

	data, err := json.Marshal(list)
	if err != nil {
		return errors.Wrap(err, "failed to marshal send tracker")
	}

	return st.kv.Set(sendTrackerStorageKey, &versioned.Object{
		Version:   sendTrackerStorageVersion,
		Timestamp: time.Now(),
		Data:      data,
	})
}
