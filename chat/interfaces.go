////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package chat

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrMalformedPayload is returned (possibly wrapped) by Transport
// implementations when the backend response is not a well-formed message
// list. Callers treat it as an empty result: logged, never partially merged.
var ErrMalformedPayload = errors.New("malformed message payload")

// Session is the identity context injected into a Client or Manager. It is
// passed explicitly rather than read from ambient storage so the sync logic
// is testable without a storage shim. Credentials live in the transport.
type Session struct {
	// UserID is the local user on whose behalf messages are sent.
	UserID int64

	// PartnerID is the other participant of a single conversation. Unused by
	// the multi-conversation Manager.
	PartnerID int64
}

// Source fetches confirmed messages from the backend.
type Source interface {
	// FetchConversation returns the entire conversation with the given
	// partner, used by the wholesale fetch mode.
	FetchConversation(ctx context.Context, partnerID int64) ([]Message, error)

	// FetchMessagesSince returns all messages for the given partner (or, for
	// the multi-conversation variant, all of the user's conversations) with a
	// timestamp strictly after since. A zero since fetches the full history.
	FetchMessagesSince(ctx context.Context, partnerID int64,
		since time.Time) ([]Message, error)
}

// Sender posts a locally created message and returns the canonical record the
// backend assigned to it.
type Sender interface {
	SendMessage(ctx context.Context, msg Message) (Message, error)
}

// Transport is the full backend contract consumed by a Client or Manager.
type Transport interface {
	Source
	Sender
}
