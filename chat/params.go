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
)

// FetchMode selects how polls retrieve messages from the backend.
type FetchMode uint8

const (
	// FetchIncremental fetches only messages newer than the watermark and
	// merges them into the current list.
	FetchIncremental FetchMode = iota

	// FetchWholesale fetches the entire conversation on every poll and
	// rebuilds the confirmed portion of the list, keeping any optimistic
	// entries still awaiting their confirmed counterparts.
	FetchWholesale
)

// Params holds the tunables of a Client or Manager.
type Params struct {
	// PollInterval is the period of the polling loop.
	PollInterval time.Duration `json:"pollInterval"`

	// GracePeriod is how long a message is shown as sent before the
	// optimistic entry is swapped for the backend's canonical record. The
	// delay lets the UI render "sent" instead of flickering straight to the
	// re-timestamped canonical copy.
	GracePeriod time.Duration `json:"gracePeriod"`

	// SendsPerSecond rate-limits outbound sends. Zero or negative disables
	// the limiter.
	SendsPerSecond int `json:"sendsPerSecond"`

	// HealthTimeout is how long the health tracker waits for a successful
	// poll before marking the backend unreachable.
	HealthTimeout time.Duration `json:"healthTimeout"`

	FetchMode FetchMode `json:"fetchMode"`
	Order     Order     `json:"order"`

	// InitialWatermark is the starting point of the incremental cursor on
	// Initialize. The zero value fetches the full history.
	InitialWatermark time.Time `json:"initialWatermark"`
}

// GetDefaultParams returns a default set of Params.
func GetDefaultParams() Params {
	return Params{
		PollInterval:   3 * time.Second,
		GracePeriod:    400 * time.Millisecond,
		SendsPerSecond: 4,
		HealthTimeout:  15 * time.Second,
		FetchMode:      FetchIncremental,
		Order:          Ascending,
	}
}

// GetParameters returns the default Params, or override with the given
// parameters, if set.
func GetParameters(params string) (Params, error) {
	p := GetDefaultParams()
	if len(params) > 0 {
		if err := json.Unmarshal([]byte(params), &p); err != nil {
			return Params{}, errors.Wrap(err, "failed to parse chat params")
		}
	}
	return p, nil
}
