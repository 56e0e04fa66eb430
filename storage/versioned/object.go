////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"fmt"
	"time"
)

// Object is the envelope stored in the key/value store. It keeps track of the
// schema version of the serialized data and the time it was written.
type Object struct {
	// Used to determine schema compatibility on load
	Version uint64

	// Set when this object is written
	Timestamp time.Time

	// Serialized version of the original object
	Data []byte
}

// Unmarshal deserializes an Object from a byte slice. It is used to make
// Objects storable in a KeyValue. All fields are exported with simple types,
// so json.Unmarshal works fine.
func (v *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, v)
}

// Marshal serializes an Object into a byte slice. It is used to make Objects
// storable in a KeyValue.
func (v *Object) Marshal() []byte {
	d, err := json.Marshal(v)
	// Failing to marshal this simple object means something is really wrong
	if err != nil {
		panic(fmt.Sprintf("Could not marshal: %+v", v))
	}
	return d
}
