////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 GymLink Ltd.                                              //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package versioned wraps an ekv.KeyValue with schema-versioned objects and
// key prefixing, so each conversation can store its state under its own
// namespace.
package versioned

import (
	"fmt"

	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
)

const PrefixSeparator = "/"

// KV stores versioned data under a key prefix.
type KV struct {
	data   ekv.KeyValue
	prefix string
}

// NewKV creates a versioned key/value store backed by anything implementing
// ekv.KeyValue.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{data: data}
}

// Prefix returns a new KV that namespaces all keys under the given prefix,
// appended to any existing prefix.
func (v *KV) Prefix(prefix string) *KV {
	return &KV{
		data:   v.data,
		prefix: v.prefix + prefix + PrefixSeparator,
	}
}

// GetPrefix returns the accumulated prefix of the KV.
func (v *KV) GetPrefix() string {
	return v.prefix
}

// Get retrieves the Object stored at the given key and version.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	fullKey := v.makeKey(key, version)
	jww.TRACE.Printf("[KV] get %q", fullKey)

	result := Object{}
	if err := v.data.Get(fullKey, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Set upserts the Object at the given key. The version of the key is taken
// from the Object.
func (v *KV) Set(key string, object *Object) error {
	fullKey := v.makeKey(key, object.Version)
	jww.TRACE.Printf("[KV] set %q", fullKey)
	return v.data.Set(fullKey, object)
}

// Delete removes the given key and version from the data store.
func (v *KV) Delete(key string, version uint64) error {
	fullKey := v.makeKey(key, version)
	jww.TRACE.Printf("[KV] delete %q", fullKey)
	return v.data.Delete(fullKey)
}

// Exists returns false if the error indicates the element does not exist.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}
