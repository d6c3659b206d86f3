////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

// Package versioned wraps an ekv.KeyValue with versioned, timestamped,
// prefixable objects.
package versioned

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/xx_network/primitives/netTime"
)

// PrefixSeparator separates nested prefixes in a key.
const PrefixSeparator = "/"

// KV stores versioned data under an optional key prefix.
type KV struct {
	data   ekv.KeyValue
	prefix string
}

// NewKV creates a versioned key/value store backed by something implementing
// ekv.KeyValue.
func NewKV(data ekv.KeyValue) *KV {
	return &KV{data: data}
}

// NewMemKV returns a KV backed by a fresh in-memory store.
func NewMemKV() *KV {
	return NewKV(ekv.MakeMemstore())
}

// NewFileKV returns a KV backed by an encrypted file store in dir.
func NewFileKV(dir, password string) (*KV, error) {
	fs, err := ekv.NewFilestore(dir, password)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open file store %s", dir)
	}
	return NewKV(fs), nil
}

// Get loads the object stored under key. The stored version must match.
func (v *KV) Get(key string, version uint64) (*Object, error) {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("get %p with key %v", v.data, key)
	result := Object{}
	if err := v.data.Get(key, &result); err != nil {
		return nil, err
	}
	if result.Version != version {
		return nil, errors.Errorf("object %s has version %d, expected %d",
			key, result.Version, version)
	}
	return &result, nil
}

// Set upserts the object under key at the object's version.
func (v *KV) Set(key string, object *Object) error {
	key = v.makeKey(key, object.Version)
	jww.TRACE.Printf("set %p with key %v", v.data, key)
	return v.data.Set(key, object)
}

// Delete removes the given key and version from the data store.
func (v *KV) Delete(key string, version uint64) error {
	key = v.makeKey(key, version)
	jww.TRACE.Printf("delete %p with key %v", v.data, key)
	return v.data.Delete(key)
}

// GetJSON loads the object under key and decodes its data into out.
func (v *KV) GetJSON(key string, version uint64, out interface{}) error {
	obj, err := v.Get(key, version)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(obj.Data, out),
		"failed to decode %s", key)
}

// SetJSON encodes in and stores it under key at the given version.
func (v *KV) SetJSON(key string, version uint64, in interface{}) error {
	data, err := json.Marshal(in)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", key)
	}
	return v.Set(key, &Object{
		Version:   version,
		Timestamp: netTime.Now(),
		Data:      data,
	})
}

// Prefix returns a KV sharing the same backing store whose keys are nested
// under prefix.
func (v *KV) Prefix(prefix string) *KV {
	return &KV{
		data:   v.data,
		prefix: v.prefix + prefix + PrefixSeparator,
	}
}

// GetPrefix returns the prefix of the KV.
func (v *KV) GetPrefix() string {
	return v.prefix
}

// Exists returns false if the error indicates the element doesn't exist.
func (v *KV) Exists(err error) bool {
	return ekv.Exists(err)
}

// GetFullKey returns the key with all prefixes and the version appended.
func (v *KV) GetFullKey(key string, version uint64) string {
	return v.makeKey(key, version)
}

func (v *KV) makeKey(key string, version uint64) string {
	return fmt.Sprintf("%s%s_%d", v.prefix, key, version)
}
