////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package versioned

import (
	"encoding/json"
	"fmt"
	"time"
)

// Object is used by KV to keep track of the version and storage time of
// every value it holds.
type Object struct {
	// Used to reject data written by an incompatible version
	Version uint64

	// Set when this object is written
	Timestamp time.Time

	// Serialized version of original object
	Data []byte
}

// Unmarshal deserializes an Object from a byte slice. It's used to make these
// storable in an ekv.KeyValue.
func (v *Object) Unmarshal(data []byte) error {
	return json.Unmarshal(data, v)
}

// Marshal serializes an Object into a byte slice. It's used to make these
// storable in an ekv.KeyValue.
func (v *Object) Marshal() []byte {
	d, err := json.Marshal(v)
	// Not being able to marshal this simple object means something is
	// really wrong
	if err != nil {
		panic(fmt.Sprintf("Could not marshal: %+v", v))
	}
	return d
}
