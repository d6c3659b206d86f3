////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package negotiation

import "github.com/google/uuid"

// NewID returns a fresh negotiation correlation id.
func NewID() string {
	return "neg-" + uuid.NewString()
}
