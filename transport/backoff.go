////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package transport

import (
	"math"
	"math/rand"
	"time"
)

// delay returns how long to wait before redial attempt number attempt,
// counting from zero: BaseDelay * Multiplier^attempt, capped at MaxDelay,
// with up to 10% jitter either way.
func (b BackoffParams) delay(attempt int) time.Duration {
	d := float64(b.BaseDelay) * math.Pow(b.Multiplier, float64(attempt))
	if d > float64(b.MaxDelay) {
		d = float64(b.MaxDelay)
	}

	if b.Jitter {
		jitterRange := d * 0.1
		d += (rand.Float64() - 0.5) * 2 * jitterRange
		if d < 0 {
			d = float64(b.BaseDelay)
		}
	}

	return time.Duration(d)
}
