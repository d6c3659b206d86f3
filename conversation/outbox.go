////////////////////////////////////////////////////////////////////////////////
// Copyright © 2024 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"sync"

	"github.com/golang-collections/collections/queue"
	"github.com/golang-collections/collections/set"
	"go.uber.org/ratelimit"

	"gitlab.com/elixxir/marketchat/message"
)

// outbox holds drafts whose send failed while the push channel was down.
// They are resent in order, rate limited, once the channel comes back.
type outbox struct {
	drafts  *queue.Queue
	queued  *set.Set
	limiter ratelimit.Limiter
	mux     sync.Mutex
}

func newOutbox(rate int) *outbox {
	if rate < 1 {
		rate = 1
	}
	return &outbox{
		drafts:  queue.New(),
		queued:  set.New(),
		limiter: ratelimit.New(rate, ratelimit.WithoutSlack),
	}
}

// push queues the draft unless it is already queued.
func (o *outbox) push(d message.Draft) bool {
	o.mux.Lock()
	defer o.mux.Unlock()
	if o.queued.Has(d.LocalID) {
		return false
	}
	o.queued.Insert(d.LocalID)
	o.drafts.Enqueue(d)
	return true
}

// takeAll empties the outbox and returns its drafts, oldest first.
func (o *outbox) takeAll() []message.Draft {
	o.mux.Lock()
	defer o.mux.Unlock()
	out := make([]message.Draft, 0, o.drafts.Len())
	for o.drafts.Len() > 0 {
		d := o.drafts.Dequeue().(message.Draft)
		o.queued.Remove(d.LocalID)
		out = append(out, d)
	}
	return out
}

func (o *outbox) len() int {
	o.mux.Lock()
	defer o.mux.Unlock()
	return o.drafts.Len()
}

// wait blocks until the next resend is allowed.
func (o *outbox) wait() {
	o.limiter.Take()
}
