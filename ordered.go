package dispatch

import (
	"context"
	"sync"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// ordered splits the batch by group key. Each group is delivered sequentially,
// in fetch order, in its own goroutine: message N+1 of a group is not handed to
// the target until the delivery of message N has returned. Groups do not wait
// for each other. dispatch returns once every group is done.
type ordered struct {
	groupKey dispatchmodels.GroupKey
}

var _ batchDispatcher = ordered{}

func (o ordered) dispatch(ctx context.Context, batch dispatchmodels.Batch, deliver func(context.Context, *dispatchmodels.Message)) {
	groups := batch.Group(o.groupKey)
	var outstanding sync.WaitGroup
	outstanding.Add(len(groups))
	for _, group := range groups {
		go func() {
			defer outstanding.Done()
			for _, msg := range group {
				deliver(ctx, msg)
			}
		}()
	}
	outstanding.Wait()
}
