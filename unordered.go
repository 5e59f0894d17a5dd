package dispatch

import (
	"context"
	"sync"

	"github.com/singlestore-labs/dispatch/dispatchmodels"
)

// unordered starts every delivery in the batch at once, including deliveries
// of messages from the same partition, and waits for all of them.
type unordered struct{}

var _ batchDispatcher = unordered{}

func (unordered) dispatch(ctx context.Context, batch dispatchmodels.Batch, deliver func(context.Context, *dispatchmodels.Message)) {
	var outstanding sync.WaitGroup
	outstanding.Add(len(batch))
	for _, msg := range batch {
		go func() {
			defer outstanding.Done()
			deliver(ctx, msg)
		}()
	}
	outstanding.Wait()
}
