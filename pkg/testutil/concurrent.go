package testutil

import (
	"sync"
	"sync/atomic"

	dErrors "relaypool/pkg/domain-errors"
)

// ConcurrentResult tallies what a batch of racing operations came back
// with. The buckets mirror the codes a pool operation can legitimately
// return under contention.
type ConcurrentResult struct {
	Successes int32
	Errors    int32
	Conflicts int32
	NotFounds int32
	Drained   int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors + r.Conflicts + r.NotFounds + r.Drained
}

// RunConcurrent fires fn from n goroutines at once and buckets each return
// by domain code: conflict, not_found, no_account_available (Drained) or
// generic error. Race tests assert on the bucket counts instead of
// hand-rolling WaitGroup plus atomics every time.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, errs, conflicts, notFounds, drained atomic.Int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			switch err := fn(idx); {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeConflict):
				conflicts.Add(1)
			case dErrors.HasCode(err, dErrors.CodeNotFound):
				notFounds.Add(1)
			case dErrors.HasCode(err, dErrors.CodeNoAccountAvailable):
				drained.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}
	wg.Wait()

	return &ConcurrentResult{
		Successes: successes.Load(),
		Errors:    errs.Load(),
		Conflicts: conflicts.Load(),
		NotFounds: notFounds.Load(),
		Drained:   drained.Load(),
	}
}
