package async

import (
	"context"
	"runtime"
	"time"
)

const (
	retryBaseDelay = 500 * time.Nanosecond
	retryMaxDelay  = 64 * time.Microsecond
)

// backoffRetry calls attempt until it reports success, reports an abort
// error, or ctx is done. The delay between attempts doubles from
// retryBaseDelay up to retryMaxDelay; once capped it yields the goroutine
// instead of growing further, so a long wait degrades into cooperative
// polling rather than an ever-longer sleep.
func backoffRetry(ctx context.Context, attempt func() (ok bool, abort error)) error {
	delay := retryBaseDelay
	for {
		ok, abort := attempt()
		if ok {
			return nil
		}
		if abort != nil {
			return abort
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if delay < retryMaxDelay {
			time.Sleep(delay)
			delay *= 2
		} else {
			runtime.Gosched()
		}
	}
}
