package devicehub

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// GroupGoSafe runs fn in an errgroup goroutine, logs panics to stderr, and
// restarts the goroutine with exponential backoff. Used for long-lived
// background loops (discovery polling) that must survive a bad cycle.
//
// Panics are recoverable: they do not cancel sibling goroutines. Returned
// errors keep errgroup semantics. ctx cancellation stops the restart loop.
//
// Structured logging is intentionally avoided here: a panic may originate
// in the logger itself, so stderr is the safest fallback.
func GroupGoSafe(ctx context.Context, group *errgroup.Group, name string, fn func(context.Context) error) {
	if group == nil || fn == nil {
		return
	}
	group.Go(func() (err error) {
		backoff := 200 * time.Millisecond
		const maxBackoff = 30 * time.Second
		for {
			if ctx != nil {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
			}

			panicked := false
			var recovered any
			func() {
				defer func() {
					if r := recover(); r != nil {
						panicked = true
						recovered = r
					}
				}()
				err = fn(ctx)
			}()

			if panicked {
				_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())
				time.Sleep(backoff)
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				continue
			}

			return err
		}
	})
}
