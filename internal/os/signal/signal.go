// Package signal turns OS interrupt signals into the cancellation of a pipeline run.
package signal

import (
	"context"
	"os"
	"os/signal"
	"sync"
)

// ContextCanceledCause is the cause of a context cancelled by a signal.
type ContextCanceledCause struct {
	Signal os.Signal
}

// NewContextCanceledCause returns a new `ContextCanceledCause` instance.
func NewContextCanceledCause(sig os.Signal) *ContextCanceledCause {
	return &ContextCanceledCause{Signal: sig}
}

// Error implements the `Error` method.
func (cause ContextCanceledCause) Error() string {
	return "interrupted by signal " + cause.Signal.String()
}

// Unwrap implements the `Unwrap` method.
func (ContextCanceledCause) Unwrap() error {
	return context.Canceled
}

// NotifyContext returns a copy of ctx that is cancelled with a ContextCanceledCause when the first
// of the given signals arrives, InterruptSignals if none are given. A further signal is passed
// to onRepeat, if not nil. The returned stop function releases the signal handler.
func NotifyContext(parent context.Context, onRepeat func(os.Signal), sigs ...os.Signal) (context.Context, func()) {
	if len(sigs) == 0 {
		sigs = InterruptSignals
	}

	ctx, cancel := context.WithCancelCause(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, sigs...)

	stopCh := make(chan struct{})

	go func() {
		select {
		case sig := <-sigCh:
			cancel(NewContextCanceledCause(sig))
		case <-stopCh:
			return
		}

		for {
			select {
			case sig := <-sigCh:
				if onRepeat != nil {
					onRepeat(sig)
				}
			case <-stopCh:
				return
			}
		}
	}()

	var once sync.Once

	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(stopCh)
			cancel(context.Canceled)
		})
	}
}
