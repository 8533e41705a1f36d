package sync

import (
	"context"
	"time"
)

// SetSleep replaces the pacing hook so tests can observe the delays
// without actually waiting.
func (o *Orchestrator) SetSleep(fn func(context.Context, time.Duration)) {
	o.sleep = fn
}

// AccountDelay reports the effective between-account delay.
func (o *Orchestrator) AccountDelay() time.Duration {
	return o.cfg.AccountDelay
}
