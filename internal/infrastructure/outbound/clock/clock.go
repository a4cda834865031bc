// Package clock provides the system clock.
package clock

import (
	"context"
	"time"

	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

var _ ports.Clock = (*System)(nil)

// System implements ports.Clock with wall-clock time in UTC.
type System struct{}

// New creates a system clock.
func New() *System {
	return &System{}
}

func (System) Now() time.Time { return time.Now().UTC() }

// SleepContext waits for d or until ctx ends. A non-positive d only reports
// whether ctx has ended.
func (System) SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
