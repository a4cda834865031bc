package lro

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// Sleeper waits between polls. ports.Clock satisfies it.
type Sleeper interface {
	SleepContext(ctx context.Context, d time.Duration) error
}

// Options bounds the poll loop.
type Options struct {
	MaxPolls int
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultOptions polls every ten seconds for at most an hour.
func DefaultOptions() Options {
	return Options{MaxPolls: 360, Interval: 10 * time.Second, Timeout: time.Hour}
}

// Drive polls s until it reports terminal, then sends its final request.
// A server Retry-After header overrides the configured interval.
func Drive(ctx context.Context, s Strategy, opts Options, sleeper Sleeper) (Step, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for !s.IsTerminal() {
		if opts.MaxPolls > 0 && s.Polls() >= opts.MaxPolls {
			return Step{}, fmt.Errorf("%w: %d polls via %s", errs.ErrPollLimitExceeded, s.Polls(), s.Name())
		}
		delay := RetryAfter(s.Current().Response, opts.Interval)
		if err := sleeper.SleepContext(ctx, delay); err != nil {
			return Step{}, fmt.Errorf("waiting for %s poll %d: %w", s.Name(), s.Polls()+1, err)
		}
		if err := s.Poll(ctx); err != nil {
			return Step{}, err
		}
	}
	return s.SendFinalRequest(ctx)
}

// RetryAfter returns the delay requested by resp, or fallback.
func RetryAfter(resp Response, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(resp.Headers.Get(HeaderRetryAfter))
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
