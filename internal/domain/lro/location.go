package lro

import (
	"context"
	"net/http"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// LocationStrategy tracks operations through the Location header, running
// while the server answers 202 Accepted.
type LocationStrategy struct {
	send    Sender
	initial Step
	current Step
	url     string
	polls   int
}

var _ Strategy = (*LocationStrategy)(nil)

// NewLocationStrategy starts tracking from the initiating step.
func NewLocationStrategy(initial Step, send Sender) (*LocationStrategy, error) {
	url := initial.Response.Headers.Get(HeaderLocation)
	if url == "" {
		return nil, errs.LroContract("track", errs.ErrMissingTrackingMetadata)
	}
	return &LocationStrategy{send: send, initial: initial, current: initial, url: url}, nil
}

func (s *LocationStrategy) Name() string  { return "location" }
func (s *LocationStrategy) Current() Step { return s.current }
func (s *LocationStrategy) Polls() int    { return s.polls }

func (s *LocationStrategy) IsTerminal() bool {
	return s.polls > 0 && s.current.Response.StatusCode != http.StatusAccepted
}

func (s *LocationStrategy) Poll(ctx context.Context) error {
	if s.url == "" {
		return errs.LroContract("poll", errs.ErrPollingURLUndetermined)
	}
	req := pollRequest(s.initial.Request, s.url)
	resp, err := s.send(ctx, req)
	if err != nil {
		return err
	}
	s.polls++
	s.current = Step{Request: req, Response: resp}
	if u := resp.Headers.Get(HeaderLocation); u != "" {
		s.url = u
	}
	return nil
}

// SendFinalRequest never issues a request; the last poll is authoritative.
func (s *LocationStrategy) SendFinalRequest(context.Context) (Step, error) {
	return s.current, nil
}
