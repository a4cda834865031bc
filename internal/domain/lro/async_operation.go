package lro

import (
	"context"
	"net/http"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// AsyncOperationStrategy tracks operations exposing a dedicated status URL
// in the Azure-AsyncOperation or Operation-Location header.
type AsyncOperationStrategy struct {
	send    Sender
	via     FinalStateVia
	initial Step
	current Step
	url     string
	polls   int
}

var _ Strategy = (*AsyncOperationStrategy)(nil)

// NewAsyncOperationStrategy starts tracking from the initiating step.
func NewAsyncOperationStrategy(initial Step, send Sender, via FinalStateVia) (*AsyncOperationStrategy, error) {
	url := trackingURL(initial.Response.Headers)
	if url == "" {
		return nil, errs.LroContract("track", errs.ErrMissingTrackingMetadata)
	}
	if via == "" {
		via = FinalStateLocation
	}
	return &AsyncOperationStrategy{
		send:    send,
		via:     via,
		initial: initial,
		current: initial,
		url:     url,
	}, nil
}

func (s *AsyncOperationStrategy) Name() string  { return "azure-async-operation" }
func (s *AsyncOperationStrategy) Current() Step { return s.current }
func (s *AsyncOperationStrategy) Polls() int    { return s.polls }

// IsTerminal is false for the initiating result; afterwards it follows the
// status field of the latest poll.
func (s *AsyncOperationStrategy) IsTerminal() bool {
	if s.polls == 0 {
		return false
	}
	return IsTerminalStatus(Status(s.current.Response.Body))
}

func (s *AsyncOperationStrategy) Poll(ctx context.Context) error {
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
	if u := trackingURL(resp.Headers); u != "" {
		s.url = u
	} else if u := resp.Headers.Get(HeaderLocation); u != "" {
		s.url = u
	}
	return nil
}

func (s *AsyncOperationStrategy) SendFinalRequest(ctx context.Context) (Step, error) {
	if Status(s.current.Response.Body) != statusSucceeded {
		return s.current, nil
	}

	method := s.initial.Request.Method
	switch method {
	case http.MethodDelete:
		return s.current, nil
	case http.MethodPut:
		return s.get(ctx, s.initial.Request.URL)
	}

	initialLocation := s.initial.Response.Headers.Get(HeaderLocation)
	if initialLocation == "" {
		return s.current, nil
	}
	switch s.via {
	case FinalStateOriginalURI:
		return s.get(ctx, s.initial.Request.URL)
	case FinalStateAsyncOperation:
		return s.current, nil
	default:
		url := s.current.Response.Headers.Get(HeaderLocation)
		if url == "" {
			url = initialLocation
		}
		if url == "" {
			return Step{}, errs.LroContract("final", errs.ErrFinalGetURLUndetermined)
		}
		return s.get(ctx, url)
	}
}

func (s *AsyncOperationStrategy) get(ctx context.Context, url string) (Step, error) {
	req := pollRequest(s.initial.Request, url)
	resp, err := s.send(ctx, req)
	if err != nil {
		return Step{}, err
	}
	s.current = Step{Request: req, Response: resp}
	return s.current, nil
}
