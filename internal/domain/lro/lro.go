// Package lro implements the polling state machines that track asynchronous
// server-side operations to a terminal state.
package lro

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
)

// Tracking headers.
const (
	HeaderAsyncOperation    = "Azure-AsyncOperation"
	HeaderOperationLocation = "Operation-Location"
	HeaderLocation          = "Location"
	HeaderRetryAfter        = "Retry-After"
)

// FinalStateVia selects the final confirmation request after a tracked
// non-PUT operation completes.
type FinalStateVia string

const (
	FinalStateLocation       FinalStateVia = "location"
	FinalStateOriginalURI    FinalStateVia = "original-uri"
	FinalStateAsyncOperation FinalStateVia = "azure-async-operation"
)

const statusSucceeded = "succeeded"

var terminalStatuses = map[string]bool{
	"succeeded": true,
	"failed":    true,
	"canceled":  true,
	"cancelled": true,
}

// Request is the transport-neutral description of an outgoing request.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

// Response is the transport-neutral description of a received response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Step is one request/response pair tracked by a strategy.
type Step struct {
	Request  Request
	Response Response
}

// Sender performs one request.
type Sender func(ctx context.Context, req Request) (Response, error)

// Strategy advances a tracked operation one poll at a time.
type Strategy interface {
	// Name identifies the tracking convention.
	Name() string
	// IsTerminal reports whether the latest result ends the operation.
	IsTerminal() bool
	// Poll issues one GET against the current tracking URL.
	Poll(ctx context.Context) error
	// SendFinalRequest issues the confirmation request, if the convention
	// requires one, and returns the authoritative result.
	SendFinalRequest(ctx context.Context) (Step, error)
	// Current returns the latest tracked step.
	Current() Step
	// Polls returns the number of polls issued so far.
	Polls() int
}

// Select picks the strategy matching the tracking headers of initial.
func Select(initial Step, send Sender, via FinalStateVia) (Strategy, error) {
	h := initial.Response.Headers
	switch {
	case trackingURL(h) != "":
		return NewAsyncOperationStrategy(initial, send, via)
	case h.Get(HeaderLocation) != "":
		return NewLocationStrategy(initial, send)
	default:
		return nil, errs.LroContract("select", errs.ErrMissingTrackingMetadata)
	}
}

// Required reports whether resp starts an operation that must be tracked.
func Required(resp Response) bool {
	h := resp.Headers
	if trackingURL(h) != "" {
		return true
	}
	if resp.StatusCode == http.StatusAccepted {
		return true
	}
	return resp.StatusCode == http.StatusCreated && h.Get(HeaderLocation) != ""
}

func trackingURL(h http.Header) string {
	if u := h.Get(HeaderAsyncOperation); u != "" {
		return u
	}
	return h.Get(HeaderOperationLocation)
}

// Status extracts the lower-cased operation status from a response body.
// An absent status reads as succeeded.
func Status(body []byte) string {
	var doc struct {
		Status     string `json:"status"`
		Properties struct {
			ProvisioningState string `json:"provisioningState"`
		} `json:"properties"`
	}
	if len(body) == 0 || json.Unmarshal(body, &doc) != nil {
		return statusSucceeded
	}
	if doc.Status != "" {
		return strings.ToLower(doc.Status)
	}
	if doc.Properties.ProvisioningState != "" {
		return strings.ToLower(doc.Properties.ProvisioningState)
	}
	return statusSucceeded
}

// IsTerminalStatus reports whether status ends an operation.
func IsTerminalStatus(status string) bool {
	return terminalStatuses[strings.ToLower(status)]
}

func pollRequest(from Request, url string) Request {
	headers := from.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	headers.Del("Content-Type")
	headers.Del("Content-Length")
	return Request{Method: http.MethodGet, URL: url, Headers: headers}
}
