// Package armclient executes scenarios against a live resource-management
// endpoint.
package armclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/domain/lro"
	"github.com/sophialabs/apiscenario/internal/domain/runner"
	"github.com/sophialabs/apiscenario/internal/domain/trace"
	"github.com/sophialabs/apiscenario/internal/domain/variables"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
	"github.com/sophialabs/apiscenario/internal/infrastructure/services"
)

const (
	// DefaultBaseURL is the public-cloud management endpoint.
	DefaultBaseURL = "https://management.azure.com"

	resourceAPIVersion = "2020-06-01"
	maxBodyBytes       = 32 << 20
)

var _ runner.Client = (*Client)(nil)

// Options configures a Client.
type Options struct {
	BaseURL string
	Polling lro.Options
	// FinalStateVia applies to operations that do not declare one.
	FinalStateVia     lro.FinalStateVia
	RequestsPerSecond float64
	Burst             int
}

// Client is the live runner client. Every request is throttled per host and
// recorded in the trace buffer; long-running operations are polled to
// completion before a call returns.
type Client struct {
	http      *http.Client
	opts      Options
	throttler ports.Throttler
	clock     ports.Clock
	logger    ports.Logger
	traces    *trace.RingBuffer
	runID     string
}

// New creates a client. traces may be nil.
func New(httpClient *http.Client, opts Options, throttler ports.Throttler, clock ports.Clock, logger ports.Logger, traces *trace.RingBuffer) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.FinalStateVia == "" {
		opts.FinalStateVia = lro.FinalStateLocation
	}
	return &Client{
		http:      httpClient,
		opts:      opts,
		throttler: throttler,
		clock:     clock,
		logger:    logger,
		traces:    traces,
	}
}

// WithRunID returns a copy of c that tags trace entries with runID.
func (c *Client) WithRunID(runID string) *Client {
	cp := *c
	cp.runID = runID
	return &cp
}

func (c *Client) resourceGroupURL(subscriptionID, name string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s?api-version=%s",
		strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(subscriptionID), url.PathEscape(name), resourceAPIVersion)
}

func (c *Client) deploymentURL(t runner.DeploymentTracking) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s/providers/Microsoft.Resources/deployments/%s?api-version=%s",
		strings.TrimRight(c.opts.BaseURL, "/"), url.PathEscape(t.SubscriptionID), url.PathEscape(t.ResourceGroup),
		url.PathEscape(t.DeploymentName), resourceAPIVersion)
}

// CreateResourceGroup creates or updates a resource group.
func (c *Client) CreateResourceGroup(ctx context.Context, subscriptionID, name, location string) error {
	body, _ := json.Marshal(map[string]any{"location": location})
	req := newRequest(http.MethodPut, c.resourceGroupURL(subscriptionID, name), body)
	final, err := c.execute(ctx, "createResourceGroup", req, lro.FinalStateLocation, true)
	if err != nil {
		return err
	}
	return expectSuccess(final.Response, "create resource group "+name)
}

// DeleteResourceGroup deletes a resource group and waits for the deletion.
func (c *Client) DeleteResourceGroup(ctx context.Context, subscriptionID, name string) error {
	req := newRequest(http.MethodDelete, c.resourceGroupURL(subscriptionID, name), nil)
	final, err := c.execute(ctx, "deleteResourceGroup", req, lro.FinalStateLocation, true)
	if err != nil {
		return err
	}
	return expectSuccess(final.Response, "delete resource group "+name)
}

// SendExampleRequest sends an operation request built from an example. Only
// operations the catalog marks as long-running are tracked; an operation
// without a descriptor is tracked whenever its response asks for it.
func (c *Client) SendExampleRequest(ctx context.Context, req runner.ClientRequest, step *definition.Step, _ *variables.Scope) (*runner.StepResult, error) {
	r, err := c.toRequest(req)
	if err != nil {
		return nil, err
	}
	via := c.opts.FinalStateVia
	if req.Operation != nil && req.Operation.FinalStateVia != "" {
		via = lro.FinalStateVia(req.Operation.FinalStateVia)
	}
	track := req.Operation == nil || req.Operation.LongRunning
	final, err := c.execute(ctx, step.Name, r, via, track)
	if err != nil {
		return nil, err
	}
	return toResult(final.Response), nil
}

// SendArmTemplateDeployment deploys template into the tracked resource group,
// then reads the deployment back for its outputs.
func (c *Client) SendArmTemplateDeployment(ctx context.Context, template, params map[string]any, tracking runner.DeploymentTracking, step *definition.Step, _ *variables.Scope) (*runner.StepResult, error) {
	body, err := json.Marshal(map[string]any{
		"properties": map[string]any{
			"mode":       "Incremental",
			"template":   template,
			"parameters": params,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode deployment: %w", err)
	}

	target := c.deploymentURL(tracking)
	final, err := c.execute(ctx, step.Name, newRequest(http.MethodPut, target, body), lro.FinalStateAsyncOperation, true)
	if err != nil {
		return nil, err
	}
	if final.Response.StatusCode >= 300 {
		return toResult(final.Response), nil
	}

	got, err := c.send(ctx, step.Name, newRequest(http.MethodGet, target, nil), false)
	if err != nil {
		return nil, err
	}
	result := toResult(got)
	if state := lro.Status(got.Body); state != "succeeded" {
		return result, fmt.Errorf("deployment %s finished in state %q", tracking.DeploymentName, state)
	}
	if result.Outputs, err = deploymentOutputs(result.Body); err != nil {
		return result, err
	}
	return result, nil
}

// SendRawRequest sends a caller-specified request. A string body is sent
// verbatim; any other body is encoded as JSON.
func (c *Client) SendRawRequest(ctx context.Context, req runner.ClientRequest, step *definition.Step, _ *variables.Scope) (*runner.StepResult, error) {
	r, err := c.toRequest(req)
	if err != nil {
		return nil, err
	}
	final, err := c.execute(ctx, step.Name, r, c.opts.FinalStateVia, true)
	if err != nil {
		return nil, err
	}
	return toResult(final.Response), nil
}

// execute sends req and, when track is set and the response starts a
// long-running operation, drives it to its final result.
func (c *Client) execute(ctx context.Context, step string, req lro.Request, via lro.FinalStateVia, track bool) (lro.Step, error) {
	resp, err := c.send(ctx, step, req, false)
	if err != nil {
		return lro.Step{}, err
	}
	initial := lro.Step{Request: req, Response: resp}
	if !track || resp.StatusCode >= 300 || !lro.Required(resp) {
		return initial, nil
	}

	sender := func(ctx context.Context, r lro.Request) (lro.Response, error) {
		return c.send(ctx, step, r, true)
	}
	strategy, err := lro.Select(initial, sender, via)
	if err != nil {
		return lro.Step{}, err
	}
	c.logger.Debug("tracking long-running operation", "step", step, "strategy", strategy.Name())

	final, err := lro.Drive(ctx, strategy, c.opts.Polling, c.clock)
	if err != nil {
		return lro.Step{}, err
	}
	c.logger.Debug("long-running operation finished", "step", step, "polls", strategy.Polls(), "status", final.Response.StatusCode)
	if state := lro.Status(final.Response.Body); state != "succeeded" && lro.IsTerminalStatus(state) {
		return final, fmt.Errorf("long-running operation ended in state %q: %s", state, excerpt(final.Response.Body))
	}
	return final, nil
}

// send performs one HTTP exchange.
func (c *Client) send(ctx context.Context, step string, req lro.Request, poll bool) (lro.Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return lro.Response{}, fmt.Errorf("invalid request url %q: %w", req.URL, err)
	}
	if err := c.throttler.Wait(ctx, u.Host, c.opts.RequestsPerSecond, c.opts.Burst); err != nil {
		return lro.Response{}, err
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return lro.Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	entry := trace.Entry{
		Timestamp: c.clock.Now(),
		RunID:     c.runID,
		Step:      step,
		Method:    req.Method,
		URL:       req.URL,
		Poll:      poll,
	}
	started := time.Now()
	resp, err := c.http.Do(httpReq)
	entry.Duration = time.Since(started)
	if err != nil {
		entry.Error = err.Error()
		c.record(entry)
		return lro.Response{}, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	entry.StatusCode = resp.StatusCode
	if err != nil {
		entry.Error = err.Error()
		c.record(entry)
		return lro.Response{}, fmt.Errorf("failed to read response of %s %s: %w", req.Method, req.URL, err)
	}
	c.record(entry)
	c.logger.Debug("request completed", "step", step, "method", req.Method, "url", req.URL, "status", resp.StatusCode, "poll", poll)

	return lro.Response{StatusCode: resp.StatusCode, Headers: resp.Header, Body: data}, nil
}

func (c *Client) record(e trace.Entry) {
	if c.traces != nil {
		c.traces.Add(e)
	}
}

func (c *Client) toRequest(req runner.ClientRequest) (lro.Request, error) {
	var body []byte
	switch b := req.Body.(type) {
	case nil:
	case string:
		body = []byte(b)
	case []byte:
		body = b
	default:
		var err error
		if body, err = json.Marshal(b); err != nil {
			return lro.Request{}, fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	r := newRequest(strings.ToUpper(req.Method), req.URL(c.opts.BaseURL), body)
	for k, v := range req.Headers {
		r.Headers.Set(k, v)
	}
	return r, nil
}

func newRequest(method, target string, body []byte) lro.Request {
	h := http.Header{}
	h.Set("Accept", "application/json")
	if len(body) > 0 {
		h.Set("Content-Type", "application/json")
	}
	return lro.Request{Method: method, URL: target, Headers: h, Body: body}
}

func toResult(resp lro.Response) *runner.StepResult {
	result := &runner.StepResult{StatusCode: resp.StatusCode, Headers: resp.Headers}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return result
	}
	if v, err := services.DecodeJSON(resp.Body); err == nil {
		result.Body = v
	} else {
		result.Body = string(resp.Body)
	}
	return result
}

func expectSuccess(resp lro.Response, what string) error {
	if resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("%w: %s returned %d: %s", errs.ErrUnexpectedStatus, what, resp.StatusCode, excerpt(resp.Body))
}

func excerpt(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

// deploymentOutputs maps every properties.outputs entry to its value.
func deploymentOutputs(body any) (map[string]any, error) {
	if body == nil {
		return nil, nil
	}
	raw, err := jsonpath.Get("$.properties.outputs", body)
	if err != nil {
		// A deployment without outputs has no outputs key.
		return nil, nil
	}
	outputs, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("deployment outputs are not an object")
	}
	values := make(map[string]any, len(outputs))
	for name, o := range outputs {
		if m, ok := o.(map[string]any); ok {
			values[name] = m["value"]
		}
	}
	return values, nil
}
