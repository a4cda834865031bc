// Package recording implements a dry-run runner client that records every
// request a scenario would send instead of sending it.
package recording

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/runner"
	"github.com/sophialabs/apiscenario/internal/domain/variables"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
	"github.com/sophialabs/apiscenario/internal/infrastructure/services"
)

const resourceAPIVersion = "2020-06-01"

var _ runner.Client = (*Recorder)(nil)

// Call is one recorded request.
type Call struct {
	Step       string            `json:"step"`
	Kind       string            `json:"kind"`
	Method     string            `json:"method"`
	URL        string            `json:"url"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       any               `json:"body,omitempty"`
	StatusCode int               `json:"statusCode"`
}

// Recorder answers every request with the response the definition expects.
type Recorder struct {
	baseURL string
	fs      ports.FileSystem
	logger  ports.Logger

	mu    sync.Mutex
	calls []Call
}

// New creates a recorder that resolves relative paths against baseURL.
func New(baseURL string, fs ports.FileSystem, logger ports.Logger) *Recorder {
	return &Recorder{baseURL: strings.TrimRight(baseURL, "/"), fs: fs, logger: logger}
}

func (r *Recorder) add(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
}

// Calls returns the calls recorded since the last flush.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Flush writes the recorded calls to path as JSON and starts a new recording.
// Nothing is written when no call was recorded.
func (r *Recorder) Flush(path string) error {
	r.mu.Lock()
	calls := r.calls
	r.calls = nil
	r.mu.Unlock()

	if len(calls) == 0 {
		return nil
	}
	data, err := json.MarshalIndent(calls, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode recording: %w", err)
	}
	if err := r.fs.WriteFile(path, data); err != nil {
		return fmt.Errorf("failed to write recording %s: %w", path, err)
	}
	r.logger.Info("recording written", "path", path, "calls", len(calls))
	return nil
}

func (r *Recorder) resourceGroupURL(subscriptionID, name string) string {
	return fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s?api-version=%s", r.baseURL, subscriptionID, name, resourceAPIVersion)
}

func (r *Recorder) CreateResourceGroup(_ context.Context, subscriptionID, name, location string) error {
	r.add(Call{
		Step:       "createResourceGroup",
		Kind:       "resourceGroup",
		Method:     http.MethodPut,
		URL:        r.resourceGroupURL(subscriptionID, name),
		Body:       map[string]any{"location": location},
		StatusCode: http.StatusCreated,
	})
	return nil
}

func (r *Recorder) DeleteResourceGroup(_ context.Context, subscriptionID, name string) error {
	r.add(Call{
		Step:       "deleteResourceGroup",
		Kind:       "resourceGroup",
		Method:     http.MethodDelete,
		URL:        r.resourceGroupURL(subscriptionID, name),
		StatusCode: http.StatusAccepted,
	})
	return nil
}

// SendExampleRequest answers with the example's expected response.
func (r *Recorder) SendExampleRequest(_ context.Context, req runner.ClientRequest, step *definition.Step, _ *variables.Scope) (*runner.StepResult, error) {
	status := http.StatusOK
	var body any
	if rc := step.RestCall; rc != nil {
		if rc.StatusCode != 0 {
			status = rc.StatusCode
		}
		body = services.DeepCopy(rc.ExpectedResponse)
	}
	r.add(Call{
		Step:       step.Name,
		Kind:       step.Kind.String(),
		Method:     strings.ToUpper(req.Method),
		URL:        req.URL(r.baseURL),
		Headers:    req.Headers,
		Body:       req.Body,
		StatusCode: status,
	})
	return &runner.StepResult{StatusCode: status, Headers: http.Header{}, Body: body}, nil
}

// SendArmTemplateDeployment reports every declared output. Outputs whose
// value is a literal are returned as is; expressions evaluate to a
// placeholder naming the output.
func (r *Recorder) SendArmTemplateDeployment(_ context.Context, template, params map[string]any, tracking runner.DeploymentTracking, step *definition.Step, _ *variables.Scope) (*runner.StepResult, error) {
	r.add(Call{
		Step:   step.Name,
		Kind:   step.Kind.String(),
		Method: http.MethodPut,
		URL: fmt.Sprintf("%s/subscriptions/%s/resourcegroups/%s/providers/Microsoft.Resources/deployments/%s?api-version=%s",
			r.baseURL, tracking.SubscriptionID, tracking.ResourceGroup, tracking.DeploymentName, resourceAPIVersion),
		Body: map[string]any{"properties": map[string]any{
			"mode":       "Incremental",
			"template":   template,
			"parameters": params,
		}},
		StatusCode: http.StatusOK,
	})
	return &runner.StepResult{StatusCode: http.StatusOK, Headers: http.Header{}, Outputs: templateOutputs(template)}, nil
}

// SendRawRequest answers with the status the step expects.
func (r *Recorder) SendRawRequest(_ context.Context, req runner.ClientRequest, step *definition.Step, _ *variables.Scope) (*runner.StepResult, error) {
	status := http.StatusOK
	if step.RawCall != nil && step.RawCall.StatusCode != 0 {
		status = step.RawCall.StatusCode
	}
	r.add(Call{
		Step:       step.Name,
		Kind:       step.Kind.String(),
		Method:     strings.ToUpper(req.Method),
		URL:        req.URL(r.baseURL),
		Headers:    req.Headers,
		Body:       req.Body,
		StatusCode: status,
	})
	return &runner.StepResult{StatusCode: status, Headers: http.Header{}}, nil
}

func templateOutputs(template map[string]any) map[string]any {
	declared, _ := template["outputs"].(map[string]any)
	if len(declared) == 0 {
		return nil
	}
	out := make(map[string]any, len(declared))
	for name, raw := range declared {
		out[name] = "<" + name + ">"
		o, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := o["value"].(string); ok && strings.HasPrefix(s, "[") {
			continue
		}
		if v, ok := o["value"]; ok {
			out[name] = v
		}
	}
	return out
}
