// Package runner defines the execution-client contract scenarios run against.
package runner

import (
	"context"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/variables"
)

// Client is the capability set a scenario is executed against. Long-running
// operations are driven to a terminal state before a call returns.
type Client interface {
	CreateResourceGroup(ctx context.Context, subscriptionID, name, location string) error
	DeleteResourceGroup(ctx context.Context, subscriptionID, name string) error
	SendExampleRequest(ctx context.Context, req ClientRequest, step *definition.Step, env *variables.Scope) (*StepResult, error)
	SendArmTemplateDeployment(ctx context.Context, template, params map[string]any, tracking DeploymentTracking, step *definition.Step, env *variables.Scope) (*StepResult, error)
	SendRawRequest(ctx context.Context, req ClientRequest, step *definition.Step, env *variables.Scope) (*StepResult, error)
}

// ClientRequest is a request with every parameter already routed to its location.
type ClientRequest struct {
	Method     string
	Path       string
	PathParams map[string]string
	Query      map[string]string
	Headers    map[string]string
	Body       any
	Operation  *catalog.Operation
}

// URL joins baseURL with the request path, substituting path parameters and
// appending the query in sorted key order. Absolute paths ignore baseURL.
func (r ClientRequest) URL(baseURL string) string {
	p := r.Path
	for name, v := range r.PathParams {
		p = strings.ReplaceAll(p, "{"+name+"}", url.PathEscape(v))
	}
	if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
		p = strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(p, "/")
	}
	if len(r.Query) == 0 {
		return p
	}
	q := url.Values{}
	for _, k := range slices.Sorted(maps.Keys(r.Query)) {
		q.Set(k, r.Query[k])
	}
	sep := "?"
	if strings.Contains(p, "?") {
		sep = "&"
	}
	return p + sep + q.Encode()
}

// DeploymentTracking locates a template deployment.
type DeploymentTracking struct {
	SubscriptionID string
	ResourceGroup  string
	DeploymentName string
}

// StepResult is the authoritative outcome of one step.
type StepResult struct {
	StatusCode int
	Headers    http.Header
	Body       any
	Outputs    map[string]any
}
