//go:build e2e

package e2e_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sophialabs/apiscenario/internal/domain/lro"
	"github.com/sophialabs/apiscenario/internal/infrastructure/wiring"
	"github.com/sophialabs/apiscenario/internal/testutil"
)

const widgetSpec = `{
  "swagger": "2.0",
  "info": {"title": "Widgets", "version": "2024-01-01"},
  "paths": {
    "/subscriptions/{subscriptionId}/resourceGroups/{resourceGroupName}/providers/Test.Widgets/widgets/{widgetName}": {
      "put": {
        "operationId": "Widgets_CreateOrUpdate",
        "parameters": [
          {"name": "subscriptionId", "in": "path", "required": true, "type": "string"},
          {"name": "resourceGroupName", "in": "path", "required": true, "type": "string"},
          {"name": "widgetName", "in": "path", "required": true, "type": "string"},
          {"name": "api-version", "in": "query", "required": true, "type": "string"},
          {"name": "body", "in": "body", "required": true, "schema": {"type": "object"}}
        ],
        "responses": {"200": {"description": "OK"}, "201": {"description": "Created"}},
        "x-ms-long-running-operation": true,
        "x-ms-examples": {"Create a widget": {"$ref": "./examples/Widget_Create.json"}}
      }
    }
  }
}`

const widgetExample = `{
  "parameters": {
    "subscriptionId": "example-sub",
    "resourceGroupName": "example-rg",
    "widgetName": "w1",
    "api-version": "2024-01-01",
    "body": {"location": "westus"}
  },
  "responses": {"200": {"body": {"id": "w1-id"}}}
}`

const widgetDefinition = `scope: ResourceGroup
variables:
  location: westus
testScenarios:
  - description: create widget
    steps:
      - step: createWidget
        exampleFile: ../specs/examples/Widget_Create.json
        outputVariables:
          widgetId:
            fromResponse: /id
`

// fakeManagement answers resource group and widget calls the way the
// management endpoint does: widget creation is tracked through an async
// operation and resource group deletion through a Location header.
type fakeManagement struct {
	srv *httptest.Server

	mu         sync.Mutex
	requests   []string
	widgetPoll int
}

func newFakeManagement(t *testing.T) *fakeManagement {
	t.Helper()
	f := &fakeManagement{}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeManagement) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(lro.HeaderRetryAfter, "0")
	path := r.URL.Path

	switch {
	case path == "/ops/widget":
		f.mu.Lock()
		f.widgetPoll++
		n := f.widgetPoll
		f.mu.Unlock()
		if n == 1 {
			_, _ = w.Write([]byte(`{"status":"InProgress"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"Succeeded"}`))
	case path == "/ops/rg":
		w.WriteHeader(http.StatusOK)
	case strings.Contains(path, "/widgets/") && r.Method == http.MethodPut:
		w.Header().Set(lro.HeaderAsyncOperation, f.srv.URL+"/ops/widget")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"properties":{"provisioningState":"Creating"}}`))
	case strings.Contains(path, "/widgets/"):
		_, _ = w.Write([]byte(`{"id":"w1-id","properties":{"provisioningState":"Succeeded"}}`))
	case strings.Contains(path, "/resourcegroups/") && r.Method == http.MethodDelete:
		w.Header().Set(lro.HeaderLocation, f.srv.URL+"/ops/rg")
		w.WriteHeader(http.StatusAccepted)
	case strings.Contains(path, "/resourcegroups/"):
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"location":"westus"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeManagement) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

func writeTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"specs/widgets.json":                widgetSpec,
		"specs/examples/Widget_Create.json": widgetExample,
		"defs/widgets.yaml":                 widgetDefinition,
	}
	for name, content := range files {
		p := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

// setupE2EServer wires the full stack against a fake management endpoint
// and serves the admin API. It returns the admin server, the fake endpoint
// and the loaded definition's path.
func setupE2EServer(t *testing.T) (*httptest.Server, *fakeManagement, string) {
	t.Helper()

	mgmt := newFakeManagement(t)
	dir := writeTree(t)

	c, err := wiring.New(context.Background(), wiring.Params{
		RootDir:       filepath.Join(dir, "defs"),
		SpecPaths:     []string{filepath.Join(dir, "specs")},
		BaseURL:       mgmt.srv.URL,
		HTTPClient:    mgmt.srv.Client(),
		HTTPTimeout:   5 * time.Second,
		Polling:       lro.Options{MaxPolls: 10, Interval: time.Millisecond, Timeout: 10 * time.Second},
		FinalStateVia: lro.FinalStateLocation,
		ThrottleTTL:   time.Minute,
		SnapshotPath:  filepath.Join(dir, "state", "snapshots.db"),
		TraceSize:     100,
		Logger:        &testutil.NoopLogger{},
	})
	if err != nil {
		t.Fatalf("failed to wire container: %v", err)
	}
	t.Cleanup(c.Close)

	server := c.Server()
	if err := server.Reload(context.Background()); err != nil {
		t.Fatalf("failed to load definitions: %v", err)
	}

	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	defPath, err := filepath.Abs(filepath.Join(dir, "defs", "widgets.yaml"))
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	return ts, mgmt, defPath
}
