package wiring_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sophialabs/apiscenario/internal/infrastructure/usecases"
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
        "responses": {"200": {"description": "OK"}},
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

func validParams(t *testing.T, dir string) wiring.Params {
	t.Helper()
	return wiring.Params{
		RootDir:      filepath.Join(dir, "defs"),
		SpecPaths:    []string{filepath.Join(dir, "specs")},
		BaseURL:      "https://management.example.test",
		HTTPTimeout:  5 * time.Second,
		DryRun:       true,
		RecordingDir: filepath.Join(dir, "recordings"),
		ThrottleTTL:  time.Minute,
		SnapshotPath: filepath.Join(dir, "state", "snapshots.db"),
		TraceSize:    50,
		Logger:       &testutil.NoopLogger{},
	}
}

func TestNew_Success(t *testing.T) {
	c, err := wiring.New(context.Background(), validParams(t, writeTree(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	if c.Logger() == nil {
		t.Error("Logger() returned nil")
	}
	if c.Server() == nil {
		t.Error("Server() returned nil")
	}
	if c.LoadDefinitionUseCase() == nil {
		t.Error("LoadDefinitionUseCase() returned nil")
	}
	if c.Throttler() == nil {
		t.Error("Throttler() returned nil")
	}
	if c.TraceBuf() == nil {
		t.Error("TraceBuf() returned nil")
	}
	if c.Snapshots() == nil {
		t.Error("Snapshots() returned nil with a snapshot path configured")
	}
	if !c.DryRun() {
		t.Error("expected dry-run container")
	}
}

func TestNew_InvalidRootDir(t *testing.T) {
	p := validParams(t, t.TempDir())
	p.RootDir = "/nonexistent/path/that/does/not/exist"

	c, err := wiring.New(context.Background(), p)
	if err == nil {
		c.Close()
		t.Fatal("expected error for invalid root dir")
	}
}

func TestNew_InvalidAssertion(t *testing.T) {
	p := validParams(t, writeTree(t))
	p.AssertionExpression = "statusCode in"

	c, err := wiring.New(context.Background(), p)
	if err == nil {
		c.Close()
		t.Fatal("expected error for an invalid assertion expression")
	}
}

func TestNew_SnapshotsDisabled(t *testing.T) {
	p := validParams(t, writeTree(t))
	p.SnapshotPath = ""

	c, err := wiring.New(context.Background(), p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()
	if c.Snapshots() != nil {
		t.Error("expected no snapshot store")
	}
}

func TestClose_Idempotent(t *testing.T) {
	c, err := wiring.New(context.Background(), validParams(t, writeTree(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	c.Close()
	c.Close()
}

func TestContainer_DryRun(t *testing.T) {
	dir := writeTree(t)
	p := validParams(t, dir)
	c, err := wiring.New(context.Background(), p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	results, err := c.LoadDefinitionUseCase().ExecuteAll(ctx)
	if err != nil {
		t.Fatalf("ExecuteAll failed: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(results))
	}
	if results[0].Coverage.Covered != 1 || results[0].Coverage.Total != 1 {
		t.Errorf("unexpected coverage: %+v", results[0].Coverage)
	}

	report, err := c.Run(ctx, results[0].File, usecases.RunOptions{
		RunID: "202601011200-abcde",
		Env:   map[string]any{"subscriptionId": "sub1"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(report.Steps) != 1 || report.Steps[0].Outputs["widgetId"] != "w1-id" {
		t.Fatalf("unexpected steps: %+v", report.Steps)
	}
	if len(report.ResourceGroups) != 1 {
		t.Errorf("expected one resource group, got %v", report.ResourceGroups)
	}

	matches, err := filepath.Glob(filepath.Join(p.RecordingDir, "widgets", "202601011200-abcde", "*", "calls.json"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("expected one recording, got %v (%v)", matches, err)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read recording: %v", err)
	}
	var calls []map[string]any
	if err := json.Unmarshal(data, &calls); err != nil {
		t.Fatalf("recording is not JSON: %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected create group, widget and delete group calls, got %d", len(calls))
	}
	want := "https://management.example.test/subscriptions/sub1/resourceGroups/" + report.ResourceGroups[0] +
		"/providers/Test.Widgets/widgets/w1?api-version=2024-01-01"
	if calls[1]["url"] != want {
		t.Errorf("unexpected widget url:\n got %v\nwant %v", calls[1]["url"], want)
	}

	snaps, err := c.Snapshots().ForRun(ctx, "202601011200-abcde")
	if err != nil {
		t.Fatalf("ForRun failed: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Step != "createWidget" {
		t.Errorf("expected a snapshot before createWidget, got %+v", snaps)
	}
}

func TestContainer_LiveRun(t *testing.T) {
	var (
		mu      sync.Mutex
		methods []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		methods = append(methods, r.Method)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"id":"w1-id"}`))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	p := validParams(t, writeTree(t))
	p.DryRun = false
	p.BaseURL = srv.URL
	p.HTTPClient = srv.Client()
	p.SnapshotPath = ""
	c, err := wiring.New(context.Background(), p)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer c.Close()

	ctx := context.Background()
	results, err := c.LoadDefinitionUseCase().ExecuteAll(ctx)
	if err != nil {
		t.Fatalf("ExecuteAll failed: %v", err)
	}
	report, err := c.Run(ctx, results[0].File, usecases.RunOptions{Env: map[string]any{"subscriptionId": "sub1"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.RunID == "" {
		t.Fatal("expected a generated run id")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(methods) != 3 {
		t.Fatalf("expected 3 requests, got %v", methods)
	}
	entries := c.TraceBuf().ForRun(report.RunID, 10)
	if len(entries) != 3 {
		t.Errorf("expected 3 trace entries for run %s, got %d", report.RunID, len(entries))
	}
}
