package app_test

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sophialabs/apiscenario/internal/app"
	"github.com/sophialabs/apiscenario/internal/domain/errs"
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
testScenarios:
  - description: create widget
    steps:
      - step: createWidget
        exampleFile: ../specs/examples/Widget_Create.json
`

func writeTree(t *testing.T, extra map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"specs/widgets.json":                widgetSpec,
		"specs/examples/Widget_Create.json": widgetExample,
		"defs/widgets.yaml":                 widgetDefinition,
		"env.yaml":                          "subscriptionId: sub1\nlocation: westus\nclient_secret: s3cret\n",
	}
	for k, v := range extra {
		files[k] = v
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

func testConfig(dir string) app.Config {
	cfg := app.DefaultConfig()
	cfg.RootDir = filepath.Join(dir, "defs")
	cfg.SpecPaths = []string{filepath.Join(dir, "specs")}
	cfg.EnvFile = filepath.Join(dir, "env.yaml")
	cfg.DryRun = true
	cfg.RecordingDir = filepath.Join(dir, "recordings")
	cfg.SnapshotPath = filepath.Join(dir, "state", "snapshots.db")
	cfg.LogLevel = "error"
	return cfg
}

func newApp(t *testing.T, cfg app.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, io.Discard)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestNew_InvalidRootDir(t *testing.T) {
	cfg := testConfig(writeTree(t, nil))
	cfg.RootDir = "/nonexistent/path/that/does/not/exist"

	if _, err := app.New(context.Background(), cfg, io.Discard); err == nil {
		t.Error("expected error for invalid root directory")
	}
}

func TestNew_MissingEnvFile(t *testing.T) {
	cfg := testConfig(writeTree(t, nil))
	cfg.EnvFile = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := app.New(context.Background(), cfg, io.Discard); err == nil {
		t.Error("expected error for a missing env file")
	}
}

func TestNew_WithAllLogLevels(t *testing.T) {
	dir := writeTree(t, nil)
	for _, level := range []string{"debug", "info", "warn", "error", "unknown"} {
		t.Run(level, func(t *testing.T) {
			cfg := testConfig(dir)
			cfg.SnapshotPath = ""
			cfg.LogLevel = level
			newApp(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	dir := writeTree(t, nil)
	a := newApp(t, testConfig(dir))
	ctx := context.Background()

	all, err := a.Validate(ctx, nil)
	if err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if len(all) != 1 || all[0].Coverage.Covered != 1 {
		t.Fatalf("unexpected results: %+v", all)
	}

	one, err := a.Validate(ctx, []string{"widgets.yaml"})
	if err != nil {
		t.Fatalf("Validate with a root-relative path failed: %v", err)
	}
	if one[0].File.Scenarios[0].ResolvedSteps[0].RestCall.Operation.ID != "Widgets_CreateOrUpdate" {
		t.Errorf("unexpected binding: %+v", one[0].File.Scenarios[0].ResolvedSteps[0])
	}
}

func TestValidate_ReportsDefinitionErrors(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"defs/broken.yaml": "testScenarios:\n  - steps:\n      - step: x\n        bogusKey: 1\n",
	})
	a := newApp(t, testConfig(dir))

	_, err := a.Validate(context.Background(), []string{"broken.yaml"})
	if !errs.IsKind(err, errs.KindDefinition) {
		t.Fatalf("expected definition error, got %v", err)
	}
}

func TestRun_DryRun(t *testing.T) {
	dir := writeTree(t, nil)
	cfg := testConfig(dir)
	cfg.RunID = "202601011200-abcde"
	a := newApp(t, cfg)

	reports, err := a.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(reports) != 1 || len(reports[0].Steps) != 1 {
		t.Fatalf("unexpected reports: %+v", reports)
	}
	if reports[0].Steps[0].StatusCode != http.StatusOK {
		t.Errorf("expected recorded 200, got %d", reports[0].Steps[0].StatusCode)
	}

	matches, _ := filepath.Glob(filepath.Join(cfg.RecordingDir, "widgets", cfg.RunID, "*", "calls.json"))
	if len(matches) != 1 {
		t.Errorf("expected one recording, got %v", matches)
	}
}

func TestRun_MissingVariables(t *testing.T) {
	dir := writeTree(t, map[string]string{"env.yaml": "location: westus\n"})
	a := newApp(t, testConfig(dir))

	_, err := a.Run(context.Background(), nil)
	if !errs.IsKind(err, errs.KindVariable) {
		t.Fatalf("expected variable error, got %v", err)
	}
}

func TestRun_VarsOverrideEnvFile(t *testing.T) {
	dir := writeTree(t, map[string]string{"env.yaml": "location: westus\n"})
	cfg := testConfig(dir)
	cfg.Vars = map[string]string{"subscriptionId": "sub-from-flag"}
	a := newApp(t, cfg)

	if _, err := a.Run(context.Background(), nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
}

func TestServe_StartsAndShutsDownGracefully(t *testing.T) {
	dir := writeTree(t, nil)
	port := freePort(t)
	cfg := testConfig(dir)
	cfg.Port = port
	a := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.Serve(ctx)
	}()

	addr := fmt.Sprintf("http://localhost:%d/api/v1/health", port)
	waitForServer(t, addr, 3*time.Second)

	resp, err := http.Get(addr)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestServe_FailsOnInvalidDefinitions(t *testing.T) {
	dir := writeTree(t, map[string]string{
		"defs/broken.yaml": "testScenarios:\n  - steps:\n      - step: x\n        exampleFile: missing.json\n",
	})
	a := newApp(t, testConfig(dir))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Serve(ctx); err == nil {
		t.Error("expected error for invalid definitions")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("server not ready at %s after %v", url, timeout)
}
