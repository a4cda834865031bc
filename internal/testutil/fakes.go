package testutil

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/runner"
	"github.com/sophialabs/apiscenario/internal/domain/variables"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

var _ ports.Logger = (*NoopLogger)(nil)

// NoopLogger discards all log output.
type NoopLogger struct{}

func (l *NoopLogger) Info(string, ...any)  {}
func (l *NoopLogger) Warn(string, ...any)  {}
func (l *NoopLogger) Error(string, ...any) {}
func (l *NoopLogger) Debug(string, ...any) {}

var _ ports.Clock = (*FixedClock)(nil)

// FixedClock returns a fixed time and never sleeps.
type FixedClock struct {
	T time.Time
}

func (c *FixedClock) Now() time.Time { return c.T }
func (c *FixedClock) SleepContext(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

var _ ports.Throttler = (*StubThrottler)(nil)

// StubThrottler counts Wait calls and never blocks.
type StubThrottler struct {
	mu    sync.Mutex
	Calls int
}

func (t *StubThrottler) Wait(context.Context, string, float64, int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls++
	return nil
}

var _ ports.FileSystem = (*MemoryFS)(nil)

// MemoryFS is an in-memory file system keyed by cleaned path.
type MemoryFS struct {
	mu    sync.Mutex
	Files map[string][]byte
}

// NewMemoryFS creates a file system holding files.
func NewMemoryFS(files map[string]string) *MemoryFS {
	m := &MemoryFS{Files: make(map[string][]byte)}
	for p, content := range files {
		m.Files[filepath.Clean(p)] = []byte(content)
	}
	return m
}

func (m *MemoryFS) ReadFile(path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.Files[filepath.Clean(path)]
	if !ok {
		return nil, fmt.Errorf("open %s: %w", path, fs.ErrNotExist)
	}
	return data, nil
}

func (m *MemoryFS) WriteFile(path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[filepath.Clean(path)] = append([]byte(nil), data...)
	return nil
}

var _ ports.SnapshotStore = (*MemorySnapshotStore)(nil)

// MemorySnapshotStore keeps snapshots in memory.
type MemorySnapshotStore struct {
	mu        sync.Mutex
	Snapshots []ports.Snapshot
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap ports.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Snapshots = append(s.Snapshots, snap)
	return nil
}

func (s *MemorySnapshotStore) Latest(_ context.Context, file, scenario, step string) (ports.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.Snapshots) - 1; i >= 0; i-- {
		snap := s.Snapshots[i]
		if snap.File == file && snap.Scenario == scenario && snap.Step == step {
			return snap, nil
		}
	}
	return ports.Snapshot{}, fmt.Errorf("no snapshot for step %q", step)
}

// ClientCall records one call made to a FakeRunnerClient.
type ClientCall struct {
	Method  string
	Step    string
	Request runner.ClientRequest
	Params  map[string]any
	Env     map[string]any
	Args    []string
}

var _ runner.Client = (*FakeRunnerClient)(nil)

// FakeRunnerClient records calls and answers them from configured results.
type FakeRunnerClient struct {
	mu      sync.Mutex
	Calls   []ClientCall
	Results map[string]*runner.StepResult
	Errors  map[string]error
}

// NewFakeRunnerClient creates a client answering 200 with an empty body by default.
func NewFakeRunnerClient() *FakeRunnerClient {
	return &FakeRunnerClient{
		Results: make(map[string]*runner.StepResult),
		Errors:  make(map[string]error),
	}
}

func (c *FakeRunnerClient) record(call ClientCall) (*runner.StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls = append(c.Calls, call)
	key := call.Step
	if key == "" {
		key = call.Method
	}
	if err := c.Errors[key]; err != nil {
		return nil, err
	}
	if r, ok := c.Results[key]; ok {
		return r, nil
	}
	return &runner.StepResult{StatusCode: 200}, nil
}

// Methods returns the recorded method names in call order.
func (c *FakeRunnerClient) Methods() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.Calls))
	for i, call := range c.Calls {
		out[i] = call.Method
		if call.Step != "" {
			out[i] += ":" + call.Step
		}
	}
	return out
}

func (c *FakeRunnerClient) CreateResourceGroup(_ context.Context, subscriptionID, name, location string) error {
	_, err := c.record(ClientCall{Method: "CreateResourceGroup", Args: []string{subscriptionID, name, location}})
	return err
}

func (c *FakeRunnerClient) DeleteResourceGroup(_ context.Context, subscriptionID, name string) error {
	_, err := c.record(ClientCall{Method: "DeleteResourceGroup", Args: []string{subscriptionID, name}})
	return err
}

func (c *FakeRunnerClient) SendExampleRequest(_ context.Context, req runner.ClientRequest, step *definition.Step, env *variables.Scope) (*runner.StepResult, error) {
	return c.record(ClientCall{Method: "SendExampleRequest", Step: step.Name, Request: req, Env: env.Snapshot()})
}

func (c *FakeRunnerClient) SendArmTemplateDeployment(_ context.Context, _, params map[string]any, tracking runner.DeploymentTracking, step *definition.Step, env *variables.Scope) (*runner.StepResult, error) {
	return c.record(ClientCall{
		Method: "SendArmTemplateDeployment",
		Step:   step.Name,
		Params: params,
		Env:    env.Snapshot(),
		Args:   []string{tracking.SubscriptionID, tracking.ResourceGroup, tracking.DeploymentName},
	})
}

func (c *FakeRunnerClient) SendRawRequest(_ context.Context, req runner.ClientRequest, step *definition.Step, env *variables.Scope) (*runner.StepResult, error) {
	return c.record(ClientCall{Method: "SendRawRequest", Step: step.Name, Request: req, Env: env.Snapshot()})
}

var _ ports.Namer = (*StubNamer)(nil)

// StubNamer returns fixed names.
type StubNamer struct {
	ID    string
	Group string
}

func (n *StubNamer) RunID(time.Time) string { return n.ID }
func (n *StubNamer) ResourceGroupName(map[string]any) (string, error) {
	return n.Group, nil
}
