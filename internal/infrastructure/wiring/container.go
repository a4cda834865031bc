package wiring

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sophialabs/apiscenario/internal/domain/definition"
	"github.com/sophialabs/apiscenario/internal/domain/lro"
	"github.com/sophialabs/apiscenario/internal/domain/runner"
	"github.com/sophialabs/apiscenario/internal/domain/trace"
	inboundhttp "github.com/sophialabs/apiscenario/internal/infrastructure/inbound/http"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/armclient"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/assertion"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/clock"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/filesystem"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/naming"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/openapi"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/ratelimit"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/recording"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/snapshot"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
	"github.com/sophialabs/apiscenario/internal/infrastructure/usecases"
)

// Params holds the subset of configuration needed to construct infrastructure components.
type Params struct {
	RootDir   string
	SpecPaths []string

	BaseURL     string
	Credentials armclient.Credentials
	HTTPTimeout time.Duration
	// HTTPClient overrides the client built from Credentials.
	HTTPClient *http.Client

	DryRun       bool
	RecordingDir string

	Polling           lro.Options
	FinalStateVia     lro.FinalStateVia
	RequestsPerSecond float64
	Burst             int
	ThrottleTTL       time.Duration

	// SnapshotPath is the sqlite database for partial replay; empty disables snapshots.
	SnapshotPath          string
	AssertionExpression   string
	ResourceGroupTemplate string

	TraceSize int
	Logger    ports.Logger
}

// Container owns the construction and lifecycle of all infrastructure components.
type Container struct {
	logger    ports.Logger
	params    Params
	repo      *filesystem.DefinitionRepository
	loadUC    *usecases.LoadDefinitionUseCase
	throttler *ratelimit.HostThrottler
	snapshots *snapshot.Store
	assertion *assertion.StatusAssertion
	namer     *naming.Namer
	clock     *clock.System
	live      *armclient.Client
	traceBuf  *trace.RingBuffer
	server    *inboundhttp.Server
	closeOnce sync.Once
}

// New constructs all infrastructure components. Fallible operations run before
// the throttler starts its eviction goroutine.
func New(ctx context.Context, p Params) (*Container, error) {
	if _, err := os.Stat(p.RootDir); err != nil {
		return nil, fmt.Errorf("failed to access root directory: %w", err)
	}

	fs := filesystem.OSFileSystem{}
	repo, err := filesystem.NewDefinitionRepository(p.RootDir, fs)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository: %w", err)
	}

	check, err := assertion.New(p.AssertionExpression)
	if err != nil {
		return nil, err
	}
	namer, err := naming.New(p.ResourceGroupTemplate)
	if err != nil {
		return nil, err
	}

	var snapshots *snapshot.Store
	if p.SnapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(p.SnapshotPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
		if snapshots, err = snapshot.Open(p.SnapshotPath); err != nil {
			return nil, fmt.Errorf("failed to open snapshot store: %w", err)
		}
	}

	clk := clock.New()
	traceBuf := trace.NewRingBuffer(p.TraceSize)
	throttler := ratelimit.NewHostThrottler(p.ThrottleTTL)

	c := &Container{
		logger:    p.Logger,
		params:    p,
		repo:      repo,
		throttler: throttler,
		snapshots: snapshots,
		assertion: check,
		namer:     namer,
		clock:     clk,
		traceBuf:  traceBuf,
	}

	c.loadUC = usecases.NewLoadDefinitionUseCase(repo, openapi.NewLoader(p.SpecPaths, fs, p.Logger), fs, p.Logger)

	if !p.DryRun {
		httpClient := p.HTTPClient
		if httpClient == nil {
			httpClient = armclient.NewHTTPClient(ctx, p.Credentials, p.HTTPTimeout)
		}
		c.live = armclient.New(httpClient, armclient.Options{
			BaseURL:           p.BaseURL,
			Polling:           p.Polling,
			FinalStateVia:     p.FinalStateVia,
			RequestsPerSecond: p.RequestsPerSecond,
			Burst:             p.Burst,
		}, throttler, clk, p.Logger, traceBuf)
	}

	c.server = inboundhttp.NewServer(c.loadUC, c, traceBuf, p.Logger)
	return c, nil
}

// Close releases resources held by the container. It is idempotent.
func (c *Container) Close() {
	c.closeOnce.Do(func() {
		c.throttler.Stop()
		if c.snapshots != nil {
			if err := c.snapshots.Close(); err != nil {
				c.logger.Warn("failed to close snapshot store", "error", err)
			}
		}
	})
}

// Run executes one run of file through the configured client. Dry runs write
// the recorded calls below the recording directory.
func (c *Container) Run(ctx context.Context, file *definition.File, opts usecases.RunOptions) (*usecases.RunReport, error) {
	if opts.RunID == "" {
		opts.RunID = c.namer.RunID(c.clock.Now())
	}

	var client runner.Client
	var rec *recording.Recorder
	if c.params.DryRun {
		rec = recording.New(c.params.BaseURL, filesystem.OSFileSystem{}, c.logger)
		client = rec
	} else {
		client = c.live.WithRunID(opts.RunID)
	}

	// A nil store must stay a nil interface for the use case to skip snapshots.
	var snapshots ports.SnapshotStore
	if c.snapshots != nil {
		snapshots = c.snapshots
	}

	uc := usecases.NewRunScenarioUseCase(client, snapshots, c.assertion, c.namer, c.clock, c.logger)
	report, err := uc.Execute(ctx, file, opts)

	if rec != nil {
		path := naming.RecordingPath(c.params.RecordingDir, file.Path, opts.RunID, recordingLabel(file, opts.Scenarios))
		if ferr := rec.Flush(path); ferr != nil {
			c.logger.Error("failed to write recording", "path", path, "error", ferr)
		}
	}
	return report, err
}

func recordingLabel(file *definition.File, selected []int) string {
	if len(selected) != 1 || selected[0] < 0 || selected[0] >= len(file.Scenarios) {
		return "all"
	}
	if d := file.Scenarios[selected[0]].Description; d != "" {
		return d
	}
	return fmt.Sprintf("scenario_%d", selected[0])
}

// Logger returns the logger passed at construction time.
func (c *Container) Logger() ports.Logger {
	return c.logger
}

// Server returns the admin HTTP server.
func (c *Container) Server() *inboundhttp.Server {
	return c.server
}

// Repository returns the definition repository.
func (c *Container) Repository() *filesystem.DefinitionRepository {
	return c.repo
}

// LoadDefinitionUseCase returns the use case that loads and resolves definitions.
func (c *Container) LoadDefinitionUseCase() *usecases.LoadDefinitionUseCase {
	return c.loadUC
}

// Throttler returns the per-host request throttler.
func (c *Container) Throttler() *ratelimit.HostThrottler {
	return c.throttler
}

// Snapshots returns the snapshot store, or nil when snapshots are disabled.
func (c *Container) Snapshots() *snapshot.Store {
	return c.snapshots
}

// DryRun reports whether runs record calls instead of sending them.
func (c *Container) DryRun() bool {
	return c.params.DryRun
}

// TraceBuf returns the trace ring buffer.
func (c *Container) TraceBuf() *trace.RingBuffer {
	return c.traceBuf
}
