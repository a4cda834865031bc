package ports

import (
	"context"
	"time"

	"github.com/sophialabs/apiscenario/internal/domain/catalog"
)

// Clock provides the current time (for testing).
type Clock interface {
	Now() time.Time
	// SleepContext blocks for d or until ctx is cancelled. Returns ctx.Err() if cancelled.
	SleepContext(ctx context.Context, d time.Duration) error
}

// Logger provides structured logging.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Throttler delays outbound requests to stay under a per-key rate.
type Throttler interface {
	// Wait blocks until a request identified by key may proceed.
	// rate is tokens per second, burst is the max burst size.
	Wait(ctx context.Context, key string, rate float64, burst int) error
}

// FileSystem reads and writes documents referenced by definitions.
type FileSystem interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
}

// CatalogSource builds the operation catalog from API specifications.
type CatalogSource interface {
	Load(ctx context.Context) (*catalog.Catalog, error)
}

// Snapshot is the variable state captured before a step ran.
type Snapshot struct {
	RunID     string
	File      string
	Scenario  string
	Step      string
	Variables map[string]any
	CreatedAt time.Time
}

// SnapshotStore persists variable snapshots for partial replay.
type SnapshotStore interface {
	Save(ctx context.Context, s Snapshot) error
	// Latest returns the newest snapshot taken before step of scenario in file.
	Latest(ctx context.Context, file, scenario, step string) (Snapshot, error)
}

// StatusAssertion checks a step's response status.
type StatusAssertion interface {
	Check(step string, statusCode, expected int) error
}

// Namer derives run identifiers and resource names.
type Namer interface {
	RunID(now time.Time) string
	ResourceGroupName(vars map[string]any) (string, error)
}
