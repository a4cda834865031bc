package app

import "time"

// Config holds all configurable parameters for the application.
type Config struct {
	RootDir   string
	SpecPaths []string
	EnvFile   string
	// Vars override values read from EnvFile.
	Vars     map[string]string
	LogLevel string

	BaseURL     string
	Authority   string
	HTTPTimeout time.Duration

	DryRun       bool
	RecordingDir string
	SkipCleanup  bool
	RunID        string
	Scenarios    []int
	From         string
	To           string

	PollInterval      time.Duration
	MaxPolls          int
	PollTimeout       time.Duration
	FinalStateVia     string
	RequestsPerSecond float64
	Burst             int
	ThrottleTTL       time.Duration

	SnapshotPath          string
	AssertionExpression   string
	ResourceGroupTemplate string

	Port            int
	TraceSize       int
	WatcherDebounce time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		RootDir:  ".",
		LogLevel: "info",

		BaseURL:     "https://management.azure.com",
		Authority:   "https://login.microsoftonline.com",
		HTTPTimeout: 2 * time.Minute,

		RecordingDir: ".apiscenario/recordings",

		PollInterval:      10 * time.Second,
		MaxPolls:          360,
		PollTimeout:       time.Hour,
		FinalStateVia:     "location",
		RequestsPerSecond: 10,
		Burst:             5,
		ThrottleTTL:       10 * time.Minute,

		SnapshotPath: ".apiscenario/snapshots.db",

		Port:            8080,
		TraceSize:       200,
		WatcherDebounce: 500 * time.Millisecond,

		ReadTimeout:     30 * time.Second,
		WriteTimeout:    10 * time.Minute,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}
