package snapshot_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/sophialabs/apiscenario/internal/domain/errs"
	"github.com/sophialabs/apiscenario/internal/infrastructure/outbound/snapshot"
	"github.com/sophialabs/apiscenario/internal/infrastructure/ports"
)

func openStore(t *testing.T) *snapshot.Store {
	t.Helper()
	s, err := snapshot.Open(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func snap(run, step string, vars map[string]any, at time.Time) ports.Snapshot {
	return ports.Snapshot{RunID: run, File: "/defs/vm.yaml", Scenario: "create", Step: step, Variables: vars, CreatedAt: at}
}

func TestStore_LatestReturnsNewest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	for _, sn := range []ports.Snapshot{
		snap("run1", "update", map[string]any{"vmId": "old"}, base),
		snap("run2", "update", map[string]any{"vmId": "new", "count": float64(2)}, base.Add(time.Minute)),
		snap("run2", "delete", map[string]any{}, base.Add(2*time.Minute)),
	} {
		if err := s.Save(ctx, sn); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	got, err := s.Latest(ctx, "/defs/vm.yaml", "create", "update")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	want := snap("run2", "update", map[string]any{"vmId": "new", "count": float64(2)}, base.Add(time.Minute))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_LatestNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.Latest(context.Background(), "/defs/vm.yaml", "create", "missing")
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ForRunAndPrune(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, snap("run1", "create", map[string]any{}, base))
	_ = s.Save(ctx, snap("run2", "create", map[string]any{}, base.Add(time.Hour)))
	_ = s.Save(ctx, snap("run2", "update", map[string]any{"a": "b"}, base.Add(2*time.Hour)))

	run2, err := s.ForRun(ctx, "run2")
	if err != nil {
		t.Fatalf("ForRun: %v", err)
	}
	var steps []string
	for _, sn := range run2 {
		steps = append(steps, sn.Step)
	}
	if diff := cmp.Diff([]string{"create", "update"}, steps); diff != "" {
		t.Errorf("steps mismatch (-want +got):\n%s", diff)
	}

	n, err := s.Prune(ctx, base.Add(30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	if left, _ := s.ForRun(ctx, "run1"); len(left) != 0 {
		t.Errorf("expected run1 pruned, got %d", len(left))
	}
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := snapshot.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save(context.Background(), snap("run1", "create", map[string]any{"x": "y"}, base)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.Close()

	s, err = snapshot.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Latest(context.Background(), "/defs/vm.yaml", "create", "create")
	if err != nil || got.Variables["x"] != "y" {
		t.Fatalf("expected persisted snapshot, got %+v, %v", got, err)
	}
}
