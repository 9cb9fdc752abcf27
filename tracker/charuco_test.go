package tracker

import (
	"testing"

	"github.com/fieldrig/capturevolume/board"
	"github.com/fieldrig/capturevolume/internal/logging"
)

func TestCharucoTrackerName(t *testing.T) {
	spec, err := board.New(4, 5, 0.03, 0, 0.75, false)
	if err != nil {
		t.Fatalf("board.New: %v", err)
	}
	ct := NewCharucoTracker(spec, logging.Noop())
	defer ct.Close()

	if got, want := ct.Name(), "charuco"; got != want {
		t.Fatalf("Name() = %q, want %q", got, want)
	}

	pairs := ct.ConnectedPoints()
	if len(pairs) == 0 {
		t.Fatal("expected non-empty connected point set")
	}

	di := ct.DrawInstructions(0)
	if di.Radius <= 0 {
		t.Fatalf("expected positive draw radius, got %d", di.Radius)
	}
}
