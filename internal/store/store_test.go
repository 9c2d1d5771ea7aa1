package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/steadyscript/steadyscript/pkg/types"
)

func rec(score float64, ts time.Time) types.SessionRecord {
	return types.SessionRecord{
		Timestamp:   ts,
		Type:        types.ModeHold,
		DurationS:   10,
		TremorScore: score,
	}
}

func TestAppendAndRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	want := rec(87.5, time.Now().UTC())
	if err := s.Append(want); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("re-Open() error = %v", err)
	}
	defer s2.Close()

	resp := s2.List(10)
	if len(resp.Sessions) != 1 {
		t.Fatalf("len(Sessions) = %d, want 1", len(resp.Sessions))
	}
	got := resp.Sessions[0]
	if got.TremorScore != want.TremorScore || !got.Timestamp.Equal(want.Timestamp) {
		t.Errorf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestTrendComputationScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	base := time.Now().UTC()
	scores := []float64{30, 30, 30, 30, 30, 60, 60, 60, 60, 60, 90}
	// oldest first when appended; List returns newest-first by timestamp,
	// so assign increasing timestamps in append order.
	for i, sc := range scores {
		if err := s.Append(rec(sc, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	resp := s.List(20)
	if resp.Trend != types.TrendImproving {
		t.Errorf("Trend = %v, want improving", resp.Trend)
	}
	// recent-5 (newest first) = [90,60,60,60,60] -> mean 66;
	// previous-5 = [60,30,30,30,30] -> mean 36; percent = (66-36)/36*100.
	if resp.TrendPercent < 83 || resp.TrendPercent > 84 {
		t.Errorf("TrendPercent = %v, want ~83.3", resp.TrendPercent)
	}
}

func TestTrendFallsBackWhenNoPreviousWindow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		if err := s.Append(rec(50, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	resp := s.List(10)
	if resp.Trend != types.TrendStable {
		t.Errorf("Trend = %v, want stable (no previous window)", resp.Trend)
	}
	if resp.TrendPercent != 0 {
		t.Errorf("TrendPercent = %v, want 0", resp.TrendPercent)
	}
}

func TestListRespectsLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	base := time.Now().UTC()
	for i := 0; i < 10; i++ {
		if err := s.Append(rec(float64(i), base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	resp := s.List(3)
	if len(resp.Sessions) != 3 {
		t.Fatalf("len(Sessions) = %d, want 3", len(resp.Sessions))
	}
	// newest first
	if resp.Sessions[0].TremorScore != 9 {
		t.Errorf("Sessions[0].TremorScore = %v, want 9 (newest)", resp.Sessions[0].TremorScore)
	}
}
