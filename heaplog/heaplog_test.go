package heaplog

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/chazu/snap/vm"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "heap.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

// churn allocates garbage tables until at least n collections ran.
func churn(t *testing.T, v *vm.VM, n uint64) {
	t.Helper()
	for i := 0; v.GCCycles() < n; i++ {
		if i > 100000 {
			t.Fatalf("only %d collections after %d allocations", v.GCCycles(), i)
		}
		v.NewTable(0)
	}
}

func TestRecordAndCycles(t *testing.T) {
	l := openTestLog(t)
	id, err := l.StartRun("counter.snap", vm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	at := time.Unix(1700000000, 42)
	for i := uint64(1); i <= 3; i++ {
		s := &vm.GCStats{
			Cycle:         i,
			Freed:         int(i) * 10,
			Live:          5,
			BytesBefore:   int(i) * 1000,
			BytesAfter:    500,
			NextThreshold: 1024,
			Duration:      time.Duration(i) * time.Millisecond,
			Timestamp:     at,
		}
		if err := l.Record(id, s); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	cycles, err := l.Cycles(id)
	if err != nil {
		t.Fatalf("Cycles: %v", err)
	}
	if len(cycles) != 3 {
		t.Fatalf("got %d cycles, want 3", len(cycles))
	}
	c := cycles[1]
	if c.Cycle != 2 || c.Freed != 20 || c.BytesBefore != 2000 || c.Duration != 2*time.Millisecond {
		t.Errorf("cycle 2 = %+v", c)
	}
	if !c.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", c.Timestamp, at)
	}

	sum, err := l.Summarize(id)
	if err != nil {
		t.Fatal(err)
	}
	want := Summary{Cycles: 3, Freed: 60, PeakBytes: 3000, TotalDuration: 6 * time.Millisecond}
	if sum != want {
		t.Errorf("Summarize = %+v, want %+v", sum, want)
	}
}

func TestDuplicateCycleRejected(t *testing.T) {
	l := openTestLog(t)
	id, err := l.StartRun("p", vm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	s := &vm.GCStats{Cycle: 1}
	if err := l.Record(id, s); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(id, s); err == nil {
		t.Error("recording the same cycle twice should fail")
	}
}

func TestUnknownRun(t *testing.T) {
	l := openTestLog(t)
	if _, err := l.Cycles("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Cycles = %v, want ErrRunNotFound", err)
	}
	if _, err := l.Summarize("missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Summarize = %v, want ErrRunNotFound", err)
	}
}

func TestEmptyRunSummary(t *testing.T) {
	l := openTestLog(t)
	id, err := l.StartRun("idle", vm.DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	sum, err := l.Summarize(id)
	if err != nil {
		t.Fatal(err)
	}
	if sum != (Summary{}) {
		t.Errorf("Summarize = %+v, want zero", sum)
	}
}

// ---------------------------------------------------------------------------
// VM integration
// ---------------------------------------------------------------------------

func TestAttach(t *testing.T) {
	l := openTestLog(t)
	opts := vm.DefaultOptions()
	opts.StressGC = true
	v := vm.New(opts)

	id, err := l.StartRun("stress", opts)
	if err != nil {
		t.Fatal(err)
	}
	var seen []uint64
	v.OnCollect = func(s *vm.GCStats) { seen = append(seen, s.Cycle) }
	l.Attach(v, id)

	churn(t, v, 4)

	cycles, err := l.Cycles(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != len(seen) || len(cycles) < 4 {
		t.Fatalf("recorded %d cycles, hook saw %d", len(cycles), len(seen))
	}
	for i, c := range cycles {
		if c.Cycle != uint64(i+1) {
			t.Errorf("cycles[%d].Cycle = %d", i, c.Cycle)
		}
	}

	runs, err := l.Runs()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id || !runs[0].StressGC || runs[0].Program != "stress" {
		t.Errorf("Runs = %+v", runs)
	}
}

func TestRunsAreSeparate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heap.db")
	l, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	a, _ := l.StartRun("a", vm.DefaultOptions())
	b, _ := l.StartRun("b", vm.DefaultOptions())
	if a == b {
		t.Fatal("run IDs collide")
	}
	if err := l.Record(a, &vm.GCStats{Cycle: 1}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	// Reopening keeps the data.
	l, err = Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	ca, _ := l.Cycles(a)
	cb, _ := l.Cycles(b)
	if len(ca) != 1 || len(cb) != 0 {
		t.Errorf("cycles a=%d b=%d, want 1 and 0", len(ca), len(cb))
	}
	runs, _ := l.Runs()
	if len(runs) != 2 {
		t.Errorf("got %d runs, want 2", len(runs))
	}
}
