package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/marrow/config"
	"github.com/chazu/marrow/gcstats"
	"github.com/chazu/marrow/heapdump"
)

func testHarness(t *testing.T, incremental bool) (*harness, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Incremental.Enabled = incremental
	cfg.Incremental.SliceSteps = 500
	cfg.Stats.Database = filepath.Join(t.TempDir(), "stats.db")

	var out bytes.Buffer
	h, err := newHarness(cfg, &out)
	if err != nil {
		t.Fatalf("newHarness: %v", err)
	}
	t.Cleanup(h.close)
	return h, &out
}

// ---------------------------------------------------------------------------
// Workloads
// ---------------------------------------------------------------------------

func TestWorkloads(t *testing.T) {
	for _, w := range workloads {
		for _, incremental := range []bool{false, true} {
			name := w.name
			if incremental {
				name += "/incremental"
			}
			t.Run(name, func(t *testing.T) {
				h, out := testHarness(t, incremental)
				if err := h.run([]string{w.name}); err != nil {
					t.Fatalf("run: %v\n%s", err, out)
				}
				if !strings.HasPrefix(out.String(), "== "+w.name+"\n") {
					t.Errorf("output should start with the workload banner, got %q", out.String())
				}
				if h.rt.IsIncrementalInProgress() {
					t.Error("workload left a collection in progress")
				}
			})
		}
	}
}

func TestRunAllRecordsStats(t *testing.T) {
	h, out := testHarness(t, false)
	if err := h.run(nil); err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, w := range workloads {
		if !strings.Contains(out.String(), "== "+w.name+"\n") {
			t.Errorf("workload %s did not run", w.name)
		}
	}

	path := h.cfg.StatsPath()
	h.close()
	rec, err := gcstats.Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rec.Close()
	s, err := rec.Summarize()
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if s.Collections < len(workloads) {
		t.Errorf("recorded %d collections, want at least one per workload (%d)", s.Collections, len(workloads))
	}
	if s.Aborted != 0 {
		t.Errorf("recorded %d aborted collections, want 0", s.Aborted)
	}
}

func TestRunUnknownWorkload(t *testing.T) {
	h, _ := testHarness(t, false)
	if err := h.run([]string{"cycle", "nope"}); err == nil || !strings.Contains(err.Error(), `"nope"`) {
		t.Errorf("err = %v, want unknown workload", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	h, _ := testHarness(t, false)
	h.close()
	h.close()
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func TestFormatStats(t *testing.T) {
	h, _ := testHarness(t, true)
	st, err := h.collect("format")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	line := formatStats(st)
	if !strings.HasPrefix(line, st.ID.String()[:8]+" format") {
		t.Errorf("line %q should start with the id and reason", line)
	}
	if !strings.Contains(line, "incremental/") {
		t.Errorf("line %q should name the incremental mode", line)
	}
	if strings.Contains(line, "ABORTED") {
		t.Errorf("line %q should not be marked aborted", line)
	}
}

func TestDumpAfterWorkload(t *testing.T) {
	h, _ := testHarness(t, false)
	if err := h.run([]string{"shapes"}); err != nil {
		t.Fatalf("run: %v", err)
	}
	d, err := heapdump.Capture(h.rt)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	var arrays int
	for _, n := range d.Nodes {
		if n.Class == "Array" {
			arrays++
		}
	}
	if arrays != 1 {
		t.Errorf("dump holds %d arrays, want the one the workload kept", arrays)
	}
}
