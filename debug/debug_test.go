package debug

import (
	"strings"
	"testing"
)

func TestCallerdumpPrintsCurrentFrame(t *testing.T) {
	// Callerdump writes to stdout; just confirm it runs to completion
	// without panicking for a shallow and a too-deep start depth.
	Callerdump(0)
	Callerdump(1000)
}

func TestDistinctCallerReportsFirstOccurrenceOnly(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true

	seen1, trace1 := dc.Distinct()
	if !seen1 {
		t.Fatalf("first call from a given chain should be distinct")
	}
	if !strings.Contains(trace1, "debug.TestDistinctCallerReportsFirstOccurrenceOnly") {
		t.Fatalf("trace = %q, want it to mention the calling test", trace1)
	}

	seen2, _ := dc.Distinct()
	if seen2 {
		t.Fatalf("second call from the same chain should not be distinct")
	}
	if dc.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", dc.Len())
	}
}

func TestDistinctCallerDisabledNeverReports(t *testing.T) {
	var dc Distinct_caller_t
	seen, _ := dc.Distinct()
	if seen {
		t.Fatalf("disabled Distinct_caller_t should never report")
	}
}

func TestDistinctCallerWhitelistSuppresses(t *testing.T) {
	var dc Distinct_caller_t
	dc.Enabled = true
	dc.Whitel = map[string]bool{"testing.tRunner": true}

	seen, _ := dc.Distinct()
	if seen {
		t.Fatalf("a chain passing through a whitelisted function should not report")
	}
}
