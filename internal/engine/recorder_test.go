package engine

import "testing"

func TestRecorderWindow(t *testing.T) {
	var r Recorder

	r.write("before arming")
	if r.Log() != "" {
		t.Fatalf("disarmed recorder must drop lines, got %q", r.Log())
	}

	r.Start()
	r.write("line one")
	r.write("line two\r")
	r.Stop()
	r.write("after stop")

	if got := r.Log(); got != "line one\nline two\n" {
		t.Fatalf("unexpected capture: %q", got)
	}
}

func TestRecorderStartClearsPrevious(t *testing.T) {
	var r Recorder
	r.Start()
	r.write("stale")
	r.Stop()

	r.Start()
	r.write("fresh")
	r.Stop()

	if got := r.Log(); got != "fresh\n" {
		t.Fatalf("expected fresh capture only, got %q", got)
	}
}
