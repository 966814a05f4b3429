package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestRunSmemDemo(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"-s", "65536:48"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stderr: %s", code, stderr.String())
	}

	if !strings.Contains(stdout.String(), "smem:") {
		t.Errorf("stdout missing smem report: %s", stdout.String())
	}
}

func TestRunMmemDemo(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"-m", "65536:0:6"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stderr: %s", code, stderr.String())
	}

	if !strings.Contains(stdout.String(), "mmem:") {
		t.Errorf("stdout missing mmem report: %s", stdout.String())
	}
}

func TestRunVersion(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"-v"}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("run() = %d, stderr: %s", code, stderr.String())
	}

	if !strings.Contains(stdout.String(), version) {
		t.Errorf("stdout missing version string: %s", stdout.String())
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run(nil, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("run() = %d, want 2", code)
	}

	if stderr.Len() == 0 {
		t.Error("expected usage text on stderr")
	}
}

func TestRunBadSmemSpec(t *testing.T) {
	var stdout, stderr bytes.Buffer

	code := run([]string{"-s", "not-a-spec"}, &stdout, &stderr)
	if code != 1 {
		t.Fatalf("run() = %d, want 1", code)
	}
}
