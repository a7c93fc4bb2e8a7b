package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "aura.yaml")
	body := "database:\n  path: " + filepath.Join(dir, "aura.db") + "\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath
}

func TestRun_UnknownCommand(t *testing.T) {
	var out, errw bytes.Buffer
	err := run(context.Background(), &out, &errw, []string{"frobnicate"})
	if err == nil || !strings.Contains(err.Error(), "unknown command") {
		t.Fatalf("err = %v, want unknown command error", err)
	}
}

func TestRun_SweepRejectsUnknownSelector(t *testing.T) {
	var out, errw bytes.Buffer
	err := run(context.Background(), &out, &errw, []string{"sweep", "everything"})
	if err == nil || !strings.Contains(err.Error(), "followups|sessions|renewals") {
		t.Fatalf("err = %v, want selector usage error", err)
	}
}

func TestRun_SweepSelectors(t *testing.T) {
	cfgPath := writeTestConfig(t)

	for _, selector := range []string{"", "followups", "sessions", "renewals"} {
		args := []string{"-config", cfgPath, "sweep"}
		if selector != "" {
			args = append(args, selector)
		}

		var out, errw bytes.Buffer
		if err := run(context.Background(), &out, &errw, args); err != nil {
			t.Fatalf("sweep %q: %v", selector, err)
		}
		if !strings.Contains(out.String(), "sweep complete: 0 nudges, 0 abandoned, 0 renewed") {
			t.Errorf("sweep %q output = %q, want empty-database summary", selector, out.String())
		}
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out, errw bytes.Buffer
	if err := run(context.Background(), &out, &errw, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), `"version"`) {
		t.Errorf("output = %q, want JSON version payload", out.String())
	}
}
