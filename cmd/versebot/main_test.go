package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestInitWritesConfigAndCatalogs(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	langs := filepath.Join(dir, "languages")

	out, err := execute(t, "init", "--config", cfg, "--languages", langs)
	if err != nil {
		t.Fatalf("init: %v\n%s", err, out)
	}
	for _, p := range []string{cfg, filepath.Join(langs, "english.json"), filepath.Join(langs, "t-chinese.json")} {
		if _, err := os.Stat(p); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}

	out, err = execute(t, "init", "--config", cfg, "--languages", langs)
	if err != nil || !strings.Contains(out, "exists, kept") {
		t.Fatalf("second init: err=%v out=%q", err, out)
	}
}

func TestCheckCommand(t *testing.T) {
	dir := t.TempDir()
	langs := filepath.Join(dir, "languages")
	if _, err := execute(t, "init", "--config", filepath.Join(dir, "unused.json"), "--languages", langs); err != nil {
		t.Fatalf("init: %v", err)
	}
	cfg := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{"broadcast": {"enabled": true, "interval_seconds": 30, "language": "english"}, "catalog": {"dir": %q, "default_language": "english"}}`, langs)
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "check", "--config", cfg)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	for _, want := range []string{"config: valid", "english: 12 messages", "broadcast interval: 30s"} {
		if !strings.Contains(out, want) {
			t.Fatalf("check output %q missing %q", out, want)
		}
	}

	body = fmt.Sprintf(`{"broadcast": {"interval_seconds": -1}, "catalog": {"dir": %q}}`, langs)
	if err := os.WriteFile(cfg, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	if out, err := execute(t, "check", "--config", cfg); err == nil || !strings.Contains(out, "broadcast.interval_seconds") {
		t.Fatalf("check with issues: err=%v out=%q", err, out)
	}
}
