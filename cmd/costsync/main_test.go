package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/zgpcy/oci-cost-sync/internal/version"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd()

	for _, path := range [][]string{
		{"serve"},
		{"sync", "resources"},
		{"sync", "metrics"},
		{"rollover"},
		{"sweep"},
		{"costs"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil {
			t.Errorf("%v: %v", path, err)
			continue
		}
		if cmd.Name() != path[len(path)-1] {
			t.Errorf("%v resolved to %q", path, cmd.Name())
		}
	}

	if f := root.PersistentFlags().Lookup("config"); f == nil || f.DefValue != "config.yaml" {
		t.Error("expected --config flag defaulting to config.yaml")
	}
	if f := root.PersistentFlags().Lookup("env-file"); f == nil {
		t.Error("expected --env-file flag")
	}
}

func TestVersionCmd(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != version.String() {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestRolloverCmd_UserRequiresPeriod(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"rollover", "--user", "alice"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "--period") {
		t.Errorf("expected --period error, got %v", err)
	}
}

func TestCostsCmd_RequiresUser(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"costs"})
	if err := root.Execute(); err == nil {
		t.Error("expected an argument error")
	}
}

func TestCommands_MissingConfig(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"sweep", "--config", "/nonexistent/config.yaml", "--env-file", ""})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "failed to load configuration") {
		t.Errorf("expected configuration error, got %v", err)
	}
}
