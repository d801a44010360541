package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
)

// execute runs svctl with args on a fresh viper instance and returns stdout
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(viper.New())
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sv")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestRunCommand(t *testing.T) {
	script := writeScript(t, `select 2
create
setsize 100
key abcdefghij
open
write hello
seek 0 set
read 5
`)

	out, err := execute(t, "run", script, "--principal", "1000")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.HasSuffix(out, "ok 5 \"hello\"\n") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestRunCommand_Strict(t *testing.T) {
	script := writeScript(t, "select 0\nsize\nselect 1\n")

	out, err := execute(t, "run", "--strict", script)
	if err == nil {
		t.Fatal("strict run with failing command succeeded")
	}
	if strings.Count(out, "\n") != 2 {
		t.Fatalf("strict run did not stop at the failure:\n%s", out)
	}

	if _, err := execute(t, "run", script); err != nil {
		t.Fatalf("non-strict run failed: %v", err)
	}
}

func TestRunCommand_MissingScript(t *testing.T) {
	if _, err := execute(t, "run", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("run with missing script succeeded")
	}
}

func TestConfig_Environment(t *testing.T) {
	t.Setenv("SVCTL_MAX_VAULTS", "3")
	script := writeScript(t, "select 3\ncreate\nselect 2\ncreate\n")

	out, err := execute(t, "run", script)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 4 || !strings.HasPrefix(lines[1], "error invalid-argument") || lines[3] != "ok" {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestConfig_File(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "svctl.yaml")
	if err := os.WriteFile(cfgPath, []byte("max-vaults: 8\nkey-size: 4\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	script := writeScript(t, "select 7\ncreate\nsetsize 8\nkey abcd\n")

	out, err := execute(t, "--config", cfgPath, "run", script)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "ok\nok\nok\nok\n" {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestConfig_FileMissing(t *testing.T) {
	script := writeScript(t, "select 0\n")
	if _, err := execute(t, "--config", filepath.Join(t.TempDir(), "nope.yaml"), "run", script); err == nil {
		t.Fatal("run with missing config file succeeded")
	}
}

func TestFlagsOverrideEnvironment(t *testing.T) {
	t.Setenv("SVCTL_MAX_VAULTS", "1")
	script := writeScript(t, "select 5\ncreate\n")

	out, err := execute(t, "--max-vaults", "6", "run", script)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "ok\nok\n" {
		t.Fatalf("unexpected output:\n%s", out)
	}
}
