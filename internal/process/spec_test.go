package process

import (
	"runtime"
	"strings"
	"testing"
)

func requireUnixSpec(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like shell")
	}
}

// Ensure that when the command string already includes an explicit
// shell invocation (e.g., "sh -c 'echo hi'"), we do not double-wrap
// it with another "/bin/sh -c" layer.
func TestBuildCommand_ExplicitShellNoDoubleWrap(t *testing.T) {
	requireUnixSpec(t)
	s := Spec{Name: "x", Command: "sh -c 'echo hi'"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 {
		t.Fatalf("unexpected argv: %#v", cmd.Args)
	}
	if cmd.Args[1] != "-c" {
		t.Fatalf("expected -c as second arg, got %#v", cmd.Args)
	}
	if strings.HasPrefix(cmd.Args[2], "sh -c ") || strings.HasPrefix(cmd.Args[2], "/bin/sh -c ") {
		t.Fatalf("command was double-wrapped: %q", cmd.Args[2])
	}
	if cmd.Args[2] != "echo hi" {
		t.Fatalf("expected outer quotes stripped, got %q", cmd.Args[2])
	}
}

func TestBuildCommand_MetacharTriggersShell(t *testing.T) {
	requireUnixSpec(t)
	s := Spec{Name: "y", Command: "echo hi | wc -c"}
	cmd := s.BuildCommand()
	if len(cmd.Args) < 3 || cmd.Args[1] != "-c" {
		t.Fatalf("expected shell -c wrapping, got argv=%#v", cmd.Args)
	}
}

func TestBuildCommand_PlainSplit(t *testing.T) {
	s := Spec{Command: "./bedrock_server --port 19132"}
	cmd := s.BuildCommand()
	want := []string{"./bedrock_server", "--port", "19132"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("argv=%#v want %#v", cmd.Args, want)
	}
}

func TestSpec_Validate(t *testing.T) {
	tests := []struct {
		name        string
		spec        Spec
		errContains string
	}{
		{name: "valid", spec: Spec{Name: "bedrock", Command: "./bedrock_server"}},
		{name: "empty command", spec: Spec{Command: "  "}, errContains: "command is required"},
		{name: "bad env", spec: Spec{Command: "x", Env: []string{"NOVALUE"}}, errContains: "KEY=VALUE"},
		{name: "empty env key", spec: Spec{Command: "x", Env: []string{"=v"}}, errContains: "KEY=VALUE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.errContains == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.errContains) {
				t.Fatalf("expected error containing %q, got %v", tt.errContains, err)
			}
		})
	}
}
