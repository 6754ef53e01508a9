package cli

import (
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"esm-federation/internal/shared"
	"esm-federation/internal/types"
)

// ---------- Command tree tests ----------

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()
	names := make([]string, 0, len(root.Commands()))
	for _, cmd := range root.Commands() {
		names = append(names, cmd.Name())
	}
	for _, name := range []string{"build", "resolve", "inspect", "serve"} {
		assert.Contains(t, names, name, "missing subcommand: %s", name)
	}
}

func TestRootCommandVersion(t *testing.T) {
	root := newRootCommand()
	assert.Equal(t, "dev", root.Version)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestBuildCommandFlags(t *testing.T) {
	cmd := newBuildCommand()
	for _, name := range []string{"participant", "output", "concurrency"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
	assert.Equal(t, "4", cmd.Flags().Lookup("concurrency").DefValue)
}

func TestResolveCommandFlags(t *testing.T) {
	cmd := newResolveCommand()
	assert.NotNil(t, cmd.Flags().Lookup("participant"))
}

func TestInspectCommandFlags(t *testing.T) {
	cmd := newInspectCommand()
	assert.NotNil(t, cmd.Flags().Lookup("output"))
	assert.NotNil(t, cmd.Flags().Lookup("manifest-url"))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := newServeCommand()
	for _, name := range []string{"dir", "addr", "dev", "participant", "heartbeat", "debounce-ms"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "missing flag: %s", name)
	}
	assert.Equal(t, ":8080", cmd.Flags().Lookup("addr").DefValue)
}

// ---------- Helper function tests ----------

func TestResolveString(t *testing.T) {
	tests := []struct {
		name     string
		cmd      *cobra.Command
		value    string
		expected string
	}{
		{
			name:     "nil cmd with value returns value",
			cmd:      nil,
			value:    "explicit",
			expected: "explicit",
		},
		{
			name:     "nil cmd empty value returns empty",
			cmd:      nil,
			value:    "",
			expected: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveString(tt.cmd, tt.value, "test_key", "test-flag")
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestResolveStrings(t *testing.T) {
	got := resolveStrings(nil, []string{"a.yaml", "b.yaml"}, "test_key", "test-flag")
	assert.Equal(t, []string{"a.yaml", "b.yaml"}, got)

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().StringSlice("participant", nil, "")
	require.NoError(t, cmd.Flags().Set("participant", "shell.yaml"))
	got = resolveStrings(cmd, []string{"shell.yaml"}, "unbound_key", "participant")
	assert.Equal(t, []string{"shell.yaml"}, got)
}

func TestResolveBoolAndInt(t *testing.T) {
	assert.True(t, resolveBool(nil, true, "test_key", "test-flag"))
	assert.False(t, resolveBool(nil, false, "test_key", "test-flag"))
	assert.Equal(t, 42, resolveInt(nil, 42, "test_key", "test-flag"))
}

func TestFlagChanged(t *testing.T) {
	assert.False(t, flagChanged(nil, "anything"), "nil cmd should return false")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("myflag", "", "test flag")
	cmd.PersistentFlags().String("shared", "", "persistent flag")
	assert.False(t, flagChanged(cmd, "myflag"), "unchanged flag")
	assert.False(t, flagChanged(cmd, "nonexistent"), "nonexistent flag")

	require.NoError(t, cmd.Flags().Set("myflag", "val"))
	assert.True(t, flagChanged(cmd, "myflag"))
	require.NoError(t, cmd.PersistentFlags().Set("shared", "val"))
	assert.True(t, flagChanged(cmd, "shared"))
}

// ---------- Exit code tests ----------

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name: "invalid argument",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("bad input"),
			expected: 2,
		},
		{
			name: "duplicate participant",
			err: errbuilder.New().
				WithCode(errbuilder.CodeAlreadyExists).
				WithMsg("duplicate participant: shell"),
			expected: 2,
		},
		{
			name:     "singleton conflict",
			err:      shared.FederationError(errbuilder.CodeFailedPrecondition, shared.ErrConflict, "conflicting singleton declarations for react", nil),
			expected: 3,
		},
		{
			name:     "no compatible version",
			err:      shared.FederationError(errbuilder.CodeFailedPrecondition, shared.ErrNoCompatibleVersion, "no compatible version for react", nil),
			expected: 4,
		},
		{
			name: "other failed precondition",
			err: errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg("something else failed"),
			expected: 3,
		},
		{
			name: "not found",
			err: errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg("participant file not found"),
			expected: 5,
		},
		{
			name: "internal error",
			err: errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("boom"),
			expected: 5,
		},
		{
			name:     "unknown error",
			err:      assert.AnError,
			expected: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, exitCodeForError(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg("something broke")
	assert.Equal(t, "something broke", errorMessage(err))
	assert.Equal(t, assert.AnError.Error(), errorMessage(assert.AnError))
}

func TestFormatFindingNamesParticipantsAndFallback(t *testing.T) {
	line := formatFinding(types.ResolutionError{
		Kind:         types.ResolutionErrorNoCompatible,
		ShareKey:     "react",
		Participants: []string{"shell", "checkout"},
		Chosen:       "18.2.0",
		Message:      "no version of react satisfies every participant",
	})
	assert.Equal(t, "no-compatible-version: no version of react satisfies every participant [participants: shell, checkout] [chosen: 18.2.0]", line)

	bare := formatFinding(types.ResolutionError{Kind: types.ResolutionErrorConflict, Message: "mixed singleton"})
	assert.Equal(t, "conflict: mixed singleton", bare)
}
