package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeCommand runs the root command with args, starting from default
// flag values.
func executeCommand(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	resetFlags(rootCmd)

	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// writeConfig writes a config file whose data directory is a fresh temp dir.
// extra holds additional JSON members.
func writeConfig(t *testing.T, extra ...string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "actuator.json")
	members := append([]string{
		`"data_dir": "` + filepath.ToSlash(dir) + `"`,
		`"logging": {"level": "error"}`,
	}, extra...)
	content := "{" + strings.Join(members, ", ") + "}"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path, dir
}

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		out, _, err := executeCommand(t, "", "--version")
		require.NoError(t, err)

		assert.Contains(t, out, "actuator version")
		assert.Contains(t, out, GetVersion())
	})

	t.Run("version command", func(t *testing.T) {
		out, _, err := executeCommand(t, "", "version")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "actuator version "+GetVersion()))
	})

	t.Run("help flag", func(t *testing.T) {
		out, _, err := executeCommand(t, "", "--help")
		require.NoError(t, err)

		assert.Contains(t, out, "Actuator")
		assert.Contains(t, out, "orchestration")
		assert.Contains(t, out, "replay")
	})

	t.Run("global flags", func(t *testing.T) {
		cmd := GetRootCmd()

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "", logLevelFlag.DefValue)
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfgPath, _ := writeConfig(t)
		_, _, err := executeCommand(t, "", "--config", cfgPath, "--log-level", "loud", "approvals", "list")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
}
