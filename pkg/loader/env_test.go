package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnv(t *testing.T) {
	env := []string{"USER=alice", "HOME=/home/alice"}

	tests := []struct {
		input    string
		expected string
	}{
		{"Hello $USER", "Hello alice"},
		{"Your home is at ${HOME}", "Your home is at /home/alice"},
		{"No variable here", "No variable here"},
		{"$UNKNOWN_VAR should be empty", " should be empty"},
	}

	for _, test := range tests {
		result := expandEnv(test.input, env)

		assert.Equal(t, test.expected, result)
	}
}

func TestExpandTildePath(t *testing.T) {
	homeDir, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name        string
		input       string
		expected    string
		expectError bool
	}{
		{
			name:     "no tilde",
			input:    "/absolute/path",
			expected: "/absolute/path",
		},
		{
			name:     "relative path",
			input:    "relative/path",
			expected: "relative/path",
		},
		{
			name:     "tilde only",
			input:    "~",
			expected: homeDir,
		},
		{
			name:     "tilde with slash",
			input:    "~/env/slack.env",
			expected: filepath.Join(homeDir, "env/slack.env"),
		},
		{
			name:        "unsupported tilde format",
			input:       "~user/path",
			expectError: true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result, err := expandTildePath(test.input)
			if test.expectError {
				require.ErrorContains(t, err, "unsupported tilde expansion format")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, result)
		})
	}
}

func TestResolvePath(t *testing.T) {
	t.Parallel()

	got, err := resolvePath("/etc/agentcall", "state.db")
	require.NoError(t, err)
	assert.Equal(t, "/etc/agentcall/state.db", got)

	got, err = resolvePath("/etc/agentcall", "/var/lib/state.db")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/state.db", got)

	got, err = resolvePath("/etc/agentcall", "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestReadEnvFilesEmpty(t *testing.T) {
	lines, err := readEnvFiles("/some/dir", []string{})

	require.NoError(t, err)
	assert.Empty(t, lines)
}

func TestReadEnvFiles(t *testing.T) {
	temp := t.TempDir()
	write(t, filepath.Join(temp, ".env1"), "KEY1=VALUE1\n# Comment\nKEY2=\"VALUE2\"\n")
	write(t, filepath.Join(temp, ".env2"), "\n\nKEY3=VALUE3\n")

	lines, err := readEnvFiles(temp, []string{".env1", ".env2"})

	require.NoError(t, err)
	assert.Equal(t, []KeyValuePair{
		{Key: "KEY1", Value: "VALUE1"},
		{Key: "KEY2", Value: "VALUE2"},
		{Key: "KEY3", Value: "VALUE3"},
	}, lines)
}

func TestReadEnvFileNotFound(t *testing.T) {
	temp := t.TempDir()

	lines, err := readEnvFiles(temp, []string{".notfound"})

	require.Error(t, err)
	assert.Empty(t, lines)
}

func TestReadEnvFileInvalid(t *testing.T) {
	temp := t.TempDir()
	write(t, filepath.Join(temp, ".invalid"), "The is not a valid env file")

	lines, err := readEnvFiles(temp, []string{".invalid"})

	require.Error(t, err)
	assert.Empty(t, lines)
}

func TestCommandEnv(t *testing.T) {
	temp := t.TempDir()
	write(t, filepath.Join(temp, "server.env"), "TOKEN=abc\n")

	env, err := commandEnv(temp, []string{"server.env"}, []string{"AUTH=Bearer $TOKEN", "BOTH=$AUTH!"})
	require.NoError(t, err)
	assert.Equal(t, []string{"TOKEN=abc", "AUTH=Bearer abc", "BOTH=Bearer abc!"}, env)

	_, err = commandEnv(temp, nil, []string{"NOEQUALS"})
	require.ErrorContains(t, err, "invalid env entry")
}

func write(t *testing.T, path, content string) {
	t.Helper()
	err := os.WriteFile(path, []byte(content), 0o644)
	require.NoError(t, err)
}
