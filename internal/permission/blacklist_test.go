package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCommand(t *testing.T) {
	blacklist := []string{"rm -rf", "mkfs", "dd if="}

	tests := []struct {
		name    string
		command string
		blocked bool
		entry   string
	}{
		{
			name:    "dangerous removal",
			command: "sudo rm -rf /",
			blocked: true,
			entry:   "rm -rf",
		},
		{
			name:    "embedded in pipeline",
			command: "find . -name '*.log' | xargs rm -rf",
			blocked: true,
			entry:   "rm -rf",
		},
		{
			name:    "filesystem format",
			command: "mkfs.ext4 /dev/sdb1",
			blocked: true,
			entry:   "mkfs",
		},
		{
			name:    "plain remove allowed",
			command: "rm file.txt",
			blocked: false,
		},
		{
			name:    "ordinary build",
			command: "make build && make test",
			blocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckCommand(tt.command, blacklist)
			if !tt.blocked {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			var blocked *BlacklistedError
			require.ErrorAs(t, err, &blocked)
			assert.Equal(t, tt.entry, blocked.Entry)
			assert.Equal(t, tt.command, blocked.Command)
			assert.Contains(t, err.Error(), tt.entry)
		})
	}
}

func TestCheckCommand_EmptyEntriesIgnored(t *testing.T) {
	assert.NoError(t, CheckCommand("anything at all", []string{"", ""}))
}

func TestBlacklistedError_NamesPrograms(t *testing.T) {
	err := CheckCommand("sudo rm -rf / && echo done", []string{"rm -rf"})
	require.Error(t, err)

	// The message names the parsed programs, not just the raw line.
	assert.Contains(t, err.Error(), "sudo, echo")
}

func TestParseCommands(t *testing.T) {
	cmds, err := ParseCommands("git status && grep -r TODO src | wc -l")
	require.NoError(t, err)
	require.Len(t, cmds, 3)

	assert.Equal(t, "git", cmds[0].Name)
	assert.Equal(t, []string{"status"}, cmds[0].Args)
	assert.Equal(t, "grep", cmds[1].Name)
	assert.Equal(t, "wc", cmds[2].Name)
}

func TestParseCommands_Quoting(t *testing.T) {
	cmds, err := ParseCommands(`echo 'hello world' "quoted"`)
	require.NoError(t, err)
	require.Len(t, cmds, 1)

	assert.Equal(t, "echo", cmds[0].Name)
	assert.Equal(t, []string{"hello world", "quoted"}, cmds[0].Args)
}

func TestParseCommands_Invalid(t *testing.T) {
	_, err := ParseCommands("echo 'unterminated")
	assert.Error(t, err)
}

func TestDescribeCommand(t *testing.T) {
	assert.Equal(t, "git, wc", DescribeCommand("git log | wc -l"))

	// Unparseable input falls back to the raw line.
	assert.Equal(t, "echo 'oops", DescribeCommand("echo 'oops"))
}
