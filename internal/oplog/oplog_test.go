package oplog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAppendWritesTimestampedLines(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	l.Append(ServerErrorsFile, "boom: %s", "details")
	l.Append(ServerErrorsFile, "second line")

	data, err := os.ReadFile(filepath.Join(dir, ServerErrorsFile))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "boom: details")
	assert.Contains(t, lines[1], "second line")

	// Each line starts with an RFC3339 timestamp.
	ts := strings.SplitN(lines[0], " ", 2)[0]
	_, err = time.Parse(time.RFC3339, ts)
	assert.NoError(t, err)
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "logs")
	_, err := New(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
