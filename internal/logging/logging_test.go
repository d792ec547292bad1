package logging

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesToFile(t *testing.T) {
	defer log.SetOutput(os.Stderr)
	defer log.SetPrefix("")

	path := filepath.Join(t.TempDir(), "agent.log")
	closer := Setup(path, 1, 1, "[wrapper]")
	log.Printf("hello %s", "file")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[wrapper] ")
	assert.Contains(t, string(data), "hello file")
}

func TestSetup_StderrWithoutFile(t *testing.T) {
	defer log.SetPrefix("")
	closer := Setup("", 10, 3, "")
	assert.NoError(t, closer.Close())
}
