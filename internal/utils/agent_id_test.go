package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAgentName(t *testing.T) {
	name := CreateAgentName("wrapper")
	assert.True(t, strings.HasPrefix(name, "wrapper:"))

	kind, err := AgentKind(name)
	require.NoError(t, err)
	assert.Equal(t, "wrapper", kind)

	_, err = AgentKind("directory")
	assert.Error(t, err)
}

func TestNewRequestID_Unique(t *testing.T) {
	assert.NotEqual(t, NewRequestID(), NewRequestID())
	assert.NotEmpty(t, NewSecret())
}
