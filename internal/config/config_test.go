package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeProps(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.properties")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "directory", c.DirectoryName)
	assert.Equal(t, 10*time.Second, c.DirectoryTimeout)
	assert.Equal(t, 10*time.Second, c.AskTimeout)
	assert.Equal(t, 10, c.LogMaxSize)
	assert.Equal(t, 3, c.LogMaxBackups)
	assert.Equal(t, "redis://localhost:6379/0", c.DBURL)
	assert.Equal(t, ConnectorNATS, c.Connector)
	assert.Equal(t, 4, c.WrapperMaxSessions)
	assert.Equal(t, 50.0, c.GatewayRate)
}

func TestLoad_PropertiesFile(t *testing.T) {
	path := writeProps(t, `
# wrapper for the dummy library
agent.name=wrapper-dummy
agent.type=wrapper
agent.service=/wrapper/dummy
directory.timeout=2500
log.maxsize=25
connector=GRPC
listen.port=7100
wrapper.source=dummy
`)

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "wrapper-dummy", c.AgentName)
	assert.Equal(t, "wrapper", c.AgentType)
	assert.Equal(t, "/wrapper/dummy", c.AgentService)
	assert.Equal(t, 2500*time.Millisecond, c.DirectoryTimeout)
	assert.Equal(t, 2500*time.Millisecond, c.AskTimeout, "ask timeout follows the directory timeout")
	assert.Equal(t, 25, c.LogMaxSize)
	assert.Equal(t, ConnectorGRPC, c.Connector)
	assert.Equal(t, 7100, c.ListenPort)
	assert.Equal(t, "dummy", c.Get("wrapper.source", ""))
	assert.Equal(t, "fallback", c.Get("wrapper.missing", "fallback"))
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeProps(t, "agent.name=from-file\ndb.url=redis://file:6379/0\n")
	t.Setenv("EZDL_AGENT_NAME", "from-env")
	t.Setenv("EZDL_ASK_TIMEOUT", "750")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", c.AgentName)
	assert.Equal(t, "redis://file:6379/0", c.DBURL)
	assert.Equal(t, 750*time.Millisecond, c.AskTimeout)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.properties"))
	assert.Error(t, err)

	_, err = FromProperties(map[string]string{"connector": "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown connector")

	_, err = FromProperties(map[string]string{"log.maxsize": "big"})
	assert.ErrorContains(t, err, "log.maxsize")

	_, err = FromProperties(map[string]string{"directory.timeout": "0"})
	assert.Error(t, err)
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "EZDL_DIRECTORY_ADMINTOKEN", EnvName("directory.admintoken"))
	assert.Equal(t, "EZDL_WRAPPER_MAX_SESSIONS", EnvName("wrapper.max-sessions"))
}

func TestWithPrefix(t *testing.T) {
	c, err := FromProperties(map[string]string{
		"bootstrap.endpoint.nats": "nats://bus:4222",
		"bootstrap.endpoint.http": "ws://gw:8081",
		"bootstrap.endpoint.":     "ignored",
		"bootstrap.port":          "8080",
	})
	require.NoError(t, err)

	t.Setenv("EZDL_BOOTSTRAP_ENDPOINT_HTTP", "ws://other:8081")
	assert.Equal(t, map[string]string{
		"nats": "nats://bus:4222",
		"http": "ws://other:8081",
	}, c.WithPrefix("bootstrap.endpoint."))
}
