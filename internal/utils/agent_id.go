package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

func NewRequestID() string {
	return uuid.New().String()
}

// NewSecret returns the capability token an agent presents to remove its own
// directory record.
func NewSecret() string {
	return uuid.New().String()
}

// CreateAgentName returns a unique agent name of the form "<kind>:<uuid>".
func CreateAgentName(kind string) string {
	return fmt.Sprintf("%s:%s", kind, uuid.New().String())
}

// AgentKind returns the kind prefix of a name created by CreateAgentName.
func AgentKind(name string) (string, error) {
	kind, id, ok := strings.Cut(name, ":")
	if !ok || kind == "" || id == "" {
		return "", fmt.Errorf("not a generated agent name: %s", name)
	}
	return kind, nil
}
