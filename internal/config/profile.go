package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AgentProfile describes how the agent program is invoked. The generated
// prompt is appended as the last argument.
type AgentProfile struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// DefaultAgentProfile runs binary in non-interactive print mode.
func DefaultAgentProfile(binary string) AgentProfile {
	return AgentProfile{
		Command: binary,
		Args:    []string{"--dangerously-skip-permissions", "-p"},
	}
}

// LoadAgentProfile reads the profile at path. An empty path yields the
// default profile for binary; a profile without a command inherits binary.
func LoadAgentProfile(path, binary string) (AgentProfile, error) {
	if path == "" {
		return DefaultAgentProfile(binary), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return AgentProfile{}, fmt.Errorf("read agent profile: %w", err)
	}

	var profile AgentProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return AgentProfile{}, fmt.Errorf("parse agent profile %s: %w", path, err)
	}
	if profile.Command == "" {
		profile.Command = binary
	}
	return profile, nil
}
