package config

import (
	"os"
)

// EnvironmentExpander expands environment variable placeholders within raw
// configuration bytes before they are parsed.
type EnvironmentExpander interface {
	// Expand replaces placeholders such as ${VAR} or $VAR in the input and
	// returns the expanded bytes.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander implements EnvironmentExpander using os.ExpandEnv.
// Unset variables expand to the empty string.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates a new OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand implements EnvironmentExpander. os.ExpandEnv cannot fail, so the
// returned error is always nil.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.ExpandEnv(string(input))), nil
}
