package cmdutil

import (
	"fmt"
	"io/ioutil"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// LoadConfig reads the YAML file at path into out. Fields missing from the
// file keep the values already in out, so callers should pass their
// defaults. An empty path is a no-op.
func LoadConfig(path string, out interface{}) error {
	if path == "" {
		return nil
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("invalid config path %q: %w", path, err)
	}

	bb, err := ioutil.ReadFile(expanded)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.UnmarshalStrict(bb, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", expanded, err)
	}
	return nil
}
