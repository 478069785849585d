package adapters

import (
	"os"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"gopkg.in/yaml.v3"

	"compliance-gate/internal/types"
)

type ConfigFileAdapter struct{}

func NewConfigFileAdapter() ConfigFileAdapter {
	return ConfigFileAdapter{}
}

// Load reads a compliance-gate.yaml file and fills defaults for anything it
// leaves out.
func (a ConfigFileAdapter) Load(path string) (types.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Config{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg("config file not found").
			WithCause(err)
	}
	cfg := types.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return types.Config{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("failed to parse config yaml").
			WithCause(err)
	}
	return cfg.WithDefaults(), nil
}

// LoadOrDefault behaves like Load but returns the defaults when path is
// empty.
func (a ConfigFileAdapter) LoadOrDefault(path string) (types.Config, error) {
	if path == "" {
		return types.DefaultConfig(), nil
	}
	return a.Load(path)
}
