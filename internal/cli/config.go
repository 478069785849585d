package cli

import (
	"context"
	"strings"

	"github.com/spf13/viper"

	"compliance-gate/internal/adapters"
	"compliance-gate/internal/app"
	"compliance-gate/internal/types"
)

// stringOverrides are the settings that environment variables and flags
// may override on top of the config file, typically secrets and endpoints.
var stringOverrides = map[string]func(cfg *types.Config, value string){
	"log_level":               func(cfg *types.Config, value string) { cfg.LogLevel = value },
	"store.backend":           func(cfg *types.Config, value string) { cfg.Store.Backend = value },
	"store.postgres_dsn":      func(cfg *types.Config, value string) { cfg.Store.PostgresDSN = value },
	"store.redis_addr":        func(cfg *types.Config, value string) { cfg.Store.RedisAddr = value },
	"store.redis_password":    func(cfg *types.Config, value string) { cfg.Store.RedisPassword = value },
	"store.artifactory_url":   func(cfg *types.Config, value string) { cfg.Store.ArtifactoryURL = value },
	"store.artifactory_token": func(cfg *types.Config, value string) { cfg.Store.ArtifactoryToken = value },
	"remote.url":              func(cfg *types.Config, value string) { cfg.Remote.URL = value },
	"remote.token":            func(cfg *types.Config, value string) { cfg.Remote.Token = value },
	"server.addr":             func(cfg *types.Config, value string) { cfg.Server.Addr = value },
}

// loadConfig decodes the config file viper discovered and layers the
// environment and flag overrides on top.
func loadConfig() (types.Config, error) {
	cfg, err := adapters.NewConfigFileAdapter().LoadOrDefault(viper.ConfigFileUsed())
	if err != nil {
		return types.Config{}, err
	}
	for key, apply := range stringOverrides {
		if value := strings.TrimSpace(viper.GetString(key)); value != "" {
			apply(&cfg, value)
		}
	}
	return cfg.WithDefaults(), nil
}

func newAppService(ctx context.Context) (app.Service, error) {
	cfg, err := loadConfig()
	if err != nil {
		return app.Service{}, err
	}
	return app.NewService(ctx, cfg)
}
