package core

import (
	"context"
	"fmt"
	"strings"

	assert "github.com/ZanzyTHEbar/assert-lib"
	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/policies"
	"compliance-gate/internal/types"
)

var validBackends = map[string]struct{}{
	types.StoreBackendMemory:      {},
	types.StoreBackendPostgres:    {},
	types.StoreBackendRedis:       {},
	types.StoreBackendArtifactory: {},
}

// ValidateConfig checks a configuration that already went through
// types.Config.WithDefaults.
func ValidateConfig(ctx context.Context, cfg types.Config) error {
	assert.NotEmpty(ctx, cfg.DateTimePattern, "date_time_pattern must be set")
	assert.NotEmpty(ctx, cfg.Store.Backend, "store.backend must be set")

	dates, err := NewDateTimeFormatter(cfg.DateTimePattern, cfg.DateTimeZone)
	if err != nil {
		return err
	}
	if err := validateStore(cfg.Store); err != nil {
		return err
	}
	for repo, packageType := range cfg.Repositories {
		if _, ok := types.ParsePackageType(packageType); !ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("repositories.%s: unsupported package type %q", repo, packageType))
		}
	}
	if err := validateScan(cfg.Scan); err != nil {
		return err
	}
	if err := validateInspection(cfg.Inspection); err != nil {
		return err
	}
	if err := validatePolicy(cfg.Policy); err != nil {
		return err
	}
	if err := validateScanAsAService(cfg.ScanAsAService, dates); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Str("backend", cfg.Store.Backend).Msg("configuration validated")
	return nil
}

func validateStore(store types.StoreConfig) error {
	if _, ok := validBackends[store.Backend]; !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("store.backend must be memory, postgres, redis or artifactory")
	}
	switch store.Backend {
	case types.StoreBackendPostgres:
		if strings.TrimSpace(store.PostgresDSN) == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("store.postgres_dsn is required for the postgres backend")
		}
	case types.StoreBackendRedis:
		if strings.TrimSpace(store.RedisAddr) == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("store.redis_addr is required for the redis backend")
		}
	case types.StoreBackendArtifactory:
		if strings.TrimSpace(store.ArtifactoryURL) == "" {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("store.artifactory_url is required for the artifactory backend")
		}
	}
	return nil
}

func validateScan(scan types.ScanConfig) error {
	if !scan.Enabled {
		return nil
	}
	if len(scan.Repos) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("scan.repos must not be empty when scanning is enabled")
	}
	_, err := policies.NewPatternSet(scan.NamePatterns)
	return err
}

func validateInspection(inspection types.InspectionConfig) error {
	if !inspection.Enabled {
		return nil
	}
	if len(inspection.Repos) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("inspection.repos must not be empty when inspection is enabled")
	}
	if inspection.RetryCount < 1 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("inspection.retry_count must be at least 1")
	}
	for packageType, patterns := range inspection.Patterns {
		if _, ok := types.ParsePackageType(packageType); !ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("inspection.patterns: unsupported package type %q", packageType))
		}
		if _, err := policies.NewPatternSet(patterns); err != nil {
			return err
		}
	}
	return nil
}

func validatePolicy(policy types.PolicyConfig) error {
	if !policy.Enabled {
		return nil
	}
	if len(policy.Repos) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("policy.repos must not be empty when the policy gate is enabled")
	}
	if len(policy.SeverityTypes) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("policy.severity_types must not be empty when the policy gate is enabled")
	}
	return nil
}

func validateScanAsAService(scaaas types.ScanAsAServiceConfig, dates DateTimeFormatter) error {
	if !scaaas.Enabled {
		return nil
	}
	if _, ok := types.ParseBlockingStrategy(scaaas.BlockingStrategy); !ok {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("scan_as_a_service.blocking_strategy %q is unknown", scaaas.BlockingStrategy))
	}
	if len(scaaas.BlockingRepos) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("scan_as_a_service.blocking_repos must not be empty")
	}
	if _, err := policies.NewRepoMatcher(scaaas.BlockingRepos); err != nil {
		return err
	}
	if strings.TrimSpace(scaaas.CutoffDate) != "" {
		if _, err := dates.Parse(scaaas.CutoffDate); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("scan_as_a_service.cutoff_date does not match date_time_pattern").
				WithCause(err)
		}
	}
	if _, err := policies.NewPatternSet(scaaas.AllowedPatterns); err != nil {
		return err
	}
	_, err := policies.NewPatternSet(scaaas.ExcludedPatterns)
	return err
}
