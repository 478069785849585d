package adapters

import (
	"context"
	"strings"

	"compliance-gate/internal/ports"
)

// StaticRepositories answers package type lookups from the configured
// repository map, for stores that do not know their repositories.
type StaticRepositories struct {
	PackageTypes map[string]string
}

var _ ports.RepositoryPort = StaticRepositories{}

func NewStaticRepositories(packageTypes map[string]string) StaticRepositories {
	normalized := make(map[string]string, len(packageTypes))
	for repo, packageType := range packageTypes {
		normalized[strings.TrimSpace(repo)] = strings.ToLower(strings.TrimSpace(packageType))
	}
	return StaticRepositories{PackageTypes: normalized}
}

func (r StaticRepositories) PackageType(_ context.Context, repoKey string) (string, bool, error) {
	packageType, ok := r.PackageTypes[repoKey]
	if !ok || packageType == "" {
		return "", false, nil
	}
	return packageType, true, nil
}
