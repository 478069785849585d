package ports

import (
	"context"
	"time"

	"compliance-gate/internal/types"
)

// AnyValue matches every value of a property in FindByPropertyValues.
const AnyValue = "*"

// PropertyStore is the key/value fact store of the artifact repository.
// Reads of a missing property return ok=false and no error.
type PropertyStore interface {
	GetProperty(ctx context.Context, ref types.ArtifactRef, key string) (string, bool, error)
	SetProperty(ctx context.Context, ref types.ArtifactRef, key string, value string) error
	DeleteProperty(ctx context.Context, ref types.ArtifactRef, key string) error
	FindByPropertyValues(ctx context.Context, repoKey string, values map[string]string) ([]types.ArtifactRef, error)
	FindByNamePattern(ctx context.Context, repoKey string, pattern string) ([]types.ArtifactRef, error)
	LastModified(ctx context.Context, ref types.ArtifactRef) (time.Time, error)
	IsFolder(ctx context.Context, ref types.ArtifactRef) (bool, error)
}

type RepositoryPort interface {
	PackageType(ctx context.Context, repoKey string) (string, bool, error)
}

// ItemIndexPort is implemented by stores that keep their own item index
// and therefore must be told about storage events.
type ItemIndexPort interface {
	PutItem(ctx context.Context, item types.ItemInfo) error
	MoveItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error
	CopyItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error
}
