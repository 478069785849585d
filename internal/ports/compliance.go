package ports

import (
	"context"
	"time"

	"compliance-gate/internal/types"
)

// CompliancePort is the remote compliance service. Implementations classify
// failures with errbuilder codes: CodeAlreadyExists for BOM conflicts,
// CodePermissionDenied for auth failures, CodeNotFound for missing
// resources and CodeInternal for everything else.
type CompliancePort interface {
	CurrentUser(ctx context.Context) (types.UserRef, error)
	FindProjectVersion(ctx context.Context, projectName string, versionName string) (types.ProjectVersionRef, bool, error)
	FindComponentByIdentity(ctx context.Context, identity types.ComponentIdentity) (types.ComponentVersionRef, bool, error)
	AddComponentToBom(ctx context.Context, projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) (types.BomEntryRef, error)
	BomEntry(ctx context.Context, projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) (types.BomEntryRef, bool, error)
	GetPolicyStatus(ctx context.Context, bomEntry types.BomEntryRef) (types.PolicyStatusReport, error)
	GetVulnerabilities(ctx context.Context, component types.ComponentVersionRef) ([]types.Vulnerability, error)
	GetOrigins(ctx context.Context, component types.ComponentVersionRef) ([]types.ComponentIdentity, error)
	GetNotifications(ctx context.Context, user types.UserRef, start time.Time, end time.Time) ([]types.Notification, error)
}
