package app

import (
	"time"

	"compliance-gate/internal/core"
	"compliance-gate/internal/types"
)

type InspectArtifactRequest struct {
	Ref types.ArtifactRef
	// Force forgets the stored identity and inspection facts first.
	Force bool
}

type InspectArtifactResult struct {
	Ref    types.ArtifactRef
	Status types.InspectionStatus
}

type InspectRepositoriesRequest struct {
	RepoKeys []string
	// ReinspectFailures clears and re-inspects FAILURE artifacts before the
	// regular pass.
	ReinspectFailures bool
}

type RepositoryInspection struct {
	RepoKey    string
	Delta      core.InspectionSummary
	Populate   core.InspectionSummary
	Reinspects int
	Err        error
}

type InspectRepositoriesResult struct {
	Repositories []RepositoryInspection
}

type ReconcileRequest struct {
	RepoKeys []string
	// Start and End pin the notification window; both zero means each
	// repository continues from its own watermark.
	Start time.Time
	End   time.Time
}

type ReconcileResult struct {
	Repositories []core.RepositoryReconciliation
}

type DecideRequest struct {
	Ref types.ArtifactRef
	// ScannerRequest is set for downloads issued by the scan-as-a-service
	// scanner, which that gate must not block.
	ScannerRequest bool
}

type ClearRequest struct {
	RepoKeys []string
	// Keep names properties (canonical or deprecated) to leave in place.
	Keep          []string
	OutOfDateOnly bool
}

type ClearResult struct {
	Repositories []string
	Items        int
}

type StorageEventResult struct {
	Inspected bool
	Status    types.InspectionStatus
}
