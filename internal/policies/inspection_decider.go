package policies

import (
	"context"
	"fmt"

	"compliance-gate/internal/types"
)

// InspectionDecider blocks artifacts that should have been inspected but
// have no SUCCESS status. In-flight (PENDING) inspections always pass.
type InspectionDecider struct {
	Facts         FactReader
	Scope         InspectionScope
	MetadataBlock bool
}

func NewInspectionDecider(facts FactReader, scope InspectionScope, cfg types.InspectionConfig) InspectionDecider {
	return InspectionDecider{Facts: facts, Scope: scope, MetadataBlock: cfg.MetadataBlock}
}

func (d InspectionDecider) Name() string {
	return "inspection"
}

func (d InspectionDecider) Decide(ctx context.Context, ref types.ArtifactRef) (types.Decision, error) {
	if !d.MetadataBlock {
		return types.Allow(), nil
	}
	status, err := d.Facts.InspectionStatus(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	if status == types.InspectionStatusPending || status == types.InspectionStatusSuccess {
		return types.Allow(), nil
	}
	should, err := d.Scope.ShouldInspect(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	if !should {
		return types.Allow(), nil
	}
	return types.Deny(d.Name(), fmt.Sprintf("Missing SUCCESS inspection status on %s, which should be inspected (found %s).", ref, status)), nil
}
