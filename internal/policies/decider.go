package policies

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"compliance-gate/internal/types"
)

// DownloadBlockedMessage is the 403 message surfaced for a cancelled download.
const DownloadBlockedMessage = "The compliance gate has prevented the download of %s. %s"

// Decider evaluates one download gate against persisted facts. Decide must
// not call the remote compliance service.
type Decider interface {
	Name() string
	Decide(ctx context.Context, ref types.ArtifactRef) (types.Decision, error)
}

// FactReader is the read side of the compliance facts used by the gates.
type FactReader interface {
	Get(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey) (string, bool, error)
	InspectionStatus(ctx context.Context, ref types.ArtifactRef) (types.InspectionStatus, error)
	ScanResult(ctx context.Context, ref types.ArtifactRef) (types.ScanResult, bool, error)
	PolicyStatus(ctx context.Context, ref types.ArtifactRef) (types.PolicySummaryStatus, bool, error)
	PolicySeverities(ctx context.Context, ref types.ArtifactRef) ([]types.PolicySeverity, bool, error)
	ScanAsAServiceStatus(ctx context.Context, ref types.ArtifactRef) (types.ScanStatus, bool, error)
	ScanAsAServicePolicyStatus(ctx context.Context, ref types.ArtifactRef) (types.PolicySummaryStatus, bool, error)
}

// ItemReader exposes the storage metadata the gates need.
type ItemReader interface {
	IsFolder(ctx context.Context, ref types.ArtifactRef) (bool, error)
}

// InspectionScope decides which artifacts are subject to inspection.
type InspectionScope interface {
	ShouldInspect(ctx context.Context, ref types.ArtifactRef) (bool, error)
}

// CompositeDecider requires every decider to allow. The first deny wins;
// dry-run outcomes of the others are still carried on the final allow.
type CompositeDecider struct {
	Deciders []Decider
}

func NewCompositeDecider(deciders ...Decider) CompositeDecider {
	return CompositeDecider{Deciders: deciders}
}

func (c CompositeDecider) Name() string {
	return "composite"
}

func (c CompositeDecider) Decide(ctx context.Context, ref types.ArtifactRef) (types.Decision, error) {
	final := types.Allow()
	for _, decider := range c.Deciders {
		decision, err := decider.Decide(ctx, ref)
		if err != nil {
			return types.Decision{}, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("%s gate failed for %s", decider.Name(), ref)).
				WithCause(err)
		}
		if decision.Cancel {
			if decision.Decider == "" {
				decision.Decider = decider.Name()
			}
			return decision, nil
		}
		if decision.DryRun && !final.DryRun {
			final = decision
		}
	}
	return final, nil
}

// EnforceDecision converts a cancel decision into a PermissionDenied error.
func EnforceDecision(ref types.ArtifactRef, decision types.Decision) error {
	if !decision.Cancel {
		return nil
	}
	return errbuilder.New().
		WithCode(errbuilder.CodePermissionDenied).
		WithMsg(fmt.Sprintf(DownloadBlockedMessage, ref, decision.Reason))
}
