package policies

import (
	"context"
	"fmt"
	"strings"

	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

// PolicyDecider blocks artifacts in policy violation whose violated
// severities intersect the configured block list. Only the listed
// repositories are gated.
type PolicyDecider struct {
	Facts   FactReader
	Repos   []string
	Blocked []types.PolicySeverity
}

func NewPolicyDecider(facts FactReader, cfg types.PolicyConfig) PolicyDecider {
	blocked := make([]types.PolicySeverity, 0, len(cfg.SeverityTypes))
	for _, severity := range cfg.SeverityTypes {
		blocked = append(blocked, types.NormalizePolicySeverity(severity))
	}
	return PolicyDecider{Facts: facts, Repos: cfg.Repos, Blocked: blocked}
}

func (d PolicyDecider) Name() string {
	return "policy"
}

func (d PolicyDecider) Decide(ctx context.Context, ref types.ArtifactRef) (types.Decision, error) {
	if !shared.ContainsFold(d.Repos, ref.RepoKey) {
		return types.Allow(), nil
	}
	// The overall policy status belongs to the scan namespace and overlaps
	// with this gate; artifacts carrying it are left to the scan gate.
	if _, ok, err := d.Facts.Get(ctx, ref, types.PropOverallPolicyStatus); err != nil || ok {
		return types.Allow(), err
	}
	status, ok, err := d.Facts.PolicyStatus(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	if !ok || status != types.PolicyStatusInViolation {
		return types.Allow(), nil
	}
	severities, ok, err := d.Facts.PolicySeverities(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	if !ok {
		return types.Deny(d.Name(), fmt.Sprintf("%s is in policy violation but has no %s property; the severity data was never populated.", ref, types.PropPolicySeverityTypes.Name)), nil
	}
	matched := d.blockedAmong(severities)
	if len(matched) == 0 {
		return types.Allow(), nil
	}
	return types.Deny(d.Name(), fmt.Sprintf("%s has policy severities (%s) that are blocked.", ref, strings.Join(matched, ","))), nil
}

func (d PolicyDecider) blockedAmong(severities []types.PolicySeverity) []string {
	var matched []string
	for _, severity := range severities {
		for _, blocked := range d.Blocked {
			if severity == blocked {
				matched = append(matched, string(severity))
				break
			}
		}
	}
	return shared.SortedUnique(matched)
}
