package policies

import (
	"context"
	"fmt"

	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

// ScanDecider blocks scan targets that have no successful scan result.
type ScanDecider struct {
	Facts         FactReader
	Items         ItemReader
	Repos         []string
	Patterns      PatternSet
	MetadataBlock bool
}

func NewScanDecider(facts FactReader, items ItemReader, cfg types.ScanConfig) (ScanDecider, error) {
	patterns, err := NewPatternSet(cfg.NamePatterns)
	if err != nil {
		return ScanDecider{}, err
	}
	return ScanDecider{
		Facts:         facts,
		Items:         items,
		Repos:         cfg.Repos,
		Patterns:      patterns,
		MetadataBlock: cfg.MetadataBlock,
	}, nil
}

func (d ScanDecider) Name() string {
	return "scan"
}

func (d ScanDecider) Decide(ctx context.Context, ref types.ArtifactRef) (types.Decision, error) {
	if !d.MetadataBlock || ref.IsRepoRoot() || !shared.ContainsFold(d.Repos, ref.RepoKey) {
		return types.Allow(), nil
	}
	if !d.Patterns.Match(ref.Name()) {
		return types.Allow(), nil
	}
	folder, err := d.Items.IsFolder(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	if folder {
		return types.Allow(), nil
	}
	result, ok, err := d.Facts.ScanResult(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	if !ok {
		return types.Deny(d.Name(), fmt.Sprintf("Missing the SUCCESS scan result on %s, which should be scanned.", ref)), nil
	}
	if result != types.ScanResultSuccess {
		return types.Deny(d.Name(), fmt.Sprintf("%s was not successfully scanned. Found result %s.", ref, result)), nil
	}
	return types.Allow(), nil
}
