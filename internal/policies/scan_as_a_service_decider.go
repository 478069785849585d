package policies

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/types"
)

// ScannerRequestHeader marks downloads issued by the scan-as-a-service
// scanner itself; those are never gated.
const ScannerRequestHeader = "X-BD-SCAN-AS-A-SERVICE-SCANNER-REQUEST"

// StoreItemReader adds the last-modified lookup used by the cutoff check.
type StoreItemReader interface {
	ItemReader
	LastModified(ctx context.Context, ref types.ArtifactRef) (time.Time, error)
}

type scanOutcome string

const (
	outcomeNotScheduled     scanOutcome = "not-scheduled"
	outcomeFailed           scanOutcome = "failed"
	outcomeProcessing       scanOutcome = "processing"
	outcomeClean            scanOutcome = "clean"
	outcomeInViolation      scanOutcome = "in-violation"
	outcomeUnknownPolicy    scanOutcome = "unknown-policy"
	outcomeUnknownScanState scanOutcome = "unknown-status"
)

type verdict int

const (
	verdictAllow verdict = iota
	verdictDeny
	// verdictDryRun allows but records what would have been blocked.
	verdictDryRun
)

type matrixKey struct {
	outcome  scanOutcome
	strategy types.BlockingStrategy
}

// scanAsAServiceMatrix is exhaustive over known outcomes and strategies.
// Keys that are missing (an unknown strategy) deny.
var scanAsAServiceMatrix = map[matrixKey]verdict{
	{outcomeNotScheduled, types.BlockingStrategyBlockAll}:      verdictDeny,
	{outcomeNotScheduled, types.BlockingStrategyBlockNone}:     verdictAllow,
	{outcomeNotScheduled, types.BlockingStrategyBlockOff}:      verdictDryRun,
	{outcomeFailed, types.BlockingStrategyBlockAll}:            verdictDeny,
	{outcomeFailed, types.BlockingStrategyBlockNone}:           verdictAllow,
	{outcomeFailed, types.BlockingStrategyBlockOff}:            verdictDryRun,
	{outcomeProcessing, types.BlockingStrategyBlockAll}:        verdictDeny,
	{outcomeProcessing, types.BlockingStrategyBlockNone}:       verdictAllow,
	{outcomeProcessing, types.BlockingStrategyBlockOff}:        verdictDryRun,
	{outcomeClean, types.BlockingStrategyBlockAll}:             verdictAllow,
	{outcomeClean, types.BlockingStrategyBlockNone}:            verdictAllow,
	{outcomeClean, types.BlockingStrategyBlockOff}:             verdictAllow,
	{outcomeInViolation, types.BlockingStrategyBlockAll}:       verdictDeny,
	{outcomeInViolation, types.BlockingStrategyBlockNone}:      verdictAllow,
	{outcomeInViolation, types.BlockingStrategyBlockOff}:       verdictDryRun,
	{outcomeUnknownPolicy, types.BlockingStrategyBlockAll}:     verdictDeny,
	{outcomeUnknownPolicy, types.BlockingStrategyBlockNone}:    verdictAllow,
	{outcomeUnknownPolicy, types.BlockingStrategyBlockOff}:     verdictDryRun,
	{outcomeUnknownScanState, types.BlockingStrategyBlockAll}:  verdictDeny,
	{outcomeUnknownScanState, types.BlockingStrategyBlockNone}: verdictAllow,
	{outcomeUnknownScanState, types.BlockingStrategyBlockOff}:  verdictDryRun,
}

// ScanAsAServiceDecider gates downloads on the scan-as-a-service results,
// filtered by repository scope, cutoff date and file name.
type ScanAsAServiceDecider struct {
	Facts         FactReader
	Items         StoreItemReader
	Strategy      types.BlockingStrategy
	BlockingRepos RepoMatcher
	Cutoff        *time.Time
	Allowed       PatternSet
	Excluded      PatternSet
}

// NewScanAsAServiceDecider keeps an unknown strategy as given so that it
// fails closed at decision time.
func NewScanAsAServiceDecider(facts FactReader, items StoreItemReader, cfg types.ScanAsAServiceConfig, cutoff *time.Time) (ScanAsAServiceDecider, error) {
	repos, err := NewRepoMatcher(cfg.BlockingRepos)
	if err != nil {
		return ScanAsAServiceDecider{}, err
	}
	allowed, err := NewPatternSet(cfg.AllowedPatterns)
	if err != nil {
		return ScanAsAServiceDecider{}, err
	}
	excluded, err := NewPatternSet(cfg.ExcludedPatterns)
	if err != nil {
		return ScanAsAServiceDecider{}, err
	}
	strategy, ok := types.ParseBlockingStrategy(cfg.BlockingStrategy)
	if !ok {
		strategy = types.BlockingStrategy(cfg.BlockingStrategy)
	}
	return ScanAsAServiceDecider{
		Facts:         facts,
		Items:         items,
		Strategy:      strategy,
		BlockingRepos: repos,
		Cutoff:        cutoff,
		Allowed:       allowed,
		Excluded:      excluded,
	}, nil
}

func (d ScanAsAServiceDecider) Name() string {
	return "scan-as-a-service"
}

func (d ScanAsAServiceDecider) Decide(ctx context.Context, ref types.ArtifactRef) (types.Decision, error) {
	inScope, err := d.inScope(ctx, ref)
	if err != nil || !inScope {
		return types.Allow(), err
	}
	outcome, detail, err := d.outcome(ctx, ref)
	if err != nil {
		return types.Decision{}, err
	}
	result, known := scanAsAServiceMatrix[matrixKey{outcome: outcome, strategy: d.Strategy}]
	if !known {
		reason := fmt.Sprintf("Download blocked; unknown blocking strategy %q; %s; artifact: %s", d.Strategy, detail, ref)
		return types.Deny(d.Name(), reason), nil
	}
	reason := fmt.Sprintf("Download blocked; %s; strategy: %s; artifact: %s", detail, d.Strategy, ref)
	switch result {
	case verdictDeny:
		return types.Deny(d.Name(), reason), nil
	case verdictDryRun:
		log.Ctx(ctx).Warn().
			Str("artifact", ref.String()).
			Str("strategy", string(d.Strategy)).
			Str("outcome", string(outcome)).
			Str("reason", reason).
			Msg("would have blocked download")
		return types.Decision{Reason: reason, Decider: d.Name(), DryRun: true}, nil
	default:
		return types.Allow(), nil
	}
}

// inScope applies the repository, cutoff and file name filters.
func (d ScanAsAServiceDecider) inScope(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	if ref.IsRepoRoot() || !d.BlockingRepos.Match(ref.RepoKey, ref.Path) {
		return false, nil
	}
	folder, err := d.Items.IsFolder(ctx, ref)
	if err != nil || folder {
		return false, err
	}
	if d.Cutoff != nil {
		modified, err := d.Items.LastModified(ctx, ref)
		if err != nil && errbuilder.CodeOf(err) != errbuilder.CodeNotFound {
			return false, err
		}
		// Items unknown to the store are never grandfathered.
		if err == nil && modified.Before(*d.Cutoff) {
			return false, nil
		}
	}
	name := ref.Name()
	if !d.Allowed.Empty() && !d.Allowed.Match(name) {
		return false, nil
	}
	if d.Excluded.Match(name) {
		return false, nil
	}
	return true, nil
}

func (d ScanAsAServiceDecider) outcome(ctx context.Context, ref types.ArtifactRef) (scanOutcome, string, error) {
	status, ok, err := d.Facts.ScanAsAServiceStatus(ctx, ref)
	if err != nil {
		return "", "", err
	}
	if !ok {
		return outcomeNotScheduled, "scan not scheduled", nil
	}
	switch status {
	case types.ScanStatusFailed:
		return outcomeFailed, "scan status: FAILED", nil
	case types.ScanStatusProcessing:
		return outcomeProcessing, "scan status: PROCESSING", nil
	case types.ScanStatusSuccess:
	default:
		return outcomeUnknownScanState, fmt.Sprintf("scan status: %s (unrecognised)", status), nil
	}
	policy, ok, err := d.Facts.ScanAsAServicePolicyStatus(ctx, ref)
	if err != nil {
		return "", "", err
	}
	switch {
	case ok && (policy == types.PolicyStatusNotInViolation || policy == types.PolicyStatusInViolationOverridden):
		return outcomeClean, "scan status: SUCCESS; policy status: " + string(policy), nil
	case ok && policy == types.PolicyStatusInViolation:
		return outcomeInViolation, "scan status: SUCCESS; policy status: IN_VIOLATION", nil
	case ok:
		return outcomeUnknownPolicy, fmt.Sprintf("scan status: SUCCESS; policy status: %s (unrecognised)", policy), nil
	default:
		return outcomeUnknownPolicy, "scan status: SUCCESS; policy status missing", nil
	}
}
