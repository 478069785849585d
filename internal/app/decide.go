package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"compliance-gate/internal/policies"
	"compliance-gate/internal/types"
)

// Decide evaluates every enabled download gate against the stored facts.
// It never calls the remote compliance service.
func (s Service) Decide(ctx context.Context, req DecideRequest) (types.Decision, error) {
	decider, err := s.downloadGate(req.ScannerRequest)
	if err != nil {
		return types.Decision{}, err
	}
	decision, err := decider.Decide(ctx, req.Ref)
	if err != nil {
		return types.Decision{}, err
	}
	if decision.Cancel {
		log.Ctx(ctx).Info().
			Str("artifact", req.Ref.String()).
			Str("decider", decision.Decider).
			Str("reason", decision.Reason).
			Msg("download cancelled")
	}
	return decision, nil
}

func (s Service) downloadGate(scannerRequest bool) (policies.CompositeDecider, error) {
	facts := s.facts()
	var deciders []policies.Decider
	if s.Config.Scan.Enabled {
		scan, err := policies.NewScanDecider(facts, s.Store, s.Config.Scan)
		if err != nil {
			return policies.CompositeDecider{}, err
		}
		deciders = append(deciders, scan)
	}
	if s.Config.Inspection.Enabled {
		deciders = append(deciders, policies.NewInspectionDecider(facts, s.inspector(), s.Config.Inspection))
	}
	if s.Config.Policy.Enabled {
		deciders = append(deciders, policies.NewPolicyDecider(facts, s.Config.Policy))
	}
	if s.Config.ScanAsAService.Enabled && !scannerRequest {
		cutoff, err := s.scanAsAServiceCutoff()
		if err != nil {
			return policies.CompositeDecider{}, err
		}
		scaaas, err := policies.NewScanAsAServiceDecider(facts, s.Store, s.Config.ScanAsAService, cutoff)
		if err != nil {
			return policies.CompositeDecider{}, err
		}
		deciders = append(deciders, scaaas)
	}
	return policies.NewCompositeDecider(deciders...), nil
}

func (s Service) scanAsAServiceCutoff() (*time.Time, error) {
	if s.Config.ScanAsAService.CutoffDate == "" {
		return nil, nil
	}
	cutoff, err := s.dates.Parse(s.Config.ScanAsAService.CutoffDate)
	if err != nil {
		return nil, err
	}
	return &cutoff, nil
}
