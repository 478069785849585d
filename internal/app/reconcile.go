package app

import (
	"context"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/types"
)

func (s Service) Reconcile(ctx context.Context, repoKey string, start time.Time, end time.Time) (types.UpdateStatus, error) {
	if err := s.requireInspection(); err != nil {
		return types.UpdateStatusOutOfDate, err
	}
	return s.reconciler().Reconcile(ctx, repoKey, start, end)
}

// ReconcileRepositories runs one reconciliation pass. Without a window each
// repository continues from its watermark up to now.
func (s Service) ReconcileRepositories(ctx context.Context, req ReconcileRequest) (ReconcileResult, error) {
	if err := s.requireInspection(); err != nil {
		return ReconcileResult{}, err
	}
	repoKeys := req.RepoKeys
	if len(repoKeys) == 0 {
		repoKeys = s.Config.Inspection.Repos
	}
	reconciler := s.reconciler()
	if req.Start.IsZero() && req.End.IsZero() {
		results, err := reconciler.ReconcileRepositories(ctx, repoKeys)
		return ReconcileResult{Repositories: results}, err
	}
	end := req.End
	if end.IsZero() {
		end = s.Clock()
	}
	results, err := reconciler.ReconcileWindow(ctx, repoKeys, req.Start, end)
	return ReconcileResult{Repositories: results}, err
}

// ReconcileEvery runs a watermark-driven pass over the inspected
// repositories on every tick until ctx is cancelled. Pass errors are logged
// and do not stop the loop.
func (s Service) ReconcileEvery(ctx context.Context, interval time.Duration) error {
	if err := s.requireInspection(); err != nil {
		return err
	}
	if interval <= 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("reconcile interval must be positive")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := s.ReconcileRepositories(ctx, ReconcileRequest{})
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Int("repositories", len(result.Repositories)).Msg("reconciliation pass finished with errors")
				continue
			}
			log.Ctx(ctx).Debug().Int("repositories", len(result.Repositories)).Msg("reconciliation pass finished")
		}
	}
}
