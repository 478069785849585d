package app

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

// ClearProperties removes every property this module wrote from the items
// of each repository and from the repository root. Keep names properties to
// leave untouched; OutOfDateOnly restricts the pass to repositories whose
// last reconciliation left them OUT_OF_DATE.
func (s Service) ClearProperties(ctx context.Context, req ClearRequest) (ClearResult, error) {
	repoKeys := req.RepoKeys
	if len(repoKeys) == 0 {
		repoKeys = s.Config.Inspection.Repos
	}
	facts := s.facts()
	var result ClearResult
	var errs []error
	for _, repoKey := range shared.SortedUnique(repoKeys) {
		repoKey = strings.TrimSpace(repoKey)
		if repoKey == "" {
			continue
		}
		logger := log.Ctx(ctx).With().Str("repo", repoKey).Logger()
		repoCtx := logger.WithContext(ctx)
		if req.OutOfDateOnly {
			status, ok, err := facts.UpdateStatus(repoCtx, types.RepoRef(repoKey))
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if !ok || status != types.UpdateStatusOutOfDate {
				logger.Debug().Msg("repository is not out of date, skipping")
				continue
			}
		}
		refs, err := s.itemsWithProperties(repoCtx, repoKey)
		if err != nil {
			logger.Error().Err(err).Msg("listing items failed")
			errs = append(errs, err)
			continue
		}
		cleared := 0
		for _, ref := range refs {
			if err := s.clearItem(repoCtx, ref, req.Keep); err != nil {
				errs = append(errs, err)
				break
			}
			cleared++
		}
		logger.Info().Int("items", cleared).Msg("properties cleared")
		result.Repositories = append(result.Repositories, repoKey)
		result.Items += cleared
	}
	return result, errors.Join(errs...)
}

// itemsWithProperties lists the repository root followed by every item
// carrying at least one module property, under any of its names.
func (s Service) itemsWithProperties(ctx context.Context, repoKey string) ([]types.ArtifactRef, error) {
	root := types.RepoRef(repoKey)
	refs := []types.ArtifactRef{root}
	seen := map[types.ArtifactRef]struct{}{root: {}}
	for _, key := range types.AllProperties {
		for _, name := range key.Names() {
			found, err := s.Store.FindByPropertyValues(ctx, repoKey, map[string]string{name: ports.AnyValue})
			if err != nil {
				return nil, err
			}
			for _, ref := range found {
				if _, dup := seen[ref]; dup {
					continue
				}
				seen[ref] = struct{}{}
				refs = append(refs, ref)
			}
		}
	}
	return refs, nil
}

func (s Service) clearItem(ctx context.Context, ref types.ArtifactRef, keep []string) error {
	facts := s.facts()
	for _, key := range types.AllProperties {
		if keepsProperty(key, keep) {
			continue
		}
		if err := facts.Delete(ctx, ref, key); err != nil {
			return err
		}
	}
	return nil
}

func keepsProperty(key types.PropertyKey, keep []string) bool {
	for _, name := range key.Names() {
		if shared.ContainsFold(keep, name) {
			return true
		}
	}
	return false
}
