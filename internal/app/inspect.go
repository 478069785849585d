package app

import (
	"context"
	"errors"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/types"
)

func (s Service) IdentifyAndSubmit(ctx context.Context, ref types.ArtifactRef) (types.InspectionStatus, error) {
	if err := s.requireInspection(); err != nil {
		return types.InspectionStatusUnknown, err
	}
	return s.inspector().IdentifyAndSubmit(ctx, ref)
}

func (s Service) Reinspect(ctx context.Context, ref types.ArtifactRef) (types.InspectionStatus, error) {
	if err := s.requireInspection(); err != nil {
		return types.InspectionStatusUnknown, err
	}
	return s.inspector().Reinspect(ctx, ref)
}

// InspectArtifact inspects one artifact when it is due: never-inspected
// artifacts and failures with retries left. Force re-inspects regardless.
func (s Service) InspectArtifact(ctx context.Context, req InspectArtifactRequest) (InspectArtifactResult, error) {
	if err := s.requireInspection(); err != nil {
		return InspectArtifactResult{}, err
	}
	if req.Ref.IsRepoRoot() {
		return InspectArtifactResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("artifact path is required")
	}
	inspector := s.inspector()
	result := InspectArtifactResult{Ref: req.Ref}
	if req.Force {
		status, err := inspector.Reinspect(ctx, req.Ref)
		result.Status = status
		return result, err
	}
	retry, err := inspector.ShouldRetryInspection(ctx, req.Ref)
	if err != nil {
		return result, err
	}
	if !retry {
		status, err := inspector.Facts.InspectionStatus(ctx, req.Ref)
		result.Status = status
		return result, err
	}
	status, err := inspector.IdentifyAndSubmit(ctx, req.Ref)
	result.Status = status
	return result, err
}

func (s Service) InitializeRepository(ctx context.Context, repoKey string) (RepositoryInspection, error) {
	if err := s.requireInspection(); err != nil {
		return RepositoryInspection{}, err
	}
	summary, err := s.inspector().InitializeRepository(ctx, repoKey)
	return RepositoryInspection{RepoKey: repoKey, Delta: summary, Err: err}, err
}

func (s Service) InspectDelta(ctx context.Context, repoKey string) (RepositoryInspection, error) {
	if err := s.requireInspection(); err != nil {
		return RepositoryInspection{}, err
	}
	summary, err := s.inspector().InspectDelta(ctx, repoKey)
	return RepositoryInspection{RepoKey: repoKey, Delta: summary, Err: err}, err
}

func (s Service) PopulatePending(ctx context.Context, repoKey string) (RepositoryInspection, error) {
	if err := s.requireInspection(); err != nil {
		return RepositoryInspection{}, err
	}
	summary, err := s.inspector().PopulatePending(ctx, repoKey)
	return RepositoryInspection{RepoKey: repoKey, Populate: summary, Err: err}, err
}

// InspectRepositories runs the delta pass (initialising new repositories)
// followed by the pending population pass for each repository. Repositories
// default to the configured inspection repositories; one failing repository
// does not stop the others.
func (s Service) InspectRepositories(ctx context.Context, req InspectRepositoriesRequest) (InspectRepositoriesResult, error) {
	if err := s.requireInspection(); err != nil {
		return InspectRepositoriesResult{}, err
	}
	repoKeys := req.RepoKeys
	if len(repoKeys) == 0 {
		repoKeys = s.Config.Inspection.Repos
	}
	inspector := s.inspector()
	var result InspectRepositoriesResult
	var errs []error
	for _, repoKey := range repoKeys {
		repoKey = strings.TrimSpace(repoKey)
		if repoKey == "" {
			continue
		}
		logger := log.Ctx(ctx).With().Str("repo", repoKey).Logger()
		repoCtx := logger.WithContext(ctx)
		entry := RepositoryInspection{RepoKey: repoKey}
		if req.ReinspectFailures {
			count, err := s.reinspectFailures(repoCtx, repoKey)
			entry.Reinspects = count
			if err != nil {
				entry.Err = err
			}
		}
		if entry.Err == nil {
			entry.Delta, entry.Err = inspector.InspectDelta(repoCtx, repoKey)
		}
		if entry.Err == nil {
			entry.Populate, entry.Err = inspector.PopulatePending(repoCtx, repoKey)
		}
		if entry.Err != nil {
			logger.Error().Err(entry.Err).Msg("repository inspection failed")
			errs = append(errs, entry.Err)
		} else {
			logger.Info().
				Int("submitted", entry.Delta.Pending+entry.Delta.Succeeded).
				Int("resolved", entry.Populate.Succeeded).
				Int("failed", entry.Delta.Failed+entry.Populate.Failed).
				Msg("repository inspected")
		}
		result.Repositories = append(result.Repositories, entry)
	}
	return result, errors.Join(errs...)
}

// reinspectFailures clears every module property from FAILURE artifacts and
// inspects those still in scope from scratch.
func (s Service) reinspectFailures(ctx context.Context, repoKey string) (int, error) {
	inspector := s.inspector()
	refs, err := s.Store.FindByPropertyValues(ctx, repoKey, map[string]string{
		types.PropInspectionStatus.Name: string(types.InspectionStatusFailure),
	})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, ref := range refs {
		if ref.IsRepoRoot() {
			continue
		}
		if err := s.clearItem(ctx, ref, nil); err != nil {
			return count, err
		}
		should, err := inspector.ShouldInspect(ctx, ref)
		if err != nil {
			return count, err
		}
		if !should {
			continue
		}
		if _, err := inspector.IdentifyAndSubmit(ctx, ref); err != nil {
			if errbuilder.CodeOf(err) == errbuilder.CodePermissionDenied {
				return count, err
			}
			log.Ctx(ctx).Warn().Err(err).Str("artifact", ref.String()).Msg("re-inspection failed")
		}
		count++
	}
	return count, nil
}
