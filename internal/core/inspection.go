package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/policies"
	"compliance-gate/internal/ports"
	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

const pendingRepositoryMessage = "Waiting for policy and vulnerability information"

// Inspector drives the inspection lifecycle of artifacts and repositories:
// UNKNOWN -> PENDING -> SUCCESS, with bounded FAILURE retries.
type Inspector struct {
	Facts    Facts
	Repos    ports.RepositoryPort
	Remote   ports.CompliancePort
	Identity IdentityResolver
	Config   types.InspectionConfig
	Hostname string
	Clock    func() time.Time
}

func NewInspector(facts Facts, repos ports.RepositoryPort, remote ports.CompliancePort, config types.InspectionConfig, hostname string, clock func() time.Time) Inspector {
	if clock == nil {
		clock = time.Now
	}
	return Inspector{
		Facts:    facts,
		Repos:    repos,
		Remote:   remote,
		Identity: NewIdentityResolver(facts),
		Config:   config,
		Hostname: hostname,
		Clock:    clock,
	}
}

// InspectionSummary counts per-artifact outcomes of a repository pass.
type InspectionSummary struct {
	RepoKey   string
	Succeeded int
	Pending   int
	Failed    int
	Skipped   int
	// Errors counts artifacts left untouched by a transient error.
	Errors int
}

func (s *InspectionSummary) record(status types.InspectionStatus) {
	switch status {
	case types.InspectionStatusSuccess:
		s.Succeeded++
	case types.InspectionStatusPending:
		s.Pending++
	case types.InspectionStatusFailure:
		s.Failed++
	default:
		s.Skipped++
	}
}

func (i Inspector) maxRetryCount() int {
	if i.Config.RetryCount <= 0 {
		return types.DefaultMaxRetryCount
	}
	return i.Config.RetryCount
}

func (i Inspector) now() time.Time {
	return i.Clock().UTC()
}

// ShouldRetryInspection is true for never-inspected artifacts and for
// failures that have not yet used up their retries.
func (i Inspector) ShouldRetryInspection(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	status, err := i.Facts.InspectionStatus(ctx, ref)
	if err != nil {
		return false, err
	}
	switch status {
	case types.InspectionStatusUnknown:
		return true, nil
	case types.InspectionStatusFailure:
		count, err := i.Facts.RetryCount(ctx, ref)
		if err != nil {
			return false, err
		}
		return count < i.maxRetryCount(), nil
	default:
		return false, nil
	}
}

// ShouldInspect reports whether ref is a file in an inspected repository
// whose name matches the patterns of the repository's package type.
func (i Inspector) ShouldInspect(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	if ref.IsRepoRoot() || !shared.ContainsFold(i.Config.Repos, ref.RepoKey) {
		return false, nil
	}
	packageType, err := i.packageType(ctx, ref.RepoKey)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeFailedPrecondition {
			return false, nil
		}
		return false, err
	}
	patterns, err := i.patterns(packageType)
	if err != nil || patterns.Empty() {
		return false, err
	}
	folder, err := i.Facts.Store.IsFolder(ctx, ref)
	if err != nil {
		return false, err
	}
	return !folder && patterns.Match(ref.Name()), nil
}

// Fail records a FAILURE with an incremented retry count. Once the count
// would exceed the configured maximum nothing is written and ok is false.
func (i Inspector) Fail(ctx context.Context, ref types.ArtifactRef, message string) (int, bool, error) {
	previous, err := i.Facts.RetryCount(ctx, ref)
	if err != nil {
		return 0, false, err
	}
	retryCount := previous + 1
	if retryCount > i.maxRetryCount() {
		log.Ctx(ctx).Debug().
			Str("artifact", ref.String()).
			Int("retry_count", retryCount).
			Msg("inspection retries exhausted; leaving failure as recorded")
		return previous, false, nil
	}
	log.Ctx(ctx).Debug().Str("artifact", ref.String()).Int("retry_count", retryCount).Str("reason", message).Msg("inspection failed")
	if err := i.Facts.SetInspectionStatus(ctx, ref, types.InspectionStatusFailure, i.now(), message, retryCount); err != nil {
		return 0, false, err
	}
	return retryCount, true, nil
}

// failPermanently marks a repository FAILURE without a retry count; it needs
// reconfiguration, not another attempt.
func (i Inspector) failPermanently(ctx context.Context, repoKey string, err error) error {
	message := describeError(err)
	log.Ctx(ctx).Warn().Str("repo", repoKey).Str("reason", message).Msg("repository inspection cannot proceed")
	if werr := i.Facts.SetInspectionStatus(ctx, types.RepoRef(repoKey), types.InspectionStatusFailure, i.now(), message, 0); werr != nil {
		return werr
	}
	return err
}

// IdentifyAndSubmit derives the artifact's identity, submits it to the
// repository's remote BOM and resolves its policy and vulnerability facts.
func (i Inspector) IdentifyAndSubmit(ctx context.Context, ref types.ArtifactRef) (types.InspectionStatus, error) {
	packageType, err := i.packageType(ctx, ref.RepoKey)
	if err != nil {
		return types.InspectionStatusUnknown, err
	}
	project, err := i.projectVersion(ctx, ref.RepoKey)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return i.recordFailure(ctx, ref, "Failed to find the project version", err)
		}
		return types.InspectionStatusUnknown, err
	}
	return i.submit(ctx, packageType, project, ref)
}

// Reinspect forgets the artifact's identity and inspection facts and runs
// IdentifyAndSubmit again.
func (i Inspector) Reinspect(ctx context.Context, ref types.ArtifactRef) (types.InspectionStatus, error) {
	if err := i.Facts.DeleteAll(ctx, ref, []types.PropertyKey{
		types.PropForge,
		types.PropOriginID,
		types.PropInspectionStatus,
		types.PropInspectionStatusMessage,
		types.PropInspectionRetryCount,
	}); err != nil {
		return types.InspectionStatusUnknown, err
	}
	return i.IdentifyAndSubmit(ctx, ref)
}

func (i Inspector) submit(ctx context.Context, packageType types.PackageType, project types.ProjectVersionRef, ref types.ArtifactRef) (types.InspectionStatus, error) {
	identity, ok, err := i.Identity.Resolve(ctx, packageType, ref)
	if err != nil {
		return types.InspectionStatusUnknown, err
	}
	if !ok {
		return i.recordFailure(ctx, ref, "Failed to identify the component from the artifact", nil)
	}
	if err := i.Facts.SetIdentity(ctx, ref, identity); err != nil {
		return types.InspectionStatusUnknown, err
	}

	component, found, err := i.Remote.FindComponentByIdentity(ctx, identity)
	if err != nil {
		return i.recordFailure(ctx, ref, "Failed to look up component "+identity.String(), err)
	}
	if !found {
		return i.recordFailure(ctx, ref, "Failed to find component match for "+identity.String(), nil)
	}

	bom, err := i.Remote.AddComponentToBom(ctx, project, component)
	if err != nil {
		if errbuilder.CodeOf(err) != errbuilder.CodeAlreadyExists {
			return i.recordFailure(ctx, ref, "Failed to add component to the BOM", err)
		}
		existing, found, lookupErr := i.Remote.BomEntry(ctx, project, component)
		if lookupErr != nil {
			return i.recordFailure(ctx, ref, "Failed to fetch the existing BOM entry", lookupErr)
		}
		if !found {
			return i.recordFailure(ctx, ref, "Component is reported in the BOM but could not be fetched", nil)
		}
		bom = existing
	}

	if err := i.Facts.SetInspectionStatus(ctx, ref, types.InspectionStatusPending, i.now(), "", 0); err != nil {
		return types.InspectionStatusUnknown, err
	}
	if err := i.resolve(ctx, ref, bom); err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodePermissionDenied {
			return types.InspectionStatusPending, err
		}
		log.Ctx(ctx).Warn().Err(err).Str("artifact", ref.String()).Msg("component submitted; policy lookup deferred")
		return types.InspectionStatusPending, nil
	}
	return types.InspectionStatusSuccess, nil
}

// resolve fetches policy and vulnerability facts for a BOM entry and marks
// the artifact SUCCESS.
func (i Inspector) resolve(ctx context.Context, ref types.ArtifactRef, bom types.BomEntryRef) error {
	report, err := i.Remote.GetPolicyStatus(ctx, bom)
	if err != nil {
		return err
	}
	vulnerabilities, err := i.Remote.GetVulnerabilities(ctx, bom.ComponentVersion)
	if err != nil {
		return err
	}
	return i.Facts.PopulateResolved(ctx, ref, report, AggregateVulnerabilities(vulnerabilities), bom.ComponentVersion.Href, i.now())
}

// recordFailure turns a per-artifact problem into a FAILURE. Unauthorized
// remote errors are recorded and returned so bulk passes stop.
func (i Inspector) recordFailure(ctx context.Context, ref types.ArtifactRef, message string, cause error) (types.InspectionStatus, error) {
	if cause != nil {
		message = message + ": " + describeError(cause)
	}
	if _, _, err := i.Fail(ctx, ref, message); err != nil {
		return types.InspectionStatusFailure, err
	}
	if cause != nil && errbuilder.CodeOf(cause) == errbuilder.CodePermissionDenied {
		return types.InspectionStatusFailure, cause
	}
	return types.InspectionStatusFailure, nil
}

// InitializeRepository performs the first inspection of a repository and
// leaves it PENDING. Repositories that already carry a status are skipped.
func (i Inspector) InitializeRepository(ctx context.Context, repoKey string) (InspectionSummary, error) {
	summary := InspectionSummary{RepoKey: repoKey}
	repo := types.RepoRef(repoKey)
	status, err := i.Facts.InspectionStatus(ctx, repo)
	if err != nil {
		return summary, err
	}
	if status != types.InspectionStatusUnknown {
		log.Ctx(ctx).Debug().Str("repo", repoKey).Str("status", string(status)).Msg("repository already initialised")
		return summary, nil
	}
	packageType, patterns, err := i.repositoryPreconditions(ctx, repoKey)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeFailedPrecondition {
			return summary, i.failPermanently(ctx, repoKey, err)
		}
		return summary, err
	}

	name, err := i.Facts.Project(ctx, repoKey, i.Hostname)
	if err != nil {
		return summary, err
	}
	if err := i.Facts.SetProject(ctx, repoKey, name); err != nil {
		return summary, err
	}
	project, err := i.projectVersion(ctx, repoKey)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeNotFound {
			return summary, i.failPermanently(ctx, repoKey, err)
		}
		return summary, err
	}
	if project.UIHref != "" {
		if err := i.Facts.Set(ctx, repo, types.PropProjectVersionUIURL, project.UIHref); err != nil {
			return summary, err
		}
	}

	// An unauthorized remote leaves the repository UNKNOWN so the next run
	// initialises it again once credentials are fixed.
	if err := i.inspectArtifacts(ctx, &summary, packageType, project, patterns); err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodePermissionDenied {
			log.Ctx(ctx).Warn().Err(err).Str("repo", repoKey).Msg("repository initialisation aborted; remote refused the request")
		}
		return summary, err
	}
	if err := i.Facts.SetInspectionStatus(ctx, repo, types.InspectionStatusPending, i.now(), pendingRepositoryMessage, 0); err != nil {
		return summary, err
	}
	return summary, nil
}

// InspectDelta re-drives new and retryable artifacts of an initialised
// repository. Uninitialised repositories are initialised instead.
func (i Inspector) InspectDelta(ctx context.Context, repoKey string) (InspectionSummary, error) {
	summary := InspectionSummary{RepoKey: repoKey}
	status, err := i.Facts.InspectionStatus(ctx, types.RepoRef(repoKey))
	if err != nil {
		return summary, err
	}
	switch status {
	case types.InspectionStatusUnknown:
		return i.InitializeRepository(ctx, repoKey)
	case types.InspectionStatusFailure:
		message, _ := i.Facts.InspectionMessage(ctx, types.RepoRef(repoKey))
		return summary, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("repository %s is in FAILURE and needs reconfiguration: %s", repoKey, message))
	}
	packageType, patterns, err := i.repositoryPreconditions(ctx, repoKey)
	if err != nil {
		return summary, err
	}
	project, err := i.projectVersion(ctx, repoKey)
	if err != nil {
		return summary, err
	}
	err = i.inspectArtifacts(ctx, &summary, packageType, project, patterns)
	return summary, err
}

func (i Inspector) inspectArtifacts(ctx context.Context, summary *InspectionSummary, packageType types.PackageType, project types.ProjectVersionRef, patterns policies.PatternSet) error {
	refs, err := i.findArtifacts(ctx, summary.RepoKey, patterns)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		retry, err := i.ShouldRetryInspection(ctx, ref)
		if err != nil {
			summary.Errors++
			log.Ctx(ctx).Error().Err(err).Str("artifact", ref.String()).Msg("failed to read inspection status")
			continue
		}
		if !retry {
			summary.Skipped++
			continue
		}
		status, err := i.submit(ctx, packageType, project, ref)
		if err != nil {
			if errbuilder.CodeOf(err) == errbuilder.CodePermissionDenied {
				return err
			}
			summary.Errors++
			log.Ctx(ctx).Error().Err(err).Str("artifact", ref.String()).Msg("artifact inspection failed")
			continue
		}
		summary.record(status)
	}
	return nil
}

// PopulatePending resolves PENDING artifacts with read-only lookups and
// moves a PENDING repository to SUCCESS once nothing was left behind by a
// transient error.
func (i Inspector) PopulatePending(ctx context.Context, repoKey string) (InspectionSummary, error) {
	summary := InspectionSummary{RepoKey: repoKey}
	refs, err := i.Facts.Store.FindByPropertyValues(ctx, repoKey, map[string]string{
		types.PropInspectionStatus.Name: string(types.InspectionStatusPending),
	})
	if err != nil {
		return summary, err
	}
	project, err := i.projectVersion(ctx, repoKey)
	if err != nil {
		return summary, err
	}
	for _, ref := range refs {
		if ref.IsRepoRoot() {
			continue
		}
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		status, err := i.populate(ctx, project, ref)
		if err != nil {
			if errbuilder.CodeOf(err) == errbuilder.CodePermissionDenied {
				return summary, err
			}
			summary.Errors++
			log.Ctx(ctx).Warn().Err(err).Str("artifact", ref.String()).Msg("pending artifact not resolved")
			continue
		}
		summary.record(status)
	}

	repo := types.RepoRef(repoKey)
	status, err := i.Facts.InspectionStatus(ctx, repo)
	if err != nil {
		return summary, err
	}
	if status == types.InspectionStatusPending && summary.Errors == 0 {
		if err := i.Facts.SetInspectionStatus(ctx, repo, types.InspectionStatusSuccess, i.now(), "", 0); err != nil {
			return summary, err
		}
	}
	return summary, nil
}

func (i Inspector) populate(ctx context.Context, project types.ProjectVersionRef, ref types.ArtifactRef) (types.InspectionStatus, error) {
	identity, ok, err := i.Facts.Identity(ctx, ref)
	if err != nil {
		return types.InspectionStatusPending, err
	}
	if !ok {
		return i.recordFailure(ctx, ref, "Pending artifact has no component identity", nil)
	}
	component, found, err := i.Remote.FindComponentByIdentity(ctx, identity)
	if err != nil {
		return types.InspectionStatusPending, err
	}
	if !found {
		return i.recordFailure(ctx, ref, "Failed to find component match for "+identity.String(), nil)
	}
	bom, found, err := i.Remote.BomEntry(ctx, project, component)
	if err != nil {
		return types.InspectionStatusPending, err
	}
	if !found {
		return i.recordFailure(ctx, ref, "Component "+identity.String()+" is missing from the BOM", nil)
	}
	if err := i.resolve(ctx, ref, bom); err != nil {
		return types.InspectionStatusPending, err
	}
	return types.InspectionStatusSuccess, nil
}

func (i Inspector) findArtifacts(ctx context.Context, repoKey string, patterns policies.PatternSet) ([]types.ArtifactRef, error) {
	seen := map[types.ArtifactRef]struct{}{}
	var refs []types.ArtifactRef
	for _, pattern := range patterns.Patterns() {
		found, err := i.Facts.Store.FindByNamePattern(ctx, repoKey, pattern)
		if err != nil {
			return nil, err
		}
		for _, ref := range found {
			if _, ok := seen[ref]; ok || ref.IsRepoRoot() {
				continue
			}
			folder, err := i.Facts.Store.IsFolder(ctx, ref)
			if err != nil {
				return nil, err
			}
			if folder {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func (i Inspector) repositoryPreconditions(ctx context.Context, repoKey string) (types.PackageType, policies.PatternSet, error) {
	packageType, err := i.packageType(ctx, repoKey)
	if err != nil {
		return "", policies.PatternSet{}, err
	}
	patterns, err := i.patterns(packageType)
	if err != nil {
		return "", policies.PatternSet{}, err
	}
	if patterns.Empty() {
		return "", policies.PatternSet{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("no inspection patterns configured for package type %s", packageType))
	}
	return packageType, patterns, nil
}

func (i Inspector) packageType(ctx context.Context, repoKey string) (types.PackageType, error) {
	raw, ok, err := i.Repos.PackageType(ctx, repoKey)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("repository %s has no package type", repoKey))
	}
	packageType, supported := types.ParsePackageType(raw)
	if !supported {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("package type %s of repository %s is not supported", raw, repoKey))
	}
	return packageType, nil
}

func (i Inspector) patterns(packageType types.PackageType) (policies.PatternSet, error) {
	return policies.NewPatternSet(i.Config.PatternsFor(packageType))
}

func (i Inspector) projectVersion(ctx context.Context, repoKey string) (types.ProjectVersionRef, error) {
	name, err := i.Facts.Project(ctx, repoKey, i.Hostname)
	if err != nil {
		return types.ProjectVersionRef{}, err
	}
	project, found, err := i.Remote.FindProjectVersion(ctx, name.ProjectName, name.VersionName)
	if err != nil {
		return types.ProjectVersionRef{}, err
	}
	if !found {
		return types.ProjectVersionRef{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("project version %s/%s not found", name.ProjectName, name.VersionName))
	}
	return project, nil
}

func describeError(err error) string {
	var builder *errbuilder.ErrBuilder
	if errors.As(err, &builder) && strings.TrimSpace(builder.Msg) != "" {
		return builder.Msg
	}
	return err.Error()
}
