package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

// PassContext memoises remote lookups for the duration of one
// reconciliation pass. It is never shared between passes.
type PassContext struct {
	ID              string
	user            *types.UserRef
	notifications   map[[2]time.Time][]types.Notification
	origins         map[string][]types.ComponentIdentity
	vulnerabilities map[string]types.VulnerabilityAggregate
	projects        map[types.ProjectNameVersion]*types.ProjectVersionRef
	bomEntries      map[string]*types.BomEntryRef
	policies        map[string]types.PolicyStatusReport
}

func NewPassContext() *PassContext {
	return &PassContext{
		ID:              uuid.NewString(),
		notifications:   map[[2]time.Time][]types.Notification{},
		origins:         map[string][]types.ComponentIdentity{},
		vulnerabilities: map[string]types.VulnerabilityAggregate{},
		projects:        map[types.ProjectNameVersion]*types.ProjectVersionRef{},
		bomEntries:      map[string]*types.BomEntryRef{},
		policies:        map[string]types.PolicyStatusReport{},
	}
}

func (p *PassContext) currentUser(ctx context.Context, remote ports.CompliancePort) (types.UserRef, error) {
	if p.user != nil {
		return *p.user, nil
	}
	user, err := remote.CurrentUser(ctx)
	if err != nil {
		return types.UserRef{}, err
	}
	p.user = &user
	return user, nil
}

func (p *PassContext) notificationsIn(ctx context.Context, remote ports.CompliancePort, start time.Time, end time.Time) ([]types.Notification, error) {
	window := [2]time.Time{start.UTC(), end.UTC()}
	if cached, ok := p.notifications[window]; ok {
		return cached, nil
	}
	user, err := p.currentUser(ctx, remote)
	if err != nil {
		return nil, err
	}
	notifications, err := remote.GetNotifications(ctx, user, start, end)
	if err != nil {
		return nil, err
	}
	p.notifications[window] = notifications
	return notifications, nil
}

func (p *PassContext) originsOf(ctx context.Context, remote ports.CompliancePort, component types.ComponentVersionRef) ([]types.ComponentIdentity, error) {
	if cached, ok := p.origins[component.Href]; ok {
		return cached, nil
	}
	origins, err := remote.GetOrigins(ctx, component)
	if err != nil {
		return nil, err
	}
	p.origins[component.Href] = origins
	return origins, nil
}

func (p *PassContext) vulnerabilitiesOf(ctx context.Context, remote ports.CompliancePort, component types.ComponentVersionRef) (types.VulnerabilityAggregate, error) {
	if cached, ok := p.vulnerabilities[component.Href]; ok {
		return cached, nil
	}
	list, err := remote.GetVulnerabilities(ctx, component)
	if err != nil {
		return types.VulnerabilityAggregate{}, err
	}
	aggregate := AggregateVulnerabilities(list)
	p.vulnerabilities[component.Href] = aggregate
	return aggregate, nil
}

// policyReportOf reads the current policy status of the notified component
// in the repository's project. The notification's own BOM entry is used
// when it belongs to that project; otherwise the entry is looked up. A
// component missing from the project BOM reports ok=false.
func (p *PassContext) policyReportOf(ctx context.Context, remote ports.CompliancePort, notification types.Notification, project types.ProjectNameVersion) (types.PolicyStatusReport, bool, error) {
	bom := types.BomEntryRef{Href: notification.BomEntry, ComponentVersion: notification.ComponentVersion}
	if bom.Href == "" || len(notification.ProjectVersions) != 1 || notification.ProjectVersions[0] != project {
		entry, err := p.bomEntryOf(ctx, remote, project, notification.ComponentVersion)
		if err != nil || entry == nil {
			return types.PolicyStatusReport{}, false, err
		}
		bom = *entry
	}
	if cached, ok := p.policies[bom.Href]; ok {
		return cached, true, nil
	}
	report, err := remote.GetPolicyStatus(ctx, bom)
	if err != nil {
		return types.PolicyStatusReport{}, false, err
	}
	p.policies[bom.Href] = report
	return report, true, nil
}

func (p *PassContext) bomEntryOf(ctx context.Context, remote ports.CompliancePort, project types.ProjectNameVersion, component types.ComponentVersionRef) (*types.BomEntryRef, error) {
	version, ok := p.projects[project]
	if !ok {
		found, exists, err := remote.FindProjectVersion(ctx, project.ProjectName, project.VersionName)
		if err != nil {
			return nil, err
		}
		if exists {
			version = &found
		}
		p.projects[project] = version
	}
	if version == nil {
		return nil, nil
	}
	key := version.Href + "|" + component.Href
	if cached, ok := p.bomEntries[key]; ok {
		return cached, nil
	}
	entry, exists, err := remote.BomEntry(ctx, *version, component)
	if err != nil {
		return nil, err
	}
	var out *types.BomEntryRef
	if exists {
		out = &entry
	}
	p.bomEntries[key] = out
	return out, nil
}

// AggregateVulnerabilities sums a vulnerability list by severity. CRITICAL
// counts as high; unrecognised severities are ignored.
func AggregateVulnerabilities(list []types.Vulnerability) types.VulnerabilityAggregate {
	aggregate := types.VulnerabilityAggregate{}
	for _, vulnerability := range list {
		switch strings.ToUpper(strings.TrimSpace(vulnerability.Severity)) {
		case "CRITICAL", "HIGH":
			aggregate.High++
		case "MEDIUM":
			aggregate.Medium++
		case "LOW":
			aggregate.Low++
		}
	}
	return aggregate
}

// Reconciler applies the remote notification feed to tracked artifacts.
type Reconciler struct {
	Facts    Facts
	Remote   ports.CompliancePort
	Hostname string
	Clock    func() time.Time
}

func NewReconciler(facts Facts, remote ports.CompliancePort, hostname string, clock func() time.Time) Reconciler {
	if clock == nil {
		clock = time.Now
	}
	return Reconciler{Facts: facts, Remote: remote, Hostname: hostname, Clock: clock}
}

type RepositoryReconciliation struct {
	RepoKey     string
	Status      types.UpdateStatus
	WindowStart time.Time
	WindowEnd   time.Time
	Updated     int
	// Skipped is set for repositories without a watermark or in FAILURE.
	Skipped bool
	Err     error
}

// Reconcile runs one pass for a single repository over [start, end].
func (r Reconciler) Reconcile(ctx context.Context, repoKey string, start time.Time, end time.Time) (types.UpdateStatus, error) {
	result := r.reconcile(ctx, NewPassContext(), repoKey, start, end)
	return result.Status, result.Err
}

// ReconcileRepositories reconciles every eligible repository from its
// watermark up to now, sharing one PassContext. A failing repository does
// not stop the others.
func (r Reconciler) ReconcileRepositories(ctx context.Context, repoKeys []string) ([]RepositoryReconciliation, error) {
	pass := NewPassContext()
	logger := log.Ctx(ctx).With().Str("pass_id", pass.ID).Logger()
	ctx = logger.WithContext(ctx)
	now := r.Clock().UTC()

	results := make([]RepositoryReconciliation, 0, len(repoKeys))
	var errs []error
	for _, repoKey := range repoKeys {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		start, eligible, err := r.watermark(ctx, repoKey)
		if err != nil {
			errs = append(errs, err)
			results = append(results, RepositoryReconciliation{RepoKey: repoKey, Status: types.UpdateStatusOutOfDate, Err: err})
			continue
		}
		if !eligible {
			logger.Debug().Str("repo", repoKey).Msg("repository not eligible for reconciliation yet")
			results = append(results, RepositoryReconciliation{RepoKey: repoKey, Skipped: true})
			continue
		}
		result := r.reconcile(ctx, pass, repoKey, start, now)
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// ReconcileWindow reconciles every repository over the same fixed window,
// regardless of watermarks, sharing one PassContext.
func (r Reconciler) ReconcileWindow(ctx context.Context, repoKeys []string, start time.Time, end time.Time) ([]RepositoryReconciliation, error) {
	if !end.After(start) {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("reconciliation window end %s is not after start %s", end.UTC().Format(time.RFC3339), start.UTC().Format(time.RFC3339)))
	}
	pass := NewPassContext()
	logger := log.Ctx(ctx).With().Str("pass_id", pass.ID).Logger()
	ctx = logger.WithContext(ctx)
	results := make([]RepositoryReconciliation, 0, len(repoKeys))
	var errs []error
	for _, repoKey := range repoKeys {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		result := r.reconcile(ctx, pass, repoKey, start.UTC(), end.UTC())
		if result.Err != nil {
			errs = append(errs, result.Err)
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

// watermark returns lastUpdate, else lastInspection. Repositories with
// neither, or in FAILURE, are not eligible.
func (r Reconciler) watermark(ctx context.Context, repoKey string) (time.Time, bool, error) {
	repo := types.RepoRef(repoKey)
	status, err := r.Facts.InspectionStatus(ctx, repo)
	if err != nil {
		return time.Time{}, false, err
	}
	if status == types.InspectionStatusUnknown || status == types.InspectionStatusFailure {
		return time.Time{}, false, nil
	}
	for _, key := range []types.PropertyKey{types.PropLastUpdate, types.PropLastInspection} {
		value, ok, err := r.Facts.GetTime(ctx, repo, key)
		if err != nil {
			if markErr := r.Facts.MarkOutOfDate(ctx, repo); markErr != nil {
				return time.Time{}, false, errors.Join(err, markErr)
			}
			return time.Time{}, false, err
		}
		if ok {
			return value, true, nil
		}
	}
	return time.Time{}, false, nil
}

func (r Reconciler) reconcile(ctx context.Context, pass *PassContext, repoKey string, start time.Time, end time.Time) RepositoryReconciliation {
	result := RepositoryReconciliation{RepoKey: repoKey, WindowStart: start, WindowEnd: end}
	repo := types.RepoRef(repoKey)
	latest, updated, err := r.apply(ctx, pass, repoKey, start, end)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("repo", repoKey).Msg("reconciliation failed; watermark held")
		result.Status = types.UpdateStatusOutOfDate
		result.Err = err
		if markErr := r.Facts.MarkOutOfDate(ctx, repo); markErr != nil {
			result.Err = errors.Join(err, markErr)
		}
		return result
	}
	watermark := start
	if latest.After(start) {
		watermark = latest
	}
	if err := r.Facts.SetUpdateStatus(ctx, repo, types.UpdateStatusUpToDate, watermark); err != nil {
		result.Status = types.UpdateStatusOutOfDate
		result.Err = err
		return result
	}
	log.Ctx(ctx).Info().Str("repo", repoKey).Int("updated", updated).Time("watermark", watermark).Msg("repository reconciled")
	result.Status = types.UpdateStatusUpToDate
	result.Updated = updated
	return result
}

type artifactUpdate struct {
	policy          *types.PolicyStatusReport
	vulnerabilities *types.VulnerabilityAggregate
}

// apply aggregates every notification in the window per artifact, then
// writes the result. It returns the creation time of the latest
// notification processed.
func (r Reconciler) apply(ctx context.Context, pass *PassContext, repoKey string, start time.Time, end time.Time) (time.Time, int, error) {
	notifications, err := pass.notificationsIn(ctx, r.Remote, start, end)
	if err != nil {
		return time.Time{}, 0, err
	}
	project, err := r.Facts.Project(ctx, repoKey, r.Hostname)
	if err != nil {
		return time.Time{}, 0, err
	}

	updates := map[types.ArtifactRef]*artifactUpdate{}
	var order []types.ArtifactRef
	var latest time.Time
	for _, notification := range notifications {
		if notification.CreatedAt.After(latest) {
			latest = notification.CreatedAt
		}
		if !affectsProject(notification, project) {
			continue
		}
		var mutate func(*artifactUpdate)
		switch {
		case notification.Kind.IsPolicy():
			report, ok, err := pass.policyReportOf(ctx, r.Remote, notification, project)
			if err != nil {
				return time.Time{}, 0, err
			}
			if !ok {
				log.Ctx(ctx).Warn().
					Str("notification", notification.ID).
					Str("component", notification.ComponentVersion.Href).
					Msg("component is not in the project BOM; policy notification skipped")
				continue
			}
			mutate = func(update *artifactUpdate) { update.policy = &report }
		case notification.Kind == types.NotificationVulnerability:
			aggregate, err := pass.vulnerabilitiesOf(ctx, r.Remote, notification.ComponentVersion)
			if err != nil {
				return time.Time{}, 0, err
			}
			mutate = func(update *artifactUpdate) { update.vulnerabilities = &aggregate }
		default:
			log.Ctx(ctx).Debug().Str("kind", string(notification.Kind)).Msg("ignoring notification kind")
			continue
		}
		origins, err := pass.originsOf(ctx, r.Remote, notification.ComponentVersion)
		if err != nil {
			return time.Time{}, 0, err
		}
		for _, origin := range origins {
			refs, err := r.artifactsWithIdentity(ctx, repoKey, origin)
			if err != nil {
				return time.Time{}, 0, err
			}
			for _, ref := range refs {
				update, ok := updates[ref]
				if !ok {
					update = &artifactUpdate{}
					updates[ref] = update
					order = append(order, ref)
				}
				mutate(update)
			}
		}
	}

	for _, ref := range order {
		update := updates[ref]
		if update.policy != nil {
			if err := r.Facts.SetPolicyReport(ctx, ref, *update.policy); err != nil {
				return time.Time{}, 0, err
			}
		}
		if update.vulnerabilities != nil {
			if err := r.Facts.SetVulnerabilities(ctx, ref, *update.vulnerabilities); err != nil {
				return time.Time{}, 0, err
			}
		}
	}
	return latest, len(order), nil
}

// artifactsWithIdentity searches both the canonical and the deprecated
// identity keys.
func (r Reconciler) artifactsWithIdentity(ctx context.Context, repoKey string, identity types.ComponentIdentity) ([]types.ArtifactRef, error) {
	seen := map[types.ArtifactRef]struct{}{}
	var refs []types.ArtifactRef
	forgeNames := types.PropForge.Names()
	originNames := types.PropOriginID.Names()
	for idx := range forgeNames {
		if idx >= len(originNames) {
			break
		}
		found, err := r.Facts.Store.FindByPropertyValues(ctx, repoKey, map[string]string{
			forgeNames[idx]:  identity.Forge,
			originNames[idx]: identity.OriginID,
		})
		if err != nil {
			return nil, err
		}
		for _, ref := range found {
			if _, ok := seen[ref]; ok {
				continue
			}
			seen[ref] = struct{}{}
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

func affectsProject(notification types.Notification, project types.ProjectNameVersion) bool {
	if len(notification.ProjectVersions) == 0 {
		return true
	}
	for _, affected := range notification.ProjectVersions {
		if affected.ProjectName == project.ProjectName && affected.VersionName == project.VersionName {
			return true
		}
	}
	return false
}
