package core

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

// Facts layers typed compliance accessors over a PropertyStore.
type Facts struct {
	Store ports.PropertyStore
	Dates DateTimeFormatter
}

func NewFacts(store ports.PropertyStore, dates DateTimeFormatter) Facts {
	return Facts{Store: store, Dates: dates}
}

// Get reads the canonical key, falling back to its deprecated aliases.
func (f Facts) Get(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey) (string, bool, error) {
	for _, name := range key.Names() {
		value, ok, err := f.Store.GetProperty(ctx, ref, name)
		if err != nil {
			return "", false, err
		}
		if ok && strings.TrimSpace(value) != "" {
			return value, true, nil
		}
	}
	return "", false, nil
}

func (f Facts) Set(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey, value string) error {
	return f.Store.SetProperty(ctx, ref, key.Name, value)
}

// Delete removes the canonical key, its aliases and its converted twin.
func (f Facts) Delete(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey) error {
	for _, name := range key.Names() {
		if err := f.Store.DeleteProperty(ctx, ref, name); err != nil {
			return err
		}
	}
	if key.Time {
		return f.Store.DeleteProperty(ctx, ref, key.ConvertedName())
	}
	return nil
}

func (f Facts) DeleteAll(ctx context.Context, ref types.ArtifactRef, keys []types.PropertyKey) error {
	for _, key := range keys {
		if err := f.Delete(ctx, ref, key); err != nil {
			return err
		}
	}
	return nil
}

func (f Facts) SetTime(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey, value time.Time) error {
	if err := f.Set(ctx, ref, key, f.Dates.Format(value)); err != nil {
		return err
	}
	if converted, ok := f.Dates.FormatConverted(value); ok {
		return f.Store.SetProperty(ctx, ref, key.ConvertedName(), converted)
	}
	return nil
}

func (f Facts) GetTime(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey) (time.Time, bool, error) {
	value, ok, err := f.Get(ctx, ref, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	parsed, err := f.Dates.Parse(value)
	if err != nil {
		return time.Time{}, false, err
	}
	return parsed, true, nil
}

func (f Facts) GetInt(ctx context.Context, ref types.ArtifactRef, key types.PropertyKey) (int, bool, error) {
	value, ok, err := f.Get(ctx, ref, key)
	if err != nil || !ok {
		return 0, false, err
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("property " + key.Name + " is not an integer").
			WithCause(err)
	}
	return parsed, true, nil
}

// InspectionStatus returns UNKNOWN when nothing (or garbage) is recorded.
func (f Facts) InspectionStatus(ctx context.Context, ref types.ArtifactRef) (types.InspectionStatus, error) {
	value, ok, err := f.Get(ctx, ref, types.PropInspectionStatus)
	if err != nil || !ok {
		return types.InspectionStatusUnknown, err
	}
	status, valid := types.ParseInspectionStatus(value)
	if !valid {
		log.Ctx(ctx).Warn().Str("artifact", ref.String()).Str("value", value).Msg("ignoring unrecognised inspection status")
	}
	return status, nil
}

func (f Facts) InspectionMessage(ctx context.Context, ref types.ArtifactRef) (string, error) {
	value, _, err := f.Get(ctx, ref, types.PropInspectionStatusMessage)
	return value, err
}

// RetryCount is zero when absent or unreadable.
func (f Facts) RetryCount(ctx context.Context, ref types.ArtifactRef) (int, error) {
	count, _, err := f.GetInt(ctx, ref, types.PropInspectionRetryCount)
	if err != nil {
		if errbuilder.CodeOf(err) == errbuilder.CodeInvalidArgument {
			return 0, nil
		}
		return 0, err
	}
	return count, nil
}

// SetInspectionStatus records status and lastInspection. A blank message and
// a retryCount below one delete the respective facts.
func (f Facts) SetInspectionStatus(ctx context.Context, ref types.ArtifactRef, status types.InspectionStatus, at time.Time, message string, retryCount int) error {
	if err := f.SetTime(ctx, ref, types.PropLastInspection, at); err != nil {
		return err
	}
	if err := f.Set(ctx, ref, types.PropInspectionStatus, string(status)); err != nil {
		return err
	}
	if strings.TrimSpace(message) != "" {
		if err := f.Set(ctx, ref, types.PropInspectionStatusMessage, message); err != nil {
			return err
		}
	} else if err := f.Delete(ctx, ref, types.PropInspectionStatusMessage); err != nil {
		return err
	}
	if retryCount > 0 {
		return f.Set(ctx, ref, types.PropInspectionRetryCount, strconv.Itoa(retryCount))
	}
	return f.Delete(ctx, ref, types.PropInspectionRetryCount)
}

func (f Facts) Identity(ctx context.Context, ref types.ArtifactRef) (types.ComponentIdentity, bool, error) {
	forge, ok, err := f.Get(ctx, ref, types.PropForge)
	if err != nil || !ok {
		return types.ComponentIdentity{}, false, err
	}
	originID, ok, err := f.Get(ctx, ref, types.PropOriginID)
	if err != nil || !ok {
		return types.ComponentIdentity{}, false, err
	}
	return types.ComponentIdentity{Forge: forge, OriginID: originID}, true, nil
}

func (f Facts) SetIdentity(ctx context.Context, ref types.ArtifactRef, identity types.ComponentIdentity) error {
	if err := f.Set(ctx, ref, types.PropForge, identity.Forge); err != nil {
		return err
	}
	return f.Set(ctx, ref, types.PropOriginID, identity.OriginID)
}

func (f Facts) ClearIdentity(ctx context.Context, ref types.ArtifactRef) error {
	return f.DeleteAll(ctx, ref, []types.PropertyKey{types.PropForge, types.PropOriginID})
}

func (f Facts) PolicyStatus(ctx context.Context, ref types.ArtifactRef) (types.PolicySummaryStatus, bool, error) {
	value, ok, err := f.Get(ctx, ref, types.PropPolicyStatus)
	if err != nil || !ok {
		return "", false, err
	}
	status, valid := types.ParsePolicySummaryStatus(value)
	if !valid {
		return types.PolicySummaryStatus(strings.TrimSpace(value)), true, nil
	}
	return status, true, nil
}

// PolicySeverities distinguishes an absent fact (ok=false) from an empty set.
func (f Facts) PolicySeverities(ctx context.Context, ref types.ArtifactRef) ([]types.PolicySeverity, bool, error) {
	value, ok, err := f.Get(ctx, ref, types.PropPolicySeverityTypes)
	if err != nil || !ok {
		return nil, false, err
	}
	var severities []types.PolicySeverity
	for _, part := range shared.SplitList(value) {
		severities = append(severities, types.NormalizePolicySeverity(part))
	}
	return severities, true, nil
}

// SetPolicyReport overwrites the policy facts; an empty severity set deletes
// the severities fact.
func (f Facts) SetPolicyReport(ctx context.Context, ref types.ArtifactRef, report types.PolicyStatusReport) error {
	if err := f.Set(ctx, ref, types.PropPolicyStatus, string(report.Status)); err != nil {
		return err
	}
	joined := joinSeverities(report.Severities)
	if joined == "" {
		return f.Delete(ctx, ref, types.PropPolicySeverityTypes)
	}
	return f.Set(ctx, ref, types.PropPolicySeverityTypes, joined)
}

func joinSeverities(severities []types.PolicySeverity) string {
	values := make([]string, 0, len(severities))
	for _, severity := range severities {
		values = append(values, string(types.NormalizePolicySeverity(string(severity))))
	}
	return strings.Join(shared.SortedUnique(values), ",")
}

func (f Facts) Vulnerabilities(ctx context.Context, ref types.ArtifactRef) (types.VulnerabilityAggregate, bool, error) {
	high, okHigh, err := f.GetInt(ctx, ref, types.PropHighVulnerabilities)
	if err != nil {
		return types.VulnerabilityAggregate{}, false, err
	}
	medium, okMedium, err := f.GetInt(ctx, ref, types.PropMediumVulnerabilities)
	if err != nil {
		return types.VulnerabilityAggregate{}, false, err
	}
	low, okLow, err := f.GetInt(ctx, ref, types.PropLowVulnerabilities)
	if err != nil {
		return types.VulnerabilityAggregate{}, false, err
	}
	if !okHigh && !okMedium && !okLow {
		return types.VulnerabilityAggregate{}, false, nil
	}
	return types.VulnerabilityAggregate{High: high, Medium: medium, Low: low}, true, nil
}

func (f Facts) SetVulnerabilities(ctx context.Context, ref types.ArtifactRef, aggregate types.VulnerabilityAggregate) error {
	if err := f.Set(ctx, ref, types.PropHighVulnerabilities, strconv.Itoa(aggregate.High)); err != nil {
		return err
	}
	if err := f.Set(ctx, ref, types.PropMediumVulnerabilities, strconv.Itoa(aggregate.Medium)); err != nil {
		return err
	}
	return f.Set(ctx, ref, types.PropLowVulnerabilities, strconv.Itoa(aggregate.Low))
}

func (f Facts) SetUpdateStatus(ctx context.Context, ref types.ArtifactRef, status types.UpdateStatus, at time.Time) error {
	if err := f.Set(ctx, ref, types.PropUpdateStatus, string(status)); err != nil {
		return err
	}
	return f.SetTime(ctx, ref, types.PropLastUpdate, at)
}

// MarkOutOfDate flips the update status without touching the watermark.
func (f Facts) MarkOutOfDate(ctx context.Context, ref types.ArtifactRef) error {
	return f.Set(ctx, ref, types.PropUpdateStatus, string(types.UpdateStatusOutOfDate))
}

func (f Facts) UpdateStatus(ctx context.Context, ref types.ArtifactRef) (types.UpdateStatus, bool, error) {
	value, ok, err := f.Get(ctx, ref, types.PropUpdateStatus)
	if err != nil || !ok {
		return "", false, err
	}
	return types.UpdateStatus(strings.ToUpper(strings.TrimSpace(value))), true, nil
}

func (f Facts) ScanResult(ctx context.Context, ref types.ArtifactRef) (types.ScanResult, bool, error) {
	value, ok, err := f.Get(ctx, ref, types.PropScanResult)
	if err != nil || !ok {
		return "", false, err
	}
	return types.ScanResult(strings.ToUpper(strings.TrimSpace(value))), true, nil
}

func (f Facts) ScanAsAServiceStatus(ctx context.Context, ref types.ArtifactRef) (types.ScanStatus, bool, error) {
	value, ok, err := f.Get(ctx, ref, types.PropScanAsAServiceStatus)
	if err != nil || !ok {
		return "", false, err
	}
	return types.ScanStatus(strings.ToUpper(strings.TrimSpace(value))), true, nil
}

func (f Facts) ScanAsAServicePolicyStatus(ctx context.Context, ref types.ArtifactRef) (types.PolicySummaryStatus, bool, error) {
	value, ok, err := f.Get(ctx, ref, types.PropScanAsAServicePolicy)
	if err != nil || !ok {
		return "", false, err
	}
	return types.PolicySummaryStatus(strings.ToUpper(strings.TrimSpace(value))), true, nil
}

// Project returns the remote project name and version a repository maps to,
// defaulting to the repository key and this host's name.
func (f Facts) Project(ctx context.Context, repoKey string, hostname string) (types.ProjectNameVersion, error) {
	repo := types.RepoRef(repoKey)
	name, ok, err := f.Get(ctx, repo, types.PropProjectName)
	if err != nil {
		return types.ProjectNameVersion{}, err
	}
	if !ok {
		name = repoKey
	}
	version, ok, err := f.Get(ctx, repo, types.PropProjectVersionName)
	if err != nil {
		return types.ProjectNameVersion{}, err
	}
	if !ok {
		version = hostname
	}
	return types.ProjectNameVersion{ProjectName: name, VersionName: version}, nil
}

func (f Facts) SetProject(ctx context.Context, repoKey string, project types.ProjectNameVersion) error {
	repo := types.RepoRef(repoKey)
	if err := f.Set(ctx, repo, types.PropProjectName, project.ProjectName); err != nil {
		return err
	}
	return f.Set(ctx, repo, types.PropProjectVersionName, project.VersionName)
}

// PopulateResolved writes the facts of a fully resolved artifact and marks
// it SUCCESS.
func (f Facts) PopulateResolved(ctx context.Context, ref types.ArtifactRef, report types.PolicyStatusReport, aggregate types.VulnerabilityAggregate, componentURL string, at time.Time) error {
	if err := f.SetPolicyReport(ctx, ref, report); err != nil {
		return err
	}
	if err := f.SetVulnerabilities(ctx, ref, aggregate); err != nil {
		return err
	}
	if err := f.Set(ctx, ref, types.PropComponentVersionURL, componentURL); err != nil {
		return err
	}
	return f.SetInspectionStatus(ctx, ref, types.InspectionStatusSuccess, at, "", 0)
}
