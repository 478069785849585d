package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

const compliancePageSize = 100

// notificationTimeLayout is the timestamp format of the notification window
// query parameters.
const notificationTimeLayout = "2006-01-02T15:04:05.000Z"

// ComplianceHTTPAdapter talks to the remote compliance service REST API.
type ComplianceHTTPAdapter struct {
	client restClient
}

var _ ports.CompliancePort = ComplianceHTTPAdapter{}

func NewComplianceHTTPAdapter(endpoint string, token string, timeoutSec int, retries int, retryDelayMs int) ComplianceHTTPAdapter {
	return ComplianceHTTPAdapter{
		client: newRESTClient("compliance service", endpoint, token, timeoutSec, retries, retryDelayMs),
	}
}

type remoteMeta struct {
	Href  string `json:"href"`
	Links []struct {
		Rel  string `json:"rel"`
		Href string `json:"href"`
	} `json:"links"`
}

func (m remoteMeta) link(rel string) string {
	for _, link := range m.Links {
		if link.Rel == rel {
			return link.Href
		}
	}
	return ""
}

type remotePage struct {
	TotalCount int               `json:"totalCount"`
	Items      []json.RawMessage `json:"items"`
}

type remoteUser struct {
	UserName string     `json:"userName"`
	Meta     remoteMeta `json:"_meta"`
}

type remoteProject struct {
	Name string     `json:"name"`
	Meta remoteMeta `json:"_meta"`
}

type remoteProjectVersion struct {
	VersionName string     `json:"versionName"`
	Meta        remoteMeta `json:"_meta"`
}

type remoteComponentMatch struct {
	ComponentName string `json:"componentName"`
	VersionName   string `json:"versionName"`
	Version       string `json:"version"`
}

type remoteBomComponent struct {
	ComponentName        string     `json:"componentName"`
	ComponentVersion     string     `json:"componentVersion"`
	ComponentVersionName string     `json:"componentVersionName"`
	Meta                 remoteMeta `json:"_meta"`
}

type remotePolicyStatus struct {
	ApprovalStatus string `json:"approvalStatus"`
}

type remotePolicyRule struct {
	Name                 string `json:"name"`
	Severity             string `json:"severity"`
	PolicyApprovalStatus string `json:"policyApprovalStatus"`
}

type remoteVulnerability struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

type remoteOrigin struct {
	OriginName string `json:"originName"`
	OriginID   string `json:"originId"`
}

type remoteNotification struct {
	Type      string              `json:"type"`
	CreatedAt string              `json:"createdAt"`
	Meta      remoteMeta          `json:"_meta"`
	Content   remoteNotifyContent `json:"content"`
}

// remoteComponentStatus names one component version of a policy
// notification together with its BOM entry in the notified project.
type remoteComponentStatus struct {
	ComponentVersion                string `json:"componentVersion"`
	ComponentName                   string `json:"componentName"`
	ComponentVersionName            string `json:"componentVersionName"`
	BomComponent                    string `json:"bomComponent"`
	BomComponentVersionPolicyStatus string `json:"bomComponentVersionPolicyStatus"`
}

func (c remoteComponentStatus) bomEntryHref() string {
	if c.BomComponent != "" {
		return c.BomComponent
	}
	return strings.TrimSuffix(strings.TrimRight(c.BomComponentVersionPolicyStatus, "/"), "/policy-status")
}

// remoteNotifyContent covers the content shapes of every notification kind
// the gate reads. Violation and cleared notifications list component
// statuses; override notifications carry a single flat component status.
type remoteNotifyContent struct {
	remoteComponentStatus
	ProjectName              string                  `json:"projectName"`
	ProjectVersionName       string                  `json:"projectVersionName"`
	ComponentVersionStatuses []remoteComponentStatus `json:"componentVersionStatuses"`
	AffectedProjectVersions  []struct {
		ProjectName        string `json:"projectName"`
		ProjectVersionName string `json:"projectVersionName"`
	} `json:"affectedProjectVersions"`
	VersionName string `json:"versionName"`
}

func (a ComplianceHTTPAdapter) CurrentUser(ctx context.Context) (types.UserRef, error) {
	var user remoteUser
	if err := a.client.getJSON(ctx, "api/current-user", &user); err != nil {
		return types.UserRef{}, err
	}
	return types.UserRef{Href: user.Meta.Href, Username: user.UserName}, nil
}

func (a ComplianceHTTPAdapter) FindProjectVersion(ctx context.Context, projectName string, versionName string) (types.ProjectVersionRef, bool, error) {
	query := url.Values{}
	query.Set("q", "name:"+projectName)
	var projectHref string
	err := a.eachItem(ctx, "api/projects?"+query.Encode(), func(raw json.RawMessage) (bool, error) {
		var project remoteProject
		if err := json.Unmarshal(raw, &project); err != nil {
			return false, err
		}
		if project.Name == projectName {
			projectHref = project.Meta.Href
			return false, nil
		}
		return true, nil
	})
	if err != nil || projectHref == "" {
		return types.ProjectVersionRef{}, false, err
	}
	query = url.Values{}
	query.Set("q", "versionName:"+versionName)
	var found types.ProjectVersionRef
	err = a.eachItem(ctx, projectHref+"/versions?"+query.Encode(), func(raw json.RawMessage) (bool, error) {
		var version remoteProjectVersion
		if err := json.Unmarshal(raw, &version); err != nil {
			return false, err
		}
		if version.VersionName != versionName {
			return true, nil
		}
		uiHref := version.Meta.link("components")
		if uiHref == "" {
			uiHref = version.Meta.Href + "/components"
		}
		found = types.ProjectVersionRef{
			ProjectName: projectName,
			VersionName: versionName,
			Href:        version.Meta.Href,
			UIHref:      uiHref,
		}
		return false, nil
	})
	if err != nil {
		return types.ProjectVersionRef{}, false, err
	}
	return found, found.Href != "", nil
}

func (a ComplianceHTTPAdapter) FindComponentByIdentity(ctx context.Context, identity types.ComponentIdentity) (types.ComponentVersionRef, bool, error) {
	query := url.Values{}
	query.Set("q", identity.String())
	var found types.ComponentVersionRef
	err := a.eachItem(ctx, "api/components?"+query.Encode(), func(raw json.RawMessage) (bool, error) {
		var match remoteComponentMatch
		if err := json.Unmarshal(raw, &match); err != nil {
			return false, err
		}
		if strings.TrimSpace(match.Version) == "" {
			return true, nil
		}
		found = types.ComponentVersionRef{Href: match.Version, Name: match.ComponentName, Version: match.VersionName}
		return false, nil
	})
	if err != nil {
		return types.ComponentVersionRef{}, false, err
	}
	return found, found.Href != "", nil
}

// bomEntryHref derives the BOM entry location of a component version inside
// a project version.
func bomEntryHref(projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) string {
	_, rest, found := strings.Cut(component.Href, "/api/components/")
	if !found {
		rest = strings.TrimLeft(component.Href, "/")
	}
	return strings.TrimRight(projectVersion.Href, "/") + "/components/" + rest
}

func (a ComplianceHTTPAdapter) AddComponentToBom(ctx context.Context, projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) (types.BomEntryRef, error) {
	payload := map[string]string{"component": component.Href}
	resp, err := a.client.do(ctx, http.MethodPost, strings.TrimRight(projectVersion.Href, "/")+"/components", payload)
	if err != nil {
		return types.BomEntryRef{}, err
	}
	if !resp.ok() {
		return types.BomEntryRef{}, a.client.statusError(resp)
	}
	return types.BomEntryRef{Href: bomEntryHref(projectVersion, component), ComponentVersion: component}, nil
}

func (a ComplianceHTTPAdapter) BomEntry(ctx context.Context, projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) (types.BomEntryRef, bool, error) {
	href := bomEntryHref(projectVersion, component)
	resp, err := a.client.do(ctx, http.MethodGet, href, nil)
	if err != nil {
		return types.BomEntryRef{}, false, err
	}
	if resp.Status == http.StatusNotFound {
		return types.BomEntryRef{}, false, nil
	}
	if !resp.ok() {
		return types.BomEntryRef{}, false, a.client.statusError(resp)
	}
	var entry remoteBomComponent
	if err := a.client.decode(resp, &entry); err != nil {
		return types.BomEntryRef{}, false, err
	}
	if entry.Meta.Href != "" {
		href = entry.Meta.Href
	}
	if entry.ComponentVersion != "" {
		component.Href = entry.ComponentVersion
	}
	return types.BomEntryRef{Href: href, ComponentVersion: component}, true, nil
}

// GetPolicyStatus reads the approval status of a BOM entry and, when it is in
// violation, the severities of the violated rules.
func (a ComplianceHTTPAdapter) GetPolicyStatus(ctx context.Context, bomEntry types.BomEntryRef) (types.PolicyStatusReport, error) {
	var status remotePolicyStatus
	if err := a.client.getJSON(ctx, strings.TrimRight(bomEntry.Href, "/")+"/policy-status", &status); err != nil {
		return types.PolicyStatusReport{}, err
	}
	summary, ok := types.ParsePolicySummaryStatus(status.ApprovalStatus)
	if !ok {
		return types.PolicyStatusReport{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("unknown policy approval status " + status.ApprovalStatus)
	}
	report := types.PolicyStatusReport{Status: summary}
	if summary != types.PolicyStatusInViolation {
		return report, nil
	}
	err := a.eachItem(ctx, strings.TrimRight(bomEntry.Href, "/")+"/policy-rules", func(raw json.RawMessage) (bool, error) {
		var rule remotePolicyRule
		if err := json.Unmarshal(raw, &rule); err != nil {
			return false, err
		}
		if rule.PolicyApprovalStatus == "" || strings.EqualFold(rule.PolicyApprovalStatus, string(types.PolicyStatusInViolation)) {
			report.Severities = append(report.Severities, types.NormalizePolicySeverity(rule.Severity))
		}
		return true, nil
	})
	if err != nil {
		return types.PolicyStatusReport{}, err
	}
	return report, nil
}

func (a ComplianceHTTPAdapter) GetVulnerabilities(ctx context.Context, component types.ComponentVersionRef) ([]types.Vulnerability, error) {
	var out []types.Vulnerability
	err := a.eachItem(ctx, strings.TrimRight(component.Href, "/")+"/vulnerabilities", func(raw json.RawMessage) (bool, error) {
		var vulnerability remoteVulnerability
		if err := json.Unmarshal(raw, &vulnerability); err != nil {
			return false, err
		}
		out = append(out, types.Vulnerability{Name: vulnerability.Name, Severity: vulnerability.Severity})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (a ComplianceHTTPAdapter) GetOrigins(ctx context.Context, component types.ComponentVersionRef) ([]types.ComponentIdentity, error) {
	var out []types.ComponentIdentity
	err := a.eachItem(ctx, strings.TrimRight(component.Href, "/")+"/origins", func(raw json.RawMessage) (bool, error) {
		var origin remoteOrigin
		if err := json.Unmarshal(raw, &origin); err != nil {
			return false, err
		}
		identity := types.ComponentIdentity{Forge: origin.OriginName, OriginID: origin.OriginID}
		if !identity.IsZero() {
			out = append(out, identity)
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetNotifications returns the user's notifications created in [start, end]
// in feed order. A policy notification naming several component versions is
// split into one entry per component version.
func (a ComplianceHTTPAdapter) GetNotifications(ctx context.Context, user types.UserRef, start time.Time, end time.Time) ([]types.Notification, error) {
	if strings.TrimSpace(user.Href) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("user href is empty")
	}
	query := url.Values{}
	query.Set("startDate", start.UTC().Format(notificationTimeLayout))
	query.Set("endDate", end.UTC().Format(notificationTimeLayout))
	var out []types.Notification
	err := a.eachItem(ctx, strings.TrimRight(user.Href, "/")+"/notifications?"+query.Encode(), func(raw json.RawMessage) (bool, error) {
		var notification remoteNotification
		if err := json.Unmarshal(raw, &notification); err != nil {
			return false, err
		}
		out = append(out, convertNotification(ctx, notification)...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func convertNotification(ctx context.Context, remote remoteNotification) []types.Notification {
	kind := types.NotificationKind(strings.ToUpper(strings.TrimSpace(remote.Type)))
	createdAt, ok := parseRemoteTime(remote.CreatedAt)
	if !ok {
		log.Ctx(ctx).Warn().
			Str("notification", remote.Meta.Href).
			Str("created_at", remote.CreatedAt).
			Msg("notification has an unreadable creation time; it will not move the watermark")
	}
	if kind == types.NotificationVulnerability {
		notification := types.Notification{
			ID:        remote.Meta.Href,
			Kind:      kind,
			CreatedAt: createdAt,
			ComponentVersion: types.ComponentVersionRef{
				Href:    remote.Content.ComponentVersion,
				Name:    remote.Content.ComponentName,
				Version: remote.Content.VersionName,
			},
		}
		for _, affected := range remote.Content.AffectedProjectVersions {
			notification.ProjectVersions = append(notification.ProjectVersions, types.ProjectNameVersion{
				ProjectName: affected.ProjectName,
				VersionName: affected.ProjectVersionName,
			})
		}
		return []types.Notification{notification}
	}
	if !kind.IsPolicy() {
		return nil
	}
	var projectVersions []types.ProjectNameVersion
	if remote.Content.ProjectName != "" {
		projectVersions = []types.ProjectNameVersion{{
			ProjectName: remote.Content.ProjectName,
			VersionName: remote.Content.ProjectVersionName,
		}}
	}
	statuses := remote.Content.ComponentVersionStatuses
	if len(statuses) == 0 && remote.Content.ComponentVersion != "" {
		statuses = []remoteComponentStatus{remote.Content.remoteComponentStatus}
	}
	out := make([]types.Notification, 0, len(statuses))
	for _, component := range statuses {
		out = append(out, types.Notification{
			ID:              remote.Meta.Href,
			Kind:            kind,
			CreatedAt:       createdAt,
			ProjectVersions: projectVersions,
			ComponentVersion: types.ComponentVersionRef{
				Href:    component.ComponentVersion,
				Name:    component.ComponentName,
				Version: component.ComponentVersionName,
			},
			BomEntry: component.bomEntryHref(),
		})
	}
	return out
}

// eachItem walks a paged collection, calling visit for every item until it
// returns false or the collection is exhausted.
func (a ComplianceHTTPAdapter) eachItem(ctx context.Context, pathOrHref string, visit func(json.RawMessage) (bool, error)) error {
	separator := "?"
	if strings.Contains(pathOrHref, "?") {
		separator = "&"
	}
	for offset := 0; ; offset += compliancePageSize {
		target := pathOrHref + separator + "limit=" + strconv.Itoa(compliancePageSize) + "&offset=" + strconv.Itoa(offset)
		var page remotePage
		if err := a.client.getJSON(ctx, target, &page); err != nil {
			return err
		}
		for _, raw := range page.Items {
			more, err := visit(raw)
			if err != nil {
				return errbuilder.New().
					WithCode(errbuilder.CodeInternal).
					WithMsg("failed to decode compliance service item").
					WithCause(err)
			}
			if !more {
				return nil
			}
		}
		if len(page.Items) == 0 || offset+len(page.Items) >= page.TotalCount {
			return nil
		}
	}
}
