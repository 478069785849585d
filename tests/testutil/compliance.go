package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"compliance-gate/internal/types"
)

// FakeCompliance is an in-memory compliance service. Failures can be
// injected per method name through Errors.
type FakeCompliance struct {
	mu sync.Mutex

	User            types.UserRef
	Projects        map[types.ProjectNameVersion]types.ProjectVersionRef
	Components      map[types.ComponentIdentity]types.ComponentVersionRef
	Boms            map[string]types.BomEntryRef
	Policies        map[string]types.PolicyStatusReport
	Vulnerabilities map[string][]types.Vulnerability
	Origins         map[string][]types.ComponentIdentity
	Notifications   []types.Notification
	Errors          map[string]error
	Calls           map[string]int
}

func NewFakeCompliance() *FakeCompliance {
	return &FakeCompliance{
		User:            types.UserRef{Href: "https://remote/api/users/1", Username: "gate"},
		Projects:        map[types.ProjectNameVersion]types.ProjectVersionRef{},
		Components:      map[types.ComponentIdentity]types.ComponentVersionRef{},
		Boms:            map[string]types.BomEntryRef{},
		Policies:        map[string]types.PolicyStatusReport{},
		Vulnerabilities: map[string][]types.Vulnerability{},
		Origins:         map[string][]types.ComponentIdentity{},
		Errors:          map[string]error{},
		Calls:           map[string]int{},
	}
}

// AddProject registers a project version and returns it.
func (f *FakeCompliance) AddProject(name string, version string) types.ProjectVersionRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := types.ProjectVersionRef{
		ProjectName: name,
		VersionName: version,
		Href:        "https://remote/api/projects/" + name + "/versions/" + version,
		UIHref:      "https://remote/ui/projects/" + name + "/versions/" + version + "/components",
	}
	f.Projects[types.ProjectNameVersion{ProjectName: name, VersionName: version}] = ref
	return ref
}

// AddComponent registers a component version known by identity. The
// identity is also recorded as the component's only origin.
func (f *FakeCompliance) AddComponent(identity types.ComponentIdentity) types.ComponentVersionRef {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := types.ComponentVersionRef{
		Href:    "https://remote/api/components/" + identity.String(),
		Name:    identity.OriginID,
		Version: identity.OriginID,
	}
	f.Components[identity] = ref
	f.Origins[ref.Href] = append(f.Origins[ref.Href], identity)
	return ref
}

// SetPolicy records the policy report returned for a component in any BOM.
func (f *FakeCompliance) SetPolicy(component types.ComponentVersionRef, report types.PolicyStatusReport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Policies[component.Href] = report
}

func (f *FakeCompliance) CallCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[method]
}

func (f *FakeCompliance) enter(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls[method]++
	return f.Errors[method]
}

func bomKey(project types.ProjectVersionRef, component types.ComponentVersionRef) string {
	return project.Href + "|" + component.Href
}

func (f *FakeCompliance) CurrentUser(ctx context.Context) (types.UserRef, error) {
	if err := f.enter("CurrentUser"); err != nil {
		return types.UserRef{}, err
	}
	return f.User, nil
}

func (f *FakeCompliance) FindProjectVersion(ctx context.Context, projectName string, versionName string) (types.ProjectVersionRef, bool, error) {
	if err := f.enter("FindProjectVersion"); err != nil {
		return types.ProjectVersionRef{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.Projects[types.ProjectNameVersion{ProjectName: projectName, VersionName: versionName}]
	return ref, ok, nil
}

func (f *FakeCompliance) FindComponentByIdentity(ctx context.Context, identity types.ComponentIdentity) (types.ComponentVersionRef, bool, error) {
	if err := f.enter("FindComponentByIdentity"); err != nil {
		return types.ComponentVersionRef{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	ref, ok := f.Components[identity]
	return ref, ok, nil
}

func (f *FakeCompliance) AddComponentToBom(ctx context.Context, projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) (types.BomEntryRef, error) {
	if err := f.enter("AddComponentToBom"); err != nil {
		return types.BomEntryRef{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	key := bomKey(projectVersion, component)
	if _, exists := f.Boms[key]; exists {
		return types.BomEntryRef{}, errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg("component already in bom")
	}
	entry := types.BomEntryRef{Href: projectVersion.Href + "/components/" + component.Name, ComponentVersion: component}
	f.Boms[key] = entry
	return entry, nil
}

func (f *FakeCompliance) BomEntry(ctx context.Context, projectVersion types.ProjectVersionRef, component types.ComponentVersionRef) (types.BomEntryRef, bool, error) {
	if err := f.enter("BomEntry"); err != nil {
		return types.BomEntryRef{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.Boms[bomKey(projectVersion, component)]
	return entry, ok, nil
}

func (f *FakeCompliance) GetPolicyStatus(ctx context.Context, bomEntry types.BomEntryRef) (types.PolicyStatusReport, error) {
	if err := f.enter("GetPolicyStatus"); err != nil {
		return types.PolicyStatusReport{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.Policies[bomEntry.ComponentVersion.Href]
	if !ok {
		return types.PolicyStatusReport{Status: types.PolicyStatusNotInViolation}, nil
	}
	return report, nil
}

func (f *FakeCompliance) GetVulnerabilities(ctx context.Context, component types.ComponentVersionRef) ([]types.Vulnerability, error) {
	if err := f.enter("GetVulnerabilities"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Vulnerabilities[component.Href], nil
}

func (f *FakeCompliance) GetOrigins(ctx context.Context, component types.ComponentVersionRef) ([]types.ComponentIdentity, error) {
	if err := f.enter("GetOrigins"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Origins[component.Href], nil
}

// GetNotifications returns the notifications created inside [start, end].
func (f *FakeCompliance) GetNotifications(ctx context.Context, user types.UserRef, start time.Time, end time.Time) ([]types.Notification, error) {
	if err := f.enter("GetNotifications"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Notification
	for _, notification := range f.Notifications {
		if notification.CreatedAt.Before(start) || notification.CreatedAt.After(end) {
			continue
		}
		out = append(out, notification)
	}
	return out, nil
}
