package core

import (
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-gate/internal/adapters"
	"compliance-gate/internal/types"
	"compliance-gate/tests/testutil"
)

var reconcileNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type reconcilerFixture struct {
	reconciler Reconciler
	facts      Facts
	store      *adapters.MemoryPropertyStore
	remote     *testutil.FakeCompliance
	component  types.ComponentVersionRef
}

var sharedIdentity = types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:lib:1.0"}

func newReconcilerFixture(t *testing.T) reconcilerFixture {
	t.Helper()
	facts, store := newTestFacts(t, "")
	remote := testutil.NewFakeCompliance()
	component := remote.AddComponent(sharedIdentity)
	reconciler := NewReconciler(facts, remote, "build-host", func() time.Time { return reconcileNow })
	return reconcilerFixture{reconciler: reconciler, facts: facts, store: store, remote: remote, component: component}
}

func (fx reconcilerFixture) track(t *testing.T, ref types.ArtifactRef, identity types.ComponentIdentity) {
	t.Helper()
	require.NoError(t, fx.facts.SetIdentity(t.Context(), ref, identity))
}

func (fx reconcilerFixture) initialised(t *testing.T, repoKey string, at time.Time) {
	t.Helper()
	require.NoError(t, fx.facts.SetInspectionStatus(t.Context(), types.RepoRef(repoKey), types.InspectionStatusSuccess, at, "", 0))
}

// inBom adds the shared component to the BOM of the repository's project.
func (fx reconcilerFixture) inBom(t *testing.T, repoKey string) types.BomEntryRef {
	t.Helper()
	project := fx.remote.AddProject(repoKey, "build-host")
	entry, err := fx.remote.AddComponentToBom(t.Context(), project, fx.component)
	require.NoError(t, err)
	return entry
}

func TestAggregateVulnerabilities(t *testing.T) {
	got := AggregateVulnerabilities([]types.Vulnerability{
		{Severity: "CRITICAL"},
		{Severity: "high"},
		{Severity: "MEDIUM"},
		{Severity: " low "},
		{Severity: "NONE"},
	})
	assert.Equal(t, types.VulnerabilityAggregate{High: 2, Medium: 1, Low: 1}, got)
}

func TestReconcileWindowUpdatesEveryRepositoryWithSharedOrigin(t *testing.T) {
	fx := newReconcilerFixture(t)
	ctx := t.Context()
	inLibs := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.jar"}
	inMirror := types.ArtifactRef{RepoKey: "mirror", Path: "org/acme/lib/1.0/lib-1.0.jar"}
	unrelated := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/util/2.0/util-2.0.jar"}
	fx.track(t, inLibs, sharedIdentity)
	fx.track(t, inMirror, sharedIdentity)
	fx.track(t, unrelated, types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:util:2.0"})
	fx.inBom(t, "libs")
	fx.inBom(t, "mirror")
	fx.remote.SetPolicy(fx.component, types.PolicyStatusReport{
		Status:     types.PolicyStatusInViolation,
		Severities: []types.PolicySeverity{types.PolicySeverityBlocker},
	})

	start := reconcileNow.Add(-time.Hour)
	fx.remote.Notifications = []types.Notification{{
		ID:               "n1",
		Kind:             types.NotificationPolicyViolation,
		CreatedAt:        start.Add(10 * time.Minute),
		ComponentVersion: fx.component,
	}}

	results, err := fx.reconciler.ReconcileWindow(ctx, []string{"libs", "mirror"}, start, reconcileNow)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, result := range results {
		assert.Equal(t, types.UpdateStatusUpToDate, result.Status, result.RepoKey)
		assert.Equal(t, 1, result.Updated, result.RepoKey)
	}
	for _, ref := range []types.ArtifactRef{inLibs, inMirror} {
		status, ok, err := fx.facts.PolicyStatus(ctx, ref)
		require.NoError(t, err)
		assert.True(t, ok, ref.String())
		assert.Equal(t, types.PolicyStatusInViolation, status, ref.String())
	}
	_, ok, err := fx.facts.PolicyStatus(ctx, unrelated)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, 1, fx.remote.CallCount("CurrentUser"))
	assert.Equal(t, 1, fx.remote.CallCount("GetNotifications"))
	assert.Equal(t, 1, fx.remote.CallCount("GetOrigins"))
	assert.Equal(t, 2, fx.remote.CallCount("GetPolicyStatus"), "one lookup per project BOM")

	watermark, ok, err := fx.facts.GetTime(ctx, types.RepoRef("libs"), types.PropLastUpdate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, start.Add(10*time.Minute), watermark)
}

func TestReconcileWindowIsIdempotent(t *testing.T) {
	fx := newReconcilerFixture(t)
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.jar"}
	fx.track(t, ref, sharedIdentity)
	bom := fx.inBom(t, "libs")
	fx.remote.Vulnerabilities[fx.component.Href] = []types.Vulnerability{{Severity: "HIGH"}, {Severity: "MEDIUM"}}

	start := reconcileNow.Add(-time.Hour)
	libs := []types.ProjectNameVersion{{ProjectName: "libs", VersionName: "build-host"}}
	fx.remote.Notifications = []types.Notification{
		{
			ID:               "violation",
			Kind:             types.NotificationPolicyViolation,
			CreatedAt:        start.Add(5 * time.Minute),
			ProjectVersions:  libs,
			ComponentVersion: fx.component,
			BomEntry:         bom.Href,
		},
		{
			ID:               "cleared",
			Kind:             types.NotificationPolicyViolationCleared,
			CreatedAt:        start.Add(20 * time.Minute),
			ProjectVersions:  libs,
			ComponentVersion: fx.component,
			BomEntry:         bom.Href,
		},
		{
			ID:               "vulnerability",
			Kind:             types.NotificationVulnerability,
			CreatedAt:        start.Add(30 * time.Minute),
			ComponentVersion: fx.component,
		},
	}

	snapshot := func() map[string]string {
		values := map[string]string{}
		for _, key := range []types.PropertyKey{
			types.PropPolicyStatus,
			types.PropPolicySeverityTypes,
			types.PropHighVulnerabilities,
			types.PropMediumVulnerabilities,
			types.PropLowVulnerabilities,
		} {
			value, _, err := fx.facts.Get(ctx, ref, key)
			require.NoError(t, err)
			values[key.Name] = value
		}
		return values
	}

	_, err := fx.reconciler.ReconcileWindow(ctx, []string{"libs"}, start, reconcileNow)
	require.NoError(t, err)
	first := snapshot()
	assert.Equal(t, string(types.PolicyStatusNotInViolation), first[types.PropPolicyStatus.Name])
	assert.Empty(t, first[types.PropPolicySeverityTypes.Name])
	assert.Equal(t, "1", first[types.PropHighVulnerabilities.Name])
	assert.Equal(t, "1", first[types.PropMediumVulnerabilities.Name])
	assert.Equal(t, "0", first[types.PropLowVulnerabilities.Name])

	_, err = fx.reconciler.ReconcileWindow(ctx, []string{"libs"}, start, reconcileNow)
	require.NoError(t, err)
	assert.Equal(t, first, snapshot())
}

func TestReconcileSkipsOtherProjects(t *testing.T) {
	fx := newReconcilerFixture(t)
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.jar"}
	fx.track(t, ref, sharedIdentity)
	start := reconcileNow.Add(-time.Hour)
	fx.remote.Notifications = []types.Notification{{
		Kind:             types.NotificationPolicyViolation,
		CreatedAt:        start.Add(time.Minute),
		ProjectVersions:  []types.ProjectNameVersion{{ProjectName: "elsewhere", VersionName: "build-host"}},
		ComponentVersion: fx.component,
	}}

	status, err := fx.reconciler.Reconcile(ctx, "libs", start, reconcileNow)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateStatusUpToDate, status)
	_, ok, err := fx.facts.PolicyStatus(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	watermark, _, err := fx.facts.GetTime(ctx, types.RepoRef("libs"), types.PropLastUpdate)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Minute), watermark, "unrelated notifications still advance the watermark")
}

func TestReconcileReadsCurrentPolicyStatus(t *testing.T) {
	tests := []struct {
		name           string
		kind           types.NotificationKind
		remote         types.PolicyStatusReport
		wantStatus     types.PolicySummaryStatus
		wantSeverities string
	}{
		{
			name: "cleared while another rule is still violated",
			kind: types.NotificationPolicyViolationCleared,
			remote: types.PolicyStatusReport{
				Status:     types.PolicyStatusInViolation,
				Severities: []types.PolicySeverity{types.PolicySeverityBlocker},
			},
			wantStatus:     types.PolicyStatusInViolation,
			wantSeverities: "BLOCKER",
		},
		{
			name:       "override",
			kind:       types.NotificationPolicyOverride,
			remote:     types.PolicyStatusReport{Status: types.PolicyStatusInViolationOverridden},
			wantStatus: types.PolicyStatusInViolationOverridden,
		},
		{
			name: "violation reports every violated severity",
			kind: types.NotificationPolicyViolation,
			remote: types.PolicyStatusReport{
				Status:     types.PolicyStatusInViolation,
				Severities: []types.PolicySeverity{types.PolicySeverityMinor, types.PolicySeverityCritical},
			},
			wantStatus:     types.PolicyStatusInViolation,
			wantSeverities: "CRITICAL,MINOR",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newReconcilerFixture(t)
			ctx := t.Context()
			ref := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.jar"}
			fx.track(t, ref, sharedIdentity)
			bom := fx.inBom(t, "libs")
			fx.remote.SetPolicy(fx.component, tt.remote)
			start := reconcileNow.Add(-time.Hour)
			fx.remote.Notifications = []types.Notification{{
				ID:               "n1",
				Kind:             tt.kind,
				CreatedAt:        start.Add(time.Minute),
				ProjectVersions:  []types.ProjectNameVersion{{ProjectName: "libs", VersionName: "build-host"}},
				ComponentVersion: fx.component,
				BomEntry:         bom.Href,
			}}

			_, err := fx.reconciler.Reconcile(ctx, "libs", start, reconcileNow)
			require.NoError(t, err)
			status, ok, err := fx.facts.PolicyStatus(ctx, ref)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.wantStatus, status)
			severities, _, err := fx.facts.Get(ctx, ref, types.PropPolicySeverityTypes)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSeverities, severities)
			assert.Equal(t, 1, fx.remote.CallCount("GetPolicyStatus"))
			assert.Zero(t, fx.remote.CallCount("BomEntry"), "the notified BOM entry is used directly")
		})
	}
}

func TestReconcileSkipsComponentsOutsideTheBom(t *testing.T) {
	fx := newReconcilerFixture(t)
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.jar"}
	fx.track(t, ref, sharedIdentity)
	fx.remote.AddProject("libs", "build-host")
	start := reconcileNow.Add(-time.Hour)
	fx.remote.Notifications = []types.Notification{{
		ID:               "n1",
		Kind:             types.NotificationPolicyViolation,
		CreatedAt:        start.Add(time.Minute),
		ComponentVersion: fx.component,
	}}

	status, err := fx.reconciler.Reconcile(ctx, "libs", start, reconcileNow)
	require.NoError(t, err)
	assert.Equal(t, types.UpdateStatusUpToDate, status)
	_, ok, err := fx.facts.PolicyStatus(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, fx.remote.CallCount("BomEntry"))
	assert.Zero(t, fx.remote.CallCount("GetPolicyStatus"))
}

func TestReconcileRepositoriesFollowsWatermarks(t *testing.T) {
	fx := newReconcilerFixture(t)
	ctx := t.Context()
	inspectedAt := reconcileNow.Add(-2 * time.Hour)
	fx.initialised(t, "libs", inspectedAt)
	require.NoError(t, fx.facts.SetInspectionStatus(ctx, types.RepoRef("broken"), types.InspectionStatusFailure, inspectedAt, "no project", 0))

	results, err := fx.reconciler.ReconcileRepositories(ctx, []string{"libs", "fresh", "broken"})
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "libs", results[0].RepoKey)
	assert.False(t, results[0].Skipped)
	assert.Equal(t, inspectedAt, results[0].WindowStart)
	assert.Equal(t, reconcileNow, results[0].WindowEnd)
	assert.True(t, results[1].Skipped)
	assert.True(t, results[2].Skipped)

	status, ok, err := fx.facts.UpdateStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.UpdateStatusUpToDate, status)
	watermark, _, err := fx.facts.GetTime(ctx, types.RepoRef("libs"), types.PropLastUpdate)
	require.NoError(t, err)
	assert.Equal(t, inspectedAt, watermark, "an empty window keeps its start as watermark")
}

func TestReconcileFailureHoldsWatermark(t *testing.T) {
	fx := newReconcilerFixture(t)
	ctx := t.Context()
	previous := reconcileNow.Add(-time.Hour)
	fx.initialised(t, "libs", previous.Add(-time.Hour))
	require.NoError(t, fx.facts.SetUpdateStatus(ctx, types.RepoRef("libs"), types.UpdateStatusUpToDate, previous))
	fx.remote.Errors["GetNotifications"] = errbuilder.New().WithCode(errbuilder.CodeInternal).WithMsg("feed down")

	results, err := fx.reconciler.ReconcileRepositories(ctx, []string{"libs"})
	require.Error(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, types.UpdateStatusOutOfDate, results[0].Status)

	status, _, err := fx.facts.UpdateStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.UpdateStatusOutOfDate, status)
	watermark, _, err := fx.facts.GetTime(ctx, types.RepoRef("libs"), types.PropLastUpdate)
	require.NoError(t, err)
	assert.Equal(t, previous, watermark)
}

func TestReconcileWindowRejectsInvertedWindow(t *testing.T) {
	fx := newReconcilerFixture(t)
	_, err := fx.reconciler.ReconcileWindow(t.Context(), []string{"libs"}, reconcileNow, reconcileNow.Add(-time.Minute))
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}
