package core

import (
	"context"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-gate/internal/adapters"
	"compliance-gate/internal/types"
	"compliance-gate/tests/testutil"
)

var inspectionNow = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type inspectionFixture struct {
	inspector Inspector
	facts     Facts
	store     *adapters.MemoryPropertyStore
	remote    *testutil.FakeCompliance
}

func newInspectionFixture(t *testing.T, retryCount int) inspectionFixture {
	t.Helper()
	facts, store := newTestFacts(t, "")
	remote := testutil.NewFakeCompliance()
	repos := adapters.NewStaticRepositories(map[string]string{"libs": "maven", "raw": "generic"})
	config := types.InspectionConfig{
		Enabled:    true,
		Repos:      []string{"libs", "raw"},
		RetryCount: retryCount,
		Patterns:   map[string][]string{"maven": {"*.jar"}},
	}
	inspector := NewInspector(facts, repos, remote, config, "build-host", func() time.Time { return inspectionNow })
	return inspectionFixture{inspector: inspector, facts: facts, store: store, remote: remote}
}

var libJar = types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.jar"}

func TestShouldRetryInspection(t *testing.T) {
	fx := newInspectionFixture(t, 2)
	ctx := t.Context()

	retry, err := fx.inspector.ShouldRetryInspection(ctx, libJar)
	require.NoError(t, err)
	assert.True(t, retry, "never inspected")

	for _, status := range []types.InspectionStatus{types.InspectionStatusPending, types.InspectionStatusSuccess} {
		require.NoError(t, fx.facts.SetInspectionStatus(ctx, libJar, status, inspectionNow, "", 0))
		retry, err = fx.inspector.ShouldRetryInspection(ctx, libJar)
		require.NoError(t, err)
		assert.False(t, retry, string(status))
	}

	require.NoError(t, fx.facts.SetInspectionStatus(ctx, libJar, types.InspectionStatusFailure, inspectionNow, "boom", 1))
	retry, err = fx.inspector.ShouldRetryInspection(ctx, libJar)
	require.NoError(t, err)
	assert.True(t, retry, "one failure of two")

	require.NoError(t, fx.facts.SetInspectionStatus(ctx, libJar, types.InspectionStatusFailure, inspectionNow, "boom", 2))
	retry, err = fx.inspector.ShouldRetryInspection(ctx, libJar)
	require.NoError(t, err)
	assert.False(t, retry, "retries used up")
}

func TestFailStopsAtRetryLimit(t *testing.T) {
	fx := newInspectionFixture(t, 2)
	ctx := t.Context()

	count, ok, err := fx.inspector.Fail(ctx, libJar, "first")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, count)

	count, ok, err = fx.inspector.Fail(ctx, libJar, "second")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, count)

	count, ok, err = fx.inspector.Fail(ctx, libJar, "third")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 2, count)
	message, err := fx.facts.InspectionMessage(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, "second", message)
}

func TestShouldInspect(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()
	require.NoError(t, fx.store.PutItem(ctx, types.ItemInfo{Ref: types.ArtifactRef{RepoKey: "libs", Path: "org/acme"}, Folder: true}))

	tests := []struct {
		name string
		ref  types.ArtifactRef
		want bool
	}{
		{name: "matching file", ref: libJar, want: true},
		{name: "non matching file", ref: types.ArtifactRef{RepoKey: "libs", Path: "org/acme/lib/1.0/lib-1.0.pom"}},
		{name: "folder", ref: types.ArtifactRef{RepoKey: "libs", Path: "org/acme"}},
		{name: "repository root", ref: types.RepoRef("libs")},
		{name: "repository not inspected", ref: types.ArtifactRef{RepoKey: "other", Path: "a.jar"}},
		{name: "unsupported package type", ref: types.ArtifactRef{RepoKey: "raw", Path: "a.jar"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := fx.inspector.ShouldInspect(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentifyAndSubmitResolvesArtifact(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()
	fx.remote.AddProject("libs", "build-host")
	component := fx.remote.AddComponent(types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:lib:1.0"})
	fx.remote.SetPolicy(component, types.PolicyStatusReport{
		Status:     types.PolicyStatusInViolation,
		Severities: []types.PolicySeverity{types.PolicySeverityMajor},
	})
	fx.remote.Vulnerabilities[component.Href] = []types.Vulnerability{{Severity: "CRITICAL"}, {Severity: "LOW"}}

	status, err := fx.inspector.IdentifyAndSubmit(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusSuccess, status)

	policy, ok, err := fx.facts.PolicyStatus(ctx, libJar)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.PolicyStatusInViolation, policy)
	vulnerabilities, ok, err := fx.facts.Vulnerabilities(ctx, libJar)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, types.VulnerabilityAggregate{High: 1, Low: 1}, vulnerabilities)
	url, _, err := fx.facts.Get(ctx, libJar, types.PropComponentVersionURL)
	require.NoError(t, err)
	assert.Equal(t, component.Href, url)
}

func TestIdentifyAndSubmitLeavesPendingWhenPolicyLookupFails(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()
	fx.remote.AddProject("libs", "build-host")
	fx.remote.AddComponent(types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:lib:1.0"})
	fx.remote.Errors["GetPolicyStatus"] = errbuilder.New().WithCode(errbuilder.CodeInternal).WithMsg("busy")

	status, err := fx.inspector.IdentifyAndSubmit(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusPending, status)
	stored, err := fx.facts.InspectionStatus(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusPending, stored)

	// PENDING artifacts are completed by PopulatePending, never re-submitted.
	retry, err := fx.inspector.ShouldRetryInspection(ctx, libJar)
	require.NoError(t, err)
	assert.False(t, retry)
}

func TestIdentifyAndSubmitRecordsFailures(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()

	status, err := fx.inspector.IdentifyAndSubmit(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusFailure, status)
	message, err := fx.facts.InspectionMessage(ctx, libJar)
	require.NoError(t, err)
	assert.Contains(t, message, "Failed to find the project version")

	fx.remote.AddProject("libs", "build-host")
	status, err = fx.inspector.IdentifyAndSubmit(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusFailure, status)
	message, err = fx.facts.InspectionMessage(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, "Failed to find component match for maven:org.acme:lib:1.0", message)
	count, err := fx.facts.RetryCount(ctx, libJar)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	fx.remote.Errors["FindComponentByIdentity"] = errbuilder.New().WithCode(errbuilder.CodePermissionDenied).WithMsg("token expired")
	_, err = fx.inspector.IdentifyAndSubmit(ctx, libJar)
	assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))
}

func TestRepositoryLifecycle(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()
	other := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/util/2.0/util-2.0.jar"}
	require.NoError(t, fx.store.PutItem(ctx, types.ItemInfo{Ref: libJar}))
	require.NoError(t, fx.store.PutItem(ctx, types.ItemInfo{Ref: other}))
	fx.remote.AddProject("libs", "build-host")
	fx.remote.AddComponent(types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:lib:1.0"})
	fx.remote.AddComponent(types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:util:2.0"})
	fx.remote.Errors["GetPolicyStatus"] = errbuilder.New().WithCode(errbuilder.CodeInternal).WithMsg("busy")

	summary, err := fx.inspector.InitializeRepository(ctx, "libs")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pending)
	repoStatus, err := fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusPending, repoStatus)

	summary, err = fx.inspector.InitializeRepository(ctx, "libs")
	require.NoError(t, err)
	assert.Zero(t, summary.Pending+summary.Succeeded+summary.Failed, "already initialised")

	summary, err = fx.inspector.PopulatePending(ctx, "libs")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Errors)
	repoStatus, err = fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusPending, repoStatus, "transient errors keep the repository pending")

	delete(fx.remote.Errors, "GetPolicyStatus")
	summary, err = fx.inspector.PopulatePending(ctx, "libs")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded)
	repoStatus, err = fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusSuccess, repoStatus)

	summary, err = fx.inspector.InspectDelta(ctx, "libs")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 2, fx.remote.CallCount("AddComponentToBom"))
}

func TestInitializeRepositoryFailsPermanently(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()

	_, err := fx.inspector.InitializeRepository(ctx, "raw")
	require.Error(t, err)
	status, err := fx.facts.InspectionStatus(ctx, types.RepoRef("raw"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusFailure, status)

	_, err = fx.inspector.InitializeRepository(ctx, "libs")
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	status, err = fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusFailure, status)

	_, err = fx.inspector.InspectDelta(ctx, "libs")
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}

func TestInitializeRepositoryRetriesAfterUnauthorized(t *testing.T) {
	fx := newInspectionFixture(t, 0)
	ctx := t.Context()
	require.NoError(t, fx.store.PutItem(ctx, types.ItemInfo{Ref: libJar}))
	fx.remote.AddProject("libs", "build-host")
	fx.remote.AddComponent(types.ComponentIdentity{Forge: ForgeMaven, OriginID: "org.acme:lib:1.0"})
	fx.remote.Errors["AddComponentToBom"] = errbuilder.New().WithCode(errbuilder.CodePermissionDenied).WithMsg("token expired")

	_, err := fx.inspector.InitializeRepository(ctx, "libs")
	assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))
	repoStatus, err := fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusUnknown, repoStatus, "credentials problems do not need reconfiguration of the repository")

	delete(fx.remote.Errors, "AddComponentToBom")
	summary, err := fx.inspector.InspectDelta(ctx, "libs")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	repoStatus, err = fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusPending, repoStatus)
}

func TestBatchStopsOnlyWhenUnauthorized(t *testing.T) {
	other := types.ArtifactRef{RepoKey: "libs", Path: "org/acme/util/2.0/util-2.0.jar"}
	identities := map[types.ArtifactRef]types.ComponentIdentity{
		libJar: {Forge: ForgeMaven, OriginID: "org.acme:lib:1.0"},
		other:  {Forge: ForgeMaven, OriginID: "org.acme:util:2.0"},
	}
	unauthorized := errbuilder.New().WithCode(errbuilder.CodePermissionDenied).WithMsg("token expired")
	busy := errbuilder.New().WithCode(errbuilder.CodeInternal).WithMsg("busy")

	tests := []struct {
		name      string
		method    string
		err       error
		run       func(ctx context.Context, fx inspectionFixture) (InspectionSummary, error)
		wantCode  errbuilder.ErrCode
		wantCalls int
		check     func(t *testing.T, summary InspectionSummary)
	}{
		{
			name:   "delta aborts on unauthorized",
			method: "AddComponentToBom",
			err:    unauthorized,
			run: func(ctx context.Context, fx inspectionFixture) (InspectionSummary, error) {
				return fx.inspector.InspectDelta(ctx, "libs")
			},
			wantCode:  errbuilder.CodePermissionDenied,
			wantCalls: 1,
		},
		{
			name:   "delta continues past other errors",
			method: "AddComponentToBom",
			err:    busy,
			run: func(ctx context.Context, fx inspectionFixture) (InspectionSummary, error) {
				return fx.inspector.InspectDelta(ctx, "libs")
			},
			wantCalls: 2,
			check: func(t *testing.T, summary InspectionSummary) {
				assert.Equal(t, 2, summary.Failed)
			},
		},
		{
			name:   "populate aborts on unauthorized",
			method: "FindComponentByIdentity",
			err:    unauthorized,
			run: func(ctx context.Context, fx inspectionFixture) (InspectionSummary, error) {
				return fx.inspector.PopulatePending(ctx, "libs")
			},
			wantCode:  errbuilder.CodePermissionDenied,
			wantCalls: 1,
		},
		{
			name:   "populate continues past other errors",
			method: "FindComponentByIdentity",
			err:    busy,
			run: func(ctx context.Context, fx inspectionFixture) (InspectionSummary, error) {
				return fx.inspector.PopulatePending(ctx, "libs")
			},
			wantCalls: 2,
			check: func(t *testing.T, summary InspectionSummary) {
				assert.Equal(t, 2, summary.Errors)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newInspectionFixture(t, 0)
			ctx := t.Context()
			fx.remote.AddProject("libs", "build-host")
			require.NoError(t, fx.facts.SetInspectionStatus(ctx, types.RepoRef("libs"), types.InspectionStatusPending, inspectionNow, "", 0))
			for ref, identity := range identities {
				require.NoError(t, fx.store.PutItem(ctx, types.ItemInfo{Ref: ref}))
				fx.remote.AddComponent(identity)
				if tt.method == "FindComponentByIdentity" {
					require.NoError(t, fx.facts.SetIdentity(ctx, ref, identity))
					require.NoError(t, fx.facts.SetInspectionStatus(ctx, ref, types.InspectionStatusPending, inspectionNow, "", 0))
				}
			}
			fx.remote.Errors[tt.method] = tt.err

			summary, err := tt.run(ctx, fx)
			if tt.wantCode != 0 {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, errbuilder.CodeOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, fx.remote.CallCount(tt.method))
			if tt.check != nil {
				tt.check(t, summary)
			}
			repoStatus, err := fx.facts.InspectionStatus(ctx, types.RepoRef("libs"))
			require.NoError(t, err)
			assert.Equal(t, types.InspectionStatusPending, repoStatus)
		})
	}
}
