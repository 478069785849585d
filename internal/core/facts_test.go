package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-gate/internal/adapters"
	"compliance-gate/internal/types"
)

func newTestFacts(t *testing.T, zone string) (Facts, *adapters.MemoryPropertyStore) {
	t.Helper()
	dates, err := NewDateTimeFormatter("", zone)
	require.NoError(t, err)
	store := adapters.NewMemoryPropertyStore()
	return NewFacts(store, dates), store
}

func TestFactsReadDeprecatedAliases(t *testing.T) {
	facts, store := newTestFacts(t, "")
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}

	require.NoError(t, store.SetProperty(ctx, ref, "hubInspectionStatus", "PENDING"))
	status, err := facts.InspectionStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusPending, status)

	require.NoError(t, facts.Set(ctx, ref, types.PropInspectionStatus, "SUCCESS"))
	status, err = facts.InspectionStatus(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, types.InspectionStatusSuccess, status)

	require.NoError(t, facts.Delete(ctx, ref, types.PropInspectionStatus))
	_, ok, err := store.GetProperty(ctx, ref, "hubInspectionStatus")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactsTimeWritesConvertedTwin(t *testing.T) {
	facts, store := newTestFacts(t, "Europe/Amsterdam")
	ctx := t.Context()
	ref := types.RepoRef("libs")
	at := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	require.NoError(t, facts.SetTime(ctx, ref, types.PropLastUpdate, at))
	value, ok, err := store.GetProperty(ctx, ref, types.PropLastUpdate.Name)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-01-15T12:00:00.000Z", value)
	converted, ok, err := store.GetProperty(ctx, ref, types.PropLastUpdate.ConvertedName())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2025-01-15T13:00:00.000+01:00", converted)

	got, ok, err := facts.GetTime(ctx, ref, types.PropLastUpdate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(at))

	require.NoError(t, facts.Delete(ctx, ref, types.PropLastUpdate))
	_, ok, err = store.GetProperty(ctx, ref, types.PropLastUpdate.ConvertedName())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactsRetryCountToleratesGarbage(t *testing.T) {
	facts, store := newTestFacts(t, "")
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}

	count, err := facts.RetryCount(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, count)

	require.NoError(t, store.SetProperty(ctx, ref, types.PropInspectionRetryCount.Name, "many"))
	count, err = facts.RetryCount(ctx, ref)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFactsSetInspectionStatusClearsMessageAndRetries(t *testing.T) {
	facts, store := newTestFacts(t, "")
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, facts.SetInspectionStatus(ctx, ref, types.InspectionStatusFailure, at, "boom", 2))
	count, err := facts.RetryCount(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, facts.SetInspectionStatus(ctx, ref, types.InspectionStatusSuccess, at, "", 0))
	for _, name := range []string{types.PropInspectionStatusMessage.Name, types.PropInspectionRetryCount.Name} {
		_, ok, err := store.GetProperty(ctx, ref, name)
		require.NoError(t, err)
		assert.False(t, ok, name)
	}
}

func TestFactsPolicySeverities(t *testing.T) {
	facts, _ := newTestFacts(t, "")
	ctx := t.Context()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}

	_, ok, err := facts.PolicySeverities(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, facts.SetPolicyReport(ctx, ref, types.PolicyStatusReport{
		Status:     types.PolicyStatusInViolation,
		Severities: []types.PolicySeverity{"low", types.PolicySeverityHigh, types.PolicySeverityLow},
	}))
	severities, ok, err := facts.PolicySeverities(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []types.PolicySeverity{types.PolicySeverityHigh, types.PolicySeverityLow}, severities)

	require.NoError(t, facts.SetPolicyReport(ctx, ref, types.PolicyStatusReport{Status: types.PolicyStatusNotInViolation}))
	_, ok, err = facts.PolicySeverities(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFactsProjectDefaults(t *testing.T) {
	facts, _ := newTestFacts(t, "")
	ctx := t.Context()

	project, err := facts.Project(ctx, "libs", "build-host")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectNameVersion{ProjectName: "libs", VersionName: "build-host"}, project)

	require.NoError(t, facts.SetProject(ctx, "libs", types.ProjectNameVersion{ProjectName: "acme", VersionName: "prod"}))
	project, err = facts.Project(ctx, "libs", "build-host")
	require.NoError(t, err)
	assert.Equal(t, types.ProjectNameVersion{ProjectName: "acme", VersionName: "prod"}, project)
}
