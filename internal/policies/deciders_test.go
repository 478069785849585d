package policies_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-gate/internal/adapters"
	"compliance-gate/internal/core"
	"compliance-gate/internal/policies"
	"compliance-gate/internal/types"
	"compliance-gate/tests/testutil"
)

var fooJar = types.ArtifactRef{RepoKey: "libs", Path: "com/acme/foo/1.0/foo-1.0.jar"}

func newFacts(t *testing.T) (core.Facts, *adapters.MemoryPropertyStore) {
	t.Helper()
	dates, err := core.NewDateTimeFormatter("", "")
	require.NoError(t, err)
	store := adapters.NewMemoryPropertyStore()
	return core.NewFacts(store, dates), store
}

func setProps(t *testing.T, store *adapters.MemoryPropertyStore, ref types.ArtifactRef, props map[string]string) {
	t.Helper()
	for key, value := range props {
		require.NoError(t, store.SetProperty(t.Context(), ref, key, value))
	}
}

func TestScanDeciderRequiresScanResult(t *testing.T) {
	facts, store := newFacts(t)
	ctx := t.Context()
	decider, err := policies.NewScanDecider(facts, store, types.ScanConfig{
		Enabled:       true,
		MetadataBlock: true,
		Repos:         []string{"libs"},
		NamePatterns:  []string{"*.jar"},
	})
	require.NoError(t, err)

	decision, err := decider.Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.True(t, decision.Cancel)
	assert.Contains(t, decision.Reason, "scanned")

	setProps(t, store, fooJar, map[string]string{types.PropScanResult.Name: "FAILURE"})
	decision, err = decider.Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.True(t, decision.Cancel)
	assert.Contains(t, decision.Reason, "FAILURE")

	setProps(t, store, fooJar, map[string]string{types.PropScanResult.Name: "success"})
	decision, err = decider.Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.False(t, decision.Cancel)

	for _, ref := range []types.ArtifactRef{
		{RepoKey: "libs", Path: "com/acme/foo/1.0/foo-1.0.pom"},
		{RepoKey: "other", Path: "foo.jar"},
		types.RepoRef("libs"),
	} {
		decision, err = decider.Decide(ctx, ref)
		require.NoError(t, err)
		assert.False(t, decision.Cancel, ref.String())
	}
}

func TestInspectionDecider(t *testing.T) {
	facts, store := newFacts(t)
	ctx := t.Context()
	config := types.InspectionConfig{
		Enabled:       true,
		MetadataBlock: true,
		Repos:         []string{"libs"},
		Patterns:      map[string][]string{"maven": {"*.jar"}},
	}
	inspector := core.NewInspector(facts, adapters.NewStaticRepositories(map[string]string{"libs": "maven"}), testutil.NewFakeCompliance(), config, "host", nil)
	decider := policies.NewInspectionDecider(facts, inspector, config)

	tests := []struct {
		name   string
		status string
		cancel bool
	}{
		{name: "never inspected", cancel: true},
		{name: "pending is in flight", status: "PENDING"},
		{name: "success", status: "SUCCESS"},
		{name: "failure", status: "FAILURE", cancel: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.status != "" {
				setProps(t, store, fooJar, map[string]string{types.PropInspectionStatus.Name: tt.status})
			}
			decision, err := decider.Decide(ctx, fooJar)
			require.NoError(t, err)
			assert.Equal(t, tt.cancel, decision.Cancel)
		})
	}

	decision, err := decider.Decide(ctx, types.ArtifactRef{RepoKey: "libs", Path: "readme.txt"})
	require.NoError(t, err)
	assert.False(t, decision.Cancel, "outside the inspection patterns")

	config.MetadataBlock = false
	decision, err = policies.NewInspectionDecider(facts, inspector, config).Decide(ctx, types.ArtifactRef{RepoKey: "libs", Path: "other.jar"})
	require.NoError(t, err)
	assert.False(t, decision.Cancel)
}

func TestPolicyDeciderSeverities(t *testing.T) {
	tests := []struct {
		name    string
		blocked []string
		props   map[string]string
		cancel  bool
		reason  string
	}{
		{
			name:    "blocked severity present",
			blocked: []string{"HIGH"},
			props: map[string]string{
				types.PropPolicyStatus.Name:        "IN_VIOLATION",
				types.PropPolicySeverityTypes.Name: "HIGH,LOW",
			},
			cancel: true,
			reason: "HIGH",
		},
		{
			name:    "blocked severity absent",
			blocked: []string{"MEDIUM"},
			props: map[string]string{
				types.PropPolicyStatus.Name:        "IN_VIOLATION",
				types.PropPolicySeverityTypes.Name: "HIGH,LOW",
			},
		},
		{
			name:    "severities never populated",
			blocked: []string{"MEDIUM"},
			props:   map[string]string{types.PropPolicyStatus.Name: "IN_VIOLATION"},
			cancel:  true,
			reason:  types.PropPolicySeverityTypes.Name,
		},
		{
			name:    "not in violation",
			blocked: []string{"HIGH"},
			props: map[string]string{
				types.PropPolicyStatus.Name:        "NOT_IN_VIOLATION",
				types.PropPolicySeverityTypes.Name: "HIGH",
			},
		},
		{
			name:    "deprecated status alias",
			blocked: []string{"blocker"},
			props: map[string]string{
				"hubPolicyStatus":                  "IN_VIOLATION",
				types.PropPolicySeverityTypes.Name: "BLOCKER",
			},
			cancel: true,
			reason: "BLOCKER",
		},
		{
			name:    "overall policy status left to the scan gate",
			blocked: []string{"HIGH"},
			props: map[string]string{
				types.PropOverallPolicyStatus.Name: "IN_VIOLATION",
				types.PropPolicyStatus.Name:        "IN_VIOLATION",
				types.PropPolicySeverityTypes.Name: "HIGH",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, store := newFacts(t)
			setProps(t, store, fooJar, tt.props)
			decider := policies.NewPolicyDecider(facts, types.PolicyConfig{Enabled: true, Repos: []string{"libs"}, SeverityTypes: tt.blocked})
			decision, err := decider.Decide(t.Context(), fooJar)
			require.NoError(t, err)
			assert.Equal(t, tt.cancel, decision.Cancel)
			if tt.reason != "" {
				assert.Contains(t, decision.Reason, tt.reason)
			}
		})
	}
}

func TestPolicyDeciderRepositoryScope(t *testing.T) {
	facts, store := newFacts(t)
	other := types.ArtifactRef{RepoKey: "other", Path: "a.jar"}
	setProps(t, store, other, map[string]string{
		types.PropPolicyStatus.Name:        "IN_VIOLATION",
		types.PropPolicySeverityTypes.Name: "HIGH",
	})
	decider := policies.NewPolicyDecider(facts, types.PolicyConfig{Repos: []string{"libs"}, SeverityTypes: []string{"HIGH"}})
	decision, err := decider.Decide(t.Context(), other)
	require.NoError(t, err)
	assert.False(t, decision.Cancel)

	unscoped := policies.NewPolicyDecider(facts, types.PolicyConfig{SeverityTypes: []string{"HIGH"}})
	decision, err = unscoped.Decide(t.Context(), other)
	require.NoError(t, err)
	assert.False(t, decision.Cancel, "repositories that are not listed are never gated")
}

func TestScanAsAServiceMatrix(t *testing.T) {
	type outcome struct {
		name  string
		props map[string]string
	}
	outcomes := []outcome{
		{name: "not scheduled"},
		{name: "failed", props: map[string]string{types.PropScanAsAServiceStatus.Name: "FAILED"}},
		{name: "processing", props: map[string]string{types.PropScanAsAServiceStatus.Name: "PROCESSING"}},
		{name: "clean", props: map[string]string{
			types.PropScanAsAServiceStatus.Name: "SUCCESS",
			types.PropScanAsAServicePolicy.Name: "NOT_IN_VIOLATION",
		}},
		{name: "overridden", props: map[string]string{
			types.PropScanAsAServiceStatus.Name: "SUCCESS",
			types.PropScanAsAServicePolicy.Name: "IN_VIOLATION_OVERRIDDEN",
		}},
		{name: "in violation", props: map[string]string{
			types.PropScanAsAServiceStatus.Name: "SUCCESS",
			types.PropScanAsAServicePolicy.Name: "IN_VIOLATION",
		}},
		{name: "policy missing", props: map[string]string{types.PropScanAsAServiceStatus.Name: "SUCCESS"}},
		{name: "unknown status", props: map[string]string{types.PropScanAsAServiceStatus.Name: "QUEUED"}},
	}
	clean := map[string]bool{"clean": true, "overridden": true}

	for _, strategy := range []string{"BLOCK_ALL", "BLOCK_NONE", "BLOCK_OFF", "BLOCK_SOMETIMES"} {
		for _, tt := range outcomes {
			t.Run(strategy+"/"+tt.name, func(t *testing.T) {
				facts, store := newFacts(t)
				setProps(t, store, fooJar, tt.props)
				decider, err := policies.NewScanAsAServiceDecider(facts, store, types.ScanAsAServiceConfig{
					BlockingStrategy: strategy,
					BlockingRepos:    []string{"libs"},
				}, nil)
				require.NoError(t, err)
				decision, err := decider.Decide(t.Context(), fooJar)
				require.NoError(t, err)

				switch {
				case strategy == "BLOCK_SOMETIMES":
					assert.True(t, decision.Cancel, "unknown strategies fail closed")
				case clean[tt.name]:
					assert.False(t, decision.Cancel)
					assert.False(t, decision.DryRun)
				case strategy == "BLOCK_ALL":
					assert.True(t, decision.Cancel)
				case strategy == "BLOCK_NONE":
					assert.False(t, decision.Cancel)
					assert.False(t, decision.DryRun)
				case strategy == "BLOCK_OFF":
					assert.False(t, decision.Cancel)
					assert.True(t, decision.DryRun)
				}
			})
		}
	}
}

func TestScanAsAServiceBlockOffLogsWouldHaveBlocked(t *testing.T) {
	facts, store := newFacts(t)
	setProps(t, store, fooJar, map[string]string{types.PropScanAsAServiceStatus.Name: "FAILED"})
	decider, err := policies.NewScanAsAServiceDecider(facts, store, types.ScanAsAServiceConfig{
		BlockingStrategy: "BLOCK_OFF",
		BlockingRepos:    []string{"libs"},
	}, nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	ctx := zerolog.New(&buf).WithContext(t.Context())
	decision, err := decider.Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.False(t, decision.Cancel)
	assert.True(t, decision.DryRun)
	assert.Contains(t, buf.String(), "would have blocked")
	assert.Contains(t, buf.String(), "FAILED")
}

func TestScanAsAServiceScope(t *testing.T) {
	facts, store := newFacts(t)
	ctx := t.Context()
	cutoff := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	old := types.ArtifactRef{RepoKey: "libs", Path: "com/acme/old/1.0/old-1.0.jar"}
	fresh := types.ArtifactRef{RepoKey: "libs", Path: "com/acme/new/1.0/new-1.0.jar"}
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: old, LastModified: cutoff.Add(-time.Hour)}))
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: fresh, LastModified: cutoff.Add(time.Hour)}))
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: types.ArtifactRef{RepoKey: "libs", Path: "com/acme"}, Folder: true}))

	decider, err := policies.NewScanAsAServiceDecider(facts, store, types.ScanAsAServiceConfig{
		BlockingStrategy: "BLOCK_ALL",
		BlockingRepos:    []string{"libs/com/acme/**"},
		ExcludedPatterns: []string{"*.pom"},
		AllowedPatterns:  []string{"*.jar", "*.pom"},
	}, &cutoff)
	require.NoError(t, err)

	tests := []struct {
		name   string
		ref    types.ArtifactRef
		cancel bool
	}{
		{name: "modified after cutoff", ref: fresh, cancel: true},
		{name: "grandfathered by cutoff", ref: old},
		{name: "unknown to the store", ref: types.ArtifactRef{RepoKey: "libs", Path: "com/acme/x/1.0/x-1.0.jar"}, cancel: true},
		{name: "excluded pattern", ref: types.ArtifactRef{RepoKey: "libs", Path: "com/acme/x/1.0/x-1.0.pom"}},
		{name: "not allowed pattern", ref: types.ArtifactRef{RepoKey: "libs", Path: "com/acme/x/1.0/x-1.0.zip"}},
		{name: "outside blocking path", ref: types.ArtifactRef{RepoKey: "libs", Path: "org/other/y.jar"}},
		{name: "folder", ref: types.ArtifactRef{RepoKey: "libs", Path: "com/acme"}},
		{name: "repository root", ref: types.RepoRef("libs")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, err := decider.Decide(ctx, tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.cancel, decision.Cancel)
		})
	}
}

type stubDecider struct {
	name     string
	decision types.Decision
	err      error
	calls    *int
}

func (s stubDecider) Name() string { return s.name }

func (s stubDecider) Decide(context.Context, types.ArtifactRef) (types.Decision, error) {
	if s.calls != nil {
		*s.calls++
	}
	return s.decision, s.err
}

func TestCompositeDecider(t *testing.T) {
	ctx := t.Context()
	var after int
	dryRun := types.Decision{Reason: "would block", Decider: "scan-as-a-service", DryRun: true}

	decision, err := policies.NewCompositeDecider(
		stubDecider{name: "a", decision: dryRun},
		stubDecider{name: "b", decision: types.Allow()},
	).Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.False(t, decision.Cancel)
	assert.True(t, decision.DryRun)

	decision, err = policies.NewCompositeDecider(
		stubDecider{name: "a", decision: types.Allow()},
		stubDecider{name: "b", decision: types.Decision{Cancel: true, Reason: "no"}},
		stubDecider{name: "c", decision: types.Allow(), calls: &after},
	).Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.True(t, decision.Cancel)
	assert.Equal(t, "b", decision.Decider)
	assert.Zero(t, after, "first deny short-circuits")

	_, err = policies.NewCompositeDecider(stubDecider{name: "broken", err: assert.AnError}).Decide(ctx, fooJar)
	assert.Equal(t, errbuilder.CodeInternal, errbuilder.CodeOf(err))

	decision, err = policies.NewCompositeDecider().Decide(ctx, fooJar)
	require.NoError(t, err)
	assert.Equal(t, types.Allow(), decision)
}

func TestEnforceDecision(t *testing.T) {
	assert.NoError(t, policies.EnforceDecision(fooJar, types.Allow()))
	err := policies.EnforceDecision(fooJar, types.Deny("policy", "blocked severities"))
	assert.Equal(t, errbuilder.CodePermissionDenied, errbuilder.CodeOf(err))
	var builder *errbuilder.ErrBuilder
	require.True(t, errors.As(err, &builder))
	assert.Equal(t, "The compliance gate has prevented the download of libs/com/acme/foo/1.0/foo-1.0.jar. blocked severities", builder.Msg)
}
