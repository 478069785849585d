package adapters

import (
	"testing"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

func TestMemoryStorePropertyRoundTrip(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryPropertyStore()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "com/acme/lib/1.0/lib-1.0.jar"}

	_, ok, err := store.GetProperty(ctx, ref, "blackduck.inspectionStatus")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetProperty(ctx, ref, "blackduck.inspectionStatus", "PENDING"))
	value, ok, err := store.GetProperty(ctx, ref, "blackduck.inspectionStatus")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "PENDING", value)

	require.NoError(t, store.DeleteProperty(ctx, ref, "blackduck.inspectionStatus"))
	_, ok, err = store.GetProperty(ctx, ref, "blackduck.inspectionStatus")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStoreRejectsEmptyKey(t *testing.T) {
	store := NewMemoryPropertyStore()
	err := store.SetProperty(t.Context(), types.RepoRef("libs"), " ", "x")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestMemoryStoreFindByPropertyValues(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryPropertyStore()
	a := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}
	b := types.ArtifactRef{RepoKey: "libs", Path: "b.jar"}
	other := types.ArtifactRef{RepoKey: "other", Path: "a.jar"}
	require.NoError(t, store.SetProperty(ctx, a, "status", "PENDING"))
	require.NoError(t, store.SetProperty(ctx, a, "forge", "maven"))
	require.NoError(t, store.SetProperty(ctx, b, "status", "SUCCESS"))
	require.NoError(t, store.SetProperty(ctx, other, "status", "PENDING"))

	tests := []struct {
		name   string
		values map[string]string
		want   []types.ArtifactRef
	}{
		{name: "exact value", values: map[string]string{"status": "PENDING"}, want: []types.ArtifactRef{a}},
		{name: "any value", values: map[string]string{"status": ports.AnyValue}, want: []types.ArtifactRef{a, b}},
		{name: "all must match", values: map[string]string{"status": ports.AnyValue, "forge": "maven"}, want: []types.ArtifactRef{a}},
		{name: "no match", values: map[string]string{"status": "FAILURE"}, want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.FindByPropertyValues(ctx, "libs", tt.values)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("FindByPropertyValues mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMemoryStoreFindByNamePatternSkipsFolders(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryPropertyStore()
	jar := types.ArtifactRef{RepoKey: "libs", Path: "com/acme/lib-1.0.jar"}
	pom := types.ArtifactRef{RepoKey: "libs", Path: "com/acme/lib-1.0.pom"}
	folder := types.ArtifactRef{RepoKey: "libs", Path: "com/acme/dir.jar"}
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: jar}))
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: pom}))
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: folder, Folder: true}))

	got, err := store.FindByNamePattern(ctx, "libs", "*.jar")
	require.NoError(t, err)
	assert.Equal(t, []types.ArtifactRef{jar}, got)

	_, err = store.FindByNamePattern(ctx, "libs", "[")
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
}

func TestMemoryStoreItemMetadata(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryPropertyStore()
	ref := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}

	_, err := store.LastModified(ctx, ref)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))

	folder, err := store.IsFolder(ctx, types.RepoRef("libs"))
	require.NoError(t, err)
	assert.True(t, folder)

	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.PutItem(ctx, types.ItemInfo{Ref: ref, LastModified: modified}))
	got, err := store.LastModified(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, modified, got)
	folder, err = store.IsFolder(ctx, ref)
	require.NoError(t, err)
	assert.False(t, folder)
}

func TestMemoryStoreCopyAndMove(t *testing.T) {
	ctx := t.Context()
	store := NewMemoryPropertyStore()
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return now }
	source := types.ArtifactRef{RepoKey: "libs", Path: "a.jar"}
	copied := types.ArtifactRef{RepoKey: "libs-copy", Path: "a.jar"}
	moved := types.ArtifactRef{RepoKey: "libs-moved", Path: "a.jar"}
	require.NoError(t, store.SetProperty(ctx, source, "status", "SUCCESS"))

	require.NoError(t, store.CopyItem(ctx, source, copied))
	value, ok, err := store.GetProperty(ctx, copied, "status")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "SUCCESS", value)
	_, ok, err = store.GetProperty(ctx, source, "status")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.MoveItem(ctx, source, moved))
	_, ok, err = store.GetProperty(ctx, source, "status")
	require.NoError(t, err)
	assert.False(t, ok)
	modified, err := store.LastModified(ctx, moved)
	require.NoError(t, err)
	assert.Equal(t, now, modified)

	err = store.MoveItem(ctx, source, moved)
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
}

func TestPropertySearchQuery(t *testing.T) {
	query, args := propertySearchQuery("libs", map[string]string{"b": ports.AnyValue, "a": "x"})
	want := `SELECT i.path FROM compliance_items i WHERE i.repo_key = $1` +
		` AND EXISTS (SELECT 1 FROM compliance_properties p WHERE p.repo_key = i.repo_key AND p.path = i.path AND p.key = $2 AND p.value = $3)` +
		` AND EXISTS (SELECT 1 FROM compliance_properties p WHERE p.repo_key = i.repo_key AND p.path = i.path AND p.key = $4)` +
		` ORDER BY i.path`
	assert.Equal(t, want, query)
	assert.Equal(t, []any{"libs", "a", "x", "b"}, args)
}

func TestStaticRepositories(t *testing.T) {
	repos := NewStaticRepositories(map[string]string{" libs ": "Maven", "blank": ""})
	packageType, ok, err := repos.PackageType(t.Context(), "libs")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "maven", packageType)

	_, ok, err = repos.PackageType(t.Context(), "blank")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = repos.PackageType(t.Context(), "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}
