package core

import (
	"context"
	"strings"

	pep440 "github.com/aquasecurity/go-pep440-version"
	debversion "github.com/knqyf263/go-deb-version"
	"github.com/rs/zerolog/log"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/shared"
	"compliance-gate/internal/types"
)

const (
	ForgeMaven    = "maven"
	ForgeNpm      = "npmjs"
	ForgePypi     = "pypi"
	ForgeNuget    = "nuget"
	ForgeRubygems = "rubygems"
	ForgeDebian   = "debian"
)

// IdentityResolver derives the component identity of an artifact from its
// persisted identity, its package properties or its file layout.
type IdentityResolver struct {
	Store ports.PropertyStore
	Facts Facts
}

func NewIdentityResolver(facts Facts) IdentityResolver {
	return IdentityResolver{Store: facts.Store, Facts: facts}
}

// Resolve returns ok=false when no identity can be derived. Errors are
// reserved for store failures.
func (r IdentityResolver) Resolve(ctx context.Context, packageType types.PackageType, ref types.ArtifactRef) (types.ComponentIdentity, bool, error) {
	persisted, ok, err := r.Facts.Identity(ctx, ref)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	if ok {
		return persisted, true, nil
	}
	return r.Derive(ctx, packageType, ref)
}

// Derive ignores any persisted identity; used for re-identification.
func (r IdentityResolver) Derive(ctx context.Context, packageType types.PackageType, ref types.ArtifactRef) (types.ComponentIdentity, bool, error) {
	var (
		identity types.ComponentIdentity
		ok       bool
		err      error
	)
	switch packageType {
	case types.PackageTypeMaven, types.PackageTypeGradle:
		identity, ok = mavenIdentity(ref.Path)
	case types.PackageTypeNpm:
		identity, ok, err = r.fromProperties(ctx, ref, ForgeNpm, types.PackagePropNpmName, types.PackagePropNpmVersion)
	case types.PackageTypeNuget:
		identity, ok, err = r.fromProperties(ctx, ref, ForgeNuget, types.PackagePropNugetID, types.PackagePropNugetVersion)
	case types.PackageTypeGems:
		identity, ok, err = r.fromProperties(ctx, ref, ForgeRubygems, types.PackagePropGemName, types.PackagePropGemVersion)
		if err == nil && !ok {
			identity, ok = gemFileIdentity(ref.Name())
		}
	case types.PackageTypePypi:
		identity, ok, err = r.pypiIdentity(ctx, ref)
	case types.PackageTypeDebian:
		identity, ok, err = r.debianIdentity(ctx, ref)
	}
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	if !ok {
		log.Ctx(ctx).Debug().Str("artifact", ref.String()).Str("package_type", string(packageType)).Msg("no component identity derivable")
	}
	return identity, ok, nil
}

func (r IdentityResolver) property(ctx context.Context, ref types.ArtifactRef, key string) (string, error) {
	value, ok, err := r.Store.GetProperty(ctx, ref, key)
	if err != nil || !ok {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

func (r IdentityResolver) fromProperties(ctx context.Context, ref types.ArtifactRef, forge string, nameKey string, versionKey string) (types.ComponentIdentity, bool, error) {
	name, err := r.property(ctx, ref, nameKey)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	version, err := r.property(ctx, ref, versionKey)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	if name == "" || version == "" {
		return types.ComponentIdentity{}, false, nil
	}
	return types.ComponentIdentity{Forge: forge, OriginID: name + "/" + version}, true, nil
}

func (r IdentityResolver) pypiIdentity(ctx context.Context, ref types.ArtifactRef) (types.ComponentIdentity, bool, error) {
	name, err := r.property(ctx, ref, types.PackagePropPypiName)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	version, err := r.property(ctx, ref, types.PackagePropPypiVersion)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	if name == "" || version == "" {
		name, version = splitPypiFileName(ref.Name())
	}
	if name == "" || version == "" {
		return types.ComponentIdentity{}, false, nil
	}
	parsed, err := pep440.Parse(version)
	if err != nil {
		return types.ComponentIdentity{}, false, nil
	}
	return types.ComponentIdentity{
		Forge:    ForgePypi,
		OriginID: shared.NormalizePypiName(name) + "/" + parsed.String(),
	}, true, nil
}

func (r IdentityResolver) debianIdentity(ctx context.Context, ref types.ArtifactRef) (types.ComponentIdentity, bool, error) {
	name, err := r.property(ctx, ref, types.PackagePropDebName)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	version, err := r.property(ctx, ref, types.PackagePropDebVersion)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	arch, err := r.property(ctx, ref, types.PackagePropDebArchitecture)
	if err != nil {
		return types.ComponentIdentity{}, false, err
	}
	if name == "" || version == "" || arch == "" {
		name, version, arch = splitDebFileName(ref.Name())
	}
	if name == "" || version == "" || arch == "" {
		return types.ComponentIdentity{}, false, nil
	}
	if _, err := debversion.NewVersion(version); err != nil {
		return types.ComponentIdentity{}, false, nil
	}
	return types.ComponentIdentity{Forge: ForgeDebian, OriginID: name + "/" + version + "/" + arch}, true, nil
}

// mavenIdentity reads group/artifact/version from a default-layout path:
// org/example/lib/1.0/lib-1.0.jar -> org.example:lib:1.0.
func mavenIdentity(artifactPath string) (types.ComponentIdentity, bool) {
	segments := strings.Split(strings.Trim(artifactPath, "/"), "/")
	if len(segments) < 4 {
		return types.ComponentIdentity{}, false
	}
	file := segments[len(segments)-1]
	version := segments[len(segments)-2]
	artifact := segments[len(segments)-3]
	group := strings.Join(segments[:len(segments)-3], ".")
	if !strings.HasPrefix(file, artifact+"-") {
		return types.ComponentIdentity{}, false
	}
	return types.ComponentIdentity{Forge: ForgeMaven, OriginID: group + ":" + artifact + ":" + version}, true
}

func gemFileIdentity(fileName string) (types.ComponentIdentity, bool) {
	base, found := strings.CutSuffix(fileName, ".gem")
	if !found {
		return types.ComponentIdentity{}, false
	}
	idx := strings.LastIndex(base, "-")
	if idx <= 0 || idx == len(base)-1 {
		return types.ComponentIdentity{}, false
	}
	return types.ComponentIdentity{Forge: ForgeRubygems, OriginID: base[:idx] + "/" + base[idx+1:]}, true
}

var sdistSuffixes = []string{".tar.gz", ".tar.bz2", ".zip", ".tgz"}

// splitPypiFileName handles wheels (name-version-tags.whl) and sdists
// (name-version.tar.gz), where the project name may itself contain dashes.
func splitPypiFileName(fileName string) (string, string) {
	if base, ok := strings.CutSuffix(fileName, ".whl"); ok {
		parts := strings.Split(base, "-")
		if len(parts) < 3 {
			return "", ""
		}
		return parts[0], parts[1]
	}
	for _, suffix := range sdistSuffixes {
		base, ok := strings.CutSuffix(fileName, suffix)
		if !ok {
			continue
		}
		for idx := strings.LastIndex(base, "-"); idx > 0; idx = strings.LastIndex(base[:idx], "-") {
			if _, err := pep440.Parse(base[idx+1:]); err == nil {
				return base[:idx], base[idx+1:]
			}
		}
		return "", ""
	}
	return "", ""
}

// splitDebFileName handles name_version_arch.deb.
func splitDebFileName(fileName string) (string, string, string) {
	base, ok := strings.CutSuffix(fileName, ".deb")
	if !ok {
		return "", "", ""
	}
	parts := strings.Split(base, "_")
	if len(parts) != 3 {
		return "", "", ""
	}
	return parts[0], parts[1], parts[2]
}
