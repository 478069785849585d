package types

import (
	"path"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
)

// ArtifactRef addresses an item inside a repository. An empty Path is the
// repository root, where repository-level facts are kept.
type ArtifactRef struct {
	RepoKey string `json:"repo" yaml:"repo"`
	Path    string `json:"path" yaml:"path"`
}

func RepoRef(repoKey string) ArtifactRef {
	return ArtifactRef{RepoKey: repoKey}
}

func ParseArtifactRef(value string) (ArtifactRef, error) {
	trimmed := strings.Trim(strings.TrimSpace(value), "/")
	if trimmed == "" {
		return ArtifactRef{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("artifact path is empty")
	}
	repo, rest, _ := strings.Cut(trimmed, "/")
	return ArtifactRef{RepoKey: repo, Path: cleanRelative(rest)}, nil
}

func (r ArtifactRef) IsRepoRoot() bool {
	return r.Path == ""
}

func (r ArtifactRef) Name() string {
	if r.Path == "" {
		return r.RepoKey
	}
	return path.Base(r.Path)
}

func (r ArtifactRef) String() string {
	if r.Path == "" {
		return r.RepoKey
	}
	return r.RepoKey + "/" + r.Path
}

func cleanRelative(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	cleaned := path.Clean("/" + value)
	return strings.TrimPrefix(cleaned, "/")
}

// ComponentIdentity is the (forge, origin id) pair used to correlate a local
// artifact with a remote component.
type ComponentIdentity struct {
	Forge    string `json:"forge"`
	OriginID string `json:"originId"`
}

func (c ComponentIdentity) IsZero() bool {
	return strings.TrimSpace(c.Forge) == "" || strings.TrimSpace(c.OriginID) == ""
}

func (c ComponentIdentity) String() string {
	return c.Forge + ":" + c.OriginID
}

type PolicyStatusReport struct {
	Status     PolicySummaryStatus
	Severities []PolicySeverity
}

type VulnerabilityAggregate struct {
	High   int
	Medium int
	Low    int
}

type Vulnerability struct {
	Name     string
	Severity string
}

// ItemInfo is the storage metadata of an artifact, as tracked by stores that
// own their item index.
type ItemInfo struct {
	Ref          ArtifactRef
	Folder       bool
	LastModified time.Time
}

type StorageEvent struct {
	Kind   StorageEventKind
	Ref    ArtifactRef
	Source ArtifactRef
}
