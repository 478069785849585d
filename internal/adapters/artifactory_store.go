package adapters

import (
	"context"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

// ArtifactoryPropertyStore reads and writes item properties through the
// Artifactory storage and search REST API.
type ArtifactoryPropertyStore struct {
	client restClient
}

var _ ports.PropertyStore = ArtifactoryPropertyStore{}
var _ ports.RepositoryPort = ArtifactoryPropertyStore{}

func NewArtifactoryPropertyStore(endpoint string, token string, timeoutSec int, retries int, retryDelayMs int) ArtifactoryPropertyStore {
	return ArtifactoryPropertyStore{
		client: newRESTClient("artifactory", endpoint, token, timeoutSec, retries, retryDelayMs),
	}
}

type artifactoryProperties struct {
	Properties map[string][]string `json:"properties"`
}

type artifactoryItemInfo struct {
	Repo         string             `json:"repo"`
	Path         string             `json:"path"`
	LastModified string             `json:"lastModified"`
	Children     []artifactoryChild `json:"children"`
	Size         string             `json:"size"`
	Checksums    map[string]string  `json:"checksums"`
}

type artifactoryChild struct {
	URI    string `json:"uri"`
	Folder bool   `json:"folder"`
}

type artifactorySearchResults struct {
	Results []struct {
		URI string `json:"uri"`
	} `json:"results"`
}

type artifactoryRepository struct {
	Key         string `json:"key"`
	PackageType string `json:"packageType"`
}

func storagePath(ref types.ArtifactRef) string {
	segments := []string{"api", "storage", url.PathEscape(ref.RepoKey)}
	if !ref.IsRepoRoot() {
		for _, segment := range strings.Split(ref.Path, "/") {
			segments = append(segments, url.PathEscape(segment))
		}
	}
	return strings.Join(segments, "/")
}

// escapePropertyValue protects the characters Artifactory treats as
// separators in the properties query parameter.
func escapePropertyValue(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `,`, `\,`, `|`, `\|`, `=`, `\=`, `;`, `\;`)
	return replacer.Replace(value)
}

func (s ArtifactoryPropertyStore) GetProperty(ctx context.Context, ref types.ArtifactRef, key string) (string, bool, error) {
	resp, err := s.client.do(ctx, http.MethodGet, storagePath(ref)+"?properties="+url.QueryEscape(key), nil)
	if err != nil {
		return "", false, err
	}
	if resp.Status == http.StatusNotFound {
		return "", false, nil
	}
	if !resp.ok() {
		return "", false, s.client.statusError(resp)
	}
	var payload artifactoryProperties
	if err := s.client.decode(resp, &payload); err != nil {
		return "", false, err
	}
	values, ok := payload.Properties[key]
	if !ok {
		return "", false, nil
	}
	return strings.Join(values, ","), true, nil
}

func (s ArtifactoryPropertyStore) SetProperty(ctx context.Context, ref types.ArtifactRef, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("property key is empty")
	}
	query := "?recursive=0&properties=" + url.QueryEscape(key+"="+escapePropertyValue(value))
	resp, err := s.client.do(ctx, http.MethodPut, storagePath(ref)+query, nil)
	if err != nil {
		return err
	}
	if !resp.ok() {
		return s.client.statusError(resp)
	}
	return nil
}

func (s ArtifactoryPropertyStore) DeleteProperty(ctx context.Context, ref types.ArtifactRef, key string) error {
	query := "?recursive=0&properties=" + url.QueryEscape(key)
	resp, err := s.client.do(ctx, http.MethodDelete, storagePath(ref)+query, nil)
	if err != nil {
		return err
	}
	if resp.Status == http.StatusNotFound || resp.ok() {
		return nil
	}
	return s.client.statusError(resp)
}

func (s ArtifactoryPropertyStore) FindByPropertyValues(ctx context.Context, repoKey string, values map[string]string) ([]types.ArtifactRef, error) {
	query := url.Values{}
	for key, value := range values {
		// An empty value matches any value of the property.
		if value == ports.AnyValue {
			value = ""
		}
		query.Set(key, value)
	}
	query.Set("repos", repoKey)
	return s.search(ctx, "api/search/prop?"+query.Encode(), repoKey)
}

func (s ArtifactoryPropertyStore) FindByNamePattern(ctx context.Context, repoKey string, pattern string) ([]types.ArtifactRef, error) {
	compiled, err := compileNamePattern(pattern)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("name", pattern)
	query.Set("repos", repoKey)
	refs, err := s.search(ctx, "api/search/artifact?"+query.Encode(), repoKey)
	if err != nil {
		return nil, err
	}
	filtered := refs[:0]
	for _, ref := range refs {
		if !ref.IsRepoRoot() && compiled.Match(ref.Name()) {
			filtered = append(filtered, ref)
		}
	}
	return filtered, nil
}

func (s ArtifactoryPropertyStore) search(ctx context.Context, pathAndQuery string, repoKey string) ([]types.ArtifactRef, error) {
	resp, err := s.client.do(ctx, http.MethodGet, pathAndQuery, nil)
	if err != nil {
		return nil, err
	}
	if resp.Status == http.StatusNotFound {
		return nil, nil
	}
	if !resp.ok() {
		return nil, s.client.statusError(resp)
	}
	var payload artifactorySearchResults
	if err := s.client.decode(resp, &payload); err != nil {
		return nil, err
	}
	seen := map[types.ArtifactRef]struct{}{}
	var refs []types.ArtifactRef
	for _, result := range payload.Results {
		ref, ok := refFromStorageURI(result.URI)
		if !ok || ref.RepoKey != repoKey {
			continue
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
	return refs, nil
}

// refFromStorageURI turns ".../api/storage/<repo>/<path>" into a ref.
func refFromStorageURI(uri string) (types.ArtifactRef, bool) {
	_, rest, found := strings.Cut(uri, "/api/storage/")
	if !found {
		return types.ArtifactRef{}, false
	}
	unescaped, err := url.PathUnescape(rest)
	if err != nil {
		return types.ArtifactRef{}, false
	}
	ref, err := types.ParseArtifactRef(unescaped)
	if err != nil {
		return types.ArtifactRef{}, false
	}
	return ref, true
}

func (s ArtifactoryPropertyStore) itemInfo(ctx context.Context, ref types.ArtifactRef) (artifactoryItemInfo, bool, error) {
	resp, err := s.client.do(ctx, http.MethodGet, storagePath(ref), nil)
	if err != nil {
		return artifactoryItemInfo{}, false, err
	}
	if resp.Status == http.StatusNotFound {
		return artifactoryItemInfo{}, false, nil
	}
	if !resp.ok() {
		return artifactoryItemInfo{}, false, s.client.statusError(resp)
	}
	var info artifactoryItemInfo
	if err := s.client.decode(resp, &info); err != nil {
		return artifactoryItemInfo{}, false, err
	}
	return info, true, nil
}

func (s ArtifactoryPropertyStore) LastModified(ctx context.Context, ref types.ArtifactRef) (time.Time, error) {
	info, found, err := s.itemInfo(ctx, ref)
	if err != nil {
		return time.Time{}, err
	}
	if !found {
		return time.Time{}, itemNotFound(ref)
	}
	modified, ok := parseRemoteTime(info.LastModified)
	if !ok {
		return time.Time{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("artifactory returned no lastModified for " + ref.String())
	}
	return modified, nil
}

// IsFolder treats items listing children (and carrying no checksums) as
// folders.
func (s ArtifactoryPropertyStore) IsFolder(ctx context.Context, ref types.ArtifactRef) (bool, error) {
	if ref.IsRepoRoot() {
		return true, nil
	}
	info, found, err := s.itemInfo(ctx, ref)
	if err != nil || !found {
		return false, err
	}
	return info.Children != nil && len(info.Checksums) == 0, nil
}

// PackageType reads the package type of a repository; unknown repositories
// report found=false.
func (s ArtifactoryPropertyStore) PackageType(ctx context.Context, repoKey string) (string, bool, error) {
	resp, err := s.client.do(ctx, http.MethodGet, "api/repositories/"+url.PathEscape(repoKey), nil)
	if err != nil {
		return "", false, err
	}
	if resp.Status == http.StatusNotFound || resp.Status == http.StatusBadRequest {
		return "", false, nil
	}
	if !resp.ok() {
		return "", false, s.client.statusError(resp)
	}
	var repo artifactoryRepository
	if err := s.client.decode(resp, &repo); err != nil {
		return "", false, err
	}
	packageType := strings.ToLower(strings.TrimSpace(repo.PackageType))
	return packageType, packageType != "", nil
}
