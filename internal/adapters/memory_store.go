package adapters

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gobwas/glob"

	"compliance-gate/internal/ports"
	"compliance-gate/internal/types"
)

type memoryItem struct {
	folder       bool
	lastModified time.Time
	props        map[string]string
}

// MemoryPropertyStore keeps items and their properties in process memory.
type MemoryPropertyStore struct {
	mu    sync.RWMutex
	items map[types.ArtifactRef]*memoryItem
	now   func() time.Time
}

var _ ports.PropertyStore = (*MemoryPropertyStore)(nil)
var _ ports.ItemIndexPort = (*MemoryPropertyStore)(nil)

func NewMemoryPropertyStore() *MemoryPropertyStore {
	return &MemoryPropertyStore{
		items: map[types.ArtifactRef]*memoryItem{},
		now:   time.Now,
	}
}

// item returns the entry for ref, creating it when create is set.
func (s *MemoryPropertyStore) item(ref types.ArtifactRef, create bool) *memoryItem {
	entry, ok := s.items[ref]
	if ok || !create {
		return entry
	}
	entry = &memoryItem{
		folder:       ref.IsRepoRoot(),
		lastModified: s.now().UTC(),
		props:        map[string]string{},
	}
	s.items[ref] = entry
	return entry
}

func (s *MemoryPropertyStore) GetProperty(_ context.Context, ref types.ArtifactRef, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.item(ref, false)
	if entry == nil {
		return "", false, nil
	}
	value, ok := entry.props[key]
	return value, ok, nil
}

func (s *MemoryPropertyStore) SetProperty(_ context.Context, ref types.ArtifactRef, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("property key is empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.item(ref, true).props[key] = value
	return nil
}

func (s *MemoryPropertyStore) DeleteProperty(_ context.Context, ref types.ArtifactRef, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry := s.item(ref, false); entry != nil {
		delete(entry.props, key)
	}
	return nil
}

func (s *MemoryPropertyStore) FindByPropertyValues(_ context.Context, repoKey string, values map[string]string) ([]types.ArtifactRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []types.ArtifactRef
	for ref, entry := range s.items {
		if ref.RepoKey != repoKey || !propertiesMatch(entry.props, values) {
			continue
		}
		refs = append(refs, ref)
	}
	sortRefs(refs)
	return refs, nil
}

func (s *MemoryPropertyStore) FindByNamePattern(_ context.Context, repoKey string, pattern string) ([]types.ArtifactRef, error) {
	compiled, err := compileNamePattern(pattern)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var refs []types.ArtifactRef
	for ref, entry := range s.items {
		if ref.RepoKey != repoKey || ref.IsRepoRoot() || entry.folder {
			continue
		}
		if compiled.Match(ref.Name()) {
			refs = append(refs, ref)
		}
	}
	sortRefs(refs)
	return refs, nil
}

func (s *MemoryPropertyStore) LastModified(_ context.Context, ref types.ArtifactRef) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.item(ref, false)
	if entry == nil {
		return time.Time{}, itemNotFound(ref)
	}
	return entry.lastModified, nil
}

func (s *MemoryPropertyStore) IsFolder(_ context.Context, ref types.ArtifactRef) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry := s.item(ref, false)
	if entry == nil {
		return ref.IsRepoRoot(), nil
	}
	return entry.folder, nil
}

func (s *MemoryPropertyStore) PutItem(_ context.Context, item types.ItemInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.item(item.Ref, true)
	entry.folder = item.Folder
	if !item.LastModified.IsZero() {
		entry.lastModified = item.LastModified.UTC()
	}
	return nil
}

func (s *MemoryPropertyStore) CopyItem(_ context.Context, from types.ArtifactRef, to types.ArtifactRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	source := s.item(from, false)
	if source == nil {
		return itemNotFound(from)
	}
	target := s.item(to, true)
	target.folder = source.folder
	target.lastModified = s.now().UTC()
	target.props = map[string]string{}
	for key, value := range source.props {
		target.props[key] = value
	}
	return nil
}

func (s *MemoryPropertyStore) MoveItem(ctx context.Context, from types.ArtifactRef, to types.ArtifactRef) error {
	if err := s.CopyItem(ctx, from, to); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, from)
	return nil
}

// propertiesMatch reports whether props holds every wanted value; AnyValue
// only requires presence.
func propertiesMatch(props map[string]string, wanted map[string]string) bool {
	for key, value := range wanted {
		actual, ok := props[key]
		if !ok {
			return false
		}
		if value != ports.AnyValue && actual != value {
			return false
		}
	}
	return true
}

func compileNamePattern(pattern string) (glob.Glob, error) {
	compiled, err := glob.Compile(strings.TrimSpace(pattern))
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid name pattern " + pattern).
			WithCause(err)
	}
	return compiled, nil
}

func itemNotFound(ref types.ArtifactRef) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeNotFound).
		WithMsg("item not found: " + ref.String())
}

func sortRefs(refs []types.ArtifactRef) {
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].RepoKey != refs[j].RepoKey {
			return refs[i].RepoKey < refs[j].RepoKey
		}
		return refs[i].Path < refs[j].Path
	})
}
