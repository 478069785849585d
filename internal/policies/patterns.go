package policies

import (
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gobwas/glob"
)

// PatternSet matches file names against shell-style wildcards.
type PatternSet struct {
	raw   []string
	globs []glob.Glob
}

func NewPatternSet(patterns []string) (PatternSet, error) {
	set := PatternSet{}
	for _, pattern := range patterns {
		trimmed := strings.TrimSpace(pattern)
		if trimmed == "" {
			continue
		}
		compiled, err := glob.Compile(trimmed)
		if err != nil {
			return PatternSet{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid pattern " + trimmed).
				WithCause(err)
		}
		set.raw = append(set.raw, trimmed)
		set.globs = append(set.globs, compiled)
	}
	return set, nil
}

func (p PatternSet) Empty() bool {
	return len(p.globs) == 0
}

func (p PatternSet) Patterns() []string {
	return append([]string(nil), p.raw...)
}

func (p PatternSet) Match(name string) bool {
	for _, compiled := range p.globs {
		if compiled.Match(name) {
			return true
		}
	}
	return false
}

// RepoMatcher matches artifacts by repository key or by a repo/branch
// prefix of their path. '*' does not cross path segments.
type RepoMatcher struct {
	globs []glob.Glob
}

func NewRepoMatcher(entries []string) (RepoMatcher, error) {
	matcher := RepoMatcher{}
	for _, entry := range entries {
		trimmed := strings.Trim(strings.TrimSpace(entry), "/")
		if trimmed == "" {
			continue
		}
		compiled, err := glob.Compile(trimmed, '/')
		if err != nil {
			return RepoMatcher{}, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg("invalid repository pattern " + trimmed).
				WithCause(err)
		}
		matcher.globs = append(matcher.globs, compiled)
	}
	return matcher, nil
}

func (m RepoMatcher) Empty() bool {
	return len(m.globs) == 0
}

// Match tests every segment-aligned prefix of repoKey/path.
func (m RepoMatcher) Match(repoKey string, artifactPath string) bool {
	candidates := []string{repoKey}
	prefix := repoKey
	for _, segment := range strings.Split(strings.Trim(artifactPath, "/"), "/") {
		if segment == "" {
			continue
		}
		prefix += "/" + segment
		candidates = append(candidates, prefix)
	}
	for _, compiled := range m.globs {
		for _, candidate := range candidates {
			if compiled.Match(candidate) {
				return true
			}
		}
	}
	return false
}
