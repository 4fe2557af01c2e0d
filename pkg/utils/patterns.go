// Package utils provides glob matching for watch paths and exclusions.
package utils

import (
	"path/filepath"
	"regexp"
	"strings"
)

// PatternMatcher matches paths against the manifest's watch globs
type PatternMatcher struct {
	patterns []string
	regexps  []*regexp.Regexp
}

// NewPatternMatcher compiles the watch patterns
func NewPatternMatcher(patterns []string) (*PatternMatcher, error) {
	// Expand patterns to include variations
	var expandedPatterns []string
	for _, pattern := range patterns {
		expandedPatterns = append(expandedPatterns, ExpandPattern(pattern)...)
	}

	pm := &PatternMatcher{
		patterns: expandedPatterns,
		regexps:  make([]*regexp.Regexp, 0, len(expandedPatterns)),
	}

	for _, pattern := range expandedPatterns {
		regex, err := pm.globToRegex(pattern)
		if err != nil {
			return nil, err
		}
		pm.regexps = append(pm.regexps, regex)
	}

	return pm, nil
}

// Match checks if a path matches any pattern
func (pm *PatternMatcher) Match(path string) bool {
	// Normalize path separators
	path = filepath.ToSlash(path)

	for _, regex := range pm.regexps {
		if regex.MatchString(path) {
			return true
		}
	}

	return false
}

// MatchingPaths returns the subset of paths that match any pattern
func (pm *PatternMatcher) MatchingPaths(paths []string) []string {
	var matches []string
	for _, path := range paths {
		if pm.Match(path) {
			matches = append(matches, path)
		}
	}
	return matches
}

// globToRegex converts a glob pattern to a regular expression
func (pm *PatternMatcher) globToRegex(pattern string) (*regexp.Regexp, error) {
	// Normalize pattern
	pattern = filepath.ToSlash(pattern)

	// Escape regex special characters except glob wildcards
	var regex strings.Builder
	regex.WriteString("^")

	i := 0
	for i < len(pattern) {
		switch pattern[i] {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				// ** matches any number of directories
				if i+2 < len(pattern) && pattern[i+2] == '/' {
					regex.WriteString(".*")
					i += 3 // Skip **/
				} else {
					regex.WriteString(".*")
					i += 2 // Skip **
				}
			} else {
				// * matches any characters except /
				regex.WriteString("[^/]*")
				i++
			}
		case '?':
			// ? matches any single character except /
			regex.WriteString("[^/]")
			i++
		case '[':
			// Character class
			j := i + 1
			if j < len(pattern) && pattern[j] == '!' {
				regex.WriteString("[^")
				j++
			} else {
				regex.WriteString("[")
			}

			for j < len(pattern) && pattern[j] != ']' {
				if pattern[j] == '\\' && j+1 < len(pattern) {
					regex.WriteByte(pattern[j])
					regex.WriteByte(pattern[j+1])
					j += 2
				} else {
					regex.WriteByte(pattern[j])
					j++
				}
			}

			if j < len(pattern) {
				regex.WriteByte(']')
				i = j + 1
			} else {
				// Unclosed bracket, treat as literal
				regex.WriteString("\\[")
				i++
			}
		case '\\':
			// Escape character
			if i+1 < len(pattern) {
				regex.WriteByte('\\')
				regex.WriteByte(pattern[i+1])
				i += 2
			} else {
				regex.WriteString("\\\\")
				i++
			}
		case '.', '+', '^', '$', '(', ')', '{', '}', '|':
			// Escape regex special characters
			regex.WriteByte('\\')
			regex.WriteByte(pattern[i])
			i++
		default:
			regex.WriteByte(pattern[i])
			i++
		}
	}

	regex.WriteString("$")

	return regexp.Compile(regex.String())
}

// ExpandPattern expands a pattern to include common variations
func ExpandPattern(pattern string) []string {
	patterns := []string{pattern}

	// A bare directory name also matches everything under it
	if !strings.Contains(pattern, "*") && !strings.Contains(pattern, ".") {
		patterns = append(patterns, pattern+"/**/*")
	} else if !strings.HasPrefix(pattern, "**") && !strings.HasPrefix(pattern, "/") {
		// A bare file pattern matches at any depth
		patterns = append(patterns, "**/"+pattern)
	}

	return patterns
}

// ExclusionMatcher filters paths the watcher must never react to
type ExclusionMatcher struct {
	patterns []string
	matcher  *PatternMatcher
}

// NewExclusionMatcher compiles exclusion patterns. A bare name excludes
// both the path itself and, for directories, the whole subtree.
func NewExclusionMatcher(patterns []string) (*ExclusionMatcher, error) {
	var allPatterns []string
	for _, pattern := range patterns {
		if !strings.Contains(pattern, "*") && !strings.Contains(pattern, "/") {
			allPatterns = append(allPatterns, "**/"+pattern+"/**", "**/"+pattern)
		} else {
			allPatterns = append(allPatterns, pattern)
		}
	}

	matcher, err := NewPatternMatcher(allPatterns)
	if err != nil {
		return nil, err
	}

	return &ExclusionMatcher{
		patterns: patterns,
		matcher:  matcher,
	}, nil
}

// IsExcluded checks if a path should be excluded
func (em *ExclusionMatcher) IsExcluded(path string) bool {
	return em.matcher.Match(path)
}

// DefaultExclusions returns the directories and files watch mode skips.
// The state directory and build outputs are always here: reacting to
// our own writes would re-trigger the operation forever.
func DefaultExclusions() []string {
	return []string{
		".slipway",
		".git",
		".svn",
		".hg",
		"dist",
		"build",
		"node_modules",
		"vendor",
		".venv",
		"venv",
		".tox",
		"__pycache__",
		".pytest_cache",
		".mypy_cache",
		".ruff_cache",
		"htmlcov",
		".coverage",
		"coverage.xml",
		"*.egg-info",
		"*.pyc",
		".idea",
		".vscode",
		"*.swp",
		"*~",
		".DS_Store",
		"*.log",
		"*.tmp",
	}
}
