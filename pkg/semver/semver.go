// Package semver parses and bumps MAJOR.MINOR.PATCH version strings
package semver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidVersion indicates the input is not a MAJOR.MINOR.PATCH version
var ErrInvalidVersion = errors.New("invalid semantic version")

// Version represents a parsed semantic version
type Version struct {
	Major int
	Minor int
	Patch int
}

// Parse parses a MAJOR.MINOR.PATCH string. A leading "v" is accepted
// and dropped; pre-release and build metadata are rejected because the
// bump operation has no defined semantics for them.
func Parse(s string) (Version, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimPrefix(raw, "v")
	if raw == "" {
		return Version{}, fmt.Errorf("%w: empty string", ErrInvalidVersion)
	}

	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q has %d components, want 3", ErrInvalidVersion, s, len(parts))
	}

	nums := make([]int, 3)
	for i, p := range parts {
		if p == "" || (len(p) > 1 && p[0] == '0') {
			return Version{}, fmt.Errorf("%w: component %q in %q", ErrInvalidVersion, p, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: component %q in %q", ErrInvalidVersion, p, s)
		}
		nums[i] = n
	}

	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String renders the version as MAJOR.MINOR.PATCH
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// BumpPatch returns the version with the patch component incremented
func (v Version) BumpPatch() Version {
	return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}
}

// Compare returns -1, 0, or 1 ordering v against other
func (v Version) Compare(other Version) int {
	if v.Major != other.Major {
		return sign(v.Major - other.Major)
	}
	if v.Minor != other.Minor {
		return sign(v.Minor - other.Minor)
	}
	return sign(v.Patch - other.Patch)
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	default:
		return 0
	}
}
