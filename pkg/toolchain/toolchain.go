// Package toolchain probes the host for the tools a manifest declares
package toolchain

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Info describes one tool found on the host
type Info struct {
	Name    string
	Path    string
	Version string
}

// probeTimeout bounds the version query so a hung tool cannot stall an
// operation.
const probeTimeout = 5 * time.Second

var versionPattern = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// Probe locates a tool on PATH and asks it for its version. A tool that
// is present but will not report a version still probes successfully,
// with an empty Version.
func Probe(ctx context.Context, name string) (Info, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return Info{}, fmt.Errorf("%s not found on PATH: %w", name, err)
	}

	return Info{
		Name:    name,
		Path:    path,
		Version: queryVersion(ctx, path),
	}, nil
}

// queryVersion extracts the first version number a tool prints about
// itself. Tools disagree about the flag and the output shape, so a
// failed query yields an empty string, not an error.
func queryVersion(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	// "go version" and "java -version" exist; --version covers the rest
	for _, flag := range []string{"--version", "-version", "version"} {
		cmd := exec.CommandContext(ctx, path, flag)
		output, err := cmd.CombinedOutput()
		if err != nil {
			continue
		}
		if match := versionPattern.FindString(firstLine(string(output))); match != "" {
			return match
		}
	}
	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// Satisfies reports whether an actual version satisfies a declared one.
// Declarations match by segment prefix: "3.12" accepts "3.12.1" but
// not "3.2.1".
func Satisfies(actual, declared string) bool {
	if declared == "" {
		return true
	}
	if actual == "" {
		return false
	}

	actualParts := strings.Split(actual, ".")
	declaredParts := strings.Split(declared, ".")
	if len(declaredParts) > len(actualParts) {
		return false
	}
	for i, part := range declaredParts {
		if actualParts[i] != part {
			return false
		}
	}
	return true
}

func (i Info) String() string {
	if i.Version == "" {
		return fmt.Sprintf("%s at %s", i.Name, i.Path)
	}
	return fmt.Sprintf("%s %s at %s", i.Name, i.Version, i.Path)
}
