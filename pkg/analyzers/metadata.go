// Package analyzers reads the metadata files ecosystems keep about
// their own projects
package analyzers

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// ProjectMetadata is what an ecosystem's own manifest says about the
// project.
type ProjectMetadata struct {
	Name    string
	Version string
	Source  string
}

// MetadataAnalyzer extracts and rewrites project metadata
type MetadataAnalyzer struct {
	projectRoot string
}

// NewMetadataAnalyzer creates an analyzer for the given project root
func NewMetadataAnalyzer(projectRoot string) *MetadataAnalyzer {
	return &MetadataAnalyzer{
		projectRoot: projectRoot,
	}
}

// Analyze probes the known metadata files in priority order and returns
// the first one found.
func (a *MetadataAnalyzer) Analyze() (*ProjectMetadata, error) {
	probes := []struct {
		file string
		read func(path string) (*ProjectMetadata, error)
	}{
		{"pyproject.toml", a.readPyproject},
		{"package.json", a.readPackageJSON},
		{"Cargo.toml", a.readCargo},
	}

	for _, probe := range probes {
		path := filepath.Join(a.projectRoot, probe.file)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		meta, err := probe.read(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", probe.file, err)
		}
		meta.Source = probe.file
		return meta, nil
	}

	return nil, fmt.Errorf("no project metadata file found in %s", a.projectRoot)
}

func (a *MetadataAnalyzer) readPyproject(path string) (*ProjectMetadata, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	meta := &ProjectMetadata{
		Name:    v.GetString("project.name"),
		Version: v.GetString("project.version"),
	}

	// Poetry keeps its metadata under [tool.poetry] instead of [project]
	if meta.Name == "" {
		meta.Name = v.GetString("tool.poetry.name")
	}
	if meta.Version == "" {
		meta.Version = v.GetString("tool.poetry.version")
	}

	return meta, nil
}

func (a *MetadataAnalyzer) readPackageJSON(path string) (*ProjectMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var pkg struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		return nil, err
	}

	return &ProjectMetadata{Name: pkg.Name, Version: pkg.Version}, nil
}

func (a *MetadataAnalyzer) readCargo(path string) (*ProjectMetadata, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	return &ProjectMetadata{
		Name:    v.GetString("package.name"),
		Version: v.GetString("package.version"),
	}, nil
}

// versionRules locates the version declaration line per file kind. TOML
// rules only apply inside the named sections so a pinned dependency
// version is never touched.
var versionRules = map[string]struct {
	line     *regexp.Regexp
	sections map[string]bool
}{
	"pyproject.toml": {
		line:     regexp.MustCompile(`^(\s*version\s*=\s*")[^"]*(")`),
		sections: map[string]bool{"project": true, "tool.poetry": true},
	},
	"Cargo.toml": {
		line:     regexp.MustCompile(`^(\s*version\s*=\s*")[^"]*(")`),
		sections: map[string]bool{"package": true},
	},
	"package.json": {
		line: regexp.MustCompile(`^(\s*"version"\s*:\s*")[^"]*(")`),
	},
}

var tomlSectionPattern = regexp.MustCompile(`^\s*\[([^\]]+)\]`)

// SyncVersion rewrites the version declaration in the metadata file so
// the ecosystem's own build tooling agrees with the manifest. Only the
// matching line changes; every other byte is preserved.
func (a *MetadataAnalyzer) SyncVersion(meta *ProjectMetadata, version string) error {
	rule, ok := versionRules[meta.Source]
	if !ok {
		return fmt.Errorf("no version rewrite rule for %s", meta.Source)
	}

	path := filepath.Join(a.projectRoot, meta.Source)
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(string(data), "\n")
	section := ""
	replaced := false

	for i, line := range lines {
		if matches := tomlSectionPattern.FindStringSubmatch(line); matches != nil {
			section = matches[1]
			continue
		}
		if rule.sections != nil && !rule.sections[section] {
			continue
		}
		if rule.line.MatchString(line) {
			lines[i] = rule.line.ReplaceAllString(line, "${1}"+version+"${2}")
			replaced = true
			break
		}
	}

	if !replaced {
		return fmt.Errorf("no version declaration found in %s", meta.Source)
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")), 0644)
}
