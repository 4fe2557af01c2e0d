package cli

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/slipway/slipway/pkg/analyzers"
	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/semver"
	"github.com/slipway/slipway/pkg/types"
)

func newInitCmd() *cobra.Command {
	var projectType string
	var auto bool
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a slipway manifest for this project",
		Long: `Create slipway.config.json in the project root. The project type is
detected from marker files (pyproject.toml, package.json, Cargo.toml,
go.mod) and the manifest is seeded with that ecosystem's default commands.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(projectType, auto, force)
		},
	}

	cmd.Flags().StringVarP(&projectType, "type", "t", "", "project type (python, node, rust, go, mixed)")
	cmd.Flags().BoolVar(&auto, "auto", false, "accept all defaults without prompting")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing manifest")

	return cmd
}

func runInit(projectType string, auto, force bool) error {
	manifestPath := cfgFile
	if manifestPath == "" {
		manifestPath = filepath.Join(projectRoot, config.DefaultManifestNames[0])
	}

	// Check if a manifest already exists
	if existing, err := config.Discover(projectRoot); err == nil && !force {
		return fmt.Errorf("manifest already exists at %s; use --force to overwrite", existing)
	}

	detected := types.ProjectType(projectType)
	if detected != "" {
		if !validProjectTypes[detected] {
			return fmt.Errorf("invalid project type: %s (python, node, rust, go, mixed)", projectType)
		}
	} else {
		detected = detectProjectType(projectRoot)
		if detected != "" {
			printInfo(fmt.Sprintf("Detected project type: %s", detected))
		} else {
			detected = types.ProjectTypeMixed
			printInfo("Could not detect the project type, using 'mixed'")
		}
	}

	name := defaultProjectName()
	version := ""
	if meta, err := analyzers.NewMetadataAnalyzer(projectRoot).Analyze(); err == nil {
		if meta.Name != "" {
			name = meta.Name
		}
		version = meta.Version
		printInfo(fmt.Sprintf("Seeding project metadata from %s", meta.Source))
	}
	if !auto {
		name = prompt(fmt.Sprintf("Project name [%s]: ", name), name)
	}

	manager := config.NewManager()
	manifest := manager.GetDefaultManifest(detected, name)
	if version != "" {
		if _, err := semver.Parse(version); err == nil {
			manifest.Project.Version = version
		} else {
			printWarning(fmt.Sprintf("Ignoring version %q from project metadata: %v", version, err))
		}
	}

	if err := manager.SaveManifest(manifestPath, manifest); err != nil {
		return err
	}

	printSuccess(fmt.Sprintf("Created manifest at %s", manifestPath))
	printInfo("Edit the manifest to match your build and test commands")
	return nil
}

var validProjectTypes = map[types.ProjectType]bool{
	types.ProjectTypePython: true,
	types.ProjectTypeNode:   true,
	types.ProjectTypeRust:   true,
	types.ProjectTypeGo:     true,
	types.ProjectTypeMixed:  true,
}

// detectProjectType maps marker files onto ecosystems. Order matters:
// a Python project with a Makefile is still a Python project.
func detectProjectType(root string) types.ProjectType {
	markers := []struct {
		file        string
		projectType types.ProjectType
	}{
		{"pyproject.toml", types.ProjectTypePython},
		{"setup.py", types.ProjectTypePython},
		{"requirements.txt", types.ProjectTypePython},
		{"package.json", types.ProjectTypeNode},
		{"Cargo.toml", types.ProjectTypeRust},
		{"go.mod", types.ProjectTypeGo},
		{"Makefile", types.ProjectTypeMixed},
	}

	for _, marker := range markers {
		if _, err := os.Stat(filepath.Join(root, marker.file)); err == nil {
			return marker.projectType
		}
	}
	return ""
}

// defaultProjectName derives a name from the project root directory
func defaultProjectName() string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return "project"
	}
	name := filepath.Base(abs)
	if name == "/" || name == "." {
		return "project"
	}
	return name
}

func prompt(message, fallback string) string {
	fmt.Print(message)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fallback
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fallback
	}
	return line
}
