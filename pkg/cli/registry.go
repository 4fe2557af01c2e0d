package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/slipway/slipway/internal/engine"
	"github.com/slipway/slipway/internal/orchestrator"
	"github.com/slipway/slipway/pkg/types"
)

type registryEntry struct {
	Operation   types.Operation
	Description string
}

// operationRegistry is the static table of one-shot operations. list
// renders it and the CLI registers one command per row.
var operationRegistry = []registryEntry{
	{types.OperationInstall, "Provision the toolchain and install dependency groups"},
	{types.OperationBuild, "Produce versioned artifacts with the manifest build command"},
	{types.OperationCleanBuild, "Remove the artifact output directory"},
	{types.OperationTest, "Run every declared test suite and collect coverage data"},
	{types.OperationCoverage, "Render the coverage report from the last test run"},
	{types.OperationBumpVersion, "Increment the manifest patch version"},
	{types.OperationCheck, "Validate lockfile, lint, and types, stopping at the first failure"},
}

// lookupOperation finds a registry row by operation name
func lookupOperation(name string) (registryEntry, bool) {
	for _, entry := range operationRegistry {
		if string(entry.Operation) == name {
			return entry, true
		}
	}
	return registryEntry{}, false
}

// parseOperation accepts any runnable operation name, including the
// release pipeline, which lives outside the registry.
func parseOperation(name string) (types.Operation, error) {
	if entry, ok := lookupOperation(name); ok {
		return entry.Operation, nil
	}
	if name == string(types.OperationRelease) {
		return types.OperationRelease, nil
	}
	return "", fmt.Errorf("unknown operation: %s (see 'slipway list')", name)
}

// newOperationCommands builds one cobra command per registry row
func newOperationCommands() []*cobra.Command {
	commands := make([]*cobra.Command, 0, len(operationRegistry))
	for _, entry := range operationRegistry {
		entry := entry
		commands = append(commands, &cobra.Command{
			Use:   string(entry.Operation),
			Short: entry.Description,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runOperation(entry.Operation)
			},
		})
	}
	return commands
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the operations slipway can run",
		Long:  `List every operation in the registry with its description.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList()
		},
	}
}

func runList() error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tDESCRIPTION")
	fmt.Fprintln(w, "---------\t-----------")

	for _, entry := range operationRegistry {
		fmt.Fprintf(w, "%s\t%s\n", entry.Operation, entry.Description)
	}

	w.Flush()
	return nil
}

// runOperation executes one registry operation against the project.
// SIGINT and SIGTERM cancel the run; the orchestrator records it as
// cancelled.
func runOperation(operation types.Operation) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	manifest, manifestPath, err := loadManifest()
	if err != nil {
		return err
	}

	log := newLogger(manifest)
	factory := engine.NewDependencyFactory(projectRoot, log, manifest)
	deps, err := factory.CreateDefaults()
	if err != nil {
		return err
	}
	if deps.History != nil {
		defer deps.History.Close()
	}

	orch := orchestrator.New(manifest, manifestPath, projectRoot, log, deps)
	return orch.Run(ctx, operation)
}
