package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway/slipway/internal/engine"
	"github.com/slipway/slipway/pkg/lockfile"
	"github.com/slipway/slipway/pkg/types"
	"github.com/slipway/slipway/pkg/validation"
)

// preflightManifest surfaces manifest problems before the engine spins
// up. Warnings print but do not block; errors do.
func preflightManifest(manifest *types.Manifest) error {
	result := validation.NewManifestValidator(projectRoot).Validate(manifest)

	for _, issue := range result.Warnings() {
		printWarning(issue.String())
	}
	if !result.Valid {
		first := result.Failures()[0]
		return fmt.Errorf("manifest is not usable: %s", first.String())
	}
	return nil
}

func newWatchCmd() *cobra.Command {
	var operationName string
	var skipInitial bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-run an operation whenever watched files change",
		Long: `Start watch mode. Slipway monitors the manifest's watch paths and
re-runs the configured operation (default: test) each time changes settle.

An operation passed with --operation overrides the manifest for this
session only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(operationName, skipInitial)
		},
	}

	cmd.Flags().StringVarP(&operationName, "operation", "o", "", "operation to re-run on change")
	cmd.Flags().BoolVar(&skipInitial, "skip-initial", false, "wait for the first change instead of running immediately")

	return cmd
}

func runWatch(operationName string, skipInitial bool) error {
	// Create root context for the entire watch session
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manifest, manifestPath, err := loadManifest()
	if err != nil {
		return err
	}

	if operationName != "" {
		entry, ok := lookupOperation(operationName)
		if !ok {
			return fmt.Errorf("unknown operation: %s (see 'slipway list')", operationName)
		}
		if manifest.Watch == nil {
			manifest.Watch = &types.WatchConfig{}
		}
		manifest.Watch.Operation = entry.Operation
	}

	if err := preflightManifest(manifest); err != nil {
		return err
	}

	// One watch supervisor per project; a second invocation names the
	// process that already holds the claim.
	lock, err := lockfile.Acquire(projectRoot)
	if err != nil {
		return err
	}
	defer lock.Release()

	log := newLogger(manifest)

	// Create dependency factory and build dependencies
	factory := engine.NewDependencyFactory(projectRoot, log, manifest)
	deps, err := factory.CreateDefaults()
	if err != nil {
		return err
	}
	if deps.History != nil {
		defer deps.History.Close()
	}

	eng := engine.New(manifest, manifestPath, projectRoot, log, deps)
	eng.SkipInitialRun = skipInitial

	printInfo(fmt.Sprintf("Starting Slipway v%s", version))
	printInfo(fmt.Sprintf("Re-running %s on change", manifest.WatchOperation()))

	if err := eng.StartWithContext(ctx); err != nil {
		return fmt.Errorf("failed to start watch mode: %w", err)
	}

	// Handle shutdown signals with proper context cancellation
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-sigChan
	printInfo(fmt.Sprintf("Received signal: %s", sig))

	// Cancel context to trigger graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	printInfo("Shutting down gracefully...")
	eng.StopWithContext(shutdownCtx)

	if err := eng.Cleanup(); err != nil {
		printWarning(fmt.Sprintf("Cleanup error: %v", err))
	}

	printSuccess("Watch mode stopped gracefully")
	return nil
}
