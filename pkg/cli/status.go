package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/slipway/slipway/internal/state"
	"github.com/slipway/slipway/pkg/lockfile"
	"github.com/slipway/slipway/pkg/types"
)

func newStatusCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest run of every operation",
		Long:  `Display the most recent recorded run of each operation: status, artifacts, and timing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(asJSON)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the state snapshots as JSON")

	return cmd
}

func runStatus(asJSON bool) error {
	manifest, _, err := loadManifest()
	if err != nil {
		return err
	}

	sm := state.NewStateManager(projectRoot, nil)
	states, err := sm.DiscoverStates()
	if err != nil {
		return fmt.Errorf("failed to discover states: %w", err)
	}

	if asJSON {
		data, err := json.MarshalIndent(states, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode states: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printInfo(fmt.Sprintf("%s v%s (%s)", manifest.Project.Name, manifest.Project.Version, manifest.ProjectType))
	if pid, held := lockfile.Owner(projectRoot); held {
		printInfo(fmt.Sprintf("Watch mode running (pid %d)", pid))
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tSTATUS\tLAST RUN\tARTIFACTS\tRUNS\tFAILURES")
	fmt.Fprintln(w, "---------\t------\t--------\t---------\t----\t--------")

	for _, entry := range operationRegistry {
		writeStatusRow(w, entry.Operation, states[entry.Operation])
	}
	// The release pipeline records state too, outside the registry.
	if st, ok := states[types.OperationRelease]; ok {
		writeStatusRow(w, types.OperationRelease, st)
	}

	w.Flush()
	return nil
}

func writeStatusRow(w *tabwriter.Writer, operation types.Operation, st *state.OperationState) {
	if st == nil {
		fmt.Fprintf(w, "%s\t%s\t-\t0\t0\t0\n", operation, color.WhiteString("idle"))
		return
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
		operation,
		colorStatus(st.Status),
		formatRunTime(st),
		len(st.Artifacts),
		st.SuccessCount+st.FailureCount,
		st.FailureCount,
	)
}

func colorStatus(status types.RunStatus) string {
	switch status {
	case types.RunStatusSucceeded:
		return color.GreenString(string(status))
	case types.RunStatusFailed:
		return color.RedString(string(status))
	case types.RunStatusRunning:
		return color.YellowString(string(status))
	case types.RunStatusCancelled:
		return color.YellowString(string(status))
	default:
		return color.WhiteString(string(status))
	}
}

func formatRunTime(st *state.OperationState) string {
	if !st.FinishedAt.IsZero() {
		return st.FinishedAt.Format("15:04:05")
	}
	if !st.StartedAt.IsZero() {
		return st.StartedAt.Format("15:04:05")
	}
	return "-"
}
