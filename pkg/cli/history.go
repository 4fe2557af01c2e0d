package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway/slipway/internal/history"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	var operationName string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the history ledger",
		Long:  `List recent operation runs recorded in .slipway/history.db, newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(limit, operationName)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs to show")
	cmd.Flags().StringVarP(&operationName, "operation", "o", "", "only show runs of one operation")

	cmd.AddCommand(newHistoryShowCmd())
	cmd.AddCommand(newHistoryPruneCmd())

	return cmd
}

func newHistoryShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one recorded run in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryShow(args[0])
		},
	}
}

func newHistoryPruneCmd() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop all but the newest runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistoryPrune(keep)
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 100, "number of runs to keep")

	return cmd
}

func runHistory(limit int, operationName string) error {
	ledger, err := history.Open(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer ledger.Close()

	var records []history.Record
	if operationName != "" {
		operation, err := parseOperation(operationName)
		if err != nil {
			return err
		}
		records, err = ledger.ListByOperation(operation, limit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	} else {
		records, err = ledger.List(limit)
		if err != nil {
			return fmt.Errorf("failed to list runs: %w", err)
		}
	}

	if len(records) == 0 {
		printWarning("No recorded runs yet")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tOPERATION\tSTATUS\tVERSION\tSTARTED\tDURATION")
	fmt.Fprintln(w, "---\t---------\t------\t-------\t-------\t--------")

	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.RunID,
			rec.Operation,
			colorStatus(rec.Status),
			orDash(rec.Version),
			rec.StartedAt.Format("2006-01-02 15:04:05"),
			rec.Duration.Round(time.Millisecond),
		)
	}

	w.Flush()
	return nil
}

func runHistoryShow(runID string) error {
	ledger, err := history.Open(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer ledger.Close()

	rec, err := ledger.Get(runID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", rec.RunID)
	fmt.Fprintf(w, "Operation:\t%s\n", rec.Operation)
	fmt.Fprintf(w, "Status:\t%s\n", colorStatus(rec.Status))
	if rec.Stage != "" {
		fmt.Fprintf(w, "Stage:\t%s\n", rec.Stage)
	}
	if rec.Version != "" {
		fmt.Fprintf(w, "Version:\t%s\n", rec.Version)
	}
	fmt.Fprintf(w, "Started:\t%s\n", rec.StartedAt.Format(time.RFC3339))
	if !rec.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Finished:\t%s\n", rec.FinishedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Duration:\t%s\n", rec.Duration.Round(time.Millisecond))
	if rec.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", rec.Error)
	}
	w.Flush()

	if len(rec.Artifacts) > 0 {
		fmt.Println()
		aw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(aw, "ARTIFACT\tSIZE\tSHA256")
		for _, artifact := range rec.Artifacts {
			fmt.Fprintf(aw, "%s\t%d\t%s\n", artifact.Name, artifact.Size, shortDigest(artifact.SHA256))
		}
		aw.Flush()
	}

	return nil
}

func runHistoryPrune(keep int) error {
	ledger, err := history.Open(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer ledger.Close()

	pruned, err := ledger.Prune(keep)
	if err != nil {
		return fmt.Errorf("failed to prune history: %w", err)
	}

	printSuccess(fmt.Sprintf("Pruned %d run(s), kept the newest %d", pruned, keep))
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
