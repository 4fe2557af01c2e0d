package cli

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	var lines int

	cmd := &cobra.Command{
		Use:   "logs [operation]",
		Short: "Show run logs",
		Long:  `Display logs from .slipway/logs for all operations or a single one.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			operationName := ""
			if len(args) > 0 {
				operationName = args[0]
			}
			return runLogs(operationName, follow, lines)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "number of lines to show")

	return cmd
}

func runLogs(operationName string, follow bool, lines int) error {
	logDir := filepath.Join(projectRoot, ".slipway", "logs")

	if _, err := os.Stat(logDir); os.IsNotExist(err) {
		printWarning("No logs found. Run an operation to start logging.")
		return nil
	}

	var logFiles []string
	if operationName != "" {
		operationLogFile := filepath.Join(logDir, fmt.Sprintf("%s.log", operationName))
		if _, err := os.Stat(operationLogFile); os.IsNotExist(err) {
			return fmt.Errorf("no logs found for operation: %s", operationName)
		}
		logFiles = []string{operationLogFile}
		printInfo(fmt.Sprintf("Showing logs for operation: %s", operationName))
	} else {
		entries, err := os.ReadDir(logDir)
		if err != nil {
			return fmt.Errorf("failed to read log directory: %w", err)
		}

		for _, entry := range entries {
			if !entry.IsDir() && filepath.Ext(entry.Name()) == ".log" {
				logFiles = append(logFiles, filepath.Join(logDir, entry.Name()))
			}
		}

		if len(logFiles) == 0 {
			printWarning("No log files found")
			return nil
		}
		printInfo("Showing all logs")
	}

	for _, logFile := range logFiles {
		if err := displayLogFile(logFile, lines, follow); err != nil {
			printError(fmt.Sprintf("Failed to display %s: %v", filepath.Base(logFile), err))
		}
	}

	return nil
}

func displayLogFile(logFile string, lines int, follow bool) error {
	if follow {
		// Use tail -f for following logs
		cmd := exec.Command("tail", "-f", "-n", fmt.Sprintf("%d", lines), logFile)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		// Handle interrupt gracefully
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt)
		go func() {
			<-sigChan
			if cmd.Process != nil {
				cmd.Process.Kill()
			}
		}()

		return cmd.Run()
	}

	content, err := readLastNLines(logFile, lines)
	if err != nil {
		return err
	}

	operationName := strings.TrimSuffix(filepath.Base(logFile), ".log")
	fmt.Printf("\n=== %s ===\n", operationName)
	fmt.Print(content)

	return nil
}

func readLastNLines(filename string, n int) (string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var allLines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		allLines = append(allLines, scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return "", err
	}

	start := 0
	if len(allLines) > n {
		start = len(allLines) - n
	}

	return strings.Join(allLines[start:], "\n") + "\n", nil
}
