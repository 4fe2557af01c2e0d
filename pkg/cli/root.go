// Package cli provides the command-line interface for Slipway
package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/slipway/slipway/pkg/config"
	"github.com/slipway/slipway/pkg/logger"
	"github.com/slipway/slipway/pkg/types"
)

var (
	cfgFile     string
	projectRoot string
	verbosity   string
	logFile     string

	version   = "dev"
	buildSHA  = "none"
	buildDate = "unknown"
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Build, test, and release from one declarative manifest",
	Long: `📦 Slipway - One manifest for local builds and tag-triggered releases

Slipway reads a project manifest (slipway.config.json or .yaml) and runs
the operations it declares: provisioning the toolchain, building versioned
artifacts, running test suites, rendering coverage, validating the tree,
and publishing tagged releases to a package index.`,

	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			printVersion()
			return
		}
		cmd.Help()
	},
}

// Execute runs the CLI. The failure diagnostic has already been printed
// when this returns; the caller only decides the exit code.
func Execute(v, sha, date string) error {
	version = v
	buildSHA = sha
	buildDate = date

	initializeRootCommand()

	if err := rootCmd.Execute(); err != nil {
		printError(describeError(err))
		return err
	}
	return nil
}

// initializeRootCommand sets up the root command and its flags.
// This replaces the init() function to make initialization explicit and testable.
func initializeRootCommand() {
	cobra.OnInitialize(initConfig)

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "manifest file (default: slipway.config.json)")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "root", ".", "project root directory")
	rootCmd.PersistentFlags().StringVarP(&verbosity, "verbosity", "v", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this file")

	rootCmd.Flags().Bool("version", false, "Print version information and quit")

	// Add subcommands
	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newOperationCommands()...)
	rootCmd.AddCommand(newReleaseCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newHistoryCmd())
	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newIndexCmd())
	rootCmd.AddCommand(newVersionCmd())
}

func initConfig() {
	if cfgFile != "" {
		// Use manifest file from flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Search for the manifest in the project root
		viper.AddConfigPath(projectRoot)
		viper.SetConfigName("slipway.config")
		viper.SetConfigType("json")
	}

	// Read in environment variables
	viper.SetEnvPrefix("SLIPWAY")
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		if verbosity == "debug" {
			fmt.Println("Using manifest:", viper.ConfigFileUsed())
		}
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of Slipway",
		Long:  `Print the version number of Slipway`,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion()
		},
	}
}

func printVersion() {
	fmt.Printf("📦 Slipway v%s (commit %s, built %s)\n", version, buildSHA, buildDate)
}

// Helper functions

func printSuccess(message string) {
	fmt.Printf("📦 %s %s\n", color.GreenString("[Slipway]"), message)
}

func printError(message string) {
	fmt.Fprintf(os.Stderr, "📦 %s %s\n", color.RedString("[Slipway]"), message)
}

func printInfo(message string) {
	fmt.Printf("📦 %s %s\n", color.CyanString("[Slipway]"), message)
}

func printWarning(message string) {
	fmt.Printf("📦 %s %s\n", color.YellowString("[Slipway]"), message)
}

// loadManifest locates, parses, and validates the project manifest
func loadManifest() (*types.Manifest, string, error) {
	path := cfgFile
	if path == "" {
		discovered, err := config.Discover(projectRoot)
		if err != nil {
			return nil, "", err
		}
		path = discovered
	}

	manifest, err := config.NewManager().LoadManifest(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load manifest %s: %w", path, err)
	}
	return manifest, path, nil
}

// newLogger builds the operation logger. Flags win over the manifest's
// logging section.
func newLogger(manifest *types.Manifest) logger.Logger {
	level := verbosity
	file := logFile

	if manifest != nil && manifest.Logging != nil {
		if file == "" {
			file = manifest.Logging.File
		}
		if !rootCmd.PersistentFlags().Changed("verbosity") && manifest.Logging.Level != "" {
			level = string(manifest.Logging.Level)
		}
	}

	if file != "" && !filepath.IsAbs(file) {
		file = filepath.Join(projectRoot, file)
	}
	return logger.CreateLogger(file, level)
}

// resolveToken reads the index token exactly once, here at the CLI
// boundary. The token never enters the manifest, state, or logs.
func resolveToken(tokenFile string) (string, error) {
	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		token := strings.TrimSpace(string(data))
		if token == "" {
			return "", fmt.Errorf("token file %s is empty", tokenFile)
		}
		return token, nil
	}

	if token := os.Getenv("SLIPWAY_INDEX_TOKEN"); token != "" {
		return token, nil
	}

	return "", fmt.Errorf("no index token: pass --token-file or set SLIPWAY_INDEX_TOKEN")
}

// describeError turns the typed failure taxonomy into an exit diagnostic,
// adding a next step where one exists.
func describeError(err error) string {
	if errors.Is(err, types.ErrManifestNotFound) {
		return fmt.Sprintf("%v (run 'slipway init' to create one)", err)
	}

	var publishErr *types.PublishError
	if errors.As(err, &publishErr) && publishErr.Reason == types.PublishReasonVersionCollision {
		return fmt.Sprintf("%v (the index already has this version; bump before releasing)", publishErr)
	}

	var reportErr *types.MissingReportError
	if errors.As(err, &reportErr) {
		return reportErr.Error()
	}

	return err.Error()
}
