package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/slipway/slipway/internal/index"
	"github.com/slipway/slipway/pkg/logger"
)

func newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Run a local development package index",
		Long: `Commands for the local development package index. It exists so the
release pipeline can be exercised end to end without a public index.`,
	}

	cmd.AddCommand(newIndexServeCmd())

	return cmd
}

func newIndexServeCmd() *cobra.Command {
	var addr string
	var storeDir string
	var username string
	var tokenFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the development package index",
		Long: `Serve a filesystem-backed package index. Uploads require basic auth
with the configured token; a duplicate name+version upload is rejected
with 409 so duplicate releases fail the same way they would upstream.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndexServe(addr, storeDir, username, tokenFile)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":3141", "listen address")
	cmd.Flags().StringVar(&storeDir, "store", ".slipway/index", "artifact store directory")
	cmd.Flags().StringVar(&username, "username", "automation", "accepted upload username")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "file containing the accepted token")

	return cmd
}

func runIndexServe(addr, storeDir, username, tokenFile string) error {
	// The dev index refuses to run open; a token is always required.
	token, err := resolveToken(tokenFile)
	if err != nil {
		return err
	}

	if !filepath.IsAbs(storeDir) {
		storeDir = filepath.Join(projectRoot, storeDir)
	}
	if err := os.MkdirAll(storeDir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	log := logger.CreateLogger(logFile, verbosity)

	server := index.NewServer(index.ServerConfig{
		StoreDir: storeDir,
		Username: username,
		Token:    token,
	}, log)

	return server.Run(addr)
}
