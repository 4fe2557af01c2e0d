package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/slipway/slipway/internal/engine"
	"github.com/slipway/slipway/internal/index"
	"github.com/slipway/slipway/internal/pipeline"
	"github.com/slipway/slipway/pkg/types"
)

func newReleaseCmd() *cobra.Command {
	var tag string
	var commitSHA string
	var eventPath string
	var tokenFile string
	var keepWorkspace bool

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Run the five-stage release pipeline for a published tag",
		Long: `Run the release pipeline: check out the released commit into an isolated
workspace, provision the environment there, build the versioned artifacts,
and upload them to the configured package index.

The trigger comes from --tag (with an optional --commit) or from a release
event payload file. The index token is read from --token-file or the
SLIPWAY_INDEX_TOKEN environment variable and handed directly to the
publish stage; it is never written anywhere.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelease(tag, commitSHA, eventPath, tokenFile, keepWorkspace)
		},
	}

	cmd.Flags().StringVar(&tag, "tag", "", "release tag (for example v1.4.2)")
	cmd.Flags().StringVar(&commitSHA, "commit", "", "commit SHA the tag points at")
	cmd.Flags().StringVar(&eventPath, "event", "", "path to a release event payload (JSON)")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "file containing the index upload token")
	cmd.Flags().BoolVar(&keepWorkspace, "keep-workspace", false, "keep the checkout workspace for inspection")

	return cmd
}

func runRelease(tag, commitSHA, eventPath, tokenFile string, keepWorkspace bool) error {
	event, err := resolveEvent(tag, commitSHA, eventPath)
	if err != nil {
		return err
	}

	manifest, _, err := loadManifest()
	if err != nil {
		return err
	}

	token, err := resolveToken(tokenFile)
	if err != nil {
		return err
	}
	credentials := index.NewCredentials(manifest.PublishUsername(), token)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := newLogger(manifest)
	factory := engine.NewDependencyFactory(projectRoot, log, manifest)
	deps, err := factory.CreateDefaults()
	if err != nil {
		return err
	}
	if deps.History != nil {
		defer deps.History.Close()
	}

	printInfo(fmt.Sprintf("Releasing %s as %s %s", event.Tag, manifest.Project.Name, event.Version()))

	p := pipeline.New(manifest, projectRoot, event, credentials, log, deps)
	p.KeepWorkspace = keepWorkspace

	if err := p.Run(ctx); err != nil {
		return err
	}

	printSuccess(fmt.Sprintf("Published %s %s (%d artifact(s))",
		manifest.Project.Name, event.Version(), len(p.Artifacts())))
	return nil
}

// resolveEvent builds the release trigger from the flags or the payload.
// Flags win over the payload so a re-run can pin an exact commit.
func resolveEvent(tag, commitSHA, eventPath string) (types.ReleaseEvent, error) {
	var event types.ReleaseEvent

	if eventPath != "" {
		loaded, err := pipeline.LoadEvent(eventPath)
		if err != nil {
			return event, err
		}
		event = loaded
	}

	if tag != "" {
		event.Tag = tag
	}
	if commitSHA != "" {
		event.Commit = commitSHA
	}

	if event.Tag == "" {
		return event, fmt.Errorf("no release tag: pass --tag or --event")
	}
	return event, nil
}
