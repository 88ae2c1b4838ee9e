package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/logger"
)

var (
	watchProject  string
	watchTags     []string
	watchSource   string
	watchDebounce time.Duration
	watchInitial  bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest files as they change",
	Long: `Watches a directory and ingests files when they are created or written.
Bursts of writes are debounced into one ingestion run. With --initial the
existing files are ingested first. Stop with Ctrl-C.`,
	Example: `  jarvis watch ~/papers --project chem`,
	Args:    cobra.ExactArgs(1),
	RunE:    runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchProject, "project", "p", "", "project namespace (required)")
	watchCmd.Flags().StringArrayVarP(&watchTags, "tag", "t", nil, "tag applied to every passage (repeatable)")
	watchCmd.Flags().StringVar(&watchSource, "source", "", "source applied to every passage")
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "quiet period before ingesting changes")
	watchCmd.Flags().BoolVar(&watchInitial, "initial", true, "ingest existing files before watching")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(watchProject) == "" {
		return errors.New("--project is required")
	}
	fields, err := requestMetadata(watchTags, watchSource, nil)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	svc, err := loadServices(ctx)
	if err != nil {
		return err
	}
	if svc.Watcher == nil {
		return errors.New("watching is not available")
	}

	changes, err := svc.Watcher.Watch(ctx, args[0], watchDebounce)
	if err != nil {
		return fmt.Errorf("watch %s: %w", args[0], err)
	}

	ingest := func(docs []domain.Document) {
		summary, err := svc.Ingest.Ingest(ctx, domain.IngestRequest{
			Project:   watchProject,
			Documents: docs,
			Metadata:  fields,
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Error("Ingest failed: %v", err)
			}
			return
		}
		printSummary(cmd.OutOrStdout(), summary, true)
	}

	if watchInitial {
		docs, err := fetchAll(ctx, svc, defaultFetcher, args)
		if err != nil {
			return err
		}
		if len(docs) > 0 {
			ingest(docs)
		}
	}

	cmd.Printf("Watching %s for changes...\n", args[0])
	for docs := range changes {
		logger.Debug("%d changed files", len(docs))
		ingest(docs)
	}
	return nil
}
