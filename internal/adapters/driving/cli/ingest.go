package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/logger"
)

const defaultFetcher = "filesystem"

var (
	ingestProject string
	ingestFetcher string
	ingestTags    []string
	ingestSource  string
	ingestSet     []string
	ingestJSON    bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [target]...",
	Short: "Ingest documents into a project",
	Long: `Fetches documents and stores their passages in the project namespace.

Each target is passed to the fetcher; the filesystem fetcher accepts files
and directories. Documents fail independently and the summary lists the
outcome of every document. Re-ingesting a document replaces its earlier
passages.`,
	Example: `  jarvis ingest ~/papers --project chem --tag catalysis
  jarvis ingest notes.md draft.pdf --project chem --set doi=10.1000/xyz`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestProject, "project", "p", "", "project namespace (required)")
	ingestCmd.Flags().StringVar(&ingestFetcher, "fetcher", defaultFetcher, "fetcher used to read targets")
	ingestCmd.Flags().StringArrayVarP(&ingestTags, "tag", "t", nil, "tag applied to every passage (repeatable)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source applied to every passage")
	ingestCmd.Flags().StringArrayVar(&ingestSet, "set", nil, "key=value metadata applied to every passage (repeatable)")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the summary as JSON")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(ingestProject) == "" {
		return errors.New("--project is required")
	}
	fields, err := requestMetadata(ingestTags, ingestSource, ingestSet)
	if err != nil {
		return err
	}

	svc, err := loadServices(cmd.Context())
	if err != nil {
		return err
	}
	docs, err := fetchAll(cmd.Context(), svc, ingestFetcher, args)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return errors.New("no documents found")
	}

	summary, err := svc.Ingest.Ingest(cmd.Context(), domain.IngestRequest{
		Project:   ingestProject,
		Documents: docs,
		Metadata:  fields,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	if ingestJSON {
		if err := writeJSON(cmd.OutOrStdout(), summary); err != nil {
			return err
		}
	} else {
		printSummary(cmd.OutOrStdout(), summary, true)
	}

	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", summary.Failed, len(summary.Outcomes))
	}
	return nil
}

// fetchAll runs the named fetcher over every target.
func fetchAll(ctx context.Context, svc *Services, name string, targets []string) ([]domain.Document, error) {
	fetcher, err := svc.Fetchers.Get(name)
	if err != nil {
		return nil, fmt.Errorf("unknown fetcher %q (available: %s)", name, strings.Join(svc.Fetchers.Names(), ", "))
	}

	var docs []domain.Document
	for _, target := range targets {
		fetched, err := fetcher.Fetch(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", target, err)
		}
		logger.Debug("Fetched %d documents from %s", len(fetched), target)
		docs = append(docs, fetched...)
	}
	return docs, nil
}

// requestMetadata builds the metadata applied to every passage.
func requestMetadata(tags []string, source string, set []string) (map[string]any, error) {
	assignments, err := parseAssignments(set)
	if err != nil {
		return nil, err
	}
	fields := make(map[string]any, len(assignments)+2)
	for k, v := range assignments {
		fields[strings.ToLower(k)] = v
	}
	if _, ok := fields[domain.KeyProject]; ok {
		return nil, errors.New("project is set with --project")
	}
	if len(tags) > 0 {
		fields[domain.KeyTags] = tags
	}
	if source = strings.TrimSpace(source); source != "" {
		fields[domain.KeySource] = source
	}
	if len(fields) == 0 {
		return nil, nil
	}
	return fields, nil
}

func printSummary(w io.Writer, summary *domain.IngestSummary, perDocument bool) {
	st := stylesFor(w)

	if perDocument {
		for _, o := range summary.Outcomes {
			switch o.Status {
			case domain.OutcomeStored:
				fmt.Fprintf(w, "  %s %s %s\n", st.Success.Render("stored   "), o.DocumentID,
					st.Muted.Render(fmt.Sprintf("(%d/%d passages)", o.Stored, o.Passages)))
			case domain.OutcomeDuplicate:
				fmt.Fprintf(w, "  %s %s\n", st.Warning.Render("duplicate"), o.DocumentID)
			case domain.OutcomeFailed:
				fmt.Fprintf(w, "  %s %s %s\n", st.Error.Render("failed   "), o.DocumentID,
					st.Muted.Render(o.Kind+": "+o.Message))
			}
			for _, warning := range o.Warnings {
				fmt.Fprintf(w, "            %s\n", st.Warning.Render("warning: "+warning))
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s %d stored, %d duplicate, %d failed (%d passages stored, %d duplicate) in %s\n",
		st.Title.Render("Project "+summary.Project+":"),
		summary.Stored, summary.Duplicates, summary.Failed,
		summary.PassagesStored, summary.PassagesDuplicate,
		summary.Elapsed.Round(time.Millisecond))
}
