package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/metadata"
)

var (
	queryProject string
	queryK       int
	queryTags    []string
	queryWhere   []string
	querySince   string
	queryUntil   string
	queryJSON    bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Retrieve passages for a query",
	Long: `Embeds the query and returns the closest passages in the project,
with the document each passage came from.

Results can be narrowed by metadata: --tag requires a tag, --where requires
a key to equal a value and --since/--until bound the publication date.`,
	Example: `  jarvis query "zeolite pore size" --project chem
  jarvis query "thin film stability" --project chem --tag perovskite --since 2020 -k 10`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryProject, "project", "p", "", "project namespace to search (required)")
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 0, "number of results (default from settings)")
	queryCmd.Flags().StringArrayVarP(&queryTags, "tag", "t", nil, "require a tag (repeatable)")
	queryCmd.Flags().StringArrayVar(&queryWhere, "where", nil, "require key=value metadata (repeatable)")
	queryCmd.Flags().StringVar(&querySince, "since", "", "earliest publication date")
	queryCmd.Flags().StringVar(&queryUntil, "until", "", "latest publication date")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if strings.TrimSpace(queryProject) == "" {
		return errors.New("--project is required")
	}

	where, err := parseAssignments(queryWhere)
	if err != nil {
		return err
	}
	predicate, err := metadata.BuildPredicate(where, queryTags, querySince, queryUntil)
	if err != nil {
		return err
	}

	svc, err := loadServices(cmd.Context())
	if err != nil {
		return err
	}

	results, err := svc.Retrieval.Retrieve(cmd.Context(), domain.RetrievalRequest{
		Query:     args[0],
		Project:   queryProject,
		Predicate: predicate,
		K:         queryK,
	})
	if errors.Is(err, domain.ErrNoResults) {
		results, err = nil, nil
	}
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		if results == nil {
			results = []domain.RetrievalResult{}
		}
		return writeJSON(cmd.OutOrStdout(), results)
	}
	printResults(cmd.OutOrStdout(), results)
	return nil
}

func printResults(w io.Writer, results []domain.RetrievalResult) {
	st := stylesFor(w)
	if len(results) == 0 {
		fmt.Fprintln(w, st.Muted.Render("No results found."))
		return
	}

	fmt.Fprintln(w, st.Title.Render("Results:"))
	fmt.Fprintln(w)
	for i := range results {
		r := &results[i]
		p := r.Provenance

		title := p.Title
		if title == "" {
			title = p.DocumentID
		}
		fmt.Fprintf(w, "  [%d] %s %s\n", i+1, st.Title.Render(title),
			st.Muted.Render(fmt.Sprintf("(distance %.4f)", r.Distance)))

		var details []string
		if p.Source != "" {
			details = append(details, p.Source)
		}
		if p.Date != "" {
			details = append(details, p.Date)
		}
		details = append(details, fmt.Sprintf("passage %d", p.Ordinal))
		fmt.Fprintf(w, "      %s\n", st.Label.Render(strings.Join(details, " · ")))
		if p.URL != "" {
			fmt.Fprintf(w, "      %s\n", st.Muted.Render(p.URL))
		}
		if tags := r.Metadata.Strings(domain.KeyTags); len(tags) > 0 {
			fmt.Fprintf(w, "      %s\n", st.Muted.Render("tags: "+strings.Join(tags, ", ")))
		}

		text := snippet(r.Text, 300)
		if st.width > 0 {
			fmt.Fprintln(w, st.Passage.Render(text))
		} else {
			fmt.Fprintf(w, "      %s\n", text)
		}
		fmt.Fprintln(w)
	}
}
