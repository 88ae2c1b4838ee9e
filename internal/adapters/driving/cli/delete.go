package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	deleteProject  string
	deleteDocument string
)

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete stored passages",
	Long: `Removes passages from the store. With --document only the passages of
that document are removed, limited to --project when it is given; otherwise
the whole project namespace is cleared.`,
	Example: `  jarvis delete --project chem
  jarvis delete --project chem --document 6f1c2b3a-0d4e-5f6a-8b7c-9d0e1f2a3b4c`,
	Args: cobra.NoArgs,
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().StringVarP(&deleteProject, "project", "p", "", "project namespace to clear")
	deleteCmd.Flags().StringVar(&deleteDocument, "document", "", "delete only this document's passages")
	rootCmd.AddCommand(deleteCmd)
}

func runDelete(cmd *cobra.Command, _ []string) error {
	project := strings.TrimSpace(deleteProject)
	document := strings.TrimSpace(deleteDocument)
	if project == "" && document == "" {
		return errors.New("--project or --document is required")
	}

	svc, err := loadServices(cmd.Context())
	if err != nil {
		return err
	}

	if document != "" {
		n, err := svc.Ingest.DeleteDocument(cmd.Context(), project, document)
		if err != nil {
			return fmt.Errorf("delete failed: %w", err)
		}
		if project != "" {
			cmd.Printf("Deleted %d passages of document %s in project %s.\n", n, document, project)
		} else {
			cmd.Printf("Deleted %d passages of document %s.\n", n, document)
		}
		return nil
	}

	n, err := svc.Ingest.DeleteProject(cmd.Context(), project)
	if err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	cmd.Printf("Deleted %d passages from project %s.\n", n, project)
	return nil
}
