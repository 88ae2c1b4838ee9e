// Package cli provides the jarvis command line interface.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/jarvis/internal/core/domain"
	"github.com/custodia-labs/jarvis/internal/core/ports/driving"
	"github.com/custodia-labs/jarvis/internal/logger"
)

// version is set at build time.
var version = "dev"

// Watcher emits batches of documents for files changing under a directory.
type Watcher interface {
	Watch(ctx context.Context, root string, debounce time.Duration) (<-chan []domain.Document, error)
}

// Services are the core services the commands run against.
type Services struct {
	Ingest    driving.IngestService
	Retrieval driving.RetrievalService
	Fetchers  driving.FetcherRegistry

	// Watcher backs the watch command. Optional.
	Watcher Watcher

	// Close releases the store and embedding provider. Optional.
	Close func() error
}

// Options wire the commands to the application.
type Options struct {
	// Version is printed by the version command.
	Version string

	// NewSettings opens the settings service for a config file path
	// ("" = default location).
	NewSettings func(configPath string) (driving.SettingsService, error)

	// NewServices builds the core services from settings.
	NewServices func(ctx context.Context, settings domain.Settings) (*Services, error)

	// ValidateEmbedding checks that an embedding configuration works.
	// Optional.
	ValidateEmbedding func(ctx context.Context, settings domain.EmbeddingSettings) error
}

var (
	configPath string
	verbose    bool
	jsonLogs   bool

	options         Options
	settingsService driving.SettingsService
	coreServices    *Services
)

var rootCmd = &cobra.Command{
	Use:   "jarvis",
	Short: "Semantic ingestion and retrieval for a research library",
	Long: `Jarvis ingests documents into per-project namespaces and answers semantic
queries against them with provenance.

Documents are normalised to text, chunked into passages, deduplicated,
embedded and stored in a vector store. Queries return the closest passages
with the document they came from.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
		logger.SetJSON(jsonLogs)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.jarvis/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "log-json", false, "write logs as JSON")
}

// Execute runs the root command. Services are built on first use and
// closed before Execute returns.
func Execute(ctx context.Context, opts Options) error {
	options = opts
	if opts.Version != "" {
		version = opts.Version
	}
	defer closeServices()
	return rootCmd.ExecuteContext(ctx)
}

// loadSettingsService returns the settings service, opening it on first use.
func loadSettingsService() (driving.SettingsService, error) {
	if settingsService != nil {
		return settingsService, nil
	}
	if options.NewSettings == nil {
		return nil, errors.New("settings service not configured")
	}
	svc, err := options.NewSettings(configPath)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	settingsService = svc
	return svc, nil
}

// loadServices returns the core services, building them on first use.
func loadServices(ctx context.Context) (*Services, error) {
	if coreServices != nil {
		return coreServices, nil
	}
	if options.NewServices == nil {
		return nil, errors.New("services not configured")
	}
	settingsSvc, err := loadSettingsService()
	if err != nil {
		return nil, err
	}
	settings, err := settingsSvc.Get()
	if err != nil {
		return nil, err
	}
	svc, err := options.NewServices(ctx, settings)
	if err != nil {
		return nil, err
	}
	coreServices = svc
	return svc, nil
}

func closeServices() {
	if coreServices == nil || coreServices.Close == nil {
		return
	}
	if err := coreServices.Close(); err != nil {
		logger.Warn("Closing services: %v", err)
	}
}
