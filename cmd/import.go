package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/dockops/services/jobtracker/config"
	"example.com/dockops/services/jobtracker/internal/cache"
	"example.com/dockops/services/jobtracker/internal/ingest"
	"example.com/dockops/services/jobtracker/internal/messaging"
	"example.com/dockops/services/jobtracker/internal/metrics"
	"example.com/dockops/services/jobtracker/internal/search"
	"example.com/dockops/services/jobtracker/internal/services"
	"example.com/dockops/services/jobtracker/internal/tracing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Run one snapshot import",
	Long:  `Run the import pipeline once on a specific export file, or on the newest file in the export directory`,
	RunE:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.Flags().StringVar(&importFile, "file", "", "export file to import (default: newest in the export directory)")
}

func runImport(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	// Configure logging
	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Initialize database connections
	db, readOnlyDB, err := initDatabases(cfg)
	if err != nil {
		return err
	}

	// Initialize cache
	redisCache, err := cache.NewRedisCache(cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Redis cache, continuing without caching")
	}

	// Initialize tracer
	tracer, err := tracing.NewTracer(cfg.Tracing)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
	}

	// Initialize Elasticsearch client
	elasticClient, err := search.NewElasticClient(cfg.Elastic)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize Elasticsearch client, continuing without search functionality")
	}

	// Initialize Azure Service Bus client
	serviceBus, err := messaging.NewServiceBusClient(cfg.Azure, "jobtracker-import")
	if err != nil {
		return err
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize services
	importService := services.NewImportService(db, readOnlyDB, redisCache, elasticClient, serviceBus, metricsCollector, tracer)

	path := importFile
	if path == "" {
		path, err = ingest.LatestExport(cfg.Import.ExportDir)
		if err != nil {
			return err
		}
	}

	summary, err := importService.RunFromSource(ctx, ingest.NewFileSource(path), time.Now())
	if err != nil {
		return err
	}

	log.Info().
		Str("source", summary.Source).
		Int("active_jobs", summary.ActiveJobs).
		Int("archived", summary.JobsArchived).
		Int("errors", summary.Errors).
		Msg("Import finished")

	return nil
}
