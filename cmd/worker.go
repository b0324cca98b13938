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
	"example.com/dockops/services/jobtracker/internal/models"
	"example.com/dockops/services/jobtracker/internal/search"
	"example.com/dockops/services/jobtracker/internal/services"
	"example.com/dockops/services/jobtracker/internal/tracing"

	"github.com/go-co-op/gocron/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the background worker",
	Long:  `Start the background worker that runs scheduled snapshot imports and processes import requests from Azure Service Bus`,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
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

	// Create an error group to manage goroutines
	g, ctx := errgroup.WithContext(ctx)

	// Initialize database connections
	db, readOnlyDB, err := initDatabasesForWorker(cfg)
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
	serviceBus, err := messaging.NewServiceBusClient(cfg.Azure, "jobtracker-worker")
	if err != nil {
		return err
	}

	// Initialize metrics
	metricsCollector := metrics.NewMetrics()

	// Initialize services
	importService := services.NewImportService(db, readOnlyDB, redisCache, elasticClient, serviceBus, metricsCollector, tracer)

	// Start the service bus processor for on-demand import requests
	g.Go(func() error {
		log.Info().Str("queue", cfg.Azure.QueueName).Msg("Starting Azure Service Bus processor")
		return serviceBus.ProcessMessages(ctx, func(ctx context.Context, event messaging.Event) error {
			if event.Type != messaging.EventImportRequested {
				log.Debug().Str("type", event.Type).Msg("Ignoring event")
				return nil
			}
			log.Info().Msg("Import requested via service bus")
			return runLatestImport(ctx, importService, cfg.Import.ExportDir)
		})
	})

	// Start the scheduled import job
	g.Go(func() error {
		log.Info().Dur("interval", cfg.Import.Interval).Msg("Starting scheduled import job")

		if cfg.Import.RunOnStart {
			if err := runLatestImport(ctx, importService, cfg.Import.ExportDir); err != nil {
				log.Error().Err(err).Msg("Startup import failed")
			}
		}

		// Create a scheduler
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}

		// Add the import job at the configured interval
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Import.Interval),
			gocron.NewTask(func() {
				if err := runLatestImport(ctx, importService, cfg.Import.ExportDir); err != nil {
					log.Error().Err(err).Msg("Scheduled import failed")
				}
			}),
		)
		if err != nil {
			return err
		}

		// Start the scheduler
		scheduler.Start()

		// Wait for context cancellation
		<-ctx.Done()

		// Shutdown the scheduler
		return scheduler.Shutdown()
	})

	// Wait for any goroutine to exit
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("Worker error")
		return err
	}

	log.Info().Msg("Worker shutting down gracefully")
	return nil
}

// runLatestImport runs the pipeline on the newest export in the drop
// directory. A missing export is normal between deliveries, so it only
// warns.
func runLatestImport(ctx context.Context, importService *services.ImportService, exportDir string) error {
	path, err := ingest.LatestExport(exportDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", exportDir).Msg("No export file found, skipping import")
		return nil
	}

	_, err = importService.RunFromSource(ctx, ingest.NewFileSource(path), time.Now())
	return err
}

func initDatabasesForWorker(cfg config.Config) (*gorm.DB, *gorm.DB, error) {
	// Initialize write database
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to write database")
	}

	// Initialize read-only database
	readOnlyDB, err := gorm.Open(postgres.Open(cfg.DB.ReadOnlyDSN), &gorm.Config{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to connect to read-only database")
	}

	// Auto-migrate only the write database
	if err := models.SetupModels(db); err != nil {
		return nil, nil, errors.Wrap(err, "failed to run migrations")
	}

	// Configure connection pools for both databases
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying write DB connection")
	}

	// Set connection pool parameters for write DB
	sqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	// Configure read-only connection pool
	readSqlDB, err := readOnlyDB.DB()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to get underlying read-only DB connection")
	}

	// Set connection pool parameters for read-only DB (higher limits for read operations)
	readSqlDB.SetMaxIdleConns(cfg.DB.MaxIdleConns * 2)
	readSqlDB.SetMaxOpenConns(cfg.DB.MaxOpenConns * 2)
	readSqlDB.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	return db, readOnlyDB, nil
}
