// Package servecmder provides the serve command that runs the ingestion
// pipeline, the REST API, and the MCP server in one process.
package servecmder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papercomputeco/recall/api"
	"github.com/papercomputeco/recall/api/mcp"
	"github.com/papercomputeco/recall/api/query"
	"github.com/papercomputeco/recall/cmd/recall/sqlitepath"
	"github.com/papercomputeco/recall/pkg/buffer"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/embeddings"
	embeddingutils "github.com/papercomputeco/recall/pkg/embeddings/utils"
	"github.com/papercomputeco/recall/pkg/eventstream"
	eventstreamutils "github.com/papercomputeco/recall/pkg/eventstream/utils"
	"github.com/papercomputeco/recall/pkg/extraction"
	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/graph/inmemory"
	"github.com/papercomputeco/recall/pkg/graph/postgres"
	"github.com/papercomputeco/recall/pkg/graph/sqlite"
	"github.com/papercomputeco/recall/pkg/ingest"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/transcript"
)

const (
	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
	driverMemory   = "memory"

	shutdownTimeout = 10 * time.Second
)

// serveFlags binds every serve flag to its config key.
var serveFlags = config.FlagSet{
	config.FlagAPIListen:          {Name: "listen", Shorthand: "l", ViperKey: "api.listen", Description: "Address for the API server to listen on"},
	config.FlagStorageDriver:      {Name: "storage", ViperKey: "storage.driver", Description: "Graph store driver (sqlite, postgres, memory)"},
	config.FlagSQLite:             {Name: "sqlite", Shorthand: "s", ViperKey: "storage.sqlite_path", Description: "Path to the SQLite graph database (default: .recall/recall.db)"},
	config.FlagPostgresDSN:        {Name: "postgres-dsn", ViperKey: "storage.postgres_dsn", Description: "PostgreSQL connection string"},
	config.FlagEmbeddingProv:      {Name: "embedding-provider", ViperKey: "embedding.provider", Description: "Embedding provider (ollama, openai, gemini, none)"},
	config.FlagEmbeddingTgt:       {Name: "embedding-target", ViperKey: "embedding.target", Description: "Embedding provider URL"},
	config.FlagEmbeddingModel:     {Name: "embedding-model", ViperKey: "embedding.model", Description: "Embedding model name"},
	config.FlagEmbeddingDims:      {Name: "embedding-dimensions", ViperKey: "embedding.dimensions", Description: "Embedding dimensionality"},
	config.FlagExtractionProv:     {Name: "extraction-provider", ViperKey: "extraction.provider", Description: "Fact extraction LLM provider (openai, anthropic, ollama, gateway)"},
	config.FlagExtractionModel:    {Name: "extraction-model", ViperKey: "extraction.model", Description: "Fact extraction model (default depends on provider)"},
	config.FlagExtractionTgt:      {Name: "extraction-target", ViperKey: "extraction.target", Description: "Fact extraction provider URL"},
	config.FlagMinConfidence:      {Name: "min-confidence", ViperKey: "extraction.min_confidence", Description: "Drop extracted facts below this confidence"},
	config.FlagWindowSize:         {Name: "window-size", ViperKey: "buffer.window_size", Description: "Messages per extraction window"},
	config.FlagStepSize:           {Name: "step-size", ViperKey: "buffer.step_size", Description: "Messages kept after each window flush"},
	config.FlagEventStreamProv:    {Name: "eventstream-provider", ViperKey: "eventstream.provider", Description: "Fact event publisher (none, kafka)"},
	config.FlagEventStreamBrokers: {Name: "eventstream-brokers", ViperKey: "eventstream.brokers", Description: "Comma separated Kafka brokers"},
	config.FlagEventStreamTopic:   {Name: "eventstream-topic", ViperKey: "eventstream.topic", Description: "Kafka topic for fact events"},
}

var serveFlagKeys = []string{
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgresDSN,
	config.FlagEmbeddingProv,
	config.FlagEmbeddingTgt,
	config.FlagEmbeddingModel,
	config.FlagEmbeddingDims,
	config.FlagExtractionProv,
	config.FlagExtractionModel,
	config.FlagExtractionTgt,
	config.FlagMinConfidence,
	config.FlagWindowSize,
	config.FlagStepSize,
	config.FlagEventStreamProv,
	config.FlagEventStreamBrokers,
	config.FlagEventStreamTopic,
}

type ServeCommander struct {
	// flag targets; the resolved values live in cfg
	listen        string
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	embedProvider string
	embedTarget   string
	embedModel    string
	embedDims     uint
	llmProvider   string
	llmModel      string
	llmTarget     string
	minConfidence float64
	windowSize    uint
	stepSize      uint
	esProvider    string
	esBrokers     string
	esTopic       string

	workers   uint
	watchDir  string
	logFile   string
	configDir string
	debug     bool

	cfg    *config.Config
	logger *slog.Logger
}

const serveLongDesc string = `Run the recall server.

Messages posted to /v1/messages (or appended to transcripts under --watch-dir)
are buffered per conversation. Every full or idle window is handed to the
extraction LLM, and the resulting facts are stored in the knowledge graph.
The graph is queryable over REST under /v1 and over MCP at /mcp.

Flags override environment variables (RECALL_*), which override config.toml.

Examples:
  recall serve
  recall serve --storage postgres --postgres-dsn postgres://localhost/recall
  recall serve --extraction-provider anthropic --watch-dir ./transcripts
  recall serve --eventstream-provider kafka --eventstream-brokers localhost:9092`

const serveShortDesc string = "Run the recall server"

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			return cmder.resolveConfig(v)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			return cmder.run(cmd.Context())
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagAPIListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgresDSN, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingProv, &cmder.embedProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingTgt, &cmder.embedTarget)
	config.AddStringFlag(cmd, serveFlags, config.FlagEmbeddingModel, &cmder.embedModel)
	config.AddUintFlag(cmd, serveFlags, config.FlagEmbeddingDims, &cmder.embedDims)
	config.AddStringFlag(cmd, serveFlags, config.FlagExtractionProv, &cmder.llmProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagExtractionModel, &cmder.llmModel)
	config.AddStringFlag(cmd, serveFlags, config.FlagExtractionTgt, &cmder.llmTarget)
	config.AddFloat64Flag(cmd, serveFlags, config.FlagMinConfidence, &cmder.minConfidence)
	config.AddUintFlag(cmd, serveFlags, config.FlagWindowSize, &cmder.windowSize)
	config.AddUintFlag(cmd, serveFlags, config.FlagStepSize, &cmder.stepSize)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventStreamProv, &cmder.esProvider)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventStreamBrokers, &cmder.esBrokers)
	config.AddStringFlag(cmd, serveFlags, config.FlagEventStreamTopic, &cmder.esTopic)

	cmd.Flags().UintVar(&cmder.workers, "workers", ingest.DefaultNumWorkers, "Number of extraction workers")
	cmd.Flags().StringVar(&cmder.watchDir, "watch-dir", "", "Directory of JSONL transcripts to ingest as they grow")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also write JSON logs to this file")

	return cmd
}

func (c *ServeCommander) resolveConfig(v *viper.Viper) error {
	c.cfg = config.FromViper(v)

	switch c.cfg.Storage.Driver {
	case driverSQLite, driverPostgres, driverMemory:
	default:
		return fmt.Errorf("unsupported storage driver: %q (available: sqlite, postgres, memory)", c.cfg.Storage.Driver)
	}

	if c.cfg.Storage.Driver == driverPostgres && c.cfg.Storage.PostgresDSN == "" {
		return errors.New("--postgres-dsn is required for the postgres storage driver")
	}

	if mc := c.cfg.Extraction.MinConfidenceOrDefault(); mc < 0 || mc > 1 {
		return fmt.Errorf("min confidence %v is outside [0, 1]", mc)
	}

	return nil
}

func (c *ServeCommander) newLogger() (*slog.Logger, func(), error) {
	pretty := logger.New(logger.WithDebug(c.debug), logger.WithPretty(true))
	if c.logFile == "" {
		return pretty, func() {}, nil
	}

	f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	jsonLog := logger.New(logger.WithDebug(c.debug), logger.WithJSON(true), logger.WithWriter(f))
	return logger.Multi(pretty, jsonLog), func() { _ = f.Close() }, nil
}

func (c *ServeCommander) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	log, closeLog, err := c.newLogger()
	if err != nil {
		return err
	}
	defer closeLog()
	c.logger = log

	store, err := c.createStore(ctx)
	if err != nil {
		return err
	}

	embedder, err := c.createEmbedder()
	if err != nil {
		_ = store.Close()
		return err
	}

	extractor, err := c.createExtractor()
	if err != nil {
		_ = store.Close()
		return err
	}

	publisher, err := c.createPublisher()
	if err != nil {
		_ = store.Close()
		return err
	}

	pipeline, err := ingest.NewPipeline(ingest.Config{
		Store:         store,
		Extractor:     extractor,
		Embedder:      embedder,
		Publisher:     publisher,
		MinConfidence: c.cfg.Extraction.MinConfidence,
		ContextChars:  int(c.cfg.Extraction.ContextChars),
		Logger:        c.logger,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("creating pipeline: %w", err)
	}

	pool, err := ingest.NewPool(ingest.PoolConfig{
		Processor:  pipeline,
		NumWorkers: c.workers,
		Logger:     c.logger,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("creating worker pool: %w", err)
	}

	buf, err := c.createBuffer(pool)
	if err != nil {
		pool.Close()
		_ = store.Close()
		return err
	}

	svc, err := query.NewService(query.Config{
		Store:    store,
		Embedder: embedder,
		Pipeline: pipeline,
		Buffer:   buf,
		Logger:   c.logger,
	})
	if err != nil {
		c.shutdown(buf, pool, publisher, embedder, store, nil)
		return fmt.Errorf("creating query service: %w", err)
	}

	mcpServer, err := mcp.NewServer(mcp.Config{Query: svc, Logger: c.logger})
	if err != nil {
		c.shutdown(buf, pool, publisher, embedder, store, nil)
		return fmt.Errorf("creating MCP server: %w", err)
	}

	apiServer, err := api.NewServer(api.Config{
		ListenAddr: c.cfg.API.Listen,
		Query:      svc,
		Buffer:     buf,
		MCP:        mcpServer.Handler(),
	}, c.logger)
	if err != nil {
		c.shutdown(buf, pool, publisher, embedder, store, nil)
		return fmt.Errorf("creating API server: %w", err)
	}

	c.logger.Info("starting recall server",
		"api_addr", c.cfg.API.Listen,
		"storage", c.cfg.Storage.Driver,
		"extraction_provider", c.cfg.Extraction.Provider,
		"embedding_provider", c.cfg.Embedding.Provider,
		"eventstream_provider", c.cfg.EventStream.Provider,
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Channel to capture errors from goroutines
	errChan := make(chan error, 2)

	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	var watcher *transcript.Watcher
	var watchState *dotdir.WatchState
	manager := dotdir.NewManager()
	if c.watchDir != "" {
		watchState, err = manager.LoadWatchState(c.configDir)
		if err != nil {
			c.shutdown(buf, pool, publisher, embedder, store, apiServer)
			return fmt.Errorf("loading watch state: %w", err)
		}

		watcher, err = transcript.New(transcript.Config{
			Dir:     c.watchDir,
			Sink:    buf.Add,
			Retry:   func(err error) bool { return errors.Is(err, buffer.ErrClosed) },
			Offsets: watchState.Offsets,
			Logger:  c.logger,
		})
		if err != nil {
			c.shutdown(buf, pool, publisher, embedder, store, apiServer)
			return err
		}

		go func() {
			if err := watcher.Run(runCtx); err != nil {
				errChan <- fmt.Errorf("transcript watcher error: %w", err)
			}
		}()
	}

	// Wait for interrupt signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case runErr = <-errChan:
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	if watcher != nil {
		watchState.Offsets = watcher.Offsets()
		if err := manager.SaveWatchState(watchState, c.configDir); err != nil {
			c.logger.Error("saving watch state", "error", err)
		}
	}
	c.shutdown(buf, pool, publisher, embedder, store, apiServer)
	return runErr
}

// shutdown stops the API server so no request races the teardown, hands
// every buffered window to the pool, drains it, and then releases the
// collaborators in dependency order.
func (c *ServeCommander) shutdown(
	buf *buffer.Buffer,
	pool *ingest.Pool,
	publisher eventstream.Publisher,
	embedder embeddings.Embedder,
	store graph.Driver,
	apiServer *api.Server,
) {
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := apiServer.Shutdown(ctx); err != nil {
			c.logger.Error("shutting down API server", "error", err)
		}
		cancel()
	}

	if n := buf.FlushAll(context.Background()); n > 0 {
		c.logger.Info("flushed buffered conversations", "count", n)
	}
	buf.Close()
	pool.Close()

	if err := publisher.Close(); err != nil {
		c.logger.Error("closing event publisher", "error", err)
	}
	if embedder != nil {
		if err := embedder.Close(); err != nil {
			c.logger.Error("closing embedder", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		c.logger.Error("closing graph store", "error", err)
	}
}

func (c *ServeCommander) createStore(ctx context.Context) (graph.Driver, error) {
	switch c.cfg.Storage.Driver {
	case driverPostgres:
		store, err := postgres.NewDriver(ctx, c.cfg.Storage.PostgresDSN, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL graph store: %w", err)
		}
		c.logger.Info("using PostgreSQL storage")
		return store, nil

	case driverMemory:
		c.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	default:
		dir, err := dotdir.NewManager().Target(c.configDir)
		if err != nil {
			return nil, fmt.Errorf("resolving recall directory: %w", err)
		}

		path := sqlitepath.ResolveSQLitePath(c.cfg.Storage.SQLitePath, dir)
		store, err := sqlite.NewSQLiteDriver(ctx, path, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite graph store: %w", err)
		}
		c.logger.Info("using SQLite storage", "path", path)
		return store, nil
	}
}

func (c *ServeCommander) createEmbedder() (embeddings.Embedder, error) {
	embedder, err := embeddingutils.NewEmbedder(&embeddingutils.NewEmbedderOpts{
		ProviderType: c.cfg.Embedding.Provider,
		TargetURL:    c.cfg.Embedding.Target,
		Model:        c.cfg.Embedding.Model,
		APIKey:       c.cfg.Embedding.APIKey,
		Dimensions:   c.cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	if embedder == nil {
		c.logger.Warn("no embedding provider configured, semantic search is disabled")
	}
	return embedder, nil
}

func (c *ServeCommander) createExtractor() (extraction.Extractor, error) {
	call, err := extraction.NewLLMCaller(extraction.LLMCallerConfig{
		Provider: c.cfg.Extraction.Provider,
		Model:    c.cfg.Extraction.Model,
		APIKey:   c.cfg.Extraction.APIKey,
		BaseURL:  c.cfg.Extraction.Target,
		Logger:   c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating extraction LLM caller: %w", err)
	}
	return extraction.NewLLMExtractor(call, c.logger), nil
}

func (c *ServeCommander) createPublisher() (eventstream.Publisher, error) {
	publisher, err := eventstreamutils.NewPublisher(&eventstreamutils.NewPublisherOpts{
		ProviderType: c.cfg.EventStream.Provider,
		Brokers:      splitBrokers(c.cfg.EventStream.Brokers),
		Topic:        c.cfg.EventStream.Topic,
		Logger:       c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event publisher: %w", err)
	}
	return publisher, nil
}

func (c *ServeCommander) createBuffer(pool *ingest.Pool) (*buffer.Buffer, error) {
	flushTimeout, err := c.cfg.Buffer.FlushTimeoutDuration()
	if err != nil {
		return nil, err
	}
	sweepInterval, err := c.cfg.Buffer.SweepIntervalDuration()
	if err != nil {
		return nil, err
	}

	return buffer.New(buffer.Config{
		WindowSize:      int(c.cfg.Buffer.WindowSize),
		StepSize:        int(c.cfg.Buffer.StepSize),
		MinMessageChars: int(c.cfg.Buffer.MinMessageChars),
		FlushTimeout:    flushTimeout,
		SweepInterval:   sweepInterval,
		Logger:          c.logger,
	}, pool.Submit), nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
