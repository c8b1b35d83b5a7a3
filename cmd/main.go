package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"

	"document-qa/internal/chromemdb"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/parser"
	"document-qa/internal/session"
	"document-qa/internal/tui"
	"document-qa/internal/web"
)

const (
	configFilePath = "./configs/config.yaml"
	logFileName    = "docqa.log"
	usage          = "Please specify an interface: --web or --cli"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	useWeb := flag.Bool("web", false, "Start the web interface")
	useCLI := flag.Bool("cli", false, "Start the command-line interface")
	configPath := flag.String("config", configFilePath, "Path to the configuration file")
	printConfig := flag.Bool("print-config", false, "Print the effective configuration and exit")
	clearCache := flag.Bool("clear-cache", false, "Empty the embedding cache and exit")
	flag.Parse()

	switch {
	case *printConfig:
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Error loading config")
		}
		helper.PrettyPrint(os.Stdout, redacted(cfg))
		return
	case *clearCache:
		if err := clearEmbeddingCache(*configPath); err != nil {
			log.Fatal().Err(err).Msg("Error clearing embedding cache")
		}
		return
	case *useWeb && *useCLI:
		fmt.Fprintln(os.Stderr, "Please choose one interface: --web or --cli, not both")
		os.Exit(2)
	case !*useWeb && !*useCLI:
		fmt.Println(usage)
		return
	}

	if err := run(*configPath, *useWeb); err != nil {
		log.Fatal().Err(err).Msg("Exited with error")
	}
}

func run(configPath string, useWeb bool) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	interactive := !useWeb && term.IsTerminal(int(os.Stdin.Fd()))
	closeLog, err := setupLogger(cfg, interactive)
	if err != nil {
		return err
	}
	defer closeLog()
	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sess, cleanup, err := newSession(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	switch {
	case useWeb:
		return web.NewServer(sess, &cfg.Web).Run(ctx)
	case interactive:
		return tui.Run(ctx, sess)
	default:
		return tui.RunLines(ctx, sess, os.Stdin, os.Stdout)
	}
}

// newSession wires the embedder, its cache, the vector store manager and the
// LLM client into a session. The model itself is loaded on first use.
func newSession(ctx context.Context, cfg *config.Config) (*session.Session, func(), error) {
	cleanup := func() {}

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, cleanup, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	if !cfg.Cache.Disabled {
		sqldb, dialect, err := db.ConnectDB(cfg.Database.DSN, cfg.Cache.Dir)
		if err != nil {
			return nil, cleanup, fmt.Errorf("failed to connect to embedding cache: %w", err)
		}
		dbInstance := db.NewDB(sqldb, dialect, cfg.Database.Debug)
		if err := db.InitDB(ctx, dbInstance); err != nil {
			dbInstance.Close()
			log.Warn().Err(err).Msg("Embedding cache unavailable, continuing without it")
		} else {
			embedder = embedding.NewCachedEmbedder(embedder, dbInstance, cfg.EmbedLLM.Model)
			cleanup = func() {
				if err := dbInstance.Close(); err != nil {
					log.Warn().Err(err).Msg("Error closing embedding cache")
				}
			}
		}
	}

	stores := chromemdb.NewVectorStoreManager(&cfg.RAG, embedder, cfg.EmbedLLM.Model)
	llm := llmservice.NewLLMClient(cfg)
	return session.New(parser.New(&cfg.RAG), stores, llm), cleanup, nil
}

func clearEmbeddingCache(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()
	sqldb, dialect, err := db.ConnectDB(cfg.Database.DSN, cfg.Cache.Dir)
	if err != nil {
		return err
	}
	dbInstance := db.NewDB(sqldb, dialect, cfg.Database.Debug)
	defer dbInstance.Close()
	if err := db.InitDB(ctx, dbInstance); err != nil {
		return err
	}
	n, err := db.ClearEmbeddings(ctx, dbInstance)
	if err != nil {
		return err
	}
	fmt.Printf("Removed %d cached embeddings\n", n)
	return nil
}

// setupLogger applies the configured level and destination. The terminal UI
// owns the screen, so it always logs to a file.
func setupLogger(cfg *config.Config, interactive bool) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil || level == zerolog.NoLevel {
		log.Warn().Str("level", cfg.Log.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	path := cfg.Log.File
	if path == "" && interactive {
		path = filepath.Join(cfg.Cache.Dir, logFileName)
	}
	if path == "" {
		return func() {}, nil
	}

	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	var out io.Writer = f
	if !interactive {
		out = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}, f)
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
	return func() { f.Close() }, nil
}

// redacted is cfg with API keys masked, for logging.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***"
	}
	c.EmbedLLM.Key = mask(c.EmbedLLM.Key)
	c.InferenceLLM.Key = mask(c.InferenceLLM.Key)
	c.RAG.EncryptionKey = mask(c.RAG.EncryptionKey)
	c.Database.DSN = mask(c.Database.DSN)
	return c
}
