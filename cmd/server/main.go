// Lexivoice - voice vocabulary tutor server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/ashureev/lexivoice/internal/agent"
	"github.com/ashureev/lexivoice/internal/api"
	"github.com/ashureev/lexivoice/internal/config"
	"github.com/ashureev/lexivoice/internal/identity"
	"github.com/ashureev/lexivoice/internal/middleware"
	"github.com/ashureev/lexivoice/internal/realtime"
	"github.com/ashureev/lexivoice/internal/session"
	"github.com/ashureev/lexivoice/internal/speech"
	"github.com/ashureev/lexivoice/internal/store"
	"github.com/ashureev/lexivoice/web"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       string
	)
	cmd := &cobra.Command{
		Use:   "lexivoice",
		Short: "Voice vocabulary tutor server",
		Long: `lexivoice serves a spoken English tutor.

Learners stream recorded audio over /ws/agent and receive status text plus
synthesized replies. /agent and /tts expose the tutor and the voice over
plain HTTP.

Configuration comes from an optional YAML file (--config or CONFIG_FILE),
then .env and the environment, which take precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_FILE")
			}
			return run(cmd.Context(), configPath, port)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides PORT)")
	return cmd
}

func run(ctx context.Context, configPath, port string) error {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if port != "" {
		cfg.Port = port
	}
	level.Set(cfg.SlogLevel())

	slog.Info("Starting server",
		"port", cfg.Port,
		"provider", cfg.LLMProvider,
		"model", cfg.Model,
		"openai_api_key", cfg.OpenAIAPIKey,
		"persistent", cfg.DBPath != "",
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Persistence is optional; without DB_PATH sessions live for the process.
	var repo store.Repository
	if cfg.DBPath != "" {
		repo, err = store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				slog.Error("Failed to close repository", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("database health check: %w", err)
		}
		slog.Info("Database connected", "path", cfg.DBPath)

		store.StartSweeper(ctx, repo, cfg.SnapshotTTL)
	}
	sessions := session.NewStore(repo, logger)

	// Engines.
	llmClient := newOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	transcriber := speech.NewTranscriber(&speech.OpenAIRecognizer{
		Client:   newOpenAIClient(cfg.OpenAIAPIKey, cfg.STTBaseURL()),
		Model:    cfg.Speech.STTModel,
		Language: cfg.Speech.STTLanguage,
	}, "", logger)
	synth := speech.NewSynthesizer(&speech.OpenAISpeaker{
		Client: newOpenAIClient(cfg.OpenAIAPIKey, cfg.TTSBaseURL()),
		Model:  cfg.Speech.TTSModel,
	}, cfg.Speech.TTSVoice, logger)

	model, err := newModel(ctx, cfg, llmClient)
	if err != nil {
		return err
	}

	tutor := agent.New(model, agent.Config{
		RequestLimit: cfg.Agent.RequestLimit,
		HistoryLimit: cfg.Agent.HistoryLimit,
	}, logger)
	tutor.SetSessionSaver(sessions)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()
	tutor.SetConversationLogger(conversationLogger)

	// Handlers.
	conns := realtime.NewConnManager(logger)
	wsHandler := realtime.NewHandler(realtime.Config{
		Sessions:       sessions,
		Transcriber:    transcriber,
		Synthesizer:    synth,
		Agent:          tutor,
		Conns:          conns,
		ChunkSizeWords: cfg.Agent.ChunkSizeWords,
		OriginPatterns: realtime.OriginPatterns(cfg.CORSOrigins),
		Logger:         logger,
	})
	apiHandler := api.NewHandler(sessions, tutor, synth, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.Timing(logger))
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(identity.Middleware())

	r.Get("/", web.IndexHandler().ServeHTTP)
	apiHandler.RegisterRoutes(r)
	r.Get("/ws/agent", wsHandler.ServeHTTP)

	// Realtime connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	}
	stop()

	slog.Info("Shutting down gracefully...", "open_connections", conns.Total())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closeCtx, cancelClose := context.WithTimeout(shutdownCtx, 3*time.Second)
	conns.CloseAll(closeCtx)
	cancelClose()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("Server stopped successfully")
	return nil
}

func newOpenAIClient(key config.Secret, baseURL string) *openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(key.Value())}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	c := openai.NewClient(opts...)
	return &c
}

func newModel(ctx context.Context, cfg *config.Config, llmClient *openai.Client) (agent.Model, error) {
	switch cfg.LLMProvider {
	case config.ProviderGemini:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.GeminiAPIKey.Value(),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		return &agent.GeminiModel{Client: client, Model: cfg.Model}, nil
	default:
		return &agent.OpenAIModel{Client: llmClient, Model: cfg.Model}, nil
	}
}
