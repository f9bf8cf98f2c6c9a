package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatd/internal/catalog"
	"chatd/internal/chat"
	"chatd/internal/config"
	"chatd/internal/engine"
	"chatd/internal/httpapi"
	"chatd/internal/store"
	"chatd/pkg/types"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath  string
		corsOrigins string
		flags       config.Config
	)
	cmd := &cobra.Command{
		Use:          "chatd",
		Short:        "Local GGUF chat daemon",
		Long:         "chatd serves conversations backed by local GGUF models: it scans a models directory, persists chat history in sqlite, and streams llama.cpp generations into it.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(configPath, flags)
			if err != nil {
				return err
			}
			return serve(cfg, corsOrigins)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Config file (.yaml/.json/.toml)")
	cmd.Flags().StringVar(&flags.Addr, "addr", "", "HTTP listen address, e.g. :8090")
	cmd.Flags().StringVar(&flags.ModelsDir, "models-dir", "", "Directory to scan for *.gguf model files")
	cmd.Flags().StringVar(&flags.DBPath, "db-path", "", "Path to the sqlite conversation database")
	cmd.Flags().StringVar(&flags.LogLevel, "log-level", "", "Log level: debug|info|warn|error")
	cmd.Flags().IntVar(&flags.MaxTokens, "max-tokens", 0, "Default max tokens per generation")
	cmd.Flags().Float64Var(&flags.Temperature, "temperature", 0, "Default sampling temperature")
	cmd.Flags().Float64Var(&flags.TopP, "top-p", 0, "Default nucleus sampling probability")
	cmd.Flags().IntVar(&flags.PersistIntervalMS, "persist-interval-ms", 0, "Throttle for mid-stream message persistence")
	cmd.Flags().IntVar(&flags.CtxSize, "ctx-size", 0, "Model context window size")
	cmd.Flags().IntVar(&flags.Threads, "threads", 0, "CPU threads for generation (0=auto)")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins (empty disables CORS)")
	return cmd
}

// resolveConfig layers flag > env > file > defaults.
func resolveConfig(path string, flags config.Config) (config.Config, error) {
	cfg := config.Default()
	if path != "" {
		fileCfg, err := config.Load(path)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = config.Merge(cfg, fileCfg)
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		return cfg, err
	}
	return config.Merge(cfg, flags), nil
}

func serve(cfg config.Config, corsOrigins string) error {
	log := httpapi.NewLogger(cfg.LogLevel)
	httpapi.SetLogger(log)

	st, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	importModels := func(ctx context.Context) (int, error) {
		return catalog.Import(ctx, st, cfg.ModelsDir, log)
	}
	if _, err := importModels(context.Background()); err != nil {
		// A missing models dir should not keep the daemon from serving
		// existing conversations.
		log.Warn().Err(err).Str("dir", cfg.ModelsDir).Msg("initial model scan failed")
	}

	engines := engine.NewRegistry(func() engine.Engine {
		return engine.NewLlamaEngine(engine.Options{CtxSize: cfg.CtxSize, Threads: cfg.Threads}, log)
	}, log)
	if !engine.LlamaBuilt() {
		log.Warn().Msg("built without the llama tag; generation requests will fail until rebuilt with -tags=llama")
	}

	svc := chat.New(st, engines, catalog.FileResolver{}, chat.Config{
		PersistInterval: time.Duration(cfg.PersistIntervalMS) * time.Millisecond,
		Generation:      generationConfig(cfg),
		Publisher:       httpapi.MetricsPublisher{},
	}, log)
	defer svc.Close()

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)
	if origins := splitCSV(corsOrigins); len(origins) > 0 {
		httpapi.SetCORSOptions(true, origins,
			[]string{"GET", "POST", "PUT", "DELETE"},
			[]string{"Content-Type"})
	}

	mux := httpapi.NewMux(httpapi.Deps{
		Store:  st,
		Chat:   svc,
		Import: importModels,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("models_dir", cfg.ModelsDir).Str("db", cfg.DBPath).Msg("chatd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errc:
		return err
	case sig := <-stop:
		log.Info().Stringer("signal", sig).Msg("shutting down")
	}

	baseCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}

func generationConfig(cfg config.Config) types.GenerationConfig {
	return types.GenerationConfig{
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
	}
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
