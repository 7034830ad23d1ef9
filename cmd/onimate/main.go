package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pavelanni/onimate/internal/activity"
	"github.com/pavelanni/onimate/internal/engine"
	"github.com/pavelanni/onimate/internal/focus"
	"github.com/pavelanni/onimate/internal/handler"
	appI18n "github.com/pavelanni/onimate/internal/i18n"
	"github.com/pavelanni/onimate/internal/llm"
	"github.com/pavelanni/onimate/internal/model"
	"github.com/pavelanni/onimate/internal/quiz"
	"github.com/pavelanni/onimate/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "onimate",
		Short: "Gamified study backend: XP, ranks, streaks, focus sessions and quizzes",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), resetCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `onimate --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":3000", "HTTP listen address")
	addStoreFlags(f)
	f.String("llm-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the LLM (falls back to OPENAI_API_KEY; empty disables generation)")
	f.String("llm-model", "gpt-4o-mini", "LLM model name")
	f.Duration("llm-timeout", 30*time.Second, "Timeout for a single generation request")
	f.StringP("lang", "l", "en", "Default language for offline texts (en, ru)")
	f.Duration("focus-duration", focus.DefaultDuration, "Length of a full focus session")
	f.String("admin-password", "", "Password required by /admin routes (or set ONIMATE_ADMIN_PASSWORD)")
	f.Duration("shutdown-timeout", 10*time.Second, "Grace period for in-flight requests on shutdown")
	addCommonFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the profile and user state as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	f.Int("history", 0, "Include up to N archived snapshot versions (sqlite store only)")
	f.Int64("version", 0, "Export an archived snapshot version instead of the current state (sqlite store only)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addCommonFlags(f)
	return cmd
}

func resetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Replace the stored user state with a fresh one",
		RunE:  runReset,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	f.Bool("yes", false, "Confirm the reset")
	addCommonFlags(f)
	return cmd
}

func addStoreFlags(f *pflag.FlagSet) {
	def := store.DefaultRedisConfig()
	f.String("store", store.BackendFile, "State backend (file, sqlite, redis, postgres, memory)")
	f.String("state-file", "user.json", "State file path for the file backend")
	f.String("db", "onimate.db", "SQLite database path for the sqlite backend")
	f.String("redis-addr", def.Addr, "Redis address for the redis backend")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database number")
	f.String("redis-key", def.Key, "Redis key holding the state document")
	f.String("postgres-dsn", "", "PostgreSQL connection string for the postgres backend")
}

func addCommonFlags(f *pflag.FlagSet) {
	f.String("timezone", "Local", "IANA time zone used for calendar days and rest days")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ONIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("onimate")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/onimate")
	v.AddConfigPath("/etc/onimate")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func storeConfig(v *viper.Viper) store.Config {
	return store.Config{
		Backend:    v.GetString("store"),
		StatePath:  v.GetString("state-file"),
		SQLitePath: v.GetString("db"),
		Redis: store.RedisConfig{
			Addr:     v.GetString("redis-addr"),
			Password: v.GetString("redis-password"),
			DB:       v.GetInt("redis-db"),
			Key:      v.GetString("redis-key"),
		},
		PostgresDSN: v.GetString("postgres-dsn"),
	}
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" || strings.EqualFold(name, "local") {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return loc, nil
}

// openEngine opens the configured backend and loads the user state from it.
func openEngine(ctx context.Context, v *viper.Viper) (*engine.Engine, store.Snapshotter, error) {
	loc, err := loadLocation(v.GetString("timezone"))
	if err != nil {
		return nil, nil, err
	}
	cfg := storeConfig(v)
	snap, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}
	if fs, ok := snap.(*store.FileStore); ok {
		slog.Info("using state file", "path", fs.Path())
	}
	e := engine.Load(ctx, snap, engine.WithLocation(loc))
	return e, snap, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, snap, err := openEngine(ctx, v)
	if err != nil {
		return err
	}
	defer snap.Close()

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create LLM client. Without a key every action uses its offline text.
	apiKey := v.GetString("llm-key")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	llmClient := llm.New(v.GetString("llm-url"), apiKey, v.GetString("llm-model"))
	if llmClient.Enabled() {
		if err := llmClient.Ping(ctx); err != nil {
			slog.Warn("LLM health check failed, offline fallbacks will be used on errors", "error", err)
		} else {
			slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", llmClient.Model())
		}
	} else {
		slog.Info("no LLM API key configured, content generation disabled")
	}

	adminHash, err := handler.HashPassword(v.GetString("admin-password"))
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	if adminHash == nil {
		slog.Warn("no admin password set, /admin routes are open")
	}

	timeout := v.GetDuration("llm-timeout")
	focusMgr := focus.NewManager(e, focus.WithDuration(v.GetDuration("focus-duration")))
	defer focusMgr.Close()
	if orphan := focusMgr.Recover(ctx); orphan != nil {
		slog.Warn("recorded focus session that expired while the server was down", "id", orphan.ID)
	}

	backend := storeConfig(v).Backend
	h, err := handler.New(handler.Deps{
		Engine:            e,
		Activity:          activity.NewService(e, llmClient, timeout),
		Focus:             focusMgr,
		Quiz:              quiz.NewService(e, llmClient, timeout),
		Generation:        llmClient,
		AdminPasswordHash: adminHash,
		Backend:           backend,
		Ping:              func(ctx context.Context) error { return store.Ping(ctx, snap) },
	})
	if err != nil {
		return fmt.Errorf("create handler: %w", err)
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Accept-Language", "Content-Type", handler.AdminPasswordHeader},
		MaxAge:         300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("starting server",
		"addr", addr,
		"store", backend,
		"lang", lang,
		"llm_enabled", llmClient.Enabled(),
		"model", llmClient.Model(),
		"focus_duration", focusMgr.Duration(),
		"timezone", v.GetString("timezone"),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), v.GetDuration("shutdown-timeout"))
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	e, snap, err := openEngine(ctx, v)
	if err != nil {
		return err
	}
	defer snap.Close()

	if id := v.GetInt64("version"); id > 0 {
		archived, ok := snap.(*store.Store)
		if !ok {
			return errors.New("--version requires the sqlite store")
		}
		doc, err := archived.Version(ctx, id)
		if err != nil {
			return fmt.Errorf("load snapshot version %d: %w", id, err)
		}
		e, err = engineFromDoc(doc)
		if err != nil {
			return fmt.Errorf("decode snapshot version %d: %w", id, err)
		}
	}

	export := model.StateExport{
		ExportedAt: time.Now().UTC(),
		Store:      storeConfig(v).Backend,
		Profile:    e.Profile(),
		State:      e.Snapshot(),
	}

	if n := v.GetInt("history"); n > 0 {
		hist, ok := snap.(store.Historian)
		if !ok {
			slog.Warn("store keeps no history, skipping", "store", export.Store)
		} else {
			export.History, err = hist.History(ctx, n)
			if err != nil {
				return fmt.Errorf("load history: %w", err)
			}
		}
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// engineFromDoc builds a read-only engine over an archived document.
func engineFromDoc(doc []byte) (*engine.Engine, error) {
	mem := store.NewMemory()
	if err := mem.Save(context.Background(), doc); err != nil {
		return nil, err
	}
	st, err := store.LoadState(context.Background(), mem)
	if err != nil {
		return nil, err
	}
	return engine.New(st, mem), nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	if !v.GetBool("yes") {
		return errors.New("refusing to reset without --yes")
	}

	e, snap, err := openEngine(cmd.Context(), v)
	if err != nil {
		return err
	}
	defer snap.Close()

	before := e.Profile()
	e.Reset(cmd.Context())
	slog.Info("user state reset", "store", storeConfig(v).Backend, "previous_total_exp", before.TotalExp)
	return nil
}
