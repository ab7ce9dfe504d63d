// Command boardflow runs the pipeline item lifecycle service.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	charmLog "github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hylla/boardflow/internal/adapters/clients"
	"github.com/hylla/boardflow/internal/adapters/realtime"
	serveradapter "github.com/hylla/boardflow/internal/adapters/server"
	"github.com/hylla/boardflow/internal/adapters/storage/sqlite"
	"github.com/hylla/boardflow/internal/app"
	"github.com/hylla/boardflow/internal/config"
	"github.com/hylla/boardflow/internal/domain"
	"github.com/hylla/boardflow/internal/metrics"
	"github.com/hylla/boardflow/internal/platform"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run runs the requested command flow.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	fs := flag.NewFlagSet("boardflow", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		configPath string
		dbPath     string
		bindAddr   string
		devMode    bool
		showVer    bool
	)
	fs.StringVar(&configPath, "config", "", "path to config TOML")
	fs.StringVar(&dbPath, "db", "", "path to sqlite database")
	fs.StringVar(&bindAddr, "bind", "", "HTTP bind address (overrides config)")
	fs.BoolVar(&devMode, "dev", version == "dev", "use dev mode paths (boardflow-dev)")
	fs.BoolVar(&showVer, "version", false, "show version")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if showVer {
		_, _ = fmt.Fprintf(stdout, "boardflow %s\n", version)
		return nil
	}

	paths, err := platform.DefaultPathsWithOptions(platform.Options{
		AppName: "boardflow",
		DevMode: devMode,
	})
	if err != nil {
		return err
	}

	command := firstArg(fs.Args())
	switch command {
	case "paths":
		_, _ = fmt.Fprintf(stdout, "config: %s\n", paths.ConfigPath)
		_, _ = fmt.Fprintf(stdout, "data_dir: %s\n", paths.DataDir)
		_, _ = fmt.Fprintf(stdout, "db: %s\n", paths.DBPath)
		return nil
	case "", "serve", "seed":
		// Continue.
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	if configPath == "" {
		if envPath := strings.TrimSpace(os.Getenv("BOARDFLOW_CONFIG")); envPath != "" {
			configPath = envPath
		} else {
			configPath = paths.ConfigPath
		}
	}
	dbOverridden := strings.TrimSpace(dbPath) != ""
	if !dbOverridden {
		if envPath := strings.TrimSpace(os.Getenv("BOARDFLOW_DB_PATH")); envPath != "" {
			dbPath = envPath
			dbOverridden = true
		} else {
			dbPath = paths.DBPath
		}
	}

	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}
	if strings.TrimSpace(bindAddr) != "" {
		cfg.Server.Addr = bindAddr
	}

	logger, err := newLogger(stderr, cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	logger.Info("configuration loaded",
		"config_path", configPath, "db_path", cfg.Database.Path, "addr", cfg.Server.Addr)

	repo, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
		return fmt.Errorf("open sqlite repository: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			logger.Warn("sqlite close failed", "err", closeErr)
		}
	}()

	if command == "seed" {
		return runSeed(ctx, repo, fs.Args()[1:], stdout)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineMetrics := metrics.New(registry)

	hub := realtime.NewHub(logger.WithPrefix("realtime"))

	callerCfg := clients.CallerConfig{
		AdvisoryTimeout:  cfg.Services.AdvisoryTimeout.Std(),
		MandatoryTimeout: cfg.Services.MandatoryTimeout.Std(),
		Logger:           logger.WithPrefix("clients"),
	}
	coreCaller := clients.NewCaller(cfg.Services.CoreURL, callerCfg)
	relationsCaller := clients.NewCaller(cfg.Services.RelationsURL, callerCfg)

	svc := app.NewService(app.Deps{
		Items:         repo,
		Hierarchy:     repo,
		Activity:      repo,
		Publisher:     hub,
		Notifications: clients.NewNotificationService(clients.NewCaller(cfg.Services.NotificationsURL, callerCfg)),
		Core:          clients.NewCoreService(coreCaller),
		Relations:     clients.NewRelationsService(relationsCaller),
		Pricing:       clients.NewPricingService(clients.NewCaller(cfg.Services.PricingURL, callerCfg)),
		Loyalty:       clients.NewLoyaltyService(clients.NewCaller(cfg.Services.LoyaltyURL, callerCfg)),
		Logger:        logger.WithPrefix("engine"),
		IDGen:         uuid.NewString,
		Clock:         time.Now,
		Metrics:       engineMetrics,
	})

	logger.Info("serving", "addr", cfg.Server.Addr)
	return serveradapter.Run(ctx, serveradapter.Config{
		HTTPBind:      cfg.Server.Addr,
		ServerName:    "boardflow",
		ServerVersion: version,
		Subdomain:     cfg.Server.Subdomain,
	}, serveradapter.Dependencies{
		Service:  svc,
		Hub:      hub,
		Gatherer: registry,
	})
}

// seedDocument is the JSON shape accepted by the seed command.
type seedDocument struct {
	Boards    []seedBoard    `json:"boards"`
	Pipelines []seedPipeline `json:"pipelines"`
	Stages    []seedStage    `json:"stages"`
}

type seedBoard struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

type seedPipeline struct {
	ID           string               `json:"_id"`
	BoardID      string               `json:"boardId"`
	Name         string               `json:"name"`
	PaymentTypes []domain.PaymentType `json:"paymentTypes,omitempty"`
}

type seedStage struct {
	ID               string   `json:"_id"`
	PipelineID       string   `json:"pipelineId"`
	Name             string   `json:"name"`
	CanEditMemberIDs []string `json:"canEditMemberIds,omitempty"`
	CanMoveMemberIDs []string `json:"canMoveMemberIds,omitempty"`
}

// runSeed loads a hierarchy document into the local database.
func runSeed(ctx context.Context, repo *sqlite.Repository, args []string, stdout io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("seed requires a JSON file path")
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}
	var doc seedDocument
	if err := json.Unmarshal(content, &doc); err != nil {
		return fmt.Errorf("decode seed file: %w", err)
	}

	for _, b := range doc.Boards {
		if err := repo.UpsertBoard(ctx, domain.Board{ID: b.ID, Name: b.Name}); err != nil {
			return fmt.Errorf("seed board %s: %w", b.ID, err)
		}
	}
	for _, p := range doc.Pipelines {
		pipeline := domain.Pipeline{
			ID:           p.ID,
			BoardID:      p.BoardID,
			Name:         p.Name,
			PaymentTypes: p.PaymentTypes,
		}
		if err := repo.UpsertPipeline(ctx, pipeline); err != nil {
			return fmt.Errorf("seed pipeline %s: %w", p.ID, err)
		}
	}
	for _, s := range doc.Stages {
		stage := domain.Stage{
			ID:               s.ID,
			PipelineID:       s.PipelineID,
			Name:             s.Name,
			Status:           domain.StatusActive,
			CanEditMemberIDs: s.CanEditMemberIDs,
			CanMoveMemberIDs: s.CanMoveMemberIDs,
		}
		if err := repo.UpsertStage(ctx, stage); err != nil {
			return fmt.Errorf("seed stage %s: %w", s.ID, err)
		}
	}

	_, _ = fmt.Fprintf(stdout, "seeded %d boards, %d pipelines, %d stages\n",
		len(doc.Boards), len(doc.Pipelines), len(doc.Stages))
	return nil
}

// newLogger builds the runtime logger from config.
func newLogger(stderr io.Writer, cfg config.LoggingConfig) (*charmLog.Logger, error) {
	level := charmLog.InfoLevel
	if strings.TrimSpace(cfg.Level) != "" {
		parsed, err := charmLog.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	return charmLog.NewWithOptions(stderr, charmLog.Options{
		Level:           level,
		ReportTimestamp: true,
		Formatter:       charmLog.LogfmtFormatter,
	}), nil
}

// firstArg returns the first positional argument, if any.
func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
