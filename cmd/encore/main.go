package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/fang"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	serveradapter "github.com/hylla/encore/internal/adapters/server"
	"github.com/hylla/encore/internal/adapters/storage/memory"
	"github.com/hylla/encore/internal/adapters/storage/sqlite"
	"github.com/hylla/encore/internal/app"
	"github.com/hylla/encore/internal/config"
	"github.com/hylla/encore/internal/domain"
	"github.com/hylla/encore/internal/metrics"
	"github.com/hylla/encore/internal/optimizer"
	"github.com/hylla/encore/internal/plancache"
	"github.com/hylla/encore/internal/platform"
)

var version = "dev"

// serveCommandRunner starts the HTTP+MCP serve flow.
var serveCommandRunner = func(ctx context.Context, cfg serveradapter.Config, deps serveradapter.Dependencies) error {
	return serveradapter.Run(ctx, cfg, deps)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := fang.Execute(ctx, newRootCommand(os.Stdout, os.Stderr), fang.WithVersion(version)); err != nil {
		os.Exit(1)
	}
}

// run executes one CLI invocation without fang styling.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// cliState carries persistent flag values shared by every subcommand.
type cliState struct {
	stdout     io.Writer
	stderr     io.Writer
	configPath string
	dbPath     string
	appName    string
	devMode    bool
}

// newRootCommand builds the encore command tree.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	state := &cliState{stdout: stdout, stderr: stderr}

	appName := platform.DefaultAppName
	if envApp := strings.TrimSpace(os.Getenv(platform.EnvAppName)); envApp != "" {
		appName = envApp
	}
	devMode, _ := parseBoolEnv(platform.EnvDevMode)

	root := &cobra.Command{
		Use:           "encore",
		Version:       version,
		Short:         "Fair karaoke queue reordering",
		Long:          "encore keeps a karaoke queue fair: it previews a rebalanced order, explains every move, and applies it only while the queue is unchanged.",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	flags := root.PersistentFlags()
	flags.StringVar(&state.configPath, "config", "", "path to config TOML")
	flags.StringVar(&state.dbPath, "db", "", "path to sqlite database")
	flags.StringVar(&state.appName, "app", appName, "application name for config/data path resolution")
	flags.BoolVar(&state.devMode, "dev", devMode, "use dev mode paths (<app>-dev)")

	root.AddCommand(
		newPathsCommand(state),
		newServeCommand(state),
		newEventCommand(state),
		newQueueCommand(state),
		newRebalanceCommand(state),
		newAuditCommand(state),
	)
	return root
}

// runtimeEnv is everything a command needs once config is resolved.
type runtimeEnv struct {
	cfg        config.Config
	configPath string
	logger     *runtimeLogger
	svc        *app.Service
	store      app.QueueStore
	ready      func(context.Context) error
	closers    []func() error
}

// recorder is the metrics surface shared by the service and the plan cache.
type recorder interface {
	app.Metrics
	plancache.LookupRecorder
}

type envOptions struct {
	inMemory bool
	metrics  recorder
}

// resolvePaths applies flag, env, and OS default precedence.
func (s *cliState) resolvePaths() (platform.Paths, string, string, bool, error) {
	paths, err := platform.Resolve(platform.Options{AppName: s.appName, DevMode: s.devMode})
	if err != nil {
		return platform.Paths{}, "", "", false, err
	}
	configPath := strings.TrimSpace(s.configPath)
	if configPath == "" {
		configPath = paths.ConfigPath
	}
	dbPath := strings.TrimSpace(s.dbPath)
	dbOverridden := dbPath != "" || strings.TrimSpace(os.Getenv(platform.EnvDBPath)) != ""
	if dbPath == "" {
		dbPath = paths.DBPath
	}
	return paths, configPath, dbPath, dbOverridden, nil
}

// open loads config, builds the logger, opens storage, and wires the service.
func (s *cliState) open(command string, opts envOptions) (*runtimeEnv, error) {
	paths, configPath, dbPath, dbOverridden, err := s.resolvePaths()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath, config.Default(dbPath))
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", configPath, err)
	}
	if dbOverridden {
		cfg.Database.Path = dbPath
	}

	logger, err := newRuntimeLogger(s.stderr, paths.AppName, s.devMode, cfg.Logging, time.Now)
	if err != nil {
		return nil, fmt.Errorf("configure runtime logger: %w", err)
	}
	env := &runtimeEnv{cfg: cfg, configPath: configPath, logger: logger}
	env.closers = append(env.closers, logger.Close)

	logger.Debug("startup configuration resolved", "app", paths.AppName, "dev_mode", s.devMode, "command", command)
	logger.Debug("configuration loaded", "config_path", configPath, "db_path", cfg.Database.Path, "log_level", cfg.Logging.Level)
	if devPath := logger.DevLogPath(); devPath != "" {
		logger.Info("dev file logging enabled", "path", devPath)
	}

	if opts.inMemory {
		env.store = memory.New()
		logger.Info("using in-memory queue store")
	} else {
		if err := config.EnsureConfigDir(cfg.Database.Path); err != nil {
			_ = env.Close()
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		repo, err := sqlite.Open(cfg.Database.Path)
		if err != nil {
			logger.Error("sqlite open failed", "db_path", cfg.Database.Path, "err", err)
			_ = env.Close()
			return nil, fmt.Errorf("open sqlite repository: %w", err)
		}
		env.store = repo
		env.ready = repo.Ping
		env.closers = append(env.closers, repo.Close)
		logger.Debug("sqlite repository ready", "db_path", cfg.Database.Path)
	}

	rec := opts.metrics
	if rec == nil {
		rec = metrics.NewNop()
	}
	plans := plancache.New(
		plancache.WithSize(cfg.Reorder.PlanCacheSize),
		plancache.WithDefaultTTL(cfg.Reorder.PlanTTL()),
		plancache.WithRecorder(rec),
	)
	env.svc = app.NewService(env.store, plans, optimizer.New(), uuid.NewString, time.Now, serviceConfig(cfg),
		app.WithLogger(logger),
		app.WithMetrics(rec),
		app.WithNotifier(logNotifier{logger: logger}),
	)
	return env, nil
}

// Close releases storage and log sinks in reverse open order.
func (e *runtimeEnv) Close() error {
	var firstErr error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.closers = nil
	return firstErr
}

// serviceConfig maps the [reorder] and [solver] sections onto the app service.
func serviceConfig(cfg config.Config) app.ServiceConfig {
	policy, err := domain.ParseMaturePolicy(cfg.Reorder.MaturePolicy, domain.MaturePolicyDefer)
	if err != nil {
		policy = domain.MaturePolicyDefer
	}
	return app.ServiceConfig{
		DefaultMaturePolicy: policy,
		PlanTTL:             cfg.Reorder.PlanTTL(),
		DefaultMovementCap:  cfg.Reorder.MovementCapPtr(),
		ConfirmThreshold:    cfg.Reorder.ConfirmThreshold,
		FrozenHeadCount:     cfg.Reorder.FrozenHeadCount,
		Horizon:             cfg.Reorder.Horizon,
		AuditPreviews:       cfg.Reorder.AuditPreviews,
		Solver: app.SolverConfig{
			TimeBudget: cfg.Solver.TimeBudget(),
			Workers:    cfg.Solver.Workers,
			Seed:       cfg.Solver.SeedPtr(),
			Weights: optimizer.Weights{
				Movement: cfg.Solver.MovementWeight,
				Spacing:  cfg.Solver.SpacingWeight,
				Fairness: cfg.Solver.FairnessWeight,
			},
		},
	}
}

// parseBoolEnv reports the parsed value and whether the variable held a valid bool.
func parseBoolEnv(name string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
