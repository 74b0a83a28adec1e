package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"
)

// Config is the full runtime configuration loaded from config.toml.
type Config struct {
	Database DatabaseConfig `toml:"database"`
	Logging  LoggingConfig  `toml:"logging"`
	Server   ServerConfig   `toml:"server"`
	Reorder  ReorderConfig  `toml:"reorder"`
	Solver   SolverConfig   `toml:"solver"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig configures the runtime logger.
type LoggingConfig struct {
	Level   string        `toml:"level"`
	DevFile DevFileConfig `toml:"dev_file"`
}

// DevFileConfig configures the logfmt file sink used in dev mode.
type DevFileConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type ServerConfig struct {
	HTTPBind        string `toml:"http_bind"`
	APIEndpoint     string `toml:"api_endpoint"`
	MCPEndpoint     string `toml:"mcp_endpoint"`
	MetricsEndpoint string `toml:"metrics_endpoint"`
}

// ReorderConfig holds preview and apply defaults.
type ReorderConfig struct {
	MaturePolicy     string `toml:"mature_policy"`
	PlanTTLSeconds   int    `toml:"plan_ttl_seconds"`
	MovementCap      int    `toml:"movement_cap"` // 0 = uncapped
	ConfirmThreshold int    `toml:"confirm_threshold"`
	FrozenHeadCount  int    `toml:"frozen_head_count"`
	Horizon          int    `toml:"horizon"` // 0 = whole tail
	AuditPreviews    bool   `toml:"audit_previews"`
	PlanCacheSize    int    `toml:"plan_cache_size"`
}

// SolverConfig holds optimizer settings.
type SolverConfig struct {
	TimeBudgetSeconds float64 `toml:"time_budget_seconds"`
	Workers           int     `toml:"workers"`
	Seed              uint64  `toml:"seed"` // 0 = random per preview
	MovementWeight    int64   `toml:"movement_weight"`
	SpacingWeight     int64   `toml:"spacing_weight"`
	FairnessWeight    int64   `toml:"fairness_weight"`
}

// Default returns the built-in configuration for dbPath.
func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level: "info",
			DevFile: DevFileConfig{
				Enabled: true,
				Dir:     ".encore/log",
			},
		},
		Server: ServerConfig{
			HTTPBind:        "127.0.0.1:8080",
			APIEndpoint:     "/api/v1",
			MCPEndpoint:     "/mcp",
			MetricsEndpoint: "/metrics",
		},
		Reorder: ReorderConfig{
			MaturePolicy:     "defer",
			PlanTTLSeconds:   300,
			MovementCap:      0,
			ConfirmThreshold: 5,
			FrozenHeadCount:  1,
			Horizon:          0,
			AuditPreviews:    true,
			PlanCacheSize:    1024,
		},
		Solver: SolverConfig{
			TimeBudgetSeconds: 2.0,
			Workers:           1,
			Seed:              0,
			MovementWeight:    100,
			SpacingWeight:     250,
			FairnessWeight:    1000,
		},
	}
}

// Load reads path over defaults. A missing or empty file yields the defaults unchanged.
func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if _, err := charmLog.ParseLevel(strings.TrimSpace(c.Logging.Level)); err != nil {
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}

	if strings.TrimSpace(c.Server.HTTPBind) == "" {
		return errors.New("server.http_bind is required")
	}
	for name, endpoint := range map[string]string{
		"server.api_endpoint":     c.Server.APIEndpoint,
		"server.mcp_endpoint":     c.Server.MCPEndpoint,
		"server.metrics_endpoint": c.Server.MetricsEndpoint,
	} {
		endpoint = strings.TrimSpace(endpoint)
		if endpoint != "" && !strings.HasPrefix(endpoint, "/") {
			return fmt.Errorf("%s must start with /: %q", name, endpoint)
		}
	}

	switch strings.TrimSpace(strings.ToLower(c.Reorder.MaturePolicy)) {
	case "", "defer", "allow":
	default:
		return fmt.Errorf("invalid reorder.mature_policy: %q", c.Reorder.MaturePolicy)
	}
	if c.Reorder.PlanTTLSeconds <= 0 {
		return errors.New("reorder.plan_ttl_seconds must be > 0")
	}
	if c.Reorder.MovementCap < 0 {
		return errors.New("reorder.movement_cap must be >= 0")
	}
	if c.Reorder.ConfirmThreshold < 0 {
		return errors.New("reorder.confirm_threshold must be >= 0")
	}
	if c.Reorder.FrozenHeadCount < 0 {
		return errors.New("reorder.frozen_head_count must be >= 0")
	}
	if c.Reorder.Horizon < 0 {
		return errors.New("reorder.horizon must be >= 0")
	}
	if c.Reorder.PlanCacheSize <= 0 {
		return errors.New("reorder.plan_cache_size must be > 0")
	}

	if math.IsNaN(c.Solver.TimeBudgetSeconds) || c.Solver.TimeBudgetSeconds <= 0 {
		return errors.New("solver.time_budget_seconds must be > 0")
	}
	if c.Solver.Workers < 1 {
		return errors.New("solver.workers must be >= 1")
	}
	if c.Solver.MovementWeight < 0 || c.Solver.SpacingWeight < 0 || c.Solver.FairnessWeight < 0 {
		return errors.New("solver weights must be >= 0")
	}
	if w := c.Solver; w.MovementWeight != 0 || w.SpacingWeight != 0 || w.FairnessWeight != 0 {
		if w.MovementWeight >= w.SpacingWeight || w.SpacingWeight >= w.FairnessWeight {
			return errors.New("solver weights must satisfy movement_weight < spacing_weight < fairness_weight")
		}
	}

	return nil
}

// PlanTTL returns the plan lifetime.
func (c ReorderConfig) PlanTTL() time.Duration {
	return time.Duration(c.PlanTTLSeconds) * time.Second
}

// MovementCapPtr returns nil when the cap is disabled.
func (c ReorderConfig) MovementCapPtr() *int {
	if c.MovementCap <= 0 {
		return nil
	}
	v := c.MovementCap
	return &v
}

// TimeBudget returns the per-preview search budget.
func (c SolverConfig) TimeBudget() time.Duration {
	return time.Duration(c.TimeBudgetSeconds * float64(time.Second))
}

// SeedPtr returns nil when previews should pick a random seed.
func (c SolverConfig) SeedPtr() *uint64 {
	if c.Seed == 0 {
		return nil
	}
	v := c.Seed
	return &v
}

// EnsureConfigDir creates the parent directory of path when it is missing.
func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
