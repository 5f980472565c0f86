package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration of the memory service.
type Config struct {
	// Log configures the zap logger.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Memory configures the session manager and its working-memory buffers.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Salience configures the retrieval scorer.
	Salience SalienceConfig `yaml:"salience" env:"SALIENCE"`

	// Goals configures the goal tracker.
	Goals GoalsConfig `yaml:"goals" env:"GOALS"`

	// Episodes configures the episode detector.
	Episodes EpisodesConfig `yaml:"episodes" env:"EPISODES"`

	// Consolidation configures the background consolidation worker.
	Consolidation ConsolidationConfig `yaml:"consolidation" env:"CONSOLIDATION"`

	// Orchestrator configures context assembly.
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Redis configures the session snapshot store.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database configures the durable fact store.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap sink URLs (stdout, stderr, file paths).
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with file:line.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stacktraces at error level and above.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MemoryConfig configures session lifecycle and turn buffers.
type MemoryConfig struct {
	// MaxSessionsPerUser caps live buffers per user; the least recently
	// used session is evicted past the cap.
	MaxSessionsPerUser int `yaml:"max_sessions_per_user" env:"MAX_SESSIONS_PER_USER"`
	// IdleTimeout evicts sessions with no activity for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"IDLE_TIMEOUT"`
	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	// SnapshotTimeout bounds each snapshot store call.
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout" env:"SNAPSHOT_TIMEOUT"`
	// SnapshotTTL is how long evicted-session snapshots stay recoverable.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	// MaxTurns caps each session's turn buffer.
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
}

// SalienceConfig configures the composite retrieval scorer.
type SalienceConfig struct {
	// RecencyHalfLife is the age at which the recency factor halves.
	RecencyHalfLife time.Duration `yaml:"recency_half_life" env:"RECENCY_HALF_LIFE"`
	// MaxAssumedAccesses normalizes the frequency factor.
	MaxAssumedAccesses int `yaml:"max_assumed_accesses" env:"MAX_ASSUMED_ACCESSES"`
	// Weights are the per-factor weights; they are renormalized if the
	// sum drifts from 1.
	Weights WeightsConfig `yaml:"weights" env:"WEIGHTS"`
}

// WeightsConfig holds the six salience factor weights.
type WeightsConfig struct {
	Recency       float64 `yaml:"recency" env:"RECENCY"`
	Frequency     float64 `yaml:"frequency" env:"FREQUENCY"`
	Relevance     float64 `yaml:"relevance" env:"RELEVANCE"`
	Importance    float64 `yaml:"importance" env:"IMPORTANCE"`
	GoalAlignment float64 `yaml:"goal_alignment" env:"GOAL_ALIGNMENT"`
	EntityOverlap float64 `yaml:"entity_overlap" env:"ENTITY_OVERLAP"`
}

// Sum returns the total weight mass.
func (w WeightsConfig) Sum() float64 {
	return w.Recency + w.Frequency + w.Relevance + w.Importance + w.GoalAlignment + w.EntityOverlap
}

// GoalsConfig configures goal detection and completion matching.
type GoalsConfig struct {
	// MinConfidence is the floor under which classifier detections are
	// discarded.
	MinConfidence float64 `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	// CompletionOverlap is the token-overlap ratio a completion statement
	// must reach against an active goal's description.
	CompletionOverlap float64 `yaml:"completion_overlap" env:"COMPLETION_OVERLAP"`
}

// EpisodesConfig configures activity episode detection.
type EpisodesConfig struct {
	// Window is how far back clustering looks; deadline clustering looks
	// forward twice as far.
	Window time.Duration `yaml:"window" env:"WINDOW"`
	// MinClusterSize is the smallest document or message group that
	// counts as an episode.
	MinClusterSize int `yaml:"min_cluster_size" env:"MIN_CLUSTER_SIZE"`
	// MinDeadlineCluster is the smallest same-day deadline group.
	MinDeadlineCluster int `yaml:"min_deadline_cluster" env:"MIN_DEADLINE_CLUSTER"`
	// ActivityNorm is the member count at which activity saturates at 1.
	ActivityNorm int `yaml:"activity_norm" env:"ACTIVITY_NORM"`
	// CacheTTL is how long detected episodes are served from cache.
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// MaxEpisodes caps retrieval context to the strongest episodes.
	MaxEpisodes int `yaml:"max_episodes" env:"MAX_EPISODES"`
}

// ConsolidationConfig configures the background consolidation worker.
type ConsolidationConfig struct {
	// Interval between runs.
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
	// RunTimeout bounds a single run.
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`
	// PromotionThreshold is the pending-fact importance that earns
	// durable storage.
	PromotionThreshold float64 `yaml:"promotion_threshold" env:"PROMOTION_THRESHOLD"`
	// DecayAfter is how long a fact may go unaccessed before decay starts.
	DecayAfter time.Duration `yaml:"decay_after" env:"DECAY_AFTER"`
	// DecayRate is the confidence lost per stale week.
	DecayRate float64 `yaml:"decay_rate" env:"DECAY_RATE"`
	// MergeThreshold is the similarity at which same-category facts merge.
	MergeThreshold float64 `yaml:"merge_threshold" env:"MERGE_THRESHOLD"`
	// MergeBoost is added to the surviving fact's confidence on merge.
	MergeBoost float64 `yaml:"merge_boost" env:"MERGE_BOOST"`
	// RemovalFloor deletes facts whose confidence decays below it.
	RemovalFloor float64 `yaml:"removal_floor" env:"REMOVAL_FLOOR"`
	// GoalRetention archives completed goals older than this.
	GoalRetention time.Duration `yaml:"goal_retention" env:"GOAL_RETENTION"`
	// PatternStaleness marks behavior patterns unused this long.
	PatternStaleness time.Duration `yaml:"pattern_staleness" env:"PATTERN_STALENESS"`
	// PatternPenalty is subtracted from stale pattern confidence.
	PatternPenalty float64 `yaml:"pattern_penalty" env:"PATTERN_PENALTY"`
	// StoreOpsPerSecond rate-limits writes against the fact store.
	StoreOpsPerSecond float64 `yaml:"store_ops_per_second" env:"STORE_OPS_PER_SECOND"`
	// HistoryLimit caps the in-memory run history.
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// OrchestratorConfig configures context assembly.
type OrchestratorConfig struct {
	// FactSearchLimit is how many scored facts a context carries.
	FactSearchLimit int `yaml:"fact_search_limit" env:"FACT_SEARCH_LIMIT"`
	// RecentTurnWindow is how many buffer turns a context carries.
	RecentTurnWindow int `yaml:"recent_turn_window" env:"RECENT_TURN_WINDOW"`
	// BranchTimeout bounds each retrieval branch of the fan-out.
	BranchTimeout time.Duration `yaml:"branch_timeout" env:"BRANCH_TIMEOUT"`
	// DueSoonWindow is how close a due date must be to become an insight.
	DueSoonWindow time.Duration `yaml:"due_soon_window" env:"DUE_SOON_WINDOW"`
	// MaxContextLength truncates rendered contexts, in characters.
	MaxContextLength int `yaml:"max_context_length" env:"MAX_CONTEXT_LENGTH"`
}

// RedisConfig configures the snapshot store connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig configures the durable fact store.
type DatabaseConfig struct {
	// Driver: postgres, mysql, sqlite.
	Driver string `yaml:"driver" env:"DRIVER"`
	Host   string `yaml:"host" env:"HOST"`
	Port   int    `yaml:"port" env:"PORT"`
	User   string `yaml:"user" env:"USER"`
	// Password for the database user.
	Password string `yaml:"password" env:"PASSWORD"`
	// Name is the database name, or the file path for sqlite.
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// MaxOpenConns caps the connection pool.
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// ConnMaxLifetime recycles pooled connections.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the driver-specific connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// Loader assembles a Config from defaults, an optional YAML file, and
// environment variables, in that order of precedence.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the AGENTMEMORY env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "AGENTMEMORY",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an error;
// the file layer is simply skipped.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends a validation hook run after all layers apply.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then YAML, then env, then
// the built-in Validate plus any registered validators.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct recursively, building env keys from
// the prefix and each field's env tag: AGENTMEMORY_MEMORY_MAX_TURNS.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// time.Duration fields accept duration syntax, not raw ints.
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads from path and panics on failure. For binaries that
// cannot run without configuration.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads defaults plus environment overrides, no file layer.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not json or console", c.Log.Format))
	}

	if c.Memory.MaxSessionsPerUser <= 0 {
		errs = append(errs, "memory.max_sessions_per_user must be positive")
	}
	if c.Memory.MaxTurns <= 0 {
		errs = append(errs, "memory.max_turns must be positive")
	}
	if c.Memory.IdleTimeout <= 0 {
		errs = append(errs, "memory.idle_timeout must be positive")
	}

	if c.Salience.Weights.Sum() <= 0 {
		errs = append(errs, "salience.weights must have positive mass")
	}
	if c.Salience.RecencyHalfLife <= 0 {
		errs = append(errs, "salience.recency_half_life must be positive")
	}

	for name, v := range map[string]float64{
		"goals.min_confidence":              c.Goals.MinConfidence,
		"goals.completion_overlap":          c.Goals.CompletionOverlap,
		"consolidation.promotion_threshold": c.Consolidation.PromotionThreshold,
		"consolidation.merge_threshold":     c.Consolidation.MergeThreshold,
		"consolidation.removal_floor":       c.Consolidation.RemovalFloor,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be in [0, 1]")
		}
	}

	if c.Episodes.Window <= 0 {
		errs = append(errs, "episodes.window must be positive")
	}
	if c.Episodes.MinClusterSize <= 0 {
		errs = append(errs, "episodes.min_cluster_size must be positive")
	}

	if c.Consolidation.Interval <= 0 {
		errs = append(errs, "consolidation.interval must be positive")
	}
	if c.Consolidation.RemovalFloor >= c.Consolidation.PromotionThreshold {
		errs = append(errs, "consolidation.removal_floor must be below the promotion threshold")
	}

	if c.Orchestrator.MaxContextLength <= 0 {
		errs = append(errs, "orchestrator.max_context_length must be positive")
	}
	if c.Orchestrator.BranchTimeout <= 0 {
		errs = append(errs, "orchestrator.branch_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
