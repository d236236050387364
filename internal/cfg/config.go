// Package cfg parses the control plane's process-environment configuration
// into typed records, once, at startup.
package cfg

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// PoolConfig controls the Warm Pool Manager's target sizing and protection list.
type PoolConfig struct {
	WorkerTargetBase   int           `env:"POOL_WORKER_TARGET_BASE" envDefault:"3"`
	WorkerTargetMax    int           `env:"POOL_WORKER_TARGET_MAX" envDefault:"20"`
	CacheMasterCount   int           `env:"POOL_CACHE_MASTER_COUNT" envDefault:"1"`
	MaxIdleAge         time.Duration `env:"POOL_MAX_IDLE_AGE" envDefault:"30m"`
	MaxSandboxAge      time.Duration `env:"POOL_MAX_SANDBOX_AGE" envDefault:"12h"`
	ProtectedSandboxIDs []string     `env:"POOL_PROTECTED_SANDBOX_IDS" envSeparator:","`
	// ActiveUserLoadFactor is the 0.3 multiplier in target = clamp(ceil(activeUsers*f), base, max).
	ActiveUserLoadFactor float64 `env:"POOL_ACTIVE_USER_LOAD_FACTOR" envDefault:"0.3"`
	// PrewarmStableWindowPolls is the number of consecutive equal-size polls required before
	// a worker is marked cacheReady.
	PrewarmStableWindowPolls int           `env:"POOL_PREWARM_STABLE_WINDOW_POLLS" envDefault:"3"`
	PrewarmPollInterval      time.Duration `env:"POOL_PREWARM_POLL_INTERVAL" envDefault:"5s"`
	PrewarmMinBytes          int64         `env:"POOL_PREWARM_MIN_BYTES" envDefault:"1073741824"`
	PrewarmBudget            time.Duration `env:"POOL_PREWARM_BUDGET" envDefault:"6m"`
	ReplenishCacheMasterBudget time.Duration `env:"POOL_REPLENISH_CACHE_MASTER_BUDGET" envDefault:"2m"`
}

// ProviderConfig points at the external Sandbox Provider API.
type ProviderConfig struct {
	BaseURL          string        `env:"PROVIDER_BASE_URL,required,notEmpty"`
	APIKey           string        `env:"PROVIDER_API_KEY"`
	RoutingHeader    string        `env:"PROVIDER_ROUTING_HEADER" envDefault:"X-Instance-Id"`
	HealthPhase1     time.Duration `env:"PROVIDER_HEALTH_PHASE1_TIMEOUT" envDefault:"30s"`
	HealthTotal      time.Duration `env:"PROVIDER_HEALTH_TOTAL_TIMEOUT" envDefault:"90s"`
	RouteVerifyBudget time.Duration `env:"PROVIDER_ROUTE_VERIFY_BUDGET" envDefault:"10s"`
	ExecMaxRetries   int           `env:"PROVIDER_EXEC_MAX_RETRIES" envDefault:"3"`
	ExecBackoffCap   time.Duration `env:"PROVIDER_EXEC_BACKOFF_CAP" envDefault:"3s"`
	MaxConcurrency   int           `env:"PROVIDER_MAX_CONCURRENCY" envDefault:"16"`
}

// StoreConfig points at the external Object Store and the Session Store backend.
type StoreConfig struct {
	ObjectStoreBaseURL  string        `env:"OBJECT_STORE_BASE_URL,required,notEmpty"`
	ObjectStoreBucket   string        `env:"OBJECT_STORE_BUCKET,required,notEmpty"`
	SignedURLTTL        time.Duration `env:"OBJECT_STORE_SIGNED_URL_TTL" envDefault:"15m"`
	MaxConcurrency      int           `env:"OBJECT_STORE_MAX_CONCURRENCY" envDefault:"16"`
	SessionStorePath    string        `env:"SESSION_STORE_PATH,required,notEmpty"`
	RedisAddr           string        `env:"SESSION_STORE_REDIS_ADDR"`
	RedisPrefix         string        `env:"SESSION_STORE_REDIS_PREFIX" envDefault:"wlo:session:"`
}

// DetectionRules is the optional env-level override of the project-kind detection table;
// the full table may additionally be overlaid from a detection-rules.yaml file.
type DetectionRules struct {
	RulesFile             string  `env:"DETECTION_RULES_FILE"`
	TurbopackHangRangeMin string  `env:"DETECTION_TURBOPACK_HANG_MIN" envDefault:">=16.0.0"`
	TurbopackHangRangeMax string  `env:"DETECTION_TURBOPACK_HANG_MAX" envDefault:"<16.2.0"`
	HeavyDepThreshold     int     `env:"DETECTION_HEAVY_DEP_THRESHOLD" envDefault:"50"`
}

// OrchestratorConfig controls the per-project state machine's timeouts.
type OrchestratorConfig struct {
	InstallTimeout        time.Duration `env:"ORCH_INSTALL_TIMEOUT" envDefault:"10m"`
	HealthBudgetNextJS     time.Duration `env:"ORCH_HEALTH_BUDGET_NEXTJS" envDefault:"180s"`
	HealthBudgetDefault    time.Duration `env:"ORCH_HEALTH_BUDGET_DEFAULT" envDefault:"90s"`
	LogPumpInterval        time.Duration `env:"ORCH_LOG_PUMP_INTERVAL" envDefault:"1500ms"`
	LogPumpMaxLifetime     time.Duration `env:"ORCH_LOG_PUMP_MAX_LIFETIME" envDefault:"30m"`
	StartSettleDelay       time.Duration `env:"ORCH_START_SETTLE_DELAY" envDefault:"1s"`
	GatewayHost            string        `env:"ORCH_GATEWAY_HOST,required,notEmpty"`
	DevServerMemoryDefaultMB int         `env:"ORCH_MEMORY_DEFAULT_MB" envDefault:"2048"`
	DevServerMemoryHeavyMB   int         `env:"ORCH_MEMORY_HEAVY_MB" envDefault:"4096"`
	// ImageRef is the image sandboxes are created from: cmd/server passes it to
	// the pool manager for workers and cache-masters, and getOrCreateSandbox's
	// fallback/adoption path and session recovery compare against it.
	// SharedPackageVolumeRef is used only by the fallback/adoption path
	// (spec §4.6 point 4); pool workers have no per-project volume.
	ImageRef               string `env:"ORCH_IMAGE_REF,required,notEmpty"`
	SharedPackageVolumeRef string `env:"ORCH_SHARED_PACKAGE_VOLUME_REF"`
	// MaxActiveSandboxes is the optional ConcurrencyCapped enforcement point
	// (spec §7): 0 disables it. When set, the oldest-by-createdAt session
	// over the cap is stopped after each successful StartPreview.
	MaxActiveSandboxes int `env:"ORCH_MAX_ACTIVE_SANDBOXES" envDefault:"0"`
}

// ReconcilerConfig controls the reconciler/reaper's cadence.
type ReconcilerConfig struct {
	Interval time.Duration `env:"RECONCILER_INTERVAL" envDefault:"5m"`
}

// AdminConfig controls the admin/control HTTP surface.
type AdminConfig struct {
	ListenAddr string `env:"ADMIN_LISTEN_ADDR" envDefault:":8080"`
	Local      bool   `env:"LOCAL" envDefault:"false"`
}

// Config is the root configuration record, parsed once at process startup.
type Config struct {
	Pool         PoolConfig
	Provider     ProviderConfig
	Store        StoreConfig
	Detection    DetectionRules
	Orchestrator OrchestratorConfig
	Reconciler   ReconcilerConfig
	Admin        AdminConfig
}

// Parse reads the process environment into a Config, applying defaults and
// validating required fields. Mirrors the teacher's internal/cfg.Parse shape.
func Parse() (*Config, error) {
	var c Config

	if err := env.Parse(&c.Pool); err != nil {
		return nil, fmt.Errorf("parsing pool config: %w", err)
	}
	if err := env.Parse(&c.Provider); err != nil {
		return nil, fmt.Errorf("parsing provider config: %w", err)
	}
	if err := env.Parse(&c.Store); err != nil {
		return nil, fmt.Errorf("parsing store config: %w", err)
	}
	if err := env.Parse(&c.Detection); err != nil {
		return nil, fmt.Errorf("parsing detection config: %w", err)
	}
	if err := env.Parse(&c.Orchestrator); err != nil {
		return nil, fmt.Errorf("parsing orchestrator config: %w", err)
	}
	if err := env.Parse(&c.Reconciler); err != nil {
		return nil, fmt.Errorf("parsing reconciler config: %w", err)
	}
	if err := env.Parse(&c.Admin); err != nil {
		return nil, fmt.Errorf("parsing admin config: %w", err)
	}

	if c.Pool.WorkerTargetBase <= 0 {
		return nil, fmt.Errorf("POOL_WORKER_TARGET_BASE must be positive, got %d", c.Pool.WorkerTargetBase)
	}
	if c.Pool.WorkerTargetMax < c.Pool.WorkerTargetBase {
		return nil, fmt.Errorf("POOL_WORKER_TARGET_MAX (%d) must be >= POOL_WORKER_TARGET_BASE (%d)", c.Pool.WorkerTargetMax, c.Pool.WorkerTargetBase)
	}
	if c.Pool.CacheMasterCount <= 0 {
		return nil, fmt.Errorf("POOL_CACHE_MASTER_COUNT must be positive, got %d", c.Pool.CacheMasterCount)
	}

	return &c, nil
}
