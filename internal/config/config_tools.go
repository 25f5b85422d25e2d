package config

import "time"

// ToolsConfig controls tool registration, execution, and approval behavior.
type ToolsConfig struct {
	Execution ToolExecutionConfig `yaml:"execution"`
	Elevated  ElevatedConfig      `yaml:"elevated"`
	Jobs      ToolJobsConfig      `yaml:"jobs"`
	Policies  ToolPoliciesConfig  `yaml:"policies"`
}

// ToolPoliciesConfig defines default allow/deny policies for tools.
type ToolPoliciesConfig struct {
	// Default policy behavior: "allow" | "deny" | "prompt".
	Default string           `yaml:"default"`
	Rules   []ToolPolicyRule `yaml:"rules"`
}

// ToolPolicyRule defines a policy action for a single tool.
type ToolPolicyRule struct {
	Tool   string `yaml:"tool"`
	Action string `yaml:"action"`
}

// ToolExecutionConfig controls runtime tool execution behavior, including the
// golden-path executor's concurrency, timeout, and approval wiring.
type ToolExecutionConfig struct {
	MaxIterations   int                   `yaml:"max_iterations"`
	Parallelism     int                   `yaml:"parallelism"`
	Timeout         time.Duration         `yaml:"timeout"`
	MaxToolRetries  int                   `yaml:"max_tool_retries"`
	RetryBackoff    time.Duration         `yaml:"retry_backoff"`
	MaxToolCalls    int                   `yaml:"max_tool_calls"`
	RequireApproval []string              `yaml:"require_approval"`
	Async           []string              `yaml:"async"`
	Approval        ApprovalConfig        `yaml:"approval"`
	ResultGuard     ToolResultGuardConfig `yaml:"result_guard"`
}

// ApprovalConfig controls tool approval behavior (spec.md §4.4 Permission Flow).
type ApprovalConfig struct {
	Allowlist       []string      `yaml:"allowlist"`
	Denylist        []string      `yaml:"denylist"`
	RequireApproval []string      `yaml:"require_approval"`
	SafeBins        []string      `yaml:"safe_bins"`
	SkillAllowlist  bool          `yaml:"skill_allowlist"`
	AskFallback     bool          `yaml:"ask_fallback"`
	DefaultDecision string        `yaml:"default_decision"`
	RequestTTL      time.Duration `yaml:"request_ttl"`
}

// ToolResultGuardConfig bounds tool result payload sizes before they re-enter context.
type ToolResultGuardConfig struct {
	Enabled  bool `yaml:"enabled"`
	MaxChars int  `yaml:"max_chars"`
}

// ElevatedConfig names tools that may bypass NeedsApproval at Elevated/Full trust.
type ElevatedConfig struct {
	Tools []string `yaml:"tools"`
}

// ToolJobsConfig controls async (fire-and-forget) tool job execution.
type ToolJobsConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Retention     time.Duration `yaml:"retention"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// SafetyConfig configures the safety gateway (spec.md §4.8).
type SafetyConfig struct {
	MaxPerTurn            int           `yaml:"max_per_turn"`
	MaxPerSession         int           `yaml:"max_per_session"`
	RateLimitPerSecond    float64       `yaml:"rate_limit_per_second"`
	RateLimitPerMinute    float64       `yaml:"rate_limit_per_minute"`
	PlanModeEnforced      bool          `yaml:"plan_mode_enforced"`
	WorkspaceTrust        string        `yaml:"workspace_trust"`
	ApprovalRiskThreshold string        `yaml:"approval_risk_threshold"`
	MaxRepeatedToolCalls  int           `yaml:"max_repeated_tool_calls"`
	DefaultTimeout        time.Duration `yaml:"default_timeout"`
}

// DefaultSafetyConfig mirrors golden_path_orchestrator.rs's GoldenPathConfig defaults.
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{
		MaxPerTurn:            100,
		MaxPerSession:         1000,
		RateLimitPerSecond:    5,
		RateLimitPerMinute:    120,
		PlanModeEnforced:      false,
		WorkspaceTrust:        "trusted",
		ApprovalRiskThreshold: "medium",
		MaxRepeatedToolCalls:  2,
		DefaultTimeout:        300 * time.Second,
	}
}

// CacheConfig configures the smart result cache (spec.md §4.5).
type CacheConfig struct {
	MaxEntries      int           `yaml:"max_entries"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	FuzzyThreshold  float64       `yaml:"fuzzy_threshold"`
}

// DefaultCacheConfig mirrors smart_cache.rs's SmartResultCache::default().
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries:      1000,
		FreshnessWindow: 300 * time.Second,
		FuzzyThreshold:  0.85,
	}
}

// SummarizerConfig configures the background summarizer worker (spec.md §4.6).
type SummarizerConfig struct {
	ChannelCapacity     int           `yaml:"channel_capacity"`
	MaxConcurrentTasks  int           `yaml:"max_concurrent_tasks"`
	MinSummaryInterval  time.Duration `yaml:"min_summary_interval"`
	MinTurnsSinceLast   int           `yaml:"min_turns_since_last"`
	LLMCompressionBytes int           `yaml:"llm_compression_bytes"`
}

// DefaultSummarizerConfig mirrors smart_summarizer.rs defaults.
func DefaultSummarizerConfig() SummarizerConfig {
	return SummarizerConfig{
		ChannelCapacity:     32,
		MaxConcurrentTasks:  4,
		MinSummaryInterval:  30 * time.Second,
		MinTurnsSinceLast:   10,
		LLMCompressionBytes: 10 * 1024,
	}
}

// DotfileConfig configures the audit log and backup manager (spec.md §4.9).
type DotfileConfig struct {
	AuditLogPath string `yaml:"audit_log_path"`
	BackupDir    string `yaml:"backup_dir"`
	MaxBackups   int    `yaml:"max_backups"`
	// PruneSchedule is a five-field cron expression controlling how often
	// the backup index is swept for stale/over-quota entries, independent
	// of the per-write cleanup CreateBackup already does. Empty means
	// hourly.
	PruneSchedule string `yaml:"prune_schedule"`
}

// DefaultDotfileConfig mirrors the original dotfile_protection defaults.
func DefaultDotfileConfig() DotfileConfig {
	return DotfileConfig{
		AuditLogPath:  ".agentcore/audit.jsonl",
		BackupDir:     ".agentcore/backups",
		MaxBackups:    5,
		PruneSchedule: "@hourly",
	}
}
