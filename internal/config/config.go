package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/internal/skills"
)

// Config is the root configuration for the agentcore runloop.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Tools         ToolsConfig         `yaml:"tools"`
	Safety        SafetyConfig        `yaml:"safety"`
	Cache         CacheConfig         `yaml:"cache"`
	Summarizer    SummarizerConfig    `yaml:"summarizer"`
	Dotfile       DotfileConfig       `yaml:"dotfile"`
	Session       SessionConfig       `yaml:"session"`
	Skills        skills.SkillsConfig `yaml:"skills"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// Load reads a configuration file (resolving $include directives), decodes
// it, applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}

	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.LLM)
	applyToolsDefaults(cfg)
	applySessionDefaults(&cfg.Session)
	applyLoggingDefaults(&cfg.Logging)
	applySafetyDefaults(&cfg.Safety)
	applyCacheDefaults(&cfg.Cache)
	applySummarizerDefaults(&cfg.Summarizer)
	applyDotfileDefaults(&cfg.Dotfile)
}

func applySessionDefaults(cfg *SessionConfig) {
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = "main"
	}
	if cfg.Memory.Directory == "" {
		cfg.Memory.Directory = "memory"
	}
	if cfg.Memory.MaxLines == 0 {
		cfg.Memory.MaxLines = 20
	}
	if cfg.Memory.Days == 0 {
		cfg.Memory.Days = 2
	}
	if cfg.Memory.Scope == "" {
		cfg.Memory.Scope = "session"
	}
	if cfg.Heartbeat.File == "" {
		cfg.Heartbeat.File = "HEARTBEAT.md"
	}
	if cfg.Heartbeat.Mode == "" {
		cfg.Heartbeat.Mode = "always"
	}
	if cfg.MemoryFlush.Threshold == 0 {
		cfg.MemoryFlush.Threshold = 80
	}
	if cfg.MemoryFlush.Prompt == "" {
		cfg.MemoryFlush.Prompt = "Session nearing compaction. If there are durable facts, store them before context is pruned. Reply NO_REPLY if nothing needs attention."
	}
}

func applyToolsDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Tools.Execution.Timeout == 0 {
		cfg.Tools.Execution.Timeout = cfg.Safety.DefaultTimeout
	}
	if cfg.Tools.Jobs.MaxConcurrent == 0 {
		cfg.Tools.Jobs.MaxConcurrent = 4
	}
	if cfg.Tools.Jobs.Retention == 0 {
		cfg.Tools.Jobs.Retention = 24 * time.Hour
	}
	if cfg.Tools.Jobs.PruneInterval == 0 {
		cfg.Tools.Jobs.PruneInterval = time.Hour
	}
	if cfg.Tools.Execution.Approval.DefaultDecision == "" {
		cfg.Tools.Execution.Approval.DefaultDecision = "pending"
	}
	if cfg.Tools.Execution.Approval.RequestTTL == 0 {
		cfg.Tools.Execution.Approval.RequestTTL = 5 * time.Minute
	}
}

func applyLLMDefaults(cfg *LLMConfig) {
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = "anthropic"
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
}

func applySafetyDefaults(cfg *SafetyConfig) {
	defaults := DefaultSafetyConfig()
	if cfg.MaxPerTurn == 0 {
		cfg.MaxPerTurn = defaults.MaxPerTurn
	}
	if cfg.MaxPerSession == 0 {
		cfg.MaxPerSession = defaults.MaxPerSession
	}
	if cfg.RateLimitPerSecond == 0 {
		cfg.RateLimitPerSecond = defaults.RateLimitPerSecond
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = defaults.RateLimitPerMinute
	}
	if cfg.WorkspaceTrust == "" {
		cfg.WorkspaceTrust = defaults.WorkspaceTrust
	}
	if cfg.ApprovalRiskThreshold == "" {
		cfg.ApprovalRiskThreshold = defaults.ApprovalRiskThreshold
	}
	if cfg.MaxRepeatedToolCalls == 0 {
		cfg.MaxRepeatedToolCalls = defaults.MaxRepeatedToolCalls
	}
	if cfg.DefaultTimeout == 0 {
		cfg.DefaultTimeout = defaults.DefaultTimeout
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	defaults := DefaultCacheConfig()
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = defaults.MaxEntries
	}
	if cfg.FreshnessWindow == 0 {
		cfg.FreshnessWindow = defaults.FreshnessWindow
	}
	if cfg.FuzzyThreshold == 0 {
		cfg.FuzzyThreshold = defaults.FuzzyThreshold
	}
}

func applySummarizerDefaults(cfg *SummarizerConfig) {
	defaults := DefaultSummarizerConfig()
	if cfg.ChannelCapacity == 0 {
		cfg.ChannelCapacity = defaults.ChannelCapacity
	}
	if cfg.MaxConcurrentTasks == 0 {
		cfg.MaxConcurrentTasks = defaults.MaxConcurrentTasks
	}
	if cfg.MinSummaryInterval == 0 {
		cfg.MinSummaryInterval = defaults.MinSummaryInterval
	}
	if cfg.MinTurnsSinceLast == 0 {
		cfg.MinTurnsSinceLast = defaults.MinTurnsSinceLast
	}
	if cfg.LLMCompressionBytes == 0 {
		cfg.LLMCompressionBytes = defaults.LLMCompressionBytes
	}
}

func applyDotfileDefaults(cfg *DotfileConfig) {
	defaults := DefaultDotfileConfig()
	if cfg.AuditLogPath == "" {
		cfg.AuditLogPath = defaults.AuditLogPath
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = defaults.BackupDir
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = defaults.MaxBackups
	}
}

func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_WORKSPACE_TRUST")); value != "" {
		cfg.Safety.WorkspaceTrust = value
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "anthropic", value)
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" {
		setProviderAPIKey(&cfg.LLM, "openai", value)
	}
}

func setProviderAPIKey(cfg *LLMConfig, provider, key string) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]LLMProviderConfig{}
	}
	entry := cfg.Providers[provider]
	if entry.APIKey == "" {
		entry.APIKey = key
	}
	cfg.Providers[provider] = entry
}

// ConfigValidationError collects all validation issues found in a Config.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return "config validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if cfg.Session.Memory.MaxLines < 0 {
		issues = append(issues, "session.memory.max_lines must be >= 0")
	}
	if cfg.Session.Memory.Days < 0 {
		issues = append(issues, "session.memory.days must be >= 0")
	}
	if cfg.Session.Memory.Scope != "" && !validMemoryScope(cfg.Session.Memory.Scope) {
		issues = append(issues, "session.memory.scope must be \"session\", \"channel\", or \"global\"")
	}
	if cfg.Session.Heartbeat.Enabled && strings.TrimSpace(cfg.Session.Heartbeat.File) == "" {
		issues = append(issues, "session.heartbeat.file is required when heartbeat is enabled")
	}
	if cfg.Session.Heartbeat.Mode != "" && !validHeartbeatMode(cfg.Session.Heartbeat.Mode) {
		issues = append(issues, "session.heartbeat.mode must be \"always\" or \"on_demand\"")
	}
	if cfg.Session.MemoryFlush.Threshold < 0 {
		issues = append(issues, "session.memory_flush.threshold must be >= 0")
	}

	defaultProvider := strings.ToLower(strings.TrimSpace(cfg.LLM.DefaultProvider))
	if defaultProvider != "" {
		if _, ok := cfg.LLM.Providers[defaultProvider]; !ok {
			if _, ok := cfg.LLM.Providers[cfg.LLM.DefaultProvider]; !ok {
				issues = append(issues, fmt.Sprintf("llm.providers missing entry for default_provider %q", cfg.LLM.DefaultProvider))
			}
		}
	}

	if cfg.Tools.Execution.MaxIterations < 0 {
		issues = append(issues, "tools.execution.max_iterations must be >= 0")
	}
	if cfg.Tools.Execution.Parallelism < 0 {
		issues = append(issues, "tools.execution.parallelism must be >= 0")
	}
	if cfg.Tools.Execution.Timeout < 0 {
		issues = append(issues, "tools.execution.timeout must be >= 0")
	}
	if cfg.Tools.Execution.MaxToolRetries < 0 {
		issues = append(issues, "tools.execution.max_tool_retries must be >= 0")
	}
	if cfg.Tools.Execution.RetryBackoff < 0 {
		issues = append(issues, "tools.execution.retry_backoff must be >= 0")
	}
	if cfg.Tools.Execution.MaxToolCalls < 0 {
		issues = append(issues, "tools.execution.max_tool_calls must be >= 0")
	}
	if decision := strings.ToLower(strings.TrimSpace(cfg.Tools.Execution.Approval.DefaultDecision)); decision != "" {
		switch decision {
		case "allowed", "denied", "pending":
		default:
			issues = append(issues, "tools.execution.approval.default_decision must be \"allowed\", \"denied\", or \"pending\"")
		}
	}

	if cfg.Safety.MaxPerTurn < 0 {
		issues = append(issues, "safety.max_per_turn must be >= 0")
	}
	if cfg.Safety.MaxPerSession < 0 {
		issues = append(issues, "safety.max_per_session must be >= 0")
	}
	if cfg.Safety.RateLimitPerSecond < 0 {
		issues = append(issues, "safety.rate_limit_per_second must be >= 0")
	}
	if cfg.Safety.RateLimitPerMinute < 0 {
		issues = append(issues, "safety.rate_limit_per_minute must be >= 0")
	}
	if trust := strings.ToLower(strings.TrimSpace(cfg.Safety.WorkspaceTrust)); trust != "" {
		switch trust {
		case "untrusted", "trusted", "elevated", "full":
		default:
			issues = append(issues, "safety.workspace_trust must be \"untrusted\", \"trusted\", \"elevated\", or \"full\"")
		}
	}
	if risk := strings.ToLower(strings.TrimSpace(cfg.Safety.ApprovalRiskThreshold)); risk != "" {
		switch risk {
		case "low", "medium", "high", "critical":
		default:
			issues = append(issues, "safety.approval_risk_threshold must be \"low\", \"medium\", \"high\", or \"critical\"")
		}
	}

	if cfg.Cache.MaxEntries < 0 {
		issues = append(issues, "cache.max_entries must be >= 0")
	}
	if cfg.Cache.FuzzyThreshold < 0 || cfg.Cache.FuzzyThreshold > 1 {
		issues = append(issues, "cache.fuzzy_threshold must be between 0 and 1")
	}

	if cfg.Summarizer.ChannelCapacity < 0 {
		issues = append(issues, "summarizer.channel_capacity must be >= 0")
	}
	if cfg.Summarizer.MaxConcurrentTasks < 0 {
		issues = append(issues, "summarizer.max_concurrent_tasks must be >= 0")
	}

	if cfg.Dotfile.MaxBackups < 0 {
		issues = append(issues, "dotfile.max_backups must be >= 0")
	}

	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}

	return nil
}

func validMemoryScope(scope string) bool {
	switch strings.ToLower(strings.TrimSpace(scope)) {
	case "session", "channel", "global":
		return true
	default:
		return false
	}
}

func validHeartbeatMode(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "always", "on_demand":
		return true
	default:
		return false
	}
}

// DefaultConfig returns a Config with every section's defaults applied,
// suitable as a starting point before a file is loaded.
func DefaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// workspaceRelative resolves a path relative to the given workspace root,
// leaving absolute paths untouched.
func workspaceRelative(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
