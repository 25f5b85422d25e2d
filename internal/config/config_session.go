package config

import "time"

// SessionConfig controls per-session memory, heartbeat, and context pruning behavior.
type SessionConfig struct {
	DefaultAgentID string               `yaml:"default_agent_id"`
	Memory         MemoryConfig         `yaml:"memory"`
	Heartbeat      HeartbeatConfig      `yaml:"heartbeat"`
	MemoryFlush    MemoryFlushConfig    `yaml:"memory_flush"`
	ContextPruning ContextPruningConfig `yaml:"context_pruning"`
}

type MemoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Directory string `yaml:"directory"`
	MaxLines  int    `yaml:"max_lines"`
	Days      int    `yaml:"days"`
	Scope     string `yaml:"scope"`
}

type HeartbeatConfig struct {
	Enabled bool   `yaml:"enabled"`
	File    string `yaml:"file"`
	Mode    string `yaml:"mode"`
}

type MemoryFlushConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Threshold int    `yaml:"threshold"`
	Prompt    string `yaml:"prompt"`
}

// ContextPruningConfig controls the char-budget (cache-TTL) pruning path that
// coexists with the semantic pruner in internal/agent/context.
type ContextPruningConfig struct {
	Mode                 string                  `yaml:"mode"`
	TTL                  *time.Duration          `yaml:"ttl"`
	KeepLastAssistants   *int                    `yaml:"keep_last_assistants"`
	SoftTrimRatio        *float64                `yaml:"soft_trim_ratio"`
	HardClearRatio       *float64                `yaml:"hard_clear_ratio"`
	MinPrunableToolChars *int                    `yaml:"min_prunable_tool_chars"`
	Tools                ContextPruningToolMatch `yaml:"tools"`
	SoftTrim             ContextPruningSoftTrim  `yaml:"soft_trim"`
	HardClear            ContextPruningHardClear `yaml:"hard_clear"`
}

// ContextPruningToolMatch selects which tool results can be trimmed.
type ContextPruningToolMatch struct {
	Allow []string `yaml:"allow"`
	Deny  []string `yaml:"deny"`
}

// ContextPruningSoftTrim configures soft trimming of tool result content.
type ContextPruningSoftTrim struct {
	MaxChars  *int `yaml:"max_chars"`
	HeadChars *int `yaml:"head_chars"`
	TailChars *int `yaml:"tail_chars"`
}

// ContextPruningHardClear configures hard clearing of tool result content.
type ContextPruningHardClear struct {
	Enabled     *bool  `yaml:"enabled"`
	Placeholder string `yaml:"placeholder"`
}
