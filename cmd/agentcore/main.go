// Package main provides the CLI entry point for agentcore, a single-agent
// coding assistant runtime: a turn loop (internal/agent) wired to a golden
// tool-dispatch path (internal/goldenpath) that gates every tool call
// through the safety gateway, a fuzzy result cache, and a dotfile audit
// trail before it reaches the tool registry.
//
// # Basic usage
//
//	agentcore run "list the files in this repo"
//	agentcore config validate
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/agent"
	agentctx "github.com/haasonsaas/agentcore/internal/agent/context"
	"github.com/haasonsaas/agentcore/internal/audit"
	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/dotfile"
	"github.com/haasonsaas/agentcore/internal/providers/venice"
	"github.com/haasonsaas/agentcore/internal/resultcache"
	"github.com/haasonsaas/agentcore/internal/safety"
	"github.com/haasonsaas/agentcore/internal/sessions"
	"github.com/haasonsaas/agentcore/internal/skillcontainer"
	"github.com/haasonsaas/agentcore/internal/skills"
	"github.com/haasonsaas/agentcore/internal/tools/exec"
	"github.com/haasonsaas/agentcore/internal/tools/files"
	"github.com/haasonsaas/agentcore/internal/tools/policy"
	"github.com/haasonsaas/agentcore/internal/tools/system"
	"github.com/haasonsaas/agentcore/pkg/models"
	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const channelCLI models.ChannelType = "cli"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcore",
		Short:        "agentcore - a single-agent coding assistant runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildRunCmd(),
		buildConfigCmd(),
		buildDotfileCmd(),
		buildSkillsCmd(),
	)
	return rootCmd
}

// buildRunCmd creates the "run" command: a single turn through the agentic
// runtime, reading the prompt from args (or stdin if omitted) and streaming
// the response to stdout.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
		model      string
	)

	var auditLog bool

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run a single agent turn",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := ""
			if len(args) > 0 {
				prompt = args[0]
			} else {
				scanner := bufio.NewScanner(cmd.InOrStdin())
				var sb strings.Builder
				for scanner.Scan() {
					sb.WriteString(scanner.Text())
					sb.WriteByte('\n')
				}
				prompt = strings.TrimSpace(sb.String())
			}
			if prompt == "" {
				return fmt.Errorf("a prompt is required (pass it as an argument or pipe it on stdin)")
			}

			cfg, err := loadOrDefaultConfig(configPath)
			if err != nil {
				return err
			}
			if workspace == "" {
				workspace = "."
			}

			rt, err := buildRuntime(cfg, workspace, model)
			if err != nil {
				return err
			}

			skillMgr, container, err := loadSkillContainer(cmd.Context(), &cfg.Skills, workspace)
			if err != nil {
				slog.Warn("skill discovery failed, continuing without skills", "error", err)
			} else {
				defer skillMgr.Close()
				if !container.IsEmpty() {
					rt.SetSkills(container)
				}
			}

			auditCfg := audit.DefaultConfig()
			auditCfg.Enabled = auditLog
			auditLogger, err := audit.NewLogger(auditCfg)
			if err != nil {
				return fmt.Errorf("create audit logger: %w", err)
			}
			defer auditLogger.Close()

			session := &models.Session{
				ID:        uuid.NewString(),
				Channel:   channelCLI,
				CreatedAt: time.Now(),
				UpdatedAt: time.Now(),
			}
			msg := &models.Message{
				ID:      uuid.NewString(),
				Role:    models.RoleUser,
				Content: prompt,
			}

			chunks, err := rt.Process(cmd.Context(), session, msg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for chunk := range chunks {
				if chunk.Error != nil {
					return chunk.Error
				}
				if chunk.Text != "" {
					fmt.Fprint(out, chunk.Text)
				}
				if chunk.ToolEvent != nil {
					logToolEvent(cmd.Context(), auditLogger, chunk.ToolEvent, session.ID)
				}
				if chunk.ToolResult != nil {
					fmt.Fprintf(out, "\n[tool result] %s\n", chunk.ToolResult.Content)
				}
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory (overrides config)")
	cmd.Flags().StringVar(&model, "model", "", "model override (provider default if empty)")
	cmd.Flags().BoolVar(&auditLog, "audit-log", false, "emit structured audit events for tool invocations to stdout")
	return cmd
}

// logToolEvent records a tool's lifecycle event to the audit trail
// (internal/audit), covering the invocation/completion/denial cases the
// turn loop emits via ResponseChunk.ToolEvent.
func logToolEvent(ctx context.Context, logger *audit.Logger, event *models.ToolEvent, sessionKey string) {
	switch event.Stage {
	case models.ToolEventRequested:
		logger.LogToolInvocation(ctx, event.ToolName, event.ToolCallID, event.Input, sessionKey)
	case models.ToolEventSucceeded, models.ToolEventFailed:
		logger.LogToolCompletion(ctx, event.ToolName, event.ToolCallID, event.Stage == models.ToolEventSucceeded, event.Output, event.FinishedAt.Sub(event.StartedAt), sessionKey)
	case models.ToolEventDenied, models.ToolEventApprovalRequired:
		logger.LogToolDenied(ctx, event.ToolName, event.ToolCallID, event.Error, event.PolicyReason, sessionKey)
	}
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigValidateCmd())
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaultConfig(configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Configuration is valid.")
			fmt.Fprintf(out, "  default provider: %s\n", cfg.LLM.DefaultProvider)
			fmt.Fprintf(out, "  workspace trust: %s\n", cfg.Safety.WorkspaceTrust)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	return cmd
}

// buildDotfileCmd creates the "dotfile" command group for inspecting the
// protected-path audit trail independent of a running agent turn.
func buildDotfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dotfile",
		Short: "Inspect dotfile protection state",
	}
	cmd.AddCommand(buildDotfileStatusCmd())
	return cmd
}

func buildDotfileStatusCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the dotfile protection configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaultConfig(configPath)
			if err != nil {
				return err
			}
			protection, err := dotfile.New(cfg.Dotfile)
			if err != nil {
				return fmt.Errorf("initialize dotfile protection: %w", err)
			}
			defer protection.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Audit log:  %s\n", cfg.Dotfile.AuditLogPath)
			fmt.Fprintf(out, "Backup dir: %s\n", cfg.Dotfile.BackupDir)
			fmt.Fprintf(out, "Max backups: %d\n", cfg.Dotfile.MaxBackups)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	return cmd
}

// buildSkillsCmd creates the "skills" command group for inspecting the
// skill marketplace (internal/skills) independent of a running agent turn.
func buildSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect discoverable skills",
	}
	cmd.AddCommand(buildSkillsListCmd())
	return cmd
}

func buildSkillsListCmd() *cobra.Command {
	var (
		configPath string
		workspace  string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Discover and list eligible skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadOrDefaultConfig(configPath)
			if err != nil {
				return err
			}
			if workspace == "" {
				workspace = "."
			}

			mgr, err := skills.NewManager(&cfg.Skills, workspace, nil)
			if err != nil {
				return fmt.Errorf("create skill manager: %w", err)
			}
			defer mgr.Close()
			if err := mgr.Discover(cmd.Context()); err != nil {
				return fmt.Errorf("discover skills: %w", err)
			}

			out := cmd.OutOrStdout()
			eligible := mgr.ListEligible()
			if len(eligible) == 0 {
				fmt.Fprintln(out, "No eligible skills found.")
				return nil
			}
			for _, skill := range eligible {
				fmt.Fprintf(out, "%s\t%s\n", skill.Name, skill.Path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&workspace, "workspace", "", "workspace directory (overrides config)")
	return cmd
}

// loadSkillContainer discovers eligible skills from cfg and packs their
// names into a bounded skillcontainer.Container (spec.md §4.10) for
// CompletionRequest.Skills. The caller owns the returned Manager and must
// Close it once discovery-triggered file watching (if any) is no longer
// needed.
func loadSkillContainer(ctx context.Context, cfg *skills.SkillsConfig, workspace string) (*skills.Manager, *skillcontainer.Container, error) {
	mgr, err := skills.NewManager(cfg, workspace, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create skill manager: %w", err)
	}
	if err := mgr.Discover(ctx); err != nil {
		return nil, nil, fmt.Errorf("discover skills: %w", err)
	}
	if err := mgr.StartWatching(ctx); err != nil {
		slog.Warn("skill file watching unavailable, continuing without it", "error", err)
	}

	container := skillcontainer.New()
	for _, skill := range mgr.ListEligible() {
		if container.Len() >= skillcontainer.MaxSkills {
			break
		}
		_ = container.AddSkill(skillcontainer.Custom(skill.Name))
	}
	return mgr, container, nil
}

func loadOrDefaultConfig(path string) (*config.Config, error) {
	if strings.TrimSpace(path) == "" {
		return defaultConfig(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *config.Config {
	return &config.Config{
		Safety: func() config.SafetyConfig {
			s := config.DefaultSafetyConfig()
			s.WorkspaceTrust = string(policy.TrustTOFU)
			return s
		}(),
		Cache:      config.DefaultCacheConfig(),
		Summarizer: config.DefaultSummarizerConfig(),
		Dotfile:    config.DefaultDotfileConfig(),
	}
}

// buildRuntime wires a Runtime's provider, tool registry, and golden-path
// dispatch (safety gateway, result cache, dotfile audit) from cfg.
func buildRuntime(cfg *config.Config, workspace, modelOverride string) (*agent.Runtime, error) {
	apiKey := os.Getenv("VENICE_API_KEY")
	if providerCfg, ok := cfg.LLM.Providers["venice"]; ok && providerCfg.APIKey != "" {
		apiKey = providerCfg.APIKey
	}
	if apiKey == "" {
		return nil, fmt.Errorf("no LLM provider configured (set VENICE_API_KEY or llm.providers.venice.api_key)")
	}

	provider, err := venice.NewVeniceProvider(venice.VeniceConfig{
		APIKey:       apiKey,
		DefaultModel: modelOverride,
	})
	if err != nil {
		return nil, fmt.Errorf("create venice provider: %w", err)
	}

	store := sessions.NewMemoryStore()
	rt := agent.NewRuntime(provider, store)

	if workspace == "" {
		workspace = "."
	}
	for _, tool := range buildWorkspaceTools(workspace) {
		rt.RegisterTool(tool)
	}

	gateway := safety.New(cfg.Safety, safety.DefaultRiskClassifier)
	cache := resultcache.New(resultcache.Config{
		Capacity:       cfg.Cache.MaxEntries,
		Freshness:      cfg.Cache.FreshnessWindow,
		FuzzyThreshold: cfg.Cache.FuzzyThreshold,
	})
	protection, err := dotfile.New(cfg.Dotfile)
	if err != nil {
		return nil, fmt.Errorf("initialize dotfile protection: %w", err)
	}

	goldenPath := rt.NewGoldenPathExecutor(gateway, cache, protection)
	trust := policy.TrustLevel(cfg.Safety.WorkspaceTrust)
	if trust == "" {
		trust = policy.TrustTOFU
	}
	rt.SetGoldenPath(goldenPath, trust)
	rt.SetPlanMode(cfg.Safety.PlanModeEnforced)

	rt.SetSummarizationConfig(&agentctx.SummarizationConfig{
		MaxMsgsBeforeSummary: 30,
		KeepRecentMessages:   10,
		MaxSummaryLength:     cfg.Summarizer.LLMCompressionBytes,
	})
	summarizer := agentctx.NewSummarizer(&llmSummaryProvider{provider: provider}, agentctx.DefaultSummarizationConfig())
	rt.SetSummarizerWorker(agentctx.NewWorker(summarizer, agentctx.WorkerConfig{
		ChannelCapacity:     cfg.Summarizer.ChannelCapacity,
		MaxConcurrentTasks:  cfg.Summarizer.MaxConcurrentTasks,
		MinSummaryInterval:  cfg.Summarizer.MinSummaryInterval,
		MinTurnsSinceLast:   cfg.Summarizer.MinTurnsSinceLast,
		LLMCompressionBytes: cfg.Summarizer.LLMCompressionBytes,
	}))

	return rt, nil
}

// buildWorkspaceTools assembles the standard tool set: file read/write/edit/
// patch plus a workspace-scoped shell exec tool.
func buildWorkspaceTools(workspace string) []agent.Tool {
	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: 0}
	execMgr := exec.NewManager(workspace)
	return []agent.Tool{
		files.NewReadTool(filesCfg),
		files.NewWriteTool(filesCfg),
		files.NewEditTool(filesCfg),
		files.NewApplyPatchTool(filesCfg),
		exec.NewExecTool("shell", execMgr),
		exec.NewProcessTool(execMgr),
		system.NewUsageTool(nil),
	}
}

// llmSummaryProvider adapts an agent.LLMProvider into agentctx.SummaryProvider
// so the summarizer worker can ask the same provider the turn loop uses for
// completions to condense a message history into a short summary.
type llmSummaryProvider struct {
	provider agent.LLMProvider
}

func (p *llmSummaryProvider) Summarize(ctx context.Context, messages []*models.Message, maxLength int) (string, error) {
	var transcript strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&transcript, "%s: %s\n", m.Role, m.Content)
	}

	req := &agent.CompletionRequest{
		System: fmt.Sprintf("Summarize the following conversation in at most %d characters, preserving goals, decisions, and open tasks.", maxLength),
		Messages: []agent.CompletionMessage{
			{Role: "user", Content: transcript.String()},
		},
		MaxTokens: maxLength/4 + 256,
	}

	chunks, err := p.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}

	var summary strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		summary.WriteString(chunk.Text)
	}
	return summary.String(), nil
}
