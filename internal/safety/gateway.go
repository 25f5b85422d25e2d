// Package safety implements the golden-path safety gateway: the single
// choke point every tool call passes through before dispatch, enforcing
// per-turn/per-session call budgets, rate limiting, repeated-call
// detection, and risk-based approval gating.
package safety

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/haasonsaas/agentcore/internal/config"
	"github.com/haasonsaas/agentcore/internal/ratelimit"
	"github.com/haasonsaas/agentcore/internal/tools/policy"
)

var (
	// ErrPerTurnLimitExceeded is returned when a session exceeds its per-turn tool call budget.
	ErrPerTurnLimitExceeded = errors.New("safety: per-turn tool call limit exceeded")
	// ErrPerSessionLimitExceeded is returned when a session exceeds its lifetime tool call budget.
	ErrPerSessionLimitExceeded = errors.New("safety: per-session tool call limit exceeded")
	// ErrRateLimited is returned when the call rate exceeds the configured budget.
	ErrRateLimited = errors.New("safety: rate limit exceeded")
	// ErrRepeatedCall is returned when the same tool call is repeated too many times in a row.
	ErrRepeatedCall = errors.New("safety: repeated tool call limit exceeded")
	// ErrApprovalRequired is returned when the call's risk level requires approval the
	// current trust level cannot bypass.
	ErrApprovalRequired = errors.New("safety: approval required for this risk level")
)

// RiskClassifier assigns a risk level to a tool call. Callers plug in the
// tool-specific logic (e.g. write/exec tools are high risk, read-only tools
// are low risk); the gateway only enforces the resulting level against
// policy.
type RiskClassifier func(toolName string, argsJSON []byte) policy.RiskLevel

// DefaultRiskClassifier assigns medium risk to everything. Replace with a
// tool-aware classifier in production wiring.
func DefaultRiskClassifier(toolName string, argsJSON []byte) policy.RiskLevel {
	return policy.RiskLevelMedium
}

var riskOrder = map[policy.RiskLevel]int{
	policy.RiskLevelLow:      0,
	policy.RiskLevelMedium:   1,
	policy.RiskLevelHigh:     2,
	policy.RiskLevelCritical: 3,
}

func riskAtLeast(level, threshold policy.RiskLevel) bool {
	return riskOrder[level] >= riskOrder[threshold]
}

// sessionState tracks the per-session counters the gateway enforces.
type sessionState struct {
	turnCalls    int
	sessionCalls int
	lastTool     string
	lastArgsHash string
	repeatCount  int
}

// Gateway is the golden-path safety enforcement point. One Gateway serves
// an entire process; sessions are tracked internally.
type Gateway struct {
	cfg        config.SafetyConfig
	classifier RiskClassifier
	limiter    *ratelimit.MultiLimiter

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// New creates a safety gateway from the given config. A nil classifier
// falls back to DefaultRiskClassifier. Rate limiting composes two token
// buckets per session key (spec.md's RateLimitPerSecond and
// RateLimitPerMinute): both must have a token available for a call to
// proceed, since a burst that satisfies the per-second budget could still
// blow through the coarser per-minute budget.
func New(cfg config.SafetyConfig, classifier RiskClassifier) *Gateway {
	if classifier == nil {
		classifier = DefaultRiskClassifier
	}
	perSecond := cfg.RateLimitPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	limiters := []*ratelimit.Limiter{
		ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: perSecond,
			BurstSize:         int(perSecond * 2),
			Enabled:           true,
		}),
	}
	if cfg.RateLimitPerMinute > 0 {
		limiters = append(limiters, ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.RateLimitPerMinute / 60,
			BurstSize:         int(cfg.RateLimitPerMinute),
			Enabled:           true,
		}))
	}
	return &Gateway{
		cfg:        cfg,
		classifier: classifier,
		limiter:    ratelimit.NewMultiLimiter(limiters...),
		sessions:   make(map[string]*sessionState),
	}
}

// NewTurn resets the per-turn counter for a session. Call this at the
// start of every turn-loop iteration (spec.md §4.1 step 1).
func (g *Gateway) NewTurn(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := g.state(sessionID)
	st.turnCalls = 0
}

func (g *Gateway) state(sessionID string) *sessionState {
	st, ok := g.sessions[sessionID]
	if !ok {
		st = &sessionState{}
		g.sessions[sessionID] = st
	}
	return st
}

// Check enforces the full safety gateway pipeline for a single tool call:
// per-turn/per-session budgets, rate limiting, repeated-call detection,
// and risk-based approval. Returns nil if the call may proceed.
func (g *Gateway) Check(ctx context.Context, sessionID, toolName string, argsJSON []byte, trust policy.TrustLevel) error {
	risk := g.classifier(toolName, argsJSON)

	g.mu.Lock()
	st := g.state(sessionID)

	maxPerTurn := g.cfg.MaxPerTurn
	if maxPerTurn <= 0 {
		maxPerTurn = 100
	}
	if st.turnCalls >= maxPerTurn {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d calls this turn", ErrPerTurnLimitExceeded, st.turnCalls)
	}

	maxPerSession := g.cfg.MaxPerSession
	if maxPerSession <= 0 {
		maxPerSession = 1000
	}
	if st.sessionCalls >= maxPerSession {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d calls this session", ErrPerSessionLimitExceeded, st.sessionCalls)
	}

	argsHash := hashArgs(argsJSON)
	maxRepeat := g.cfg.MaxRepeatedToolCalls
	if maxRepeat <= 0 {
		maxRepeat = 2
	}
	if st.lastTool == toolName && st.lastArgsHash == argsHash {
		st.repeatCount++
	} else {
		st.repeatCount = 0
		st.lastTool = toolName
		st.lastArgsHash = argsHash
	}
	if st.repeatCount >= maxRepeat {
		g.mu.Unlock()
		return fmt.Errorf("%w: %q repeated %d times in a row", ErrRepeatedCall, toolName, st.repeatCount+1)
	}

	st.turnCalls++
	st.sessionCalls++
	g.mu.Unlock()

	if !g.limiter.Allow(sessionID) {
		return ErrRateLimited
	}

	threshold := policy.RiskLevel(g.cfg.ApprovalRiskThreshold)
	if threshold == "" {
		threshold = policy.RiskLevelMedium
	}
	if riskAtLeast(risk, threshold) && trust != policy.TrustTrusted {
		return fmt.Errorf("%w: tool=%s risk=%s trust=%s", ErrApprovalRequired, toolName, risk, trust)
	}

	return nil
}

// Timeout returns the configured default tool-execution timeout.
func (g *Gateway) Timeout() time.Duration {
	if g.cfg.DefaultTimeout > 0 {
		return g.cfg.DefaultTimeout
	}
	return 300 * time.Second
}

// ResetSession clears all counters for a session, e.g. on session close.
func (g *Gateway) ResetSession(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, sessionID)
}

// hashArgs produces a cheap, stable fingerprint of a tool call's arguments
// for repeated-call detection. Not cryptographic; collisions only cause a
// spurious repeat-count reset, never a false limit trip across distinct args
// beyond the FNV collision space.
func hashArgs(argsJSON []byte) string {
	var h uint64 = 1469598103934665603 // FNV-1a offset basis
	for _, b := range argsJSON {
		h ^= uint64(b)
		h *= 1099511628211 // FNV-1a prime
	}
	return fmt.Sprintf("%x", h)
}
