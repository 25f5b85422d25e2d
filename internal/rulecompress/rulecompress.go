// Package rulecompress implements the rule-based compression pass from
// spec.md §4.7: a deterministic, LLM-free reduction of a message history
// applied before (and usually instead of) an LLM summarization call. The
// summarizer worker (internal/agent/context) runs this first and only
// escalates to an LLM call if the result is still over the size threshold.
package rulecompress

import (
	"strings"
	"unicode"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// Config bounds the compressor's four steps.
type Config struct {
	// MinContentChars is the shortest system-like message content kept;
	// anything shorter (after trimming) from System/Tool roles is dropped
	// as noise.
	MinContentChars int
	// MaxCharsPerMessage is the longest a single message's content may be
	// before truncation; spec.md expresses this as max_tokens_per_message
	// and a 4-chars-per-token estimate.
	MaxCharsPerMessage int
	// MaxTurns is the final turn budget; once merging same-role runs is
	// done, if the history is still over MaxTurns the partition/fill step
	// trims it.
	MaxTurns int
}

// DefaultConfig mirrors spec.md's defaults: 4000 chars/message (1000
// tokens * 4), drop anything under 8 chars, keep at most 40 turns.
func DefaultConfig() Config {
	return Config{MinContentChars: 8, MaxCharsPerMessage: 4000, MaxTurns: 40}
}

// Compress runs the four-step algorithm over history and returns the
// reduced slice. The input is not mutated.
func Compress(history []*models.Message, cfg Config) []*models.Message {
	if cfg.MinContentChars <= 0 {
		cfg.MinContentChars = 8
	}
	if cfg.MaxCharsPerMessage <= 0 {
		cfg.MaxCharsPerMessage = 4000
	}
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 40
	}

	step1 := dropEmptyShortSystemLike(history, cfg.MinContentChars)
	step2 := truncateLong(step1, cfg.MaxCharsPerMessage)
	step3 := mergeConsecutiveSameRole(step2)
	return trimToMaxTurns(step3, cfg.MaxTurns)
}

// dropEmptyShortSystemLike removes System/Tool messages whose trimmed
// content is empty or shorter than minChars - these are typically
// boilerplate ("OK", heartbeat pings) that add no context.
func dropEmptyShortSystemLike(history []*models.Message, minChars int) []*models.Message {
	out := make([]*models.Message, 0, len(history))
	for _, m := range history {
		if (m.Role == models.RoleSystem || m.Role == models.RoleTool) && len(strings.TrimSpace(m.Content)) < minChars {
			continue
		}
		out = append(out, m)
	}
	return out
}

// sentenceEnders are checked from the truncation point backwards so a cut
// lands on a sentence boundary where possible, instead of mid-word.
var sentenceEnders = map[rune]bool{'.': true, '!': true, '?': true, '\n': true}

// truncateLong shortens any message content beyond maxChars, preferring to
// cut at the nearest preceding sentence-ending punctuation within the last
// 20% of the budget; falls back to a hard cut if none is found.
func truncateLong(history []*models.Message, maxChars int) []*models.Message {
	out := make([]*models.Message, 0, len(history))
	lookback := maxChars / 5
	for _, m := range history {
		if len(m.Content) <= maxChars {
			out = append(out, m)
			continue
		}
		cut := maxChars
		searchFrom := maxChars - lookback
		if searchFrom < 0 {
			searchFrom = 0
		}
		best := -1
		runes := []rune(m.Content[:maxChars])
		for i := len(runes) - 1; i >= searchFrom && i < len(runes); i-- {
			if sentenceEnders[runes[i]] {
				best = i + 1
				break
			}
		}
		if best > 0 {
			cut = len(string(runes[:best]))
		}
		clone := *m
		clone.Content = strings.TrimRightFunc(m.Content[:cut], unicode.IsSpace) + " […truncated]"
		out = append(out, &clone)
	}
	return out
}

// mergeConsecutiveSameRole joins adjacent messages sharing a role into one,
// so three back-to-back tool results collapse to a single turn for
// counting/retention purposes.
func mergeConsecutiveSameRole(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}
	out := make([]*models.Message, 0, len(history))
	current := *history[0]
	for _, m := range history[1:] {
		if m.Role == current.Role {
			current.Content = current.Content + "\n" + m.Content
			current.ToolCalls = append(current.ToolCalls, m.ToolCalls...)
			current.ToolResults = append(current.ToolResults, m.ToolResults...)
			continue
		}
		out = append(out, &current)
		current = *m
	}
	out = append(out, &current)
	return out
}

// isImportant reports whether a message must be retained by trimToMaxTurns:
// system-role messages, and any message whose content mentions an error or
// warning, per spec.md §4.7's partition step.
func isImportant(m *models.Message) bool {
	if m.Role == models.RoleSystem {
		return true
	}
	lower := strings.ToLower(m.Content)
	return strings.Contains(lower, "error") || strings.Contains(lower, "warning")
}

// trimToMaxTurns partitions the (already merged) history into important and
// non-important messages, keeps all important ones, and fills the
// remaining budget from the tail of the non-important ones - preserving
// overall chronological order in the output.
func trimToMaxTurns(history []*models.Message, maxTurns int) []*models.Message {
	if len(history) <= maxTurns {
		return history
	}

	keep := make(map[int]bool, maxTurns)
	importantCount := 0
	for i, m := range history {
		if isImportant(m) {
			keep[i] = true
			importantCount++
		}
	}

	budget := maxTurns - importantCount
	if budget > 0 {
		for i := len(history) - 1; i >= 0 && budget > 0; i-- {
			if keep[i] {
				continue
			}
			keep[i] = true
			budget--
		}
	}

	out := make([]*models.Message, 0, maxTurns)
	for i, m := range history {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out
}
