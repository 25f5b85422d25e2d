package context

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/agentcore/pkg/models"
)

// ContextPruningMode controls when pruning runs.
type ContextPruningMode string

const (
	// ContextPruningOff disables pruning.
	ContextPruningOff ContextPruningMode = "off"
	// ContextPruningCacheTTL prunes when cached tool results are stale.
	ContextPruningCacheTTL ContextPruningMode = "cache-ttl"
)

// ContextPruningToolMatch controls which tool results are prunable.
type ContextPruningToolMatch struct {
	Allow []string
	Deny  []string
}

// ContextPruningSoftTrim configures soft trimming.
type ContextPruningSoftTrim struct {
	MaxChars  int
	HeadChars int
	TailChars int
}

// ContextPruningHardClear configures hard clearing.
type ContextPruningHardClear struct {
	Enabled     bool
	Placeholder string
}

// ContextPruningSettings controls in-memory tool result pruning.
type ContextPruningSettings struct {
	Mode                 ContextPruningMode
	TTL                  time.Duration
	KeepLastAssistants   int
	SoftTrimRatio        float64
	HardClearRatio       float64
	MinPrunableToolChars int
	Tools                ContextPruningToolMatch
	SoftTrim             ContextPruningSoftTrim
	HardClear            ContextPruningHardClear
}

// DefaultContextPruningSettings returns defaults aligned with Clawdbot.
func DefaultContextPruningSettings() ContextPruningSettings {
	return ContextPruningSettings{
		Mode:                 ContextPruningCacheTTL,
		TTL:                  5 * time.Minute,
		KeepLastAssistants:   3,
		SoftTrimRatio:        0.3,
		HardClearRatio:       0.5,
		MinPrunableToolChars: 50000,
		Tools:                ContextPruningToolMatch{},
		SoftTrim: ContextPruningSoftTrim{
			MaxChars:  4000,
			HeadChars: 1500,
			TailChars: 1500,
		},
		HardClear: ContextPruningHardClear{
			Enabled:     true,
			Placeholder: "[Old tool result content cleared]",
		},
	}
}

// PruneContextMessages trims or clears old tool results from history.
// Returns the original slice if no changes are required.
func PruneContextMessages(messages []*models.Message, settings ContextPruningSettings, charWindow int) []*models.Message {
	if len(messages) == 0 || charWindow <= 0 {
		return messages
	}

	cutoffIndex, ok := findAssistantCutoffIndex(messages, settings.KeepLastAssistants)
	if !ok {
		return messages
	}

	firstUser := findFirstUserIndex(messages)
	pruneStart := len(messages)
	if firstUser >= 0 {
		pruneStart = firstUser
	}
	if pruneStart >= cutoffIndex {
		return messages
	}

	totalChars := estimateContextChars(messages)
	if float64(totalChars)/float64(charWindow) < settings.SoftTrimRatio {
		return messages
	}

	toolNames := buildToolCallNameMap(messages)
	isToolPrunable := makeToolPrunablePredicate(settings.Tools)

	type prunableRef struct {
		msgIndex    int
		resultIndex int
	}

	var prunable []prunableRef
	var next []*models.Message

	for i := pruneStart; i < cutoffIndex; i++ {
		msg := currentMessage(messages, next, i)
		if msg == nil || len(msg.ToolResults) == 0 {
			continue
		}
		for j := range msg.ToolResults {
			tr := msg.ToolResults[j]
			toolName := toolNames[tr.ToolCallID]
			if !isToolPrunable(toolName) {
				continue
			}
			prunable = append(prunable, prunableRef{msgIndex: i, resultIndex: j})

			trimmed, changed := softTrimToolResult(tr.Content, settings)
			if !changed {
				continue
			}

			before := estimateMessageChars(msg)
			updated := copyMessageWithToolResults(msg)
			if j < len(updated.ToolResults) {
				updated.ToolResults[j].Content = trimmed
			}
			after := estimateMessageChars(updated)
			totalChars += after - before
			next = ensureMessage(next, messages, i, updated)
			msg = updated
		}
	}

	output := messages
	if next != nil {
		output = next
	}

	if float64(totalChars)/float64(charWindow) < settings.HardClearRatio || !settings.HardClear.Enabled {
		return output
	}

	prunableChars := 0
	for _, ref := range prunable {
		msg := currentMessage(messages, next, ref.msgIndex)
		if msg == nil || ref.resultIndex >= len(msg.ToolResults) {
			continue
		}
		prunableChars += len(msg.ToolResults[ref.resultIndex].Content)
	}
	if prunableChars < settings.MinPrunableToolChars {
		return output
	}

	ratio := float64(totalChars) / float64(charWindow)
	for _, ref := range prunable {
		if ratio < settings.HardClearRatio {
			break
		}
		msg := currentMessage(messages, next, ref.msgIndex)
		if msg == nil || ref.resultIndex >= len(msg.ToolResults) {
			continue
		}

		before := estimateMessageChars(msg)
		updated := copyMessageWithToolResults(msg)
		updated.ToolResults[ref.resultIndex].Content = settings.HardClear.Placeholder
		after := estimateMessageChars(updated)
		totalChars += after - before
		ratio = float64(totalChars) / float64(charWindow)
		next = ensureMessage(next, messages, ref.msgIndex, updated)
	}

	if next != nil {
		return next
	}
	return messages
}

func findAssistantCutoffIndex(messages []*models.Message, keepLastAssistants int) (int, bool) {
	if keepLastAssistants <= 0 {
		return len(messages), true
	}
	remaining := keepLastAssistants
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i] != nil && messages[i].Role == models.RoleAssistant {
			remaining--
			if remaining == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func findFirstUserIndex(messages []*models.Message) int {
	for i, msg := range messages {
		if msg != nil && msg.Role == models.RoleUser {
			return i
		}
	}
	return -1
}

func softTrimToolResult(content string, settings ContextPruningSettings) (string, bool) {
	rawLen := len(content)
	if rawLen <= settings.SoftTrim.MaxChars {
		return content, false
	}
	headChars := maxInt(settings.SoftTrim.HeadChars, 0)
	tailChars := maxInt(settings.SoftTrim.TailChars, 0)
	if headChars+tailChars >= rawLen {
		return content, false
	}
	head := content
	if headChars < len(head) {
		head = head[:headChars]
	}
	tail := content
	if tailChars < len(tail) {
		tail = tail[len(tail)-tailChars:]
	}

	trimmed := head + "\n...\n" + tail
	note := "\n\n[Tool result trimmed: kept first " + strconv.Itoa(headChars) + " chars and last " + strconv.Itoa(tailChars) + " chars of " + strconv.Itoa(rawLen) + " chars.]"
	return trimmed + note, true
}

func makeToolPrunablePredicate(match ContextPruningToolMatch) func(string) bool {
	deny := normalizePatterns(match.Deny)
	allow := normalizePatterns(match.Allow)
	return func(toolName string) bool {
		normalized := strings.ToLower(strings.TrimSpace(toolName))
		if normalized == "" {
			return false
		}
		if matchesAny(normalized, deny) {
			return false
		}
		if len(allow) == 0 {
			return true
		}
		return matchesAny(normalized, allow)
	}
}

func normalizePatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		value := strings.ToLower(strings.TrimSpace(p))
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if wildcardMatch(p, name) {
			return true
		}
	}
	return false
}

func wildcardMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == value
	}
	parts := strings.Split(pattern, "*")
	idx := 0
	if len(parts) == 0 {
		return false
	}
	if parts[0] != "" {
		if !strings.HasPrefix(value, parts[0]) {
			return false
		}
		idx = len(parts[0])
	}
	for i := 1; i < len(parts)-1; i++ {
		part := parts[i]
		if part == "" {
			continue
		}
		pos := strings.Index(value[idx:], part)
		if pos < 0 {
			return false
		}
		idx += pos + len(part)
	}
	last := parts[len(parts)-1]
	if last != "" && !strings.HasSuffix(value, last) {
		return false
	}
	return true
}

func buildToolCallNameMap(messages []*models.Message) map[string]string {
	names := make(map[string]string)
	for _, msg := range messages {
		if msg == nil {
			continue
		}
		for _, tc := range msg.ToolCalls {
			if tc.ID == "" || tc.Name == "" {
				continue
			}
			names[tc.ID] = tc.Name
		}
	}
	return names
}

func estimateContextChars(messages []*models.Message) int {
	total := 0
	for _, msg := range messages {
		total += estimateMessageChars(msg)
	}
	return total
}

func estimateMessageChars(msg *models.Message) int {
	if msg == nil {
		return 0
	}
	chars := len(msg.Content)
	for _, tc := range msg.ToolCalls {
		chars += len(tc.Name) + len(tc.Input)
	}
	for _, tr := range msg.ToolResults {
		chars += len(tr.Content)
	}
	return chars
}

func currentMessage(messages []*models.Message, next []*models.Message, index int) *models.Message {
	if next != nil {
		return next[index]
	}
	return messages[index]
}

func ensureMessage(next []*models.Message, messages []*models.Message, index int, updated *models.Message) []*models.Message {
	if next == nil {
		next = make([]*models.Message, len(messages))
		copy(next, messages)
	}
	next[index] = updated
	return next
}

func copyMessageWithToolResults(msg *models.Message) *models.Message {
	if msg == nil {
		return nil
	}
	clone := *msg
	if len(msg.ToolResults) > 0 {
		clone.ToolResults = append([]models.ToolResult(nil), msg.ToolResults...)
	}
	return &clone
}

func maxInt(value, min int) int {
	if value < min {
		return min
	}
	return value
}

// MessageType classifies a message for semantic scoring purposes, mirroring
// spec.md §4.2's four-way split (System/User/Assistant/Tool).
type MessageType string

const (
	MessageTypeSystem    MessageType = "system"
	MessageTypeUser      MessageType = "user"
	MessageTypeAssistant MessageType = "assistant"
	MessageTypeTool      MessageType = "tool"
)

// Semantic score presets from spec.md §4.2, each on a 0-1000 scale.
const (
	SemanticScoreSystem    = 950
	SemanticScoreUser      = 850
	SemanticScoreTool      = 600
	SemanticScoreAssistant = 500
	SemanticScoreContext   = 300
)

func clampScore(v int) int {
	if v > 1000 {
		return 1000
	}
	if v < 0 {
		return 0
	}
	return v
}

// MessageMetrics captures everything prune_with_semantic_priority needs to
// decide a single message's fate, independent of the models.Message shape.
type MessageMetrics struct {
	Index         int
	TokenCount    int
	SemanticScore int
	AgeInTurns    int
	Type          MessageType
}

// RetentionDecision is the three-outcome verdict spec.md §4.2 describes for
// prune_with_semantic_priority: Keep (always retained), Remove (dropped),
// or Summarizable (kept for now, a candidate for the summarizer worker).
type RetentionDecision string

const (
	RetentionKeep         RetentionDecision = "keep"
	RetentionRemove       RetentionDecision = "remove"
	RetentionSummarizable RetentionDecision = "summarizable"
)

// SemanticPruner implements spec.md §4.2's prune_with_semantic_priority
// algorithm and its accompanying efficiency-reporting helpers.
type SemanticPruner struct {
	MaxTokens            int
	SemanticThreshold     int
	RecencyBonusPerTurn   int
	MinKeepSemantic       int
}

// DefaultSemanticPruner returns spec.md §4.2's defaults: 8192 max tokens,
// 300 semantic threshold, 5 recency bonus per turn, 400 min-keep-semantic.
func DefaultSemanticPruner() SemanticPruner {
	return SemanticPruner{
		MaxTokens:           8192,
		SemanticThreshold:   300,
		RecencyBonusPerTurn: 5,
		MinKeepSemantic:     400,
	}
}

// EstimateTokens implements spec.md §4.2's token accounting formula:
// chars/4 + 10 per message, to be used absent real provider tokenization.
func EstimateTokens(m *models.Message) int {
	if m == nil {
		return 0
	}
	chars := estimateMessageChars(m)
	return chars/4 + 10
}

// BuildMessageMetrics derives MessageMetrics for each message in history,
// using spec.md §4.2's token formula and semantic score presets. age_in_turns
// counts backward from the end of history (0 = most recent message).
func BuildMessageMetrics(history []*models.Message) []MessageMetrics {
	out := make([]MessageMetrics, len(history))
	for i, m := range history {
		out[i] = MessageMetrics{
			Index:         i,
			TokenCount:    EstimateTokens(m),
			SemanticScore: presetSemanticScore(m),
			AgeInTurns:    len(history) - 1 - i,
			Type:          messageType(m),
		}
	}
	return out
}

func messageType(m *models.Message) MessageType {
	if m == nil {
		return MessageTypeTool
	}
	switch m.Role {
	case models.RoleSystem:
		return MessageTypeSystem
	case models.RoleUser:
		return MessageTypeUser
	case models.RoleAssistant:
		return MessageTypeAssistant
	default:
		return MessageTypeTool
	}
}

func presetSemanticScore(m *models.Message) int {
	switch messageType(m) {
	case MessageTypeSystem:
		return SemanticScoreSystem
	case MessageTypeUser:
		return SemanticScoreUser
	case MessageTypeAssistant:
		return SemanticScoreAssistant
	default:
		return SemanticScoreTool
	}
}

// PruneWithSemanticPriority runs spec.md §4.2's five-step algorithm and
// returns a retention decision per message index.
//
// Per SPEC_FULL.md's resolved ambiguity #5, step 4's greedy pass never
// eagerly assigns Remove to a message it can't fit - it leaves the message
// undecided so step 5's Summarizable pass has live candidates. Anything
// still undecided after step 5 is Remove.
func (p SemanticPruner) PruneWithSemanticPriority(messages []MessageMetrics) map[int]RetentionDecision {
	if p.MaxTokens <= 0 {
		p = DefaultSemanticPruner()
	}
	decisions := make(map[int]RetentionDecision, len(messages))
	totalTokens := 0

	type scored struct {
		msg      MessageMetrics
		adjusted int
	}
	scoredMsgs := make([]scored, len(messages))
	for i, m := range messages {
		adjusted := clampScore(m.SemanticScore + m.AgeInTurns*p.RecencyBonusPerTurn)
		scoredMsgs[i] = scored{msg: m, adjusted: adjusted}
	}

	// Step 2: always keep System messages and anything already above the
	// min-keep-semantic threshold, accumulating their token cost.
	for _, sm := range scoredMsgs {
		if sm.msg.Type == MessageTypeSystem || sm.adjusted >= p.MinKeepSemantic {
			decisions[sm.msg.Index] = RetentionKeep
			totalTokens += sm.msg.TokenCount
		}
	}

	if totalTokens >= p.MaxTokens {
		return decisions
	}

	// Step 3: sort the rest by adjusted score descending.
	remaining := make([]scored, 0, len(scoredMsgs))
	for _, sm := range scoredMsgs {
		if _, decided := decisions[sm.msg.Index]; !decided {
			remaining = append(remaining, sm)
		}
	}
	sort.SliceStable(remaining, func(i, j int) bool {
		return remaining[i].adjusted > remaining[j].adjusted
	})

	// Step 4: greedily add Keep while within budget; leave the rest
	// undecided rather than assigning Remove immediately.
	var undecided []scored
	for _, sm := range remaining {
		if totalTokens+sm.msg.TokenCount <= p.MaxTokens {
			decisions[sm.msg.Index] = RetentionKeep
			totalTokens += sm.msg.TokenCount
		} else {
			undecided = append(undecided, sm)
		}
	}

	// Step 5: fill remaining budget from the undecided set as Summarizable;
	// whatever still doesn't fit is Remove.
	for _, sm := range undecided {
		if totalTokens+sm.msg.TokenCount <= p.MaxTokens {
			decisions[sm.msg.Index] = RetentionSummarizable
			totalTokens += sm.msg.TokenCount
		} else {
			decisions[sm.msg.Index] = RetentionRemove
		}
	}

	return decisions
}

// CalculatePriority scores a single message's retention priority on a 0-1
// scale, blending semantic value (60%), token efficiency (30%), and
// recency (10%). Grounded on the Rust original's calculate_priority.
func (p SemanticPruner) CalculatePriority(semanticScore, tokenCount, ageInTurns int) float64 {
	tokenEfficiency := 1.0 / (1.0 + float64(tokenCount)/500.0)
	semanticValue := float64(semanticScore) / 1000.0
	recencyBonus := 1.0 / (1.0 + float64(ageInTurns)/5.0)
	priority := semanticValue*0.6 + tokenEfficiency*0.3 + recencyBonus*0.1
	if priority > 1.0 {
		return 1.0
	}
	return priority
}

// ContextEfficiency reports how a context window's token budget is being
// spent, per spec.md §4.2's efficiency report contract.
type ContextEfficiency struct {
	TotalTokens               int
	TotalMessages             int
	AvgSemanticScore          int
	SemanticValuePerToken     float64
	ContextUtilizationPercent float64
}

// AnalyzeEfficiency computes a ContextEfficiency snapshot for messages.
func (p SemanticPruner) AnalyzeEfficiency(messages []MessageMetrics) ContextEfficiency {
	totalTokens := 0
	totalSemantic := 0
	for _, m := range messages {
		totalTokens += m.TokenCount
		totalSemantic += m.SemanticScore
	}
	avgSemantic := 0
	if len(messages) > 0 {
		avgSemantic = totalSemantic / len(messages)
	}
	valuePerToken := 0.0
	if totalTokens > 0 {
		valuePerToken = float64(totalSemantic) / float64(totalTokens) * 1000.0
	}
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultSemanticPruner().MaxTokens
	}
	utilization := float64(totalTokens) / float64(maxTokens) * 100.0
	if utilization > 100.0 {
		utilization = 100.0
	}
	return ContextEfficiency{
		TotalTokens:               totalTokens,
		TotalMessages:             len(messages),
		AvgSemanticScore:          avgSemantic,
		SemanticValuePerToken:     valuePerToken,
		ContextUtilizationPercent: utilization,
	}
}

// FormatEfficiencyReport renders a human-readable efficiency summary, used
// by CLI diagnostics (spec.md §4.2's efficiency report, freeform rendering).
func (p SemanticPruner) FormatEfficiencyReport(messages []MessageMetrics) string {
	eff := p.AnalyzeEfficiency(messages)
	maxTokens := p.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultSemanticPruner().MaxTokens
	}
	var sb strings.Builder
	sb.WriteString("Context Window Efficiency\n")
	fmt.Fprintf(&sb, "  Tokens Used: %d/%d (%.1f%%)\n", eff.TotalTokens, maxTokens, eff.ContextUtilizationPercent)
	fmt.Fprintf(&sb, "  Messages: %d total\n", eff.TotalMessages)
	fmt.Fprintf(&sb, "  Avg Semantic Score: %d/1000\n", eff.AvgSemanticScore)
	fmt.Fprintf(&sb, "  Semantic Value/Token: %.2f\n", eff.SemanticValuePerToken)
	return sb.String()
}
