package context

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/agentcore/internal/rulecompress"
	"github.com/haasonsaas/agentcore/pkg/models"
)

// SummarizationConfig configures the summarization behavior.
type SummarizationConfig struct {
	// MaxMsgsBeforeSummary is the threshold for triggering summarization.
	// Default: 30 messages since last summary.
	MaxMsgsBeforeSummary int

	// KeepRecentMessages is how many recent messages to keep un-summarized.
	// Default: 10.
	KeepRecentMessages int

	// MaxSummaryLength is the target length for summaries in characters.
	// Default: 2000.
	MaxSummaryLength int
}

// DefaultSummarizationConfig returns sensible defaults.
func DefaultSummarizationConfig() SummarizationConfig {
	return SummarizationConfig{
		MaxMsgsBeforeSummary: 30,
		KeepRecentMessages:   10,
		MaxSummaryLength:     2000,
	}
}

// SummaryProvider is the interface for generating summaries.
// This allows injecting a fake provider for testing.
type SummaryProvider interface {
	// Summarize generates a summary of the given messages.
	Summarize(ctx context.Context, messages []*models.Message, maxLength int) (string, error)
}

// Summarizer handles conversation summarization.
type Summarizer struct {
	provider SummaryProvider
	config   SummarizationConfig
}

// NewSummarizer creates a new summarizer with the given provider and config.
func NewSummarizer(provider SummaryProvider, config SummarizationConfig) *Summarizer {
	if config.MaxMsgsBeforeSummary <= 0 {
		config.MaxMsgsBeforeSummary = 30
	}
	if config.KeepRecentMessages <= 0 {
		config.KeepRecentMessages = 10
	}
	if config.MaxSummaryLength <= 0 {
		config.MaxSummaryLength = 2000
	}
	return &Summarizer{
		provider: provider,
		config:   config,
	}
}

// ShouldSummarize checks if summarization is needed based on history state.
func (s *Summarizer) ShouldSummarize(history []*models.Message, currentSummary *models.Message) bool {
	return NeedsSummarization(history, currentSummary, s.config.MaxMsgsBeforeSummary)
}

// Summarize generates a new summary message if needed.
// Returns the new summary message, or nil if no summarization was needed.
func (s *Summarizer) Summarize(ctx context.Context, sessionID string, history []*models.Message, currentSummary *models.Message) (*models.Message, error) {
	if !s.ShouldSummarize(history, currentSummary) {
		return nil, nil
	}

	// Get messages to summarize (older messages, keeping recent ones)
	toSummarize := GetMessagesToSummarize(history, currentSummary, s.config.KeepRecentMessages)
	if len(toSummarize) == 0 {
		return nil, nil
	}

	// Generate summary
	summaryContent, err := s.provider.Summarize(ctx, toSummarize, s.config.MaxSummaryLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate summary: %w", err)
	}

	// Find the last message that was summarized
	var coversUntilMsgID string
	if len(toSummarize) > 0 {
		lastMsg := toSummarize[len(toSummarize)-1]
		if lastMsg != nil {
			coversUntilMsgID = lastMsg.ID
		}
	}

	// Create summary message
	summaryMsg := &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   summaryContent,
		Metadata: map[string]any{
			SummaryMetadataKey: true,
			SummaryVersionKey:  1,
			CoversUntilKey:     coversUntilMsgID,
		},
		CreatedAt: time.Now(),
	}

	return summaryMsg, nil
}

// BuildSummarizationPrompt creates the prompt for summarizing messages.
// This is used by LLM-based summary providers.
func BuildSummarizationPrompt(messages []*models.Message, maxLength int) string {
	var sb strings.Builder

	sb.WriteString("Please summarize the following conversation concisely. ")
	sb.WriteString(fmt.Sprintf("Keep the summary under %d characters. ", maxLength))
	sb.WriteString("Focus on:\n")
	sb.WriteString("- Key topics discussed\n")
	sb.WriteString("- Important decisions or conclusions\n")
	sb.WriteString("- Any pending tasks or questions\n")
	sb.WriteString("- Tool executions and their outcomes\n\n")
	sb.WriteString("Conversation:\n\n")

	for _, m := range messages {
		if m == nil {
			continue
		}

		// Format role
		role := string(m.Role)
		sb.WriteString(fmt.Sprintf("[%s]: ", role))

		// Add content
		if m.Content != "" {
			sb.WriteString(m.Content)
		}

		// Add tool calls
		for _, tc := range m.ToolCalls {
			sb.WriteString(fmt.Sprintf("\n  [Called tool: %s]", tc.Name))
		}

		// Add tool results (abbreviated)
		for _, tr := range m.ToolResults {
			content := tr.Content
			if len(content) > 200 {
				content = content[:200] + "..."
			}
			status := "success"
			if tr.IsError {
				status = "error"
			}
			sb.WriteString(fmt.Sprintf("\n  [Tool result (%s): %s]", status, content))
		}

		sb.WriteString("\n\n")
	}

	sb.WriteString("---\nProvide a concise summary:")
	return sb.String()
}

// Priority is a summarization task's scheduling priority (spec.md §4.6:
// High > Medium > Low, ties broken by FIFO arrival order).
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// WorkerConfig bounds the summarizer worker actor. It deliberately mirrors
// config.SummarizerConfig's fields rather than importing that package
// directly - internal/config already imports this package (for context
// pruning settings), so importing it back here would cycle. Callers
// construct a WorkerConfig from config.SummarizerConfig at the wiring site.
type WorkerConfig struct {
	// ChannelCapacity bounds the pending-task queue. Default 32.
	ChannelCapacity int
	// MaxConcurrentTasks bounds how many summarizations run at once. Default 4.
	MaxConcurrentTasks int
	// MinSummaryInterval is the trigger policy's minimum elapsed time since
	// the last summarization for a session. Default 30s.
	MinSummaryInterval time.Duration
	// MinTurnsSinceLast is the trigger policy's minimum turn count since
	// the last summarization for a session. Default 10.
	MinTurnsSinceLast int
	// LLMCompressionBytes is the size threshold above which the rule-based
	// compression pass (internal/rulecompress) escalates to an LLM call.
	// Default 10*1024.
	LLMCompressionBytes int
}

// DefaultWorkerConfig mirrors spec.md §4.6's defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ChannelCapacity:     32,
		MaxConcurrentTasks:  4,
		MinSummaryInterval:  30 * time.Second,
		MinTurnsSinceLast:   10,
		LLMCompressionBytes: 10 * 1024,
	}
}

// ShouldTrigger implements spec.md §4.6's trigger policy: fire when the
// session is at or above 60% of its token budget AND either enough wall
// time or enough turns have passed since the last summarization.
func ShouldTrigger(currentTokens, maxTokens int, elapsedSinceLast time.Duration, turnsSinceLast int, cfg WorkerConfig) bool {
	if maxTokens <= 0 {
		return false
	}
	if float64(currentTokens) < 0.6*float64(maxTokens) {
		return false
	}
	minInterval := cfg.MinSummaryInterval
	if minInterval <= 0 {
		minInterval = 30 * time.Second
	}
	minTurns := cfg.MinTurnsSinceLast
	if minTurns <= 0 {
		minTurns = 10
	}
	return elapsedSinceLast >= minInterval || turnsSinceLast >= minTurns
}

// SummarizationTask is one unit of work submitted to a Worker.
type SummarizationTask struct {
	SessionID      string
	History        []*models.Message
	CurrentSummary *models.Message
	Priority       Priority

	seq    int64 // monotonic arrival order, for FIFO tie-break
	result chan TaskResult
}

type TaskResult struct {
	summary *models.Message
	err     error
}

// Summary returns the produced summary message, or nil if the task errored.
func (r TaskResult) Summary() *models.Message { return r.summary }

// Err returns the task's error, if any.
func (r TaskResult) Err() error { return r.err }

// Worker is the bounded-channel summarizer actor from spec.md §4.6: tasks
// queue up to ChannelCapacity deep, a scheduler goroutine picks the
// highest-priority task (FIFO among equal priorities) and runs it on a
// MaxConcurrentTasks-wide semaphore. Each task first runs through
// internal/rulecompress; an LLM summarization call only happens if the
// rule-compressed result is still over LLMCompressionBytes.
type Worker struct {
	summarizer *Summarizer
	cfg        WorkerConfig

	inbox   chan *SummarizationTask
	sem     chan struct{}
	seqNext int64

	mu      sync.Mutex
	pending []*SummarizationTask

	wakeup chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewWorker starts the scheduler goroutine and returns a running Worker.
// Call Close to stop it.
func NewWorker(summarizer *Summarizer, cfg WorkerConfig) *Worker {
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = 32
	}
	if cfg.MaxConcurrentTasks <= 0 {
		cfg.MaxConcurrentTasks = 4
	}
	w := &Worker{
		summarizer: summarizer,
		cfg:        cfg,
		inbox:      make(chan *SummarizationTask, cfg.ChannelCapacity),
		sem:        make(chan struct{}, cfg.MaxConcurrentTasks),
		wakeup:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go w.scheduleLoop()
	return w
}

// Submit enqueues a task and returns a channel that receives its result
// exactly once. Submit blocks if the inbox is at ChannelCapacity - callers
// needing non-blocking behavior should select on a context deadline.
func (w *Worker) Submit(ctx context.Context, task *SummarizationTask) <-chan TaskResult {
	task.seq = atomic.AddInt64(&w.seqNext, 1)
	task.result = make(chan TaskResult, 1)
	select {
	case w.inbox <- task:
	case <-ctx.Done():
		task.result <- TaskResult{err: ctx.Err()}
		return task.result
	case <-w.done:
		task.result <- TaskResult{err: fmt.Errorf("summarizer worker closed")}
		return task.result
	}
	return task.result
}

// Close stops accepting new work. In-flight tasks finish normally.
func (w *Worker) Close() {
	w.once.Do(func() { close(w.done) })
}

// scheduleLoop drains the inbox into a pending list and dispatches the
// highest-priority (then earliest-arrived) task whenever a semaphore slot
// is free.
func (w *Worker) scheduleLoop() {
	for {
		select {
		case t := <-w.inbox:
			w.mu.Lock()
			w.pending = append(w.pending, t)
			w.mu.Unlock()
			w.dispatchReady()
		case <-w.wakeup:
			w.dispatchReady()
		case <-w.done:
			return
		}
	}
}

// dispatchReady pulls ready tasks off the pending list while semaphore
// slots remain, in priority/FIFO order.
func (w *Worker) dispatchReady() {
	for {
		select {
		case w.sem <- struct{}{}:
		default:
			return
		}
		w.mu.Lock()
		idx := bestPendingIndex(w.pending)
		if idx < 0 {
			w.mu.Unlock()
			<-w.sem
			return
		}
		t := w.pending[idx]
		w.pending = append(w.pending[:idx], w.pending[idx+1:]...)
		w.mu.Unlock()

		go func(task *SummarizationTask) {
			defer func() { <-w.sem }()
			summary, err := w.runTask(task)
			task.result <- TaskResult{summary: summary, err: err}
		}(t)
	}
}

// bestPendingIndex picks the highest-Priority task, breaking ties by the
// smallest seq (earliest arrival). Returns -1 if pending is empty.
func bestPendingIndex(pending []*SummarizationTask) int {
	best := -1
	for i, t := range pending {
		if best < 0 {
			best = i
			continue
		}
		if t.Priority > pending[best].Priority {
			best = i
		} else if t.Priority == pending[best].Priority && t.seq < pending[best].seq {
			best = i
		}
	}
	return best
}

// runTask executes the rule-compress-then-LLM pipeline for one task.
func (w *Worker) runTask(task *SummarizationTask) (*models.Message, error) {
	compressed := rulecompress.Compress(task.History, rulecompress.DefaultConfig())
	if sizeBytes(compressed) <= w.cfg.LLMCompressionBytes {
		return w.summarizer.summarizeMessages(task.SessionID, compressed, task.CurrentSummary)
	}
	return w.summarizer.Summarize(context.Background(), task.SessionID, compressed, task.CurrentSummary)
}

func sizeBytes(history []*models.Message) int {
	n := 0
	for _, m := range history {
		if m != nil {
			n += len(m.Content)
		}
	}
	return n
}

// summarizeMessages builds a deterministic, non-LLM "summary" by
// concatenating the rule-compressed messages' content - used when the
// rule-based pass alone already got the history under the LLM threshold,
// so no model call is warranted.
func (s *Summarizer) summarizeMessages(sessionID string, compressed []*models.Message, currentSummary *models.Message) (*models.Message, error) {
	var sb strings.Builder
	for _, m := range compressed {
		if m == nil || m.Content == "" {
			continue
		}
		sb.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, m.Content))
	}
	content := sb.String()
	if len(content) > s.config.MaxSummaryLength {
		content = content[:s.config.MaxSummaryLength]
	}

	var coversUntilMsgID string
	if len(compressed) > 0 && compressed[len(compressed)-1] != nil {
		coversUntilMsgID = compressed[len(compressed)-1].ID
	}

	version := 1
	if currentSummary != nil {
		if v, ok := currentSummary.Metadata[SummaryVersionKey].(int); ok {
			version = v + 1
		}
	}

	return &models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleSystem,
		Content:   content,
		Metadata: map[string]any{
			SummaryMetadataKey: true,
			SummaryVersionKey:  version,
			CoversUntilKey:     coversUntilMsgID,
		},
		CreatedAt: time.Now(),
	}, nil
}
