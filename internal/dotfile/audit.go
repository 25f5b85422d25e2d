// Package dotfile implements the hash-chained audit log and versioned
// backup manager that guard dotfile access and modification (spec.md
// §4.9). This is a distinct concern from internal/audit: that package is
// operational telemetry; this one is a tamper-evident integrity ledger.
package dotfile

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// genesisHash is a well-formed zero SHA-256 digest (64 lowercase hex
// characters) used as the previous_hash of the first entry in a chain.
const genesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// AccessType is the kind of access attempted against a dotfile.
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessCreate AccessType = "create"
	AccessDelete AccessType = "delete"
	AccessModify AccessType = "modify"
	AccessAppend AccessType = "append"
)

// Outcome is the result of a dotfile access attempt.
type Outcome string

const (
	OutcomeAllowedWithConfirmation Outcome = "allowed_with_confirmation"
	OutcomeAllowedViaWhitelist     Outcome = "allowed_via_whitelist"
	OutcomeBlocked                 Outcome = "blocked"
	OutcomeDenied                  Outcome = "denied"
	OutcomeUserRejected            Outcome = "user_rejected"
	OutcomeAllowedUnprotected      Outcome = "allowed_unprotected"
)

// Entry is a single, hash-chained audit log entry.
type Entry struct {
	ID              string     `json:"id"`
	Timestamp       time.Time  `json:"timestamp"`
	FilePath        string     `json:"file_path"`
	AccessType      AccessType `json:"access_type"`
	Outcome         Outcome    `json:"outcome"`
	Initiator       string     `json:"initiator"`
	SessionID       string     `json:"session_id"`
	ProposedChanges string     `json:"proposed_changes,omitempty"`
	PreviousHash    string     `json:"previous_hash"`
	EntryHash       string     `json:"entry_hash,omitempty"`
	Context         string     `json:"context,omitempty"`
	DuringAutomation bool      `json:"during_automation"`
}

// NewEntry creates an unfinalized audit entry. Call the chain's Log method
// to set PreviousHash and compute EntryHash.
func NewEntry(filePath string, accessType AccessType, outcome Outcome, initiator, sessionID string) Entry {
	return Entry{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		FilePath:   filePath,
		AccessType: accessType,
		Outcome:    outcome,
		Initiator:  initiator,
		SessionID:  sessionID,
	}
}

// WithProposedChanges sets the proposed-changes description.
func (e Entry) WithProposedChanges(changes string) Entry {
	e.ProposedChanges = changes
	return e
}

// WithContext sets the context/reason field.
func (e Entry) WithContext(ctx string) Entry {
	e.Context = ctx
	return e
}

// DuringAutomationMark marks the entry as having occurred during an automated operation.
func (e Entry) DuringAutomationMark() Entry {
	e.DuringAutomation = true
	return e
}

// computeHash hashes every field except EntryHash itself, matching the
// field order of the original Rust compute_hash.
func (e Entry) computeHash() string {
	h := sha256.New()
	h.Write([]byte(e.ID))
	h.Write([]byte(e.Timestamp.Format(time.RFC3339Nano)))
	h.Write([]byte(e.FilePath))
	h.Write([]byte(e.AccessType))
	h.Write([]byte(e.Outcome))
	h.Write([]byte(e.Initiator))
	h.Write([]byte(e.SessionID))
	h.Write([]byte(e.PreviousHash))
	h.Write([]byte(e.ProposedChanges))
	h.Write([]byte(e.Context))
	if e.DuringAutomation {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether the entry's EntryHash matches its computed hash.
func (e Entry) Verify() bool {
	return e.EntryHash != "" && e.EntryHash == e.computeHash()
}

// AuditLog is an append-only, hash-chained audit log backed by a JSONL
// file. Every entry's PreviousHash is the EntryHash of the prior entry,
// forming a tamper-evident chain rooted at genesisHash.
type AuditLog struct {
	mu       sync.Mutex
	path     string
	lastHash string
}

// NewAuditLog opens (or creates) a hash-chained audit log at path, seeding
// lastHash from the final entry already on disk.
func NewAuditLog(path string) (*AuditLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("dotfile: create audit log directory: %w", err)
		}
	}

	lastHash := genesisHash
	if f, err := os.Open(path); err == nil {
		defer f.Close()
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var entry Entry
			if err := json.Unmarshal(line, &entry); err == nil && entry.EntryHash != "" {
				lastHash = entry.EntryHash
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("dotfile: open audit log: %w", err)
	}

	return &AuditLog{path: path, lastHash: lastHash}, nil
}

// Log appends entry to the chain, setting its PreviousHash and EntryHash,
// then fsyncs the write.
func (a *AuditLog) Log(entry Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	entry.PreviousHash = a.lastHash
	entry.EntryHash = entry.computeHash()

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("dotfile: marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("dotfile: open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(payload, '\n')); err != nil {
		return fmt.Errorf("dotfile: write audit entry: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("dotfile: sync audit log: %w", err)
	}

	a.lastHash = entry.EntryHash
	return nil
}

// Entries returns every entry in the log, in append order.
func (a *AuditLog) Entries() ([]Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.readEntries()
}

func (a *AuditLog) readEntries() ([]Entry, error) {
	f, err := os.Open(a.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("dotfile: open audit log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("dotfile: parse audit entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dotfile: scan audit log: %w", err)
	}
	return entries, nil
}

// VerifyIntegrity walks the chain from genesis, confirming every entry's
// hash and chain linkage. An empty log is trivially valid.
func (a *AuditLog) VerifyIntegrity() (bool, error) {
	entries, err := a.Entries()
	if err != nil {
		return false, err
	}
	if len(entries) == 0 {
		return true, nil
	}

	expectedPrev := genesisHash
	for _, entry := range entries {
		if !entry.Verify() {
			return false, nil
		}
		if entry.PreviousHash != expectedPrev {
			return false, nil
		}
		expectedPrev = entry.EntryHash
	}
	return true, nil
}

// EntriesForFile returns every entry recorded against the given path.
func (a *AuditLog) EntriesForFile(path string) ([]Entry, error) {
	entries, err := a.Entries()
	if err != nil {
		return nil, err
	}
	var filtered []Entry
	for _, e := range entries {
		if e.FilePath == path {
			filtered = append(filtered, e)
		}
	}
	return filtered, nil
}

// RecentEntries returns the last n entries (or all of them if there are fewer than n).
func (a *AuditLog) RecentEntries(n int) ([]Entry, error) {
	entries, err := a.Entries()
	if err != nil {
		return nil, err
	}
	if len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}
