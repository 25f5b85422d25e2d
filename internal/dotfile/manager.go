package dotfile

import (
	"path/filepath"
	"strings"

	"github.com/haasonsaas/agentcore/internal/config"
)

// IsProtectedPath reports whether path names a dotfile that the golden path
// should route through the audit log before a mutating tool touches it:
// any file whose basename starts with "." (.bashrc, .env, .ssh/config's
// parent dir aside), matching the scope described in spec.md §4.9.
func IsProtectedPath(path string) bool {
	if path == "" {
		return false
	}
	return strings.HasPrefix(filepath.Base(path), ".")
}

// Protection bundles the hash-chained audit log, the versioned backup
// manager, and the manager's background prune schedule that together guard
// dotfile access for a single agent process.
type Protection struct {
	Audit   *AuditLog
	Backups *BackupManager
	Prune   *PruneSchedule
}

// New builds a Protection from the dotfile section of the agent config and
// starts the backup index's prune schedule. Call Close to stop it.
func New(cfg config.DotfileConfig) (*Protection, error) {
	audit, err := NewAuditLog(cfg.AuditLogPath)
	if err != nil {
		return nil, err
	}
	backups, err := NewBackupManager(cfg.BackupDir, cfg.MaxBackups)
	if err != nil {
		return nil, err
	}
	prune, err := NewPruneSchedule(backups, cfg.PruneSchedule)
	if err != nil {
		return nil, err
	}
	prune.Start()
	return &Protection{Audit: audit, Backups: backups, Prune: prune}, nil
}

// Close stops the background prune schedule.
func (p *Protection) Close() {
	if p.Prune != nil {
		p.Prune.Stop()
	}
}
