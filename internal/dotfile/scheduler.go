package dotfile

import (
	"fmt"
	"sort"

	"github.com/robfig/cron/v3"
)

// PruneSchedule runs BackupManager's retention policy across the whole
// backup index on a cron schedule, rather than only at the moment a new
// backup is written by CreateBackup. This catches files that haven't been
// touched in a while but whose backup count crept past MaxBackups through
// an earlier, lower MaxBackups setting, and removes index entries whose
// backing file was deleted out-of-band.
type PruneSchedule struct {
	manager *BackupManager
	cron    *cron.Cron
	entryID cron.EntryID
}

// NewPruneSchedule builds a scheduler for manager. spec is a standard
// five-field cron expression (e.g. "0 3 * * *" for daily at 03:00); an
// empty spec defaults to hourly.
func NewPruneSchedule(manager *BackupManager, spec string) (*PruneSchedule, error) {
	if spec == "" {
		spec = "@hourly"
	}
	c := cron.New()
	s := &PruneSchedule{manager: manager, cron: c}
	id, err := c.AddFunc(spec, s.pruneAll)
	if err != nil {
		return nil, fmt.Errorf("dotfile: invalid prune schedule %q: %w", spec, err)
	}
	s.entryID = id
	return s, nil
}

// Start begins running the schedule in the background.
func (s *PruneSchedule) Start() { s.cron.Start() }

// Stop halts the schedule and waits for any in-flight run to finish.
func (s *PruneSchedule) Stop() { s.cron.Stop() }

// pruneAll walks every distinct OriginalPath in the index and applies the
// manager's existing per-file cleanup, which is also where missing backup
// files get dropped from the index.
func (s *PruneSchedule) pruneAll() {
	backups, err := s.manager.ListAllBackups()
	if err != nil {
		return
	}
	seen := make(map[string]bool)
	paths := make([]string, 0, len(backups))
	for _, b := range backups {
		if !seen[b.OriginalPath] {
			seen[b.OriginalPath] = true
			paths = append(paths, b.OriginalPath)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		_ = s.manager.cleanupOldBackups(p)
	}
}
