package capture

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"agentic/internal/logging"
)

// StartJanitor prunes the screenshot directory on an interval until
// Close is called. Sweep can also be invoked directly after a run.
func (p *Pool) StartJanitor() {
	interval := time.Duration(p.cfg.JanitorSeconds) * time.Second
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.janitorDone:
				return
			case <-ticker.C:
				if n := p.Sweep(); n > 0 {
					logging.CaptureDebug("janitor removed %d screenshots", n)
				}
			}
		}
	}()
}

// Sweep removes screenshots older than the age limit, then the oldest
// above the file-count limit. Returns how many files were removed.
func (p *Pool) Sweep() int {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0
	}

	type shotFile struct {
		path string
		mod  time.Time
	}
	var shots []shotFile
	cutoff := time.Now().Add(-time.Duration(p.cfg.MaxAgeMinutes) * time.Minute)
	removed := 0

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".png") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		if p.cfg.MaxAgeMinutes > 0 && info.ModTime().Before(cutoff) {
			if os.Remove(path) == nil {
				removed++
			}
			continue
		}
		shots = append(shots, shotFile{path: path, mod: info.ModTime()})
	}

	if p.cfg.MaxFiles > 0 && len(shots) > p.cfg.MaxFiles {
		sort.Slice(shots, func(i, j int) bool { return shots[i].mod.Before(shots[j].mod) })
		for _, s := range shots[:len(shots)-p.cfg.MaxFiles] {
			if os.Remove(s.path) == nil {
				removed++
			}
		}
	}
	return removed
}
