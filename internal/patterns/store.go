// Package patterns learns per-project token preferences from applied
// change logs. Confidence is an exponentially-weighted average of
// accept/reject outcomes with half-life decay, so stale habits fade
// instead of being deleted. Nothing is ever hard-deleted.
package patterns

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/types"
)

// ewmaAlpha is the weight of the newest observation.
const ewmaAlpha = 0.2

// baselineConfidence is where a freshly seen pattern starts before its
// first observation is blended in.
const baselineConfidence = 0.5

const schema = `
CREATE TABLE IF NOT EXISTS patterns (
	project_id     TEXT NOT NULL,
	component_type TEXT NOT NULL,
	rule_id        TEXT NOT NULL,
	token_chosen   TEXT NOT NULL,
	confidence     REAL NOT NULL,
	sample_count   INTEGER NOT NULL,
	last_updated   INTEGER NOT NULL,
	version        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, component_type, rule_id, token_chosen)
);
CREATE INDEX IF NOT EXISTS idx_patterns_project ON patterns(project_id, component_type);
`

// Store persists learned patterns in sqlite.
type Store struct {
	cfg config.PatternsConfig
	db  *sql.DB
}

// Open creates or opens the pattern database under the workspace.
func Open(workspace string, cfg config.PatternsConfig) (*Store, error) {
	path := cfg.DatabasePath
	if !filepath.IsAbs(path) {
		path = filepath.Join(workspace, path)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pattern db: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pattern db pragma: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("pattern db schema: %w", err)
	}
	return &Store{cfg: cfg, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// TrackUsage folds one transform run into the learned patterns. Applied
// edits count as acceptance, rejected edits as rejection; advisory
// output teaches nothing because the user never saw a decision.
func (s *Store) TrackUsage(ctx context.Context, projectID, componentType string, log types.ChangeLog) error {
	if projectID == "" {
		return fmt.Errorf("project id is required")
	}
	var firstErr error
	record := func(edits []types.AppliedEdit, outcome float64) {
		for _, e := range edits {
			if e.RuleID == "" || e.After == "" {
				continue
			}
			err := s.observe(ctx, key{projectID, componentType, e.RuleID, e.After}, outcome)
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	record(log.Applied, 1)
	record(log.Rejected, 0)
	if firstErr != nil {
		return firstErr
	}
	logging.PatternsDebug("tracked %d applied, %d rejected for %s/%s",
		len(log.Applied), len(log.Rejected), projectID, componentType)
	return nil
}

type key struct {
	project   string
	component string
	rule      string
	token     string
}

// observe updates one pattern row with optimistic concurrency: read the
// version, write against it, retry once if another writer got there
// first.
func (s *Store) observe(ctx context.Context, k key, outcome float64) error {
	now := time.Now()
	for attempt := 0; attempt < 2; attempt++ {
		var conf float64
		var samples, version int
		var updated int64
		err := s.db.QueryRowContext(ctx, `
			SELECT confidence, sample_count, last_updated, version FROM patterns
			WHERE project_id = ? AND component_type = ? AND rule_id = ? AND token_chosen = ?`,
			k.project, k.component, k.rule, k.token,
		).Scan(&conf, &samples, &updated, &version)

		if err == sql.ErrNoRows {
			next := blend(baselineConfidence, outcome)
			res, ierr := s.db.ExecContext(ctx, `
				INSERT INTO patterns (project_id, component_type, rule_id, token_chosen, confidence, sample_count, last_updated, version)
				VALUES (?, ?, ?, ?, ?, 1, ?, 0)
				ON CONFLICT DO NOTHING`,
				k.project, k.component, k.rule, k.token, next, now.Unix())
			if ierr != nil {
				return fmt.Errorf("insert pattern: %w", ierr)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				return nil
			}
			continue // lost the insert race, reread
		}
		if err != nil {
			return fmt.Errorf("read pattern: %w", err)
		}

		decayed := decay(conf, time.Unix(updated, 0), now, s.cfg.HalfLifeDays)
		next := blend(decayed, outcome)
		res, uerr := s.db.ExecContext(ctx, `
			UPDATE patterns SET confidence = ?, sample_count = sample_count + 1, last_updated = ?, version = version + 1
			WHERE project_id = ? AND component_type = ? AND rule_id = ? AND token_chosen = ? AND version = ?`,
			next, now.Unix(), k.project, k.component, k.rule, k.token, version)
		if uerr != nil {
			return fmt.Errorf("update pattern: %w", uerr)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}
	return fmt.Errorf("pattern update contention for %s/%s", k.rule, k.token)
}

func blend(prior, outcome float64) float64 {
	return prior*(1-ewmaAlpha) + outcome*ewmaAlpha
}

// decay halves confidence every half-life without touching the row.
func decay(conf float64, last, now time.Time, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		return conf
	}
	ageDays := now.Sub(last).Hours() / 24
	if ageDays <= 0 {
		return conf
	}
	return conf * math.Pow(0.5, ageDays/halfLifeDays)
}

// Suggestions returns the top learned patterns for a component, decayed
// to now, with weak ones suppressed.
func (s *Store) Suggestions(ctx context.Context, projectID, componentType string) ([]types.Pattern, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, component_type, rule_id, token_chosen, confidence, sample_count, last_updated
		FROM patterns WHERE project_id = ? AND component_type = ?`,
		projectID, componentType)
	if err != nil {
		return nil, fmt.Errorf("query patterns: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	var out []types.Pattern
	for rows.Next() {
		var p types.Pattern
		var updated int64
		if err := rows.Scan(&p.ProjectID, &p.ComponentType, &p.RuleID, &p.TokenChosen, &p.Confidence, &p.SampleCount, &updated); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		p.LastUpdated = time.Unix(updated, 0)
		p.HalfLifeDays = s.cfg.HalfLifeDays
		p.Confidence = decay(p.Confidence, p.LastUpdated, now, s.cfg.HalfLifeDays)
		if p.Confidence < s.cfg.SuppressBelow {
			continue
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patterns: %w", err)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if k := s.cfg.SuggestionTopK; k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// AutoApplyEligible reports whether a learned pattern has earned the
// right to raise auto-apply confidence: well above the floor, enough
// samples, and from a rule class that is safe to automate.
func (s *Store) AutoApplyEligible(p types.Pattern) bool {
	return p.Confidence >= s.cfg.AutoApplyMinConf &&
		p.SampleCount >= s.cfg.MinSampleCount &&
		safeRuleClass(p.RuleID)
}

// safeRuleClass excludes the advisory-only rule families and ambiguous
// resolutions from automation, no matter how popular they get.
func safeRuleClass(ruleID string) bool {
	if strings.HasPrefix(ruleID, "gradients/") || strings.HasPrefix(ruleID, "states/") {
		return false
	}
	if strings.HasSuffix(ruleID, "/ambiguous") || strings.HasSuffix(ruleID, "/near") {
		return false
	}
	return true
}
