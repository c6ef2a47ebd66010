// Package discovery resolves which brand pack a workspace is bound to.
// Resolution walks a fixed precedence chain from environment down to
// auto-binding, snapshots the winning pack into a lock file, and caches
// the result until the workspace configuration changes on disk.
package discovery

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	_ "modernc.org/sqlite"

	"agentic/internal/config"
	"agentic/internal/logging"
	"agentic/internal/types"
)

const lockFileName = "brand-pack.lock.json"

// Resolution is a resolved brand binding plus the pack content.
type Resolution struct {
	Context types.ProjectContext
	Pack    *types.BrandPack
}

// Service resolves and caches the workspace's brand binding. Safe for
// concurrent use; the cached resolution is invalidated by config file
// changes and by Invalidate.
type Service struct {
	workspace string
	agentic   string // .agentic directory
	strict    bool
	packs     PackStore
	db        *sql.DB
	watcher   *fsnotify.Watcher
	done      chan struct{}

	mu     sync.Mutex
	cached *Resolution
}

// New creates a discovery service for the workspace. The mapping table
// and the config watcher are best-effort: failure to open either leaves
// the corresponding step inert.
func New(workspace string, brand config.BrandConfig, packs PackStore) *Service {
	s := &Service{
		workspace: workspace,
		agentic:   filepath.Join(workspace, ".agentic"),
		strict:    brand.Strict || envTrue("STRICT"),
		packs:     packs,
		done:      make(chan struct{}),
	}

	if db, err := openMappingDB(filepath.Join(s.agentic, "discovery.db")); err == nil {
		s.db = db
	} else {
		logging.Discovery("mapping table unavailable: %v", err)
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(s.agentic); err == nil {
			s.watcher = w
			go s.watch()
		} else {
			w.Close()
		}
	}
	return s
}

// Close stops the watcher and releases the mapping table.
func (s *Service) Close() error {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Service) watch() {
	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Base(ev.Name)
			if name == "config.json" || name == "brand-pack.json" || name == "brand-pack.ref.json" {
				logging.Discovery("workspace config changed (%s), invalidating resolution", name)
				s.Invalidate()
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Discovery("watcher error: %v", err)
		}
	}
}

// Invalidate drops the cached resolution; the next Resolve walks the
// chain again.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

// Resolve returns the workspace's brand binding. Environment is checked
// on every call so an env change takes effect without invalidation.
func (s *Service) Resolve(ctx context.Context) (*Resolution, error) {
	if id := os.Getenv("BRAND_PACK_ID"); id != "" {
		return s.bind(ctx, id, os.Getenv("BRAND_VERSION"), nil, types.SourceEnv)
	}

	s.mu.Lock()
	if s.cached != nil {
		res := s.cached
		s.mu.Unlock()
		return res, nil
	}
	s.mu.Unlock()

	res, err := s.resolve(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cached = res
	s.mu.Unlock()
	return res, nil
}

func (s *Service) resolve(ctx context.Context) (*Resolution, error) {
	// 2. .agentic/config.json
	if wc := s.readWorkspaceConfig(); wc != nil && wc.BrandPackID != "" {
		return s.bind(ctx, wc.BrandPackID, wc.BrandVersion, wc.Overrides, types.SourceConfig)
	}

	// 3. package.json "agentic" key
	if id, version, ok := s.readPackageJSON(); ok {
		return s.bind(ctx, id, version, nil, types.SourceManifest)
	}

	// 4. marker files: a full inline pack, or a reference
	if pack := s.readMarkerPack(); pack != nil {
		return s.finish(types.ProjectContext{
			ProjectID:    s.projectID(),
			RootHash:     s.rootHash(),
			BrandPackID:  pack.ID,
			BrandVersion: pack.Version,
			Source:       types.SourceMarker,
		}, pack)
	}
	if id, version, ok := s.readMarkerRef(); ok {
		return s.bind(ctx, id, version, nil, types.SourceMarker)
	}

	// 5. mapping table
	if id, version, ok := s.lookupMapping(ctx); ok {
		return s.bind(ctx, id, version, nil, types.SourceMapping)
	}

	// 6. auto-bind when exactly one pack exists
	if packs, err := s.packs.List(ctx); err == nil && len(packs) == 1 {
		if s.strict {
			return nil, fmt.Errorf("strict mode: refusing to auto-bind pack %s", packs[0].ID)
		}
		return s.finish(types.ProjectContext{
			ProjectID:    s.projectID(),
			RootHash:     s.rootHash(),
			BrandPackID:  packs[0].ID,
			BrandVersion: packs[0].Version,
			Source:       types.SourceAutoBind,
		}, &packs[0])
	}

	// 7. degraded
	if s.strict {
		return nil, fmt.Errorf("strict mode: no brand pack binding for %s", s.workspace)
	}
	logging.Discovery("no brand binding found for %s, running degraded", s.workspace)
	return &Resolution{Context: types.ProjectContext{
		ProjectID: s.projectID(),
		RootHash:  s.rootHash(),
		Source:    types.SourceDegraded,
		Degraded:  true,
	}}, nil
}

// bind fetches the pack for an id/version decided by one of the chain
// steps, falling back to the lock snapshot when the store is offline.
func (s *Service) bind(ctx context.Context, id, version string, overrides map[string]string, source types.ContextSource) (*Resolution, error) {
	pctx := types.ProjectContext{
		ProjectID:    s.projectID(),
		RootHash:     s.rootHash(),
		BrandPackID:  id,
		BrandVersion: version,
		Overrides:    overrides,
		Source:       source,
	}

	pack, err := s.packs.Get(ctx, id, version)
	if err != nil {
		if lock := s.readLock(); lock != nil && lock.Pack != nil && lock.BrandPackID == id &&
			(version == "" || lock.BrandVersion == version) {
			logging.Discovery("pack store unavailable, serving lock snapshot for %s@%s", id, lock.BrandVersion)
			pctx.BrandVersion = lock.BrandVersion
			pctx.Source = types.SourceLock
			return &Resolution{Context: pctx, Pack: lock.Pack}, nil
		}
		return nil, fmt.Errorf("resolve brand pack %s@%s: %w", id, version, err)
	}
	pctx.BrandVersion = pack.Version
	return s.finish(pctx, pack)
}

// finish writes the lock snapshot and assembles the resolution.
func (s *Service) finish(pctx types.ProjectContext, pack *types.BrandPack) (*Resolution, error) {
	s.writeLock(pctx, pack)
	return &Resolution{Context: pctx, Pack: pack}, nil
}

// =============================================================================
// CHAIN STEP READERS
// =============================================================================

type workspaceConfig struct {
	BrandPackID  string            `json:"brandPackId"`
	BrandVersion string            `json:"brandVersion"`
	ProjectID    string            `json:"projectId"`
	Overrides    map[string]string `json:"overrides"`
	Brand        *struct {
		BrandPackID  string            `json:"brandPackId"`
		BrandVersion string            `json:"brandVersion"`
		Overrides    map[string]string `json:"overrides"`
	} `json:"brand"`
}

func (s *Service) readWorkspaceConfig() *workspaceConfig {
	data, err := os.ReadFile(filepath.Join(s.agentic, "config.json"))
	if err != nil {
		return nil
	}
	var wc workspaceConfig
	if err := json.Unmarshal(data, &wc); err != nil {
		logging.Discovery("malformed .agentic/config.json: %v", err)
		return nil
	}
	if wc.BrandPackID == "" && wc.Brand != nil {
		wc.BrandPackID = wc.Brand.BrandPackID
		wc.BrandVersion = wc.Brand.BrandVersion
		if wc.Overrides == nil {
			wc.Overrides = wc.Brand.Overrides
		}
	}
	return &wc
}

func (s *Service) readPackageJSON() (id, version string, ok bool) {
	data, err := os.ReadFile(filepath.Join(s.workspace, "package.json"))
	if err != nil {
		return "", "", false
	}
	var manifest struct {
		Agentic *struct {
			BrandPackID  string `json:"brandPackId"`
			BrandVersion string `json:"brandVersion"`
		} `json:"agentic"`
	}
	if err := json.Unmarshal(data, &manifest); err != nil || manifest.Agentic == nil {
		return "", "", false
	}
	if manifest.Agentic.BrandPackID == "" {
		return "", "", false
	}
	return manifest.Agentic.BrandPackID, manifest.Agentic.BrandVersion, true
}

func (s *Service) readMarkerPack() *types.BrandPack {
	data, err := os.ReadFile(filepath.Join(s.workspace, "brand-pack.json"))
	if err != nil {
		return nil
	}
	var pack types.BrandPack
	if err := json.Unmarshal(data, &pack); err != nil || pack.ID == "" || len(pack.Tokens) == 0 {
		return nil
	}
	return &pack
}

func (s *Service) readMarkerRef() (id, version string, ok bool) {
	data, err := os.ReadFile(filepath.Join(s.workspace, "brand-pack.ref.json"))
	if err != nil {
		return "", "", false
	}
	var ref struct {
		ID      string `json:"id"`
		Version string `json:"version"`
	}
	if err := json.Unmarshal(data, &ref); err != nil || ref.ID == "" {
		return "", "", false
	}
	return ref.ID, ref.Version, true
}

// =============================================================================
// MAPPING TABLE
// =============================================================================

func openMappingDB(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS project_mappings (
		root_hash TEXT PRIMARY KEY,
		brand_pack_id TEXT NOT NULL,
		brand_version TEXT NOT NULL DEFAULT '',
		updated_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (s *Service) lookupMapping(ctx context.Context) (id, version string, ok bool) {
	if s.db == nil {
		return "", "", false
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT brand_pack_id, brand_version FROM project_mappings WHERE root_hash = ?`,
		s.rootHash()).Scan(&id, &version)
	if err != nil {
		return "", "", false
	}
	return id, version, id != ""
}

// SetMapping records a rootHash binding so future resolutions of this
// workspace hit step 5.
func (s *Service) SetMapping(ctx context.Context, id, version string) error {
	if s.db == nil {
		return fmt.Errorf("mapping table unavailable")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO project_mappings (root_hash, brand_pack_id, brand_version, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(root_hash) DO UPDATE SET
		   brand_pack_id = excluded.brand_pack_id,
		   brand_version = excluded.brand_version,
		   updated_at = excluded.updated_at`,
		s.rootHash(), id, version, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store mapping: %w", err)
	}
	s.Invalidate()
	return nil
}

// =============================================================================
// LOCK SNAPSHOT
// =============================================================================

type lockFile struct {
	BrandPackID  string            `json:"brandPackId"`
	BrandVersion string            `json:"brandVersion"`
	RootHash     string            `json:"rootHash"`
	Source       string            `json:"source"`
	ResolvedAt   time.Time         `json:"resolvedAt"`
	Overrides    map[string]string `json:"overrides,omitempty"`
	Pack         *types.BrandPack  `json:"pack"`
}

func (s *Service) writeLock(pctx types.ProjectContext, pack *types.BrandPack) {
	lock := lockFile{
		BrandPackID:  pctx.BrandPackID,
		BrandVersion: pctx.BrandVersion,
		RootHash:     pctx.RootHash,
		Source:       string(pctx.Source),
		ResolvedAt:   time.Now().UTC(),
		Overrides:    pctx.Overrides,
		Pack:         pack,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(s.agentic, 0o755); err != nil {
		return
	}
	path := filepath.Join(s.agentic, lockFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Discovery("write lock snapshot: %v", err)
		return
	}
	if err := os.Rename(tmp, path); err != nil {
		logging.Discovery("write lock snapshot: %v", err)
	}
}

func (s *Service) readLock() *lockFile {
	data, err := os.ReadFile(filepath.Join(s.agentic, lockFileName))
	if err != nil {
		return nil
	}
	var lock lockFile
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil
	}
	return &lock
}

// =============================================================================
// IDENTITY
// =============================================================================

func (s *Service) rootHash() string {
	abs, err := filepath.Abs(s.workspace)
	if err != nil {
		abs = s.workspace
	}
	sum := sha256.Sum256([]byte(abs))
	return hex.EncodeToString(sum[:])[:16]
}

func (s *Service) projectID() string {
	if v := os.Getenv("PROJECT_ID"); v != "" {
		return v
	}
	if wc := s.readWorkspaceConfig(); wc != nil && wc.ProjectID != "" {
		return wc.ProjectID
	}
	data, err := os.ReadFile(filepath.Join(s.workspace, "package.json"))
	if err == nil {
		var manifest struct {
			Name string `json:"name"`
		}
		if json.Unmarshal(data, &manifest) == nil && manifest.Name != "" {
			return manifest.Name
		}
	}
	return s.rootHash()
}

func envTrue(name string) bool {
	v := os.Getenv(name)
	return v == "1" || v == "true"
}
