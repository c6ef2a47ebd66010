package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"agentic/internal/types"
)

// PackStore is where brand packs live. The directory store is the
// shipped implementation; a remote registry can satisfy the same
// interface.
type PackStore interface {
	// Get returns the pack with the given id, resolved to the exact
	// version. An empty version means the newest available.
	Get(ctx context.Context, id, version string) (*types.BrandPack, error)
	// List returns every available pack at its newest version.
	List(ctx context.Context) ([]types.BrandPack, error)
}

// DirStore reads packs from JSON files in one directory, one pack per
// file, newest version per id wins.
type DirStore struct {
	dir string
}

// NewDirStore creates a store over the given directory. The directory
// may not exist yet; that reads as an empty store.
func NewDirStore(dir string) *DirStore {
	return &DirStore{dir: dir}
}

func (s *DirStore) load(_ context.Context) ([]types.BrandPack, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read pack dir %s: %w", s.dir, err)
	}

	var packs []types.BrandPack
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read pack %s: %w", e.Name(), err)
		}
		var pack types.BrandPack
		if err := json.Unmarshal(data, &pack); err != nil {
			return nil, fmt.Errorf("parse pack %s: %w", e.Name(), err)
		}
		if pack.ID == "" {
			continue
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

func (s *DirStore) Get(ctx context.Context, id, version string) (*types.BrandPack, error) {
	packs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	var best *types.BrandPack
	for i := range packs {
		p := &packs[i]
		if p.ID != id {
			continue
		}
		if version != "" {
			if p.Version == version {
				return p, nil
			}
			continue
		}
		if best == nil || compareVersions(p.Version, best.Version) > 0 {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("brand pack %s@%s not found", id, version)
	}
	return best, nil
}

func (s *DirStore) List(ctx context.Context) ([]types.BrandPack, error) {
	packs, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	newest := make(map[string]types.BrandPack, len(packs))
	for _, p := range packs {
		cur, ok := newest[p.ID]
		if !ok || compareVersions(p.Version, cur.Version) > 0 {
			newest[p.ID] = p
		}
	}
	out := make([]types.BrandPack, 0, len(newest))
	for _, p := range newest {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// compareVersions orders dotted numeric versions; non-numeric segments
// fall back to string comparison.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		av, bv := "", ""
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		an, aerr := atoi(av)
		bn, berr := atoi(bv)
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				if an < bn {
					return -1
				}
				return 1
			}
		default:
			if av != bv {
				return strings.Compare(av, bv)
			}
		}
	}
	return 0
}

func atoi(s string) (int, error) {
	n := 0
	if s == "" {
		return 0, nil
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("not numeric: %q", s)
		}
		n = n*10 + int(r-'0')
	}
	return n, nil
}
