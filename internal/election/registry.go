package election

import (
	"context"
	"encoding/hex"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/vote-bft/vote-node/internal/storage"
)

// Registry holds every known election in memory after startup, indexed by
// election_id. It is read by the chain core on every command and mutated
// only during LoadAndReconcile and SetClosed.
type Registry struct {
	mu        sync.RWMutex
	elections map[string]*Election
	logger    *log.Logger
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		elections: make(map[string]*Election),
		logger:    log.New(log.Writer(), "[Election] ", log.LstdFlags),
	}
}

// Get returns the election by id, and whether it is known.
func (r *Registry) Get(id string) (*Election, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.elections[id]
	return e, ok
}

// SetClosed flips the in-memory closed flag for an election, keeping the
// registry's view consistent with storage after an operator-driven close.
func (r *Registry) SetClosed(id string, closed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.elections[id]; ok {
		e.Closed = closed
	}
}

// All returns every election currently known, for diagnostics and tests.
func (r *Registry) All() []*Election {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Election, 0, len(r.elections))
	for _, e := range r.elections {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// scanDataPath reads every file under dataPath, parsing each as an
// election definition. Files that fail to parse are skipped with a log
// entry rather than aborting startup (spec §6).
func (r *Registry) scanDataPath(dataPath string) ([]*Election, error) {
	entries, err := os.ReadDir(dataPath)
	if err != nil {
		return nil, err
	}

	var out []*Election
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		full := filepath.Join(dataPath, entry.Name())
		data, err := os.ReadFile(full)
		if err != nil {
			r.logger.Printf("skipping %s: %v", entry.Name(), err)
			continue
		}
		e, err := ParseFile(data)
		if err != nil {
			r.logger.Printf("skipping %s: %v", entry.Name(), err)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// LoadAndReconcile implements spec §6's startup sequence: close every
// previously-known election in storage, re-insert the elections discovered
// under dataPath as open, and seed height-0 frontier/root rows for any
// newly-discovered election. The in-memory registry is rebuilt from the
// union of what storage now holds.
func (r *Registry) LoadAndReconcile(ctx context.Context, store *storage.Store, dataPath string) error {
	discovered, err := r.scanDataPath(dataPath)
	if err != nil {
		return err
	}

	if err := store.CloseAllElections(ctx); err != nil {
		return err
	}

	for _, e := range discovered {
		if err := store.StoreElection(ctx, e.ID, encodeDefinition(e)); err != nil {
			return err
		}

		initial, err := e.InitialFrontier()
		if err != nil {
			return err
		}
		if err := store.StoreFrontier(ctx, e.ID, 0, initial.Serialize()); err != nil {
			return err
		}
		root := initial.Root()
		if err := store.StoreRoot(ctx, e.ID, 0, hex.EncodeToString(root[:])); err != nil {
			return err
		}
		r.logger.Printf("registered election %s (signature_required=%v, depth=%d)", e.ID, e.SignatureRequired, e.FrontierDepth)
	}

	rows, err := store.ListElections(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.elections = make(map[string]*Election, len(rows))
	for _, row := range rows {
		e, err := decodeDefinition(row.Definition)
		if err != nil {
			r.mu.Unlock()
			return err
		}
		e.Closed = row.Closed
		r.elections[e.ID] = e
	}
	r.mu.Unlock()

	return nil
}
