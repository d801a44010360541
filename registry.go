package secvault

import (
	"context"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
)

// Registry owns every vault of a manager, keyed by id.
//
// The registry lock only protects membership. It is never held while a
// vault lock is held, so the two levels cannot deadlock. A destroyed vault
// may linger in the map until Remove drops it; it counts as absent.
type Registry struct {
	cfg *Config
	mem *memoryBudget
	log *log.Logger

	mu     sync.RWMutex
	vaults map[int]*Vault
	closed bool
}

// NewRegistry creates an empty registry
func NewRegistry(cfg *Config) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return newRegistry(cfg, cfg.logger()), nil
}

func newRegistry(cfg *Config, logger *log.Logger) *Registry {
	return &Registry{
		cfg:    cfg,
		mem:    &memoryBudget{limit: cfg.MemoryLimit},
		log:    logger,
		vaults: make(map[int]*Vault),
	}
}

// Create registers an uninitialized vault owned by owner
func (r *Registry) Create(id int, owner Principal) (*Vault, error) {
	if err := ValidateID(id, r.cfg.MaxVaults); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrClosed
	}
	if old, ok := r.vaults[id]; ok && !old.removed.Load() {
		return nil, ErrAlreadyExists
	}

	v := newVault(id, owner, r.cfg, r.mem, r.log)
	r.vaults[id] = v

	r.log.Debug("vault created", "vault", id, "owner", owner)
	return v, nil
}

// Lookup returns the vault registered under id. The vault stays owned by
// the registry; callers must lock it before touching its content.
func (r *Registry) Lookup(id int) (*Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.vaults[id]
	if !ok || v.removed.Load() {
		return nil, ErrNotFound
	}
	return v, nil
}

// Exists reports whether a vault is registered under id
func (r *Registry) Exists(id int) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// Remove destroys the vault registered under id and drops it from the
// registry. It fails with ErrBusy while data sessions are open.
func (r *Registry) Remove(ctx context.Context, id int, caller Principal) error {
	v, err := r.Lookup(id)
	if err != nil {
		return err
	}
	if err := guard(v, caller); err != nil {
		return err
	}

	if err := v.lock(ctx); err != nil {
		return err
	}
	err = v.destroy(false)
	v.unlock()
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.vaults[id] == v {
		delete(r.vaults, id)
	}
	r.mu.Unlock()

	r.log.Debug("vault removed", "vault", id)
	return nil
}

// TeardownAll forcibly destroys every vault, open sessions or not, and
// empties the registry. It waits for in-flight operations on each vault to
// finish before destroying it. Later Create calls fail with ErrClosed.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	vaults := r.vaults
	r.vaults = make(map[int]*Vault)
	r.closed = true
	r.mu.Unlock()

	for id, v := range vaults {
		if err := v.lock(context.Background()); err != nil {
			continue
		}
		_ = v.destroy(true)
		v.unlock()
		r.log.Debug("vault torn down", "vault", id)
	}
}

// Closed reports whether TeardownAll has run
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Vaults returns the registered vaults ordered by id
func (r *Registry) Vaults() []*Vault {
	r.mu.RLock()
	out := make([]*Vault, 0, len(r.vaults))
	for _, v := range r.vaults {
		if !v.removed.Load() {
			out = append(out, v)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// Len returns the number of registered vaults
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, v := range r.vaults {
		if !v.removed.Load() {
			n++
		}
	}
	return n
}

// MemoryInUse returns the bytes currently held by vault buffers
func (r *Registry) MemoryInUse() int64 {
	return r.mem.inUse()
}
