package secvault

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"
)

// Vault is one fixed-size encrypted storage unit.
//
// The data buffer, key and size are guarded by the vault lock. The lock is a
// weighted semaphore so a blocked acquisition can be abandoned when the
// caller's context ends. The reference count is atomic: acquire happens under
// the lock (so it cannot race destroy), release never blocks.
type Vault struct {
	id    int
	owner Principal
	cfg   *Config
	mem   *memoryBudget
	log   *log.Logger

	sem  *semaphore.Weighted
	refs atomic.Int64
	// set under sem, read by the registry without it
	removed atomic.Bool

	// guarded by sem
	size    int
	key     []byte
	data    []byte
	modTime time.Time
}

func newVault(id int, owner Principal, cfg *Config, mem *memoryBudget, logger *log.Logger) *Vault {
	return &Vault{
		id:    id,
		owner: owner,
		cfg:   cfg,
		mem:   mem,
		log:   logger.With("vault", id),
		sem:   semaphore.NewWeighted(1),
	}
}

// ID returns the vault id
func (v *Vault) ID() int {
	return v.id
}

// Owner returns the principal that created the vault
func (v *Vault) Owner() Principal {
	return v.owner
}

// RefCount returns the number of open data sessions
func (v *Vault) RefCount() int64 {
	return v.refs.Load()
}

// lock acquires the vault lock, giving up with ErrInterrupted when ctx ends
// first. A vault destroyed while the caller waited reports ErrNotFound.
func (v *Vault) lock(ctx context.Context) error {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrInterrupted, err)
	}
	if v.removed.Load() {
		v.sem.Release(1)
		return ErrNotFound
	}
	return nil
}

func (v *Vault) unlock() {
	v.sem.Release(1)
}

// initialized reports whether both a size and a key have been applied
func (v *Vault) initialized() bool {
	return v.size > 0 && len(v.key) > 0
}

// initializeSize resizes the buffer to newSize, preserving the plaintext of
// positions below min(old, new). New positions read back as zero.
func (v *Vault) initializeSize(newSize int64) error {
	if err := ValidateSize(newSize, v.cfg.MaxSize); err != nil {
		return err
	}

	n := int(newSize)
	newData, err := v.mem.alloc(n)
	if err != nil {
		return err
	}

	kept := copy(newData, v.data)
	if n > kept {
		fillPlainZero(newData[kept:], int64(kept), v.key)
	}

	v.freeData()
	v.data = newData
	v.size = n
	v.modTime = time.Now()

	v.log.Debug("resized", "size", n)
	return nil
}

// changeKey re-encrypts the buffer under newKey. On failure the old key and
// data are left unchanged.
func (v *Vault) changeKey(newKey []byte) error {
	if err := ValidateKey(newKey, v.cfg.KeySize); err != nil {
		return err
	}

	if v.size > 0 {
		scratch, err := v.mem.alloc(v.size)
		if err != nil {
			return err
		}
		if err := rekeyBuffer(scratch, v.data, v.key, newKey, v.cfg.Parallel); err != nil {
			v.mem.free(scratch)
			return err
		}
		v.freeData()
		v.data = scratch
	}

	zero(v.key)
	v.key = append(make([]byte, 0, len(newKey)), newKey...)
	v.modTime = time.Now()

	v.log.Debug("key changed", "size", v.size)
	return nil
}

// clean overwrites the whole vault with plaintext zeros
func (v *Vault) clean() error {
	if len(v.key) == 0 {
		return ErrNotInitialized
	}
	fillPlainZero(v.data, 0, v.key)
	v.modTime = time.Now()

	v.log.Debug("cleaned", "size", v.size)
	return nil
}

// readAt deciphers up to len(p) bytes starting at pos. The count is short
// when the read reaches the end of the vault.
func (v *Vault) readAt(p []byte, pos int64) (int, error) {
	if !v.initialized() {
		return 0, ErrNotInitialized
	}
	if pos < 0 || pos >= int64(v.size) {
		return 0, ErrOutOfRange
	}
	return TransformBytes(p, v.data[pos:], pos, v.key), nil
}

// writeAt enciphers up to len(p) bytes into the vault starting at pos. The
// count is short when the write reaches the end of the vault.
func (v *Vault) writeAt(p []byte, pos int64) (int, error) {
	if !v.initialized() {
		return 0, ErrNotInitialized
	}
	if pos < 0 || pos >= int64(v.size) {
		return 0, ErrOutOfRange
	}
	n := TransformBytes(v.data[pos:], p, pos, v.key)
	if n > 0 {
		v.modTime = time.Now()
	}
	return n, nil
}

// info returns a snapshot of the vault's metadata. Must hold the lock.
func (v *Vault) info() VaultInfo {
	return VaultInfo{
		ID:          v.id,
		Owner:       v.owner,
		Size:        v.size,
		Initialized: v.initialized(),
		RefCount:    v.refs.Load(),
		ModTime:     v.modTime,
	}
}

// acquire registers an open data session. Must hold the lock.
func (v *Vault) acquire() {
	n := v.refs.Add(1)
	v.log.Debug("acquired", "refs", n)
}

// release drops a data session reference. It never blocks and never fails.
func (v *Vault) release() {
	n := v.refs.Add(-1)
	if n < 0 {
		v.refs.Store(0)
		n = 0
	}
	v.log.Debug("released", "refs", n)
}

// destroy zeroes and frees the buffer and key. Unless force is set it
// refuses while data sessions are open. Must hold the lock.
func (v *Vault) destroy(force bool) error {
	refs := v.refs.Load()
	if refs > 0 {
		if !force {
			v.log.Warn("refusing to delete a vault which is in use", "refs", refs)
			return ErrBusy
		}
		v.log.Warn("deleting a vault which is in use", "refs", refs)
	}

	v.freeData()
	zero(v.key)
	v.key = nil
	v.size = 0
	v.removed.Store(true)

	v.log.Debug("destroyed", "forced", force)
	return nil
}

// freeData zeroes the current buffer and returns it to the budget
func (v *Vault) freeData() {
	if v.data == nil {
		return
	}
	zero(v.data)
	v.mem.free(v.data)
	v.data = nil
}

// zero overwrites a byte slice with zeros
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// memoryBudget accounts for the bytes held by vault buffers
type memoryBudget struct {
	limit int64
	used  atomic.Int64
}

// alloc returns a zeroed buffer of n bytes, or ErrOutOfMemory when the
// budget cannot cover it
func (m *memoryBudget) alloc(n int) ([]byte, error) {
	if m.limit > 0 {
		if m.used.Add(int64(n)) > m.limit {
			m.used.Add(-int64(n))
			return nil, ErrOutOfMemory
		}
	} else {
		m.used.Add(int64(n))
	}
	return make([]byte, n), nil
}

func (m *memoryBudget) free(b []byte) {
	m.used.Add(-int64(len(b)))
}

// inUse returns the number of bytes currently allocated
func (m *memoryBudget) inUse() int64 {
	return m.used.Load()
}
