package secvault

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
)

const (
	// ControlNodeName is the node name of the shared control channel
	ControlNodeName = "/dev/sv_ctl"

	dataNodePrefix = "/dev/sv_data"
)

// Manager owns a vault registry and hands out control and data sessions
// bound to it. A Manager is safe for concurrent use.
type Manager struct {
	cfg    *Config
	reg    *Registry
	log    *log.Logger
	closed atomic.Bool
}

// New creates a manager with an empty registry
func New(config *Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := config.logger()
	m := &Manager{
		cfg: config,
		reg: newRegistry(config, logger),
		log: logger,
	}

	logger.Debug("manager started", "max_vaults", config.MaxVaults, "max_size", config.MaxSize, "key_size", config.KeySize)
	return m, nil
}

// Config returns the manager configuration
func (m *Manager) Config() *Config {
	return m.cfg
}

// Registry returns the registry owned by the manager
func (m *Manager) Registry() *Registry {
	return m.reg
}

// OpenControl opens a control session issuing requests as principal
func (m *Manager) OpenControl(principal Principal) (*ControlSession, error) {
	if m.closed.Load() {
		return nil, newVaultError("open_control", -1, ErrClosed)
	}
	s := newControlSession(m.reg, principal, m.log)
	m.log.Debug("control session opened", "session", s.ID().String(), "principal", principal)
	return s, nil
}

// OpenData opens a data session on vault id. The vault must exist and be
// owned by principal; it does not need to be initialized yet. The returned
// session holds a reference on the vault until it is closed.
func (m *Manager) OpenData(ctx context.Context, principal Principal, id int) (*DataSession, error) {
	if m.closed.Load() {
		return nil, newVaultError("open", id, ErrClosed)
	}

	v, err := m.reg.Lookup(id)
	if err != nil {
		return nil, newVaultError("open", id, err)
	}
	if err := guard(v, principal); err != nil {
		return nil, newVaultError("open", id, err)
	}

	if err := v.lock(ctx); err != nil {
		return nil, newVaultError("open", id, err)
	}
	v.acquire()
	v.unlock()

	s := newDataSession(v, principal, m.log)
	s.log.Debug("data session opened", "principal", principal)
	return s, nil
}

// OpenFile opens a data session by node name, as returned by DataNodeName
func (m *Manager) OpenFile(ctx context.Context, principal Principal, name string) (*DataSession, error) {
	id, err := ParseDataNodeName(name)
	if err != nil {
		return nil, err
	}
	return m.OpenData(ctx, principal, id)
}

// Vaults lists the vaults owned by principal, ordered by id
func (m *Manager) Vaults(ctx context.Context, principal Principal) ([]VaultInfo, error) {
	if m.closed.Load() {
		return nil, newVaultError("list", -1, ErrClosed)
	}

	var out []VaultInfo
	for _, v := range m.reg.Vaults() {
		if !Authorize(v, principal) {
			continue
		}
		if err := v.lock(ctx); err != nil {
			if ctx.Err() != nil {
				return out, newVaultError("list", v.id, err)
			}
			// removed while we waited
			continue
		}
		out = append(out, v.info())
		v.unlock()
	}
	return out, nil
}

// Close tears down every vault, including vaults with open data sessions,
// and rejects later opens. Control sessions still open afterwards fail with
// ErrClosed, data sessions with ErrNotFound.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return newVaultError("close", -1, ErrClosed)
	}
	m.reg.TeardownAll()
	m.log.Debug("manager closed")
	return nil
}

// DataNodeName returns the node name of the data channel of vault id
func DataNodeName(id int) string {
	return dataNodePrefix + strconv.Itoa(id)
}

// ParseDataNodeName returns the vault id named by a data node name
func ParseDataNodeName(name string) (int, error) {
	rest, ok := strings.CutPrefix(name, dataNodePrefix)
	if !ok || rest == "" {
		return -1, NewValidationError("name", name, "not a data node name")
	}
	id, err := strconv.Atoi(rest)
	if err != nil || id < 0 || strconv.Itoa(id) != rest {
		return -1, NewValidationError("name", name, "invalid vault id")
	}
	return id, nil
}
