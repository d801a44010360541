package secvault

import (
	"context"
	"errors"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// ControlSession is the per-connection state of the administrative channel.
// It starts Idle and becomes Targeted after the first Select. Every request
// other than Select needs a target.
type ControlSession struct {
	id     uuid.UUID
	reg    *Registry
	caller Principal
	log    *log.Logger

	mu        sync.Mutex
	target    int
	hasTarget bool
	closed    bool
}

func newControlSession(reg *Registry, caller Principal, logger *log.Logger) *ControlSession {
	id := uuid.New()
	return &ControlSession{
		id:     id,
		reg:    reg,
		caller: caller,
		log:    logger.With("session", id.String(), "principal", caller),
		target: -1,
	}
}

// ID returns the session identifier
func (c *ControlSession) ID() uuid.UUID {
	return c.id
}

// Principal returns the identity requests are issued as
func (c *ControlSession) Principal() Principal {
	return c.caller
}

// Target returns the selected vault id, if any
func (c *ControlSession) Target() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target, c.hasTarget
}

// Select records id as the target of later requests. The vault does not
// need to exist.
func (c *ControlSession) Select(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return newVaultError("select", id, ErrClosed)
	}
	c.target = id
	c.hasTarget = true

	c.log.Debug("select", "vault", id)
	return nil
}

// currentTarget returns the target or the error a request should fail with
func (c *ControlSession) currentTarget(op string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.reg.Closed() {
		return -1, newVaultError(op, c.target, ErrClosed)
	}
	if !c.hasTarget {
		return -1, newVaultError(op, -1, ErrNoTarget)
	}
	return c.target, nil
}

// withVault runs fn on the authorized, locked target vault
func (c *ControlSession) withVault(ctx context.Context, op string, fn func(v *Vault) error) error {
	id, err := c.currentTarget(op)
	if err != nil {
		return err
	}
	c.log.Debug(op, "vault", id)

	v, err := c.reg.Lookup(id)
	if err != nil {
		return newVaultError(op, id, err)
	}
	if err := guard(v, c.caller); err != nil {
		return newVaultError(op, id, err)
	}
	if err := v.lock(ctx); err != nil {
		return newVaultError(op, id, err)
	}
	defer v.unlock()

	if err := fn(v); err != nil {
		return newVaultError(op, id, err)
	}
	return nil
}

// Create registers a new, uninitialized vault under the target id, owned by
// the session's principal. It fails with ErrAlreadyExists if the id is taken.
func (c *ControlSession) Create(ctx context.Context) error {
	id, err := c.currentTarget("create")
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return newVaultError("create", id, errors.Join(ErrInterrupted, err))
	}
	c.log.Debug("create", "vault", id)

	if _, err := c.reg.Create(id, c.caller); err != nil {
		return newVaultError("create", id, err)
	}
	return nil
}

// Exists reports whether the target vault exists
func (c *ControlSession) Exists(ctx context.Context) (bool, error) {
	id, err := c.currentTarget("exists")
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, newVaultError("exists", id, errors.Join(ErrInterrupted, err))
	}
	return c.reg.Exists(id), nil
}

// Size returns the size of the target vault; zero before the first SetSize
func (c *ControlSession) Size(ctx context.Context) (int, error) {
	var size int
	err := c.withVault(ctx, "get_size", func(v *Vault) error {
		size = v.size
		return nil
	})
	return size, err
}

// SetSize resizes the target vault, preserving existing plaintext
func (c *ControlSession) SetSize(ctx context.Context, size int64) error {
	return c.withVault(ctx, "set_size", func(v *Vault) error {
		return v.initializeSize(size)
	})
}

// ChangeKey installs key and re-encrypts the target vault under it
func (c *ControlSession) ChangeKey(ctx context.Context, key []byte) error {
	return c.withVault(ctx, "change_key", func(v *Vault) error {
		return v.changeKey(key)
	})
}

// ChangeKeyFrom installs the key supplied by p
func (c *ControlSession) ChangeKeyFrom(ctx context.Context, p KeyProvider) error {
	key, err := resolveKey(p)
	if err != nil {
		id, _ := c.Target()
		return newVaultError("change_key", id, err)
	}
	defer zero(key)
	return c.ChangeKey(ctx, key)
}

// Clean overwrites the target vault with zeros
func (c *ControlSession) Clean(ctx context.Context) error {
	return c.withVault(ctx, "clean", func(v *Vault) error {
		return v.clean()
	})
}

// Remove destroys the target vault. The session stays Targeted; later
// requests fail with ErrNotFound until a vault is created again.
func (c *ControlSession) Remove(ctx context.Context) error {
	id, err := c.currentTarget("remove")
	if err != nil {
		return err
	}
	c.log.Debug("remove", "vault", id)

	if err := c.reg.Remove(ctx, id, c.caller); err != nil {
		return newVaultError("remove", id, err)
	}
	return nil
}

// Provision creates the target vault if needed, sets its size and installs
// the key from p. An existing vault is resized instead of rejected.
func (c *ControlSession) Provision(ctx context.Context, size int64, p KeyProvider) error {
	exists, err := c.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		if err := c.Create(ctx); err != nil && !errors.Is(err, ErrAlreadyExists) {
			return err
		}
	}
	if err := c.SetSize(ctx, size); err != nil {
		return err
	}
	return c.ChangeKeyFrom(ctx, p)
}

// Close ends the session. Later requests fail with ErrClosed.
func (c *ControlSession) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return newVaultError("close", c.target, ErrClosed)
	}
	c.closed = true

	c.log.Debug("control session closed")
	return nil
}
