package secvault

import (
	"context"
	"errors"
	"fmt"
)

// MultiKeyProvider tries multiple key providers in order and returns the
// first key that resolves. This is useful when a key may come from the
// environment but has a fallback.
type MultiKeyProvider struct {
	providers []KeyProvider
}

// NewMultiKeyProvider creates a new multi-key provider
func NewMultiKeyProvider(providers ...KeyProvider) (*MultiKeyProvider, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("at least one key provider required: %w", ErrNilKeyProvider)
	}
	for i, p := range providers {
		if p == nil {
			return nil, NewValidationError("providers", i, "key provider cannot be nil")
		}
	}
	return &MultiKeyProvider{providers: providers}, nil
}

// Key returns the key of the first provider that succeeds
func (m *MultiKeyProvider) Key() ([]byte, error) {
	var errs []error
	for _, p := range m.providers {
		key, err := p.Key()
		if err == nil {
			return key, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("all key providers failed: %w", errors.Join(errs...))
}

// RotationOptions contains options for key rotation
type RotationOptions struct {
	// DryRun reports what would be rekeyed without changing anything
	DryRun bool

	// Verbose logs every rotated vault at info level
	Verbose bool
}

// RotationResult summarizes a key rotation
type RotationResult struct {
	// Rotated lists the ids of the vaults that were (or, in a dry run,
	// would have been) rekeyed
	Rotated []int

	// Skipped lists the ids of owned vaults that are not initialized yet
	Skipped []int
}

// RotateKeys rekeys every initialized vault owned by principal with the key
// supplied by p. A failure on one vault does not stop the others; vaults
// already rekeyed stay rekeyed and the failures are returned joined.
func (m *Manager) RotateKeys(ctx context.Context, principal Principal, p KeyProvider, opts RotationOptions) (RotationResult, error) {
	var result RotationResult
	if m.closed.Load() {
		return result, newVaultError("rotate", -1, ErrClosed)
	}

	key, err := resolveKey(p)
	if err != nil {
		return result, newVaultError("rotate", -1, err)
	}
	defer zero(key)
	if err := ValidateKey(key, m.cfg.KeySize); err != nil {
		return result, newVaultError("rotate", -1, err)
	}

	var errs []error
	for _, v := range m.reg.Vaults() {
		if !Authorize(v, principal) {
			continue
		}
		if err := v.lock(ctx); err != nil {
			if ctx.Err() != nil {
				errs = append(errs, newVaultError("rotate", v.id, err))
				break
			}
			continue
		}

		switch {
		case !v.initialized():
			result.Skipped = append(result.Skipped, v.id)
		case opts.DryRun:
			result.Rotated = append(result.Rotated, v.id)
			if opts.Verbose {
				m.log.Info("would rekey vault", "vault", v.id, "size", v.size)
			}
		default:
			if err := v.changeKey(key); err != nil {
				errs = append(errs, newVaultError("rotate", v.id, err))
				break
			}
			result.Rotated = append(result.Rotated, v.id)
			if opts.Verbose {
				m.log.Info("rekeyed vault", "vault", v.id, "size", v.size)
			}
		}
		v.unlock()
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("key rotation completed with %d errors (rotated %d vaults): %w",
			len(errs), len(result.Rotated), errors.Join(errs...))
	}
	return result, nil
}
