package secvault

// Authorize reports whether caller owns v. It is evaluated before every
// control request that mutates or discloses the size of a vault, and before
// every data session is opened.
func Authorize(v *Vault, caller Principal) bool {
	return v != nil && v.owner == caller
}

// guard returns ErrPermissionDenied unless caller owns v
func guard(v *Vault, caller Principal) error {
	if !Authorize(v, caller) {
		return ErrPermissionDenied
	}
	return nil
}
