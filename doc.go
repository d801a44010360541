// Package secvault manages a small set of fixed-size, in-memory vaults whose
// content is kept enciphered with a per-vault repeating key.
//
// # Overview
//
// A Manager owns a Registry of vaults keyed by small integer ids. Clients
// talk to it over two kinds of session:
//
//   - A ControlSession selects a target vault and issues administrative
//     requests: Create, Exists, Size, SetSize, ChangeKey, Clean, Remove.
//   - A DataSession is bound to one vault and moves plaintext in and out of
//     it through a cursor. It implements absfs.File, so it can be handed to
//     io.Copy and other file tooling.
//
// Every vault belongs to the principal that created it. Requests that
// mutate a vault or disclose its size, and every data session open, are
// refused with ErrPermissionDenied for any other principal.
//
// # Basic Usage
//
//	mgr, err := secvault.New(secvault.DefaultConfig())
//	if err != nil {
//	    panic(err)
//	}
//	defer mgr.Close()
//
//	ctl, _ := mgr.OpenControl(1000)
//	ctl.Select(2)
//	ctl.Create(ctx)
//	ctl.SetSize(ctx, 100)
//	ctl.ChangeKey(ctx, []byte("abcdefghij"))
//
//	f, _ := mgr.OpenData(ctx, 1000, 2)
//	f.WriteString("hello")
//	f.Seek(0, io.SeekStart)
//	buf := make([]byte, 5)
//	f.Read(buf) // "hello"
//	f.Close()
//
// # Cipher
//
// The byte stored at position p is plaintext[p] XOR key[p mod len(key)].
// The transform is its own inverse. Changing the key re-enciphers the whole
// buffer so that plaintext is unchanged. This is obfuscation, not
// encryption; it offers no protection against anyone who can read memory.
//
// # Locking
//
// The registry lock protects membership only. Each vault has its own lock,
// held for the duration of a single request. Waiting for a vault lock ends
// with ErrInterrupted when the caller's context is cancelled or the waiting
// data session is closed.
//
// # Errors
//
// Every returned error matches one sentinel (ErrNotFound, ErrBusy, ...)
// with errors.Is. Kind maps an error to its ErrorKind for transports that
// need a discriminated result.
package secvault
