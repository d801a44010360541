package secvault

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absfs/absfs"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var (
	_ absfs.File    = (*DataSession)(nil)
	_ io.ReaderFrom = (*DataSession)(nil)
	_ io.WriterTo   = (*DataSession)(nil)
)

// DataSession is an open data channel bound to one vault. It holds a
// reference on the vault from open until Close and keeps its own cursor.
//
// The *Context methods carry the exact channel semantics: reading or writing
// at the end of the vault fails with ErrOutOfRange and short transfers are
// reported by count only. The io methods adapt them to the usual Go
// contracts so a session can be handed to io.Copy and absfs tooling.
type DataSession struct {
	id     uuid.UUID
	vault  *Vault
	name   string
	caller Principal
	log    *log.Logger

	// ctx is cancelled by Close, interrupting any blocked lock wait
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
	once   sync.Once

	cursor int64 // guarded by the vault lock
}

func newDataSession(v *Vault, caller Principal, logger *log.Logger) *DataSession {
	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	return &DataSession{
		id:     id,
		vault:  v,
		name:   DataNodeName(v.id),
		caller: caller,
		log:    logger.With("session", id.String(), "vault", v.id),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the session identifier
func (s *DataSession) ID() uuid.UUID {
	return s.id
}

// VaultID returns the id of the bound vault
func (s *DataSession) VaultID() int {
	return s.vault.id
}

// Name returns the data node name of the bound vault
func (s *DataSession) Name() string {
	return s.name
}

// lock acquires the vault lock. The wait ends early when either ctx or the
// session itself is cancelled.
func (s *DataSession) lock(ctx context.Context, op string) error {
	if s.closed.Load() {
		return newVaultError(op, s.vault.id, ErrClosed)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	if err := s.vault.lock(ctx); err != nil {
		return newVaultError(op, s.vault.id, err)
	}
	if s.closed.Load() {
		s.vault.unlock()
		return newVaultError(op, s.vault.id, ErrClosed)
	}
	return nil
}

// SeekContext moves the cursor. On failure the cursor is unchanged.
func (s *DataSession) SeekContext(ctx context.Context, offset int64, mode SeekMode) (int64, error) {
	if err := s.lock(ctx, "seek"); err != nil {
		return 0, err
	}
	defer s.vault.unlock()

	v := s.vault
	if !v.initialized() {
		return s.cursor, newVaultError("seek", v.id, ErrNotInitialized)
	}
	target, err := ValidateSeek(s.cursor, int64(v.size), offset, mode)
	if err != nil {
		return s.cursor, newVaultError("seek", v.id, err)
	}
	s.cursor = target

	s.log.Debug("seek", "mode", mode, "offset", offset, "cursor", target)
	return target, nil
}

// ReadContext reads up to len(p) plaintext bytes at the cursor and advances
// it by the count read. The count is short at the end of the vault.
func (s *DataSession) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := s.lock(ctx, "read"); err != nil {
		return 0, err
	}
	defer s.vault.unlock()

	n, err := s.vault.readAt(p, s.cursor)
	s.cursor += int64(n)
	if err != nil {
		return n, newVaultError("read", s.vault.id, err)
	}

	s.log.Debug("read", "requested", len(p), "bytes", n)
	return n, nil
}

// WriteContext writes up to len(p) bytes at the cursor and advances it by
// the count written. The count is short at the end of the vault.
func (s *DataSession) WriteContext(ctx context.Context, p []byte) (int, error) {
	if err := s.lock(ctx, "write"); err != nil {
		return 0, err
	}
	defer s.vault.unlock()

	n, err := s.vault.writeAt(p, s.cursor)
	s.cursor += int64(n)
	if err != nil {
		return n, newVaultError("write", s.vault.id, err)
	}

	s.log.Debug("write", "requested", len(p), "bytes", n)
	return n, nil
}

// Seek implements io.Seeker; whence values match SeekMode
func (s *DataSession) Seek(offset int64, whence int) (int64, error) {
	return s.SeekContext(context.Background(), offset, SeekMode(whence))
}

// Read implements io.Reader. Reading at the end of the vault returns io.EOF.
func (s *DataSession) Read(p []byte) (int, error) {
	n, err := s.ReadContext(context.Background(), p)
	if errors.Is(err, ErrOutOfRange) {
		return n, io.EOF
	}
	return n, err
}

// Write implements io.Writer. A write truncated at the end of the vault
// returns the count written and an error matching io.ErrShortWrite.
func (s *DataSession) Write(p []byte) (int, error) {
	n, err := s.WriteContext(context.Background(), p)
	if err == nil && n < len(p) {
		err = newVaultError("write", s.vault.id, errors.Join(io.ErrShortWrite, ErrOutOfRange))
	}
	return n, err
}

// WriteString writes a string at the cursor
func (s *DataSession) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// ReadAt reads from a specific offset without moving the cursor
func (s *DataSession) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, newVaultError("read_at", s.vault.id, NewValidationError("offset", off, "offset cannot be negative"))
	}
	if err := s.lock(context.Background(), "read_at"); err != nil {
		return 0, err
	}
	defer s.vault.unlock()

	n, err := s.vault.readAt(p, off)
	if errors.Is(err, ErrOutOfRange) {
		return 0, io.EOF
	}
	if err != nil {
		return n, newVaultError("read_at", s.vault.id, err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes to a specific offset without moving the cursor
func (s *DataSession) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, newVaultError("write_at", s.vault.id, NewValidationError("offset", off, "offset cannot be negative"))
	}
	if err := s.lock(context.Background(), "write_at"); err != nil {
		return 0, err
	}
	defer s.vault.unlock()

	n, err := s.vault.writeAt(p, off)
	if err != nil {
		return n, newVaultError("write_at", s.vault.id, err)
	}
	if n < len(p) {
		return n, newVaultError("write_at", s.vault.id, errors.Join(io.ErrShortWrite, ErrOutOfRange))
	}
	return n, nil
}

// ReadFrom fills the vault from r starting at the cursor. The source is
// drained outside the vault lock and committed in one locked write. If r
// fails part-way, the bytes already read are committed and a *FaultError
// is returned.
//
// Once the vault is full, one more byte is read from r to tell an exact fit
// from an overflow. That byte is consumed and discarded; r is left just past
// it.
func (s *DataSession) ReadFrom(r io.Reader) (int64, error) {
	if err := s.lock(context.Background(), "read_from"); err != nil {
		return 0, err
	}
	v := s.vault
	if !v.initialized() {
		v.unlock()
		return 0, newVaultError("read_from", v.id, ErrNotInitialized)
	}
	if s.cursor >= int64(v.size) {
		v.unlock()
		return 0, newVaultError("read_from", v.id, ErrOutOfRange)
	}
	room := int64(v.size) - s.cursor
	v.unlock()

	buf := make([]byte, room)
	got, rerr := io.ReadFull(r, buf)
	switch {
	case errors.Is(rerr, io.EOF), errors.Is(rerr, io.ErrUnexpectedEOF):
		rerr = nil
	case rerr == nil:
		// Vault is full; any further input does not fit.
		var extra [1]byte
		if m, _ := r.Read(extra[:]); m > 0 {
			rerr = errors.Join(io.ErrShortWrite, ErrOutOfRange)
		}
	}
	defer zero(buf)

	var n int
	if got > 0 {
		if err := s.lock(context.Background(), "read_from"); err != nil {
			return 0, err
		}
		var werr error
		n, werr = v.writeAt(buf[:got], s.cursor)
		s.cursor += int64(n)
		v.unlock()
		if werr != nil {
			return int64(n), newVaultError("read_from", v.id, werr)
		}
	}

	s.log.Debug("read_from", "bytes", n)
	if rerr != nil {
		if errors.Is(rerr, ErrOutOfRange) {
			return int64(n), newVaultError("read_from", v.id, rerr)
		}
		return int64(n), newVaultError("read_from", v.id, &FaultError{Op: "read_from", Transferred: int64(n), Err: rerr})
	}
	if n < got {
		return int64(n), newVaultError("read_from", v.id, errors.Join(io.ErrShortWrite, ErrOutOfRange))
	}
	return int64(n), nil
}

// WriteTo copies the plaintext from the cursor to the end of the vault into
// w and advances the cursor by the bytes w accepted. If w fails part-way a
// *FaultError reports how many bytes were delivered.
func (s *DataSession) WriteTo(w io.Writer) (int64, error) {
	if err := s.lock(context.Background(), "write_to"); err != nil {
		return 0, err
	}
	v := s.vault
	if !v.initialized() {
		v.unlock()
		return 0, newVaultError("write_to", v.id, ErrNotInitialized)
	}
	if s.cursor >= int64(v.size) {
		v.unlock()
		return 0, nil
	}
	buf := make([]byte, int64(v.size)-s.cursor)
	got, _ := v.readAt(buf, s.cursor)
	buf = buf[:got]
	v.unlock()
	defer zero(buf)

	m, werr := w.Write(buf)
	if werr == nil && m < len(buf) {
		werr = io.ErrShortWrite
	}

	if m > 0 {
		if err := s.lock(context.Background(), "write_to"); err == nil {
			s.cursor += int64(m)
			v.unlock()
		}
	}

	s.log.Debug("write_to", "bytes", m)
	if werr != nil {
		return int64(m), newVaultError("write_to", v.id, &FaultError{Op: "write_to", Transferred: int64(m), Err: werr})
	}
	return int64(m), nil
}

// Truncate resizes the bound vault. Ownership was checked when the session
// was opened. The cursor is not moved.
func (s *DataSession) Truncate(size int64) error {
	if err := s.lock(context.Background(), "truncate"); err != nil {
		return err
	}
	defer s.vault.unlock()

	if err := s.vault.initializeSize(size); err != nil {
		return newVaultError("truncate", s.vault.id, err)
	}
	return nil
}

// ChangeKey installs key on the bound vault and re-encrypts its content.
// Ownership was checked when the session was opened.
func (s *DataSession) ChangeKey(ctx context.Context, key []byte) error {
	if err := s.lock(ctx, "change_key"); err != nil {
		return err
	}
	defer s.vault.unlock()

	if err := s.vault.changeKey(key); err != nil {
		return newVaultError("change_key", s.vault.id, err)
	}
	return nil
}

// Clean overwrites the bound vault with zeros. The cursor is not moved.
func (s *DataSession) Clean(ctx context.Context) error {
	if err := s.lock(ctx, "clean"); err != nil {
		return err
	}
	defer s.vault.unlock()

	if err := s.vault.clean(); err != nil {
		return newVaultError("clean", s.vault.id, err)
	}
	return nil
}

// Stat returns information about the bound vault
func (s *DataSession) Stat() (os.FileInfo, error) {
	if err := s.lock(context.Background(), "stat"); err != nil {
		return nil, err
	}
	defer s.vault.unlock()

	return &vaultFileInfo{name: path.Base(s.name), info: s.vault.info()}, nil
}

// Sync is a no-op; vault content lives only in memory
func (s *DataSession) Sync() error {
	if s.closed.Load() {
		return newVaultError("sync", s.vault.id, ErrClosed)
	}
	return nil
}

// Readdir fails; a vault is not a directory
func (s *DataSession) Readdir(int) ([]os.FileInfo, error) {
	return nil, &os.PathError{Op: "readdir", Path: s.name, Err: ErrInvalidArgument}
}

// Readdirnames fails; a vault is not a directory
func (s *DataSession) Readdirnames(int) ([]string, error) {
	return nil, &os.PathError{Op: "readdirnames", Path: s.name, Err: ErrInvalidArgument}
}

// ReadDir fails; a vault is not a directory
func (s *DataSession) ReadDir(int) ([]fs.DirEntry, error) {
	return nil, &os.PathError{Op: "readdir", Path: s.name, Err: ErrInvalidArgument}
}

// Close releases the session's reference on the vault and interrupts any
// lock wait still pending on this session. Only the first call succeeds.
func (s *DataSession) Close() error {
	err := newVaultError("close", s.vault.id, ErrClosed)
	s.once.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.vault.release()
		s.log.Debug("data session closed")
		err = nil
	})
	return err
}

// VaultInfo describes a vault
type VaultInfo struct {
	ID          int
	Owner       Principal
	Size        int
	Initialized bool
	RefCount    int64
	ModTime     time.Time
}

// vaultFileInfo adapts VaultInfo to os.FileInfo
type vaultFileInfo struct {
	name string
	info VaultInfo
}

func (f *vaultFileInfo) Name() string       { return f.name }
func (f *vaultFileInfo) Size() int64        { return int64(f.info.Size) }
func (f *vaultFileInfo) Mode() os.FileMode  { return os.ModeDevice | 0o600 }
func (f *vaultFileInfo) ModTime() time.Time { return f.info.ModTime }
func (f *vaultFileInfo) IsDir() bool        { return false }
func (f *vaultFileInfo) Sys() any           { return f.info }
