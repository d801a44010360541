// Package shell implements the svctl command language: a line-oriented
// interpreter driving the control and data sessions of a vault manager.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/absfs/secvault"
)

var (
	errUsage      = fmt.Errorf("usage: %w", secvault.ErrInvalidArgument)
	errNoData     = fmt.Errorf("no data session open: %w", secvault.ErrInvalidArgument)
	errUnknownCmd = fmt.Errorf("unknown command: %w", secvault.ErrInvalidArgument)
	errNoKeyInput = fmt.Errorf("no key given and no key reader configured: %w", secvault.ErrInvalidArgument)
)

// KeyReader reads a key interactively, e.g. from a terminal without echo
type KeyReader func() ([]byte, error)

// Option configures a Shell
type Option func(*Shell)

// WithKeyReader sets the reader used by "key" when no key text is given
func WithKeyReader(r KeyReader) Option {
	return func(s *Shell) { s.readKey = r }
}

// WithStopOnError makes Run stop at the first failing command
func WithStopOnError(stop bool) Option {
	return func(s *Shell) { s.stopOnError = stop }
}

// WithPrompt sets a prompt printed before each line read by Run
func WithPrompt(prompt string) Option {
	return func(s *Shell) { s.prompt = prompt }
}

// Shell interprets svctl commands against a manager. Every command prints
// one result line: "ok [values]" or "error <kind>: <message>".
type Shell struct {
	mgr         *secvault.Manager
	out         io.Writer
	principal   secvault.Principal
	ctl         *secvault.ControlSession
	data        *secvault.DataSession
	readKey     KeyReader
	stopOnError bool
	prompt      string
}

// New creates a shell issuing requests as principal and writing results to out
func New(mgr *secvault.Manager, principal secvault.Principal, out io.Writer, opts ...Option) (*Shell, error) {
	ctl, err := mgr.OpenControl(principal)
	if err != nil {
		return nil, err
	}
	s := &Shell{
		mgr:       mgr,
		out:       out,
		principal: principal,
		ctl:       ctl,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Principal returns the identity the shell currently acts as
func (s *Shell) Principal() secvault.Principal {
	return s.principal
}

// Run executes every line of r. Command failures are reported on the
// output and, unless stop-on-error is set, do not end the run.
func (s *Shell) Run(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), maxLineSize(s.mgr.Config().MaxSize))
	for {
		if s.prompt != "" {
			fmt.Fprint(s.out, s.prompt)
		}
		if !scanner.Scan() {
			break
		}
		if err := s.Exec(ctx, scanner.Text()); err != nil && s.stopOnError {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return scanner.Err()
}

// Exec executes one command line and prints its result. Blank lines and
// lines starting with '#' are ignored.
func (s *Shell) Exec(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	result, err := s.dispatch(ctx, strings.ToLower(cmd), rest)
	if err != nil {
		fmt.Fprintf(s.out, "error %s: %v\n", secvault.Kind(err), err)
		return err
	}
	if result == "" {
		fmt.Fprintln(s.out, "ok")
	} else {
		fmt.Fprintf(s.out, "ok %s\n", result)
	}
	return nil
}

// Close ends the shell's sessions
func (s *Shell) Close() error {
	var errs []error
	if s.data != nil {
		errs = append(errs, s.data.Close())
		s.data = nil
	}
	if s.ctl != nil {
		errs = append(errs, s.ctl.Close())
		s.ctl = nil
	}
	return errors.Join(errs...)
}

func (s *Shell) dispatch(ctx context.Context, cmd, rest string) (string, error) {
	args := strings.Fields(rest)

	switch cmd {
	case "select":
		id, err := intArg(args, 1, 0)
		if err != nil {
			return "", err
		}
		return "", s.ctl.Select(id)

	case "create":
		return "", s.ctl.Create(ctx)

	case "exists":
		ok, err := s.ctl.Exists(ctx)
		return strconv.FormatBool(ok), err

	case "size":
		n, err := s.ctl.Size(ctx)
		return strconv.Itoa(n), err

	case "setsize":
		n, err := int64Arg(args, 1, 0)
		if err != nil {
			return "", err
		}
		return "", s.ctl.SetSize(ctx, n)

	case "key":
		p, err := s.keyProvider(rest)
		if err != nil {
			return "", err
		}
		return "", s.ctl.ChangeKeyFrom(ctx, p)

	case "passphrase":
		if len(args) != 2 {
			return "", fmt.Errorf("passphrase <text> <salt>: %w", errUsage)
		}
		p := secvault.NewPasswordKeyProvider([]byte(args[0]), []byte(args[1]), secvault.Argon2idParams{
			KeySize: s.mgr.Config().KeySize,
		})
		return "", s.ctl.ChangeKeyFrom(ctx, p)

	case "clean":
		return "", s.ctl.Clean(ctx)

	case "remove":
		return "", s.ctl.Remove(ctx)

	case "provision":
		if len(args) < 2 {
			return "", fmt.Errorf("provision <size> <key>: %w", errUsage)
		}
		n, err := int64Arg(args, 2, 0)
		if err != nil {
			return "", err
		}
		_, key, _ := strings.Cut(rest, " ")
		p := secvault.PaddedKeyProvider{Text: strings.TrimSpace(key), Size: s.mgr.Config().KeySize}
		return "", s.ctl.Provision(ctx, n, p)

	case "rotate":
		if len(args) < 1 || len(args) > 2 || (len(args) == 2 && args[1] != "dry") {
			return "", fmt.Errorf("rotate <key> [dry]: %w", errUsage)
		}
		p := secvault.PaddedKeyProvider{Text: args[0], Size: s.mgr.Config().KeySize}
		res, err := s.mgr.RotateKeys(ctx, s.principal, p, secvault.RotationOptions{DryRun: len(args) == 2})
		return fmt.Sprintf("rotated=%v skipped=%v", res.Rotated, res.Skipped), err

	case "open":
		return s.open(ctx, args)

	case "close":
		if s.data == nil {
			return "", errNoData
		}
		err := s.data.Close()
		s.data = nil
		return "", err

	case "seek":
		return s.seek(ctx, args)

	case "read":
		if s.data == nil {
			return "", errNoData
		}
		n, err := intArg(args, 1, 0)
		if err != nil {
			return "", err
		}
		if n < 0 {
			return "", fmt.Errorf("read <n>: %w", errUsage)
		}
		// No read returns more than a vault can hold.
		n = min(n, s.mgr.Config().MaxSize)
		buf := make([]byte, n)
		got, err := s.data.ReadContext(ctx, buf)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %s", got, strconv.Quote(string(buf[:got]))), nil

	case "write":
		if s.data == nil {
			return "", errNoData
		}
		text, err := unquote(rest)
		if err != nil {
			return "", err
		}
		n, err := s.data.WriteContext(ctx, []byte(text))
		return strconv.Itoa(n), err

	case "list":
		infos, err := s.mgr.Vaults(ctx, s.principal)
		if err != nil {
			return "", err
		}
		parts := make([]string, 0, len(infos))
		for _, info := range infos {
			parts = append(parts, fmt.Sprintf("%d:size=%d,init=%t,refs=%d", info.ID, info.Size, info.Initialized, info.RefCount))
		}
		return strings.Join(parts, " "), nil

	case "as":
		uid, err := int64Arg(args, 1, 0)
		if err != nil {
			return "", err
		}
		if uid < 0 || uid > int64(^uint32(0)) {
			return "", fmt.Errorf("as <uid>: %w", errUsage)
		}
		return "", s.switchPrincipal(secvault.Principal(uid))

	default:
		return "", fmt.Errorf("%q: %w", cmd, errUnknownCmd)
	}
}

// open binds a data session to the selected vault, or to the id given
func (s *Shell) open(ctx context.Context, args []string) (string, error) {
	var id int
	if len(args) > 0 {
		var err error
		if id, err = intArg(args, 1, 0); err != nil {
			return "", err
		}
	} else {
		target, ok := s.ctl.Target()
		if !ok {
			return "", fmt.Errorf("open: %w", secvault.ErrNoTarget)
		}
		id = target
	}

	f, err := s.mgr.OpenData(ctx, s.principal, id)
	if err != nil {
		return "", err
	}
	if s.data != nil {
		s.data.Close()
	}
	s.data = f
	return f.Name(), nil
}

func (s *Shell) seek(ctx context.Context, args []string) (string, error) {
	if s.data == nil {
		return "", errNoData
	}
	if len(args) != 2 {
		return "", fmt.Errorf("seek <offset> <set|cur|end>: %w", errUsage)
	}
	off, err := int64Arg(args, 2, 0)
	if err != nil {
		return "", err
	}
	var mode secvault.SeekMode
	switch args[1] {
	case "set":
		mode = secvault.SeekAbsolute
	case "cur":
		mode = secvault.SeekRelative
	case "end":
		mode = secvault.SeekFromEnd
	default:
		return "", fmt.Errorf("seek mode %q: %w", args[1], errUsage)
	}
	pos, err := s.data.SeekContext(ctx, off, mode)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(pos, 10), nil
}

// keyProvider returns the provider for "key": the given text padded like
// a C string in a zeroed buffer, or a key read through the key reader.
func (s *Shell) keyProvider(text string) (secvault.KeyProvider, error) {
	size := s.mgr.Config().KeySize
	if text != "" {
		return secvault.PaddedKeyProvider{Text: text, Size: size}, nil
	}
	if s.readKey == nil {
		return nil, errNoKeyInput
	}
	raw, err := s.readKey()
	if err != nil {
		return nil, fmt.Errorf("read key: %w: %w", secvault.ErrInvalidArgument, err)
	}
	return secvault.PaddedKeyProvider{Text: strings.TrimRight(string(raw), "\r\n"), Size: size}, nil
}

// switchPrincipal reopens the sessions as p, keeping the selected target
func (s *Shell) switchPrincipal(p secvault.Principal) error {
	ctl, err := s.mgr.OpenControl(p)
	if err != nil {
		return err
	}
	if id, ok := s.ctl.Target(); ok {
		if err := ctl.Select(id); err != nil {
			ctl.Close()
			return err
		}
	}
	if err := s.Close(); err != nil && !errors.Is(err, secvault.ErrClosed) {
		ctl.Close()
		return err
	}
	s.ctl = ctl
	s.principal = p
	return nil
}

// maxLineSize bounds a command line: a write of a full vault, every byte
// quoted as \xNN, plus the command itself.
func maxLineSize(maxSize int) int {
	return 4*maxSize + 64
}

func intArg(args []string, want, i int) (int, error) {
	n, err := int64Arg(args, want, i)
	return int(n), err
}

func int64Arg(args []string, want, i int) (int64, error) {
	if len(args) < want {
		return 0, fmt.Errorf("expected %d argument(s): %w", want, errUsage)
	}
	n, err := strconv.ParseInt(args[i], 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number: %w", args[i], secvault.ErrInvalidArgument)
	}
	return n, nil
}

// unquote accepts either a Go-quoted string or raw text
func unquote(text string) (string, error) {
	if strings.HasPrefix(text, `"`) {
		s, err := strconv.Unquote(text)
		if err != nil {
			return "", fmt.Errorf("bad quoted text: %w", secvault.ErrInvalidArgument)
		}
		return s, nil
	}
	return text, nil
}
