package secvault

import (
	"context"
	"errors"
	"testing"
)

func TestControlSession_IdleRequestsFail(t *testing.T) {
	m := newTestManager(t)
	ctl, _ := m.OpenControl(owner)
	ctx := context.Background()

	if _, ok := ctl.Target(); ok {
		t.Fatal("new session has a target")
	}

	requests := map[string]func() error{
		"create":     func() error { return ctl.Create(ctx) },
		"exists":     func() error { _, err := ctl.Exists(ctx); return err },
		"get_size":   func() error { _, err := ctl.Size(ctx); return err },
		"set_size":   func() error { return ctl.SetSize(ctx, 10) },
		"change_key": func() error { return ctl.ChangeKey(ctx, testKey) },
		"clean":      func() error { return ctl.Clean(ctx) },
		"remove":     func() error { return ctl.Remove(ctx) },
	}
	for name, req := range requests {
		err := req()
		if !errors.Is(err, ErrNoTarget) || !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("%s without target error = %v, want ErrNoTarget", name, err)
		}
	}
}

func TestControlSession_SelectNonexistent(t *testing.T) {
	m := newTestManager(t)
	ctl, _ := m.OpenControl(owner)
	ctx := context.Background()

	if err := ctl.Select(3); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if id, ok := ctl.Target(); !ok || id != 3 {
		t.Fatalf("Target = %d, %v", id, ok)
	}
	if exists, err := ctl.Exists(ctx); err != nil || exists {
		t.Fatalf("Exists = %v, %v; want false, nil", exists, err)
	}
	if _, err := ctl.Size(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Size error = %v, want ErrNotFound", err)
	}
	if err := ctl.SetSize(ctx, 10); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetSize error = %v, want ErrNotFound", err)
	}
}

func TestControlSession_Lifecycle(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	ctl := provision(t, m, owner, 2, 100, testKey)

	size, err := ctl.Size(ctx)
	if err != nil || size != 100 {
		t.Fatalf("Size = %d, %v; want 100, nil", size, err)
	}
	if err := ctl.Create(ctx); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Create error = %v, want ErrAlreadyExists", err)
	}
	if err := ctl.SetSize(ctx, 200); err != nil {
		t.Fatalf("SetSize failed: %v", err)
	}
	if size, _ := ctl.Size(ctx); size != 200 {
		t.Fatalf("Size after SetSize = %d, want 200", size)
	}
	if err := ctl.Clean(ctx); err != nil {
		t.Fatalf("Clean failed: %v", err)
	}
	if err := ctl.Remove(ctx); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// The session stays targeted at the now-missing id.
	if id, ok := ctl.Target(); !ok || id != 2 {
		t.Fatalf("Target after Remove = %d, %v", id, ok)
	}
	if _, err := ctl.Size(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Size after Remove error = %v, want ErrNotFound", err)
	}
}

func TestControlSession_SizeBeforeSetSize(t *testing.T) {
	m := newTestManager(t)
	ctl, _ := m.OpenControl(owner)
	ctl.Select(0)
	ctl.Create(context.Background())

	size, err := ctl.Size(context.Background())
	if err != nil || size != 0 {
		t.Fatalf("Size = %d, %v; want 0, nil", size, err)
	}
	if err := ctl.Clean(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("Clean before key error = %v, want ErrNotInitialized", err)
	}
}

func TestControlSession_AccessGuard(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	provision(t, m, owner, 1, 10, testKey)

	other, _ := m.OpenControl(stranger)
	other.Select(1)

	// Existence is not guarded.
	if exists, err := other.Exists(ctx); err != nil || !exists {
		t.Fatalf("Exists = %v, %v; want true, nil", exists, err)
	}

	guarded := map[string]func() error{
		"get_size":   func() error { _, err := other.Size(ctx); return err },
		"set_size":   func() error { return other.SetSize(ctx, 20) },
		"change_key": func() error { return other.ChangeKey(ctx, []byte("0123456789")) },
		"clean":      func() error { return other.Clean(ctx) },
		"remove":     func() error { return other.Remove(ctx) },
	}
	for name, req := range guarded {
		if err := req(); !errors.Is(err, ErrPermissionDenied) {
			t.Fatalf("%s by stranger error = %v, want ErrPermissionDenied", name, err)
		}
	}

	v, _ := m.Registry().Lookup(1)
	if v.size != 10 || string(v.key) != string(testKey) {
		t.Fatal("refused request changed the vault")
	}
}

func TestControlSession_CreateOutOfRange(t *testing.T) {
	m := newTestManager(t)
	ctl, _ := m.OpenControl(owner)
	ctl.Select(DefaultMaxVaults)

	if err := ctl.Create(context.Background()); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Create out of range error = %v, want ErrInvalidArgument", err)
	}
}

func TestControlSession_ChangeKeyWrongLength(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	ctl := provision(t, m, owner, 2, 100, testKey)

	f := openData(t, m, owner, 2)
	defer f.Close()
	f.WriteString("hello")

	if err := ctl.ChangeKey(ctx, []byte("abc")); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ChangeKey with 3-byte key error = %v, want ErrInvalidArgument", err)
	}

	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("read %q after failed rekey, want %q", buf, "hello")
	}
}

func TestControlSession_ChangeKeyFrom(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	ctl := provision(t, m, owner, 0, 16, testKey)

	if err := ctl.ChangeKeyFrom(ctx, nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("ChangeKeyFrom(nil) error = %v, want ErrInvalidArgument", err)
	}
	if err := ctl.ChangeKeyFrom(ctx, PaddedKeyProvider{Text: "short"}); err != nil {
		t.Fatalf("ChangeKeyFrom(padded) failed: %v", err)
	}

	v, _ := m.Registry().Lookup(0)
	want := []byte{'s', 'h', 'o', 'r', 't', 0, 0, 0, 0, 0}
	if string(v.key) != string(want) {
		t.Fatalf("key = %q, want %q", v.key, want)
	}
}

func TestControlSession_Provision(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	ctl, _ := m.OpenControl(owner)
	ctl.Select(1)

	if err := ctl.Provision(ctx, 32, StaticKeyProvider(testKey)); err != nil {
		t.Fatalf("Provision on new vault failed: %v", err)
	}
	f := openData(t, m, owner, 1)
	defer f.Close()
	f.WriteString("keep me")

	// An existing vault is resized and rekeyed, not rejected.
	if err := ctl.Provision(ctx, 64, StaticKeyProvider([]byte("0123456789"))); err != nil {
		t.Fatalf("Provision on existing vault failed: %v", err)
	}
	if size, _ := ctl.Size(ctx); size != 64 {
		t.Fatalf("Size = %d, want 64", size)
	}
	buf := make([]byte, 7)
	f.ReadAt(buf, 0)
	if string(buf) != "keep me" {
		t.Fatalf("content after Provision = %q", buf)
	}

	if err := ctl.Provision(ctx, 0, StaticKeyProvider(testKey)); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("Provision with size 0 error = %v, want ErrInvalidArgument", err)
	}
}

func TestControlSession_Interrupted(t *testing.T) {
	m := newTestManager(t)
	ctl := provision(t, m, owner, 0, 10, testKey)

	v, _ := m.Registry().Lookup(0)
	v.lock(context.Background())
	defer v.unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ctl.SetSize(ctx, 20)
	}()
	cancel()

	if err := <-done; !errors.Is(err, ErrInterrupted) {
		t.Fatalf("SetSize while locked error = %v, want ErrInterrupted", err)
	}
	if v.size != 10 {
		t.Fatalf("interrupted SetSize changed size to %d", v.size)
	}
}

func TestControlSession_Close(t *testing.T) {
	m := newTestManager(t)
	ctl, _ := m.OpenControl(owner)
	ctl.Select(0)

	if err := ctl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := ctl.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close error = %v, want ErrClosed", err)
	}
	if err := ctl.Create(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Create after Close error = %v, want ErrClosed", err)
	}
	if err := ctl.Select(1); !errors.Is(err, ErrClosed) {
		t.Fatalf("Select after Close error = %v, want ErrClosed", err)
	}
}
