package secvault

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

const (
	// MaxSize is the largest data buffer a single vault may hold
	MaxSize = 1048577

	// KeySize is the fixed length of a vault key in bytes
	KeySize = 10

	// DefaultMaxVaults bounds vault ids to [0, DefaultMaxVaults)
	DefaultMaxVaults = 4
)

// Principal identifies the caller of a control or data request.
// Vault ownership is decided by comparing principals.
type Principal uint32

// String returns the principal as a uid-style string
func (p Principal) String() string {
	return fmt.Sprintf("uid:%d", uint32(p))
}

// SeekMode selects the origin used by Seek
type SeekMode int

const (
	// SeekAbsolute positions the cursor relative to the start of the vault
	SeekAbsolute SeekMode = iota
	// SeekRelative positions the cursor relative to its current position
	SeekRelative
	// SeekFromEnd positions the cursor relative to the end of the vault
	SeekFromEnd
)

// String returns the string representation of the seek mode
func (m SeekMode) String() string {
	switch m {
	case SeekAbsolute:
		return "absolute"
	case SeekRelative:
		return "relative"
	case SeekFromEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Config contains configuration for a vault manager
type Config struct {
	// MaxSize caps the size of a single vault (default MaxSize)
	MaxSize int

	// KeySize is the required key length for CHANGE_KEY (default KeySize)
	KeySize int

	// MaxVaults bounds vault ids to [0, MaxVaults) (default DefaultMaxVaults)
	MaxVaults int

	// MemoryLimit bounds the bytes held by all vault buffers, including the
	// scratch buffers of resize and rekey. Zero means unlimited.
	MemoryLimit int64

	// Debug logs every request at debug level
	Debug bool

	// Logger receives manager output. If nil, a stderr logger is created.
	Logger *log.Logger

	// Parallel controls how rekeying is split across workers
	Parallel ParallelConfig
}

// DefaultConfig returns a configuration with the standard limits
func DefaultConfig() *Config {
	return &Config{
		MaxSize:   MaxSize,
		KeySize:   KeySize,
		MaxVaults: DefaultMaxVaults,
		Parallel:  DefaultParallelConfig(),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c == nil {
		return ErrNilConfig
	}
	if c.MaxSize < 1 {
		return NewValidationError("max_size", c.MaxSize, "must be at least 1")
	}
	if c.KeySize < 1 {
		return NewValidationError("key_size", c.KeySize, "must be at least 1")
	}
	if c.MaxVaults < 1 {
		return NewValidationError("max_vaults", c.MaxVaults, "must be at least 1")
	}
	if c.MemoryLimit < 0 {
		return NewValidationError("memory_limit", c.MemoryLimit, "must not be negative")
	}
	if err := c.Parallel.Validate(); err != nil {
		return &ValidationError{Field: "parallel", Message: err.Error(), Err: err}
	}
	return nil
}

// logger returns the configured logger, creating the default one if needed.
// Debug applies to a derived logger, never to Config.Logger itself.
func (c *Config) logger() *log.Logger {
	l := c.Logger
	if l == nil {
		l = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "secvault",
			Level:  log.WarnLevel,
		})
	}
	if c.Debug {
		// Derive a logger so the caller's level is left alone.
		l = l.With()
		l.SetLevel(log.DebugLevel)
	}
	return l
}
