package secvault

import (
	"fmt"
)

// Input validation helpers shared by the control and data paths

// ValidateSize checks if a vault size is within [1, maxSize]
func ValidateSize(size int64, maxSize int) error {
	if size <= 0 {
		return &ValidationError{
			Field:   "size",
			Value:   size,
			Message: "size must be positive",
		}
	}
	if size > int64(maxSize) {
		return &ValidationError{
			Field:   "size",
			Value:   size,
			Message: fmt.Sprintf("size too large: got %d, maximum is %d", size, maxSize),
		}
	}
	return nil
}

// ValidateKey checks if a key has the correct size
func ValidateKey(key []byte, expectedSize int) error {
	if key == nil {
		return &ValidationError{
			Field:   "key",
			Message: "key cannot be nil",
		}
	}

	if len(key) != expectedSize {
		return &ValidationError{
			Field:   "key",
			Value:   len(key),
			Message: fmt.Sprintf("invalid key size: got %d bytes, expected %d bytes", len(key), expectedSize),
		}
	}

	return nil
}

// ValidateID checks if a vault id is within [0, maxVaults)
func ValidateID(id, maxVaults int) error {
	if id < 0 || id >= maxVaults {
		return &ValidationError{
			Field:   "id",
			Value:   id,
			Message: fmt.Sprintf("vault id must be between 0 and %d", maxVaults-1),
		}
	}
	return nil
}

// ValidateSeek computes the cursor a seek would produce. The current cursor
// is never modified here; callers assign the result only on success.
func ValidateSeek(cursor, size, offset int64, mode SeekMode) (int64, error) {
	var target int64

	switch mode {
	case SeekAbsolute:
		target = offset
	case SeekRelative:
		target = cursor + offset
	case SeekFromEnd:
		if offset > 0 {
			return cursor, &ValidationError{
				Field:   "offset",
				Value:   offset,
				Message: "offset from end must not be positive",
			}
		}
		target = size + offset
	default:
		return cursor, &ValidationError{
			Field:   "mode",
			Value:   int(mode),
			Message: "unsupported seek mode",
		}
	}

	if target < 0 || target > size {
		return cursor, &ValidationError{
			Field:   "offset",
			Value:   offset,
			Message: fmt.Sprintf("%s seek to %d outside [0, %d]", mode, target, size),
		}
	}
	return target, nil
}
